// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package urn implements forrst uniform resource names for functions and
// extensions, including the reserved core vendor namespace.
package urn

import (
	"regexp"
	"strings"

	"github.com/zeebo/errs"
)

var (
	// Error is a urn error class.
	Error = errs.Class("urn error")

	// ErrReserved is returned when a non-core registration uses the
	// reserved vendor segment.
	ErrReserved = errs.Class("reserved namespace")
)

// ReservedVendor is the vendor segment reserved for core functions and
// extensions.
const ReservedVendor = "cline"

// Kind distinguishes extension URNs from function URNs.
type Kind string

// The URN kinds.
const (
	KindExtension Kind = "ext"
	KindFunction  Kind = "fn"
)

var syntax = regexp.MustCompile(`^urn:[a-z][a-z0-9-]*:forrst:(ext|fn)(:[a-z][a-z0-9-]*)+$`)

// URN is a validated, canonical forrst URN.
type URN string

// Parse validates and canonicalizes a URN. The vendorless legacy alias
// `urn:forrst:...` canonicalizes to `urn:cline:forrst:...`.
func Parse(s string) (URN, error) {
	if strings.HasPrefix(s, "urn:forrst:") {
		s = "urn:" + ReservedVendor + ":forrst:" + strings.TrimPrefix(s, "urn:forrst:")
	}
	if !syntax.MatchString(s) {
		return "", Error.New("invalid urn %q", s)
	}
	return URN(s), nil
}

// MustParse parses a URN known to be valid at compile time; it panics
// otherwise. For package-level constants only.
func MustParse(s string) URN {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the canonical string form.
func (u URN) String() string { return string(u) }

// Vendor returns the vendor segment.
func (u URN) Vendor() string {
	parts := strings.Split(string(u), ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// IsCore reports whether the URN is in the reserved core namespace.
func (u URN) IsCore() bool { return u.Vendor() == ReservedVendor }

// Kind returns the URN kind. For extension-scoped functions
// (urn:v:forrst:ext:<ext>:fn:<name>) the kind is KindFunction.
func (u URN) Kind() Kind {
	parts := strings.Split(string(u), ":")
	for i := 3; i < len(parts)-1; i++ {
		if parts[i] == "fn" {
			return KindFunction
		}
	}
	return KindExtension
}

// Path returns the segments after the kind marker, so
// `urn:cline:forrst:fn:orders:create` has path ["orders", "create"].
func (u URN) Path() []string {
	parts := strings.Split(string(u), ":")
	if len(parts) < 5 {
		return nil
	}
	return parts[4:]
}

// DottedName returns the compatibility dotted form of a plain function URN
// (`orders.create` for `urn:<v>:forrst:fn:orders:create`), or empty for
// extensions and extension-scoped functions.
func (u URN) DottedName() string {
	parts := strings.Split(string(u), ":")
	if len(parts) < 5 || parts[3] != string(KindFunction) {
		return ""
	}
	return strings.Join(parts[4:], ".")
}

// ParentExtension returns the extension URN an extension-scoped function
// belongs to, or false for plain URNs. For
// `urn:v:forrst:ext:atomic-lock:fn:release` it returns
// `urn:v:forrst:ext:atomic-lock`.
func (u URN) ParentExtension() (URN, bool) {
	parts := strings.Split(string(u), ":")
	if len(parts) < 7 || parts[3] != string(KindExtension) {
		return "", false
	}
	for i := 4; i < len(parts)-1; i++ {
		if parts[i] == "fn" {
			return URN(strings.Join(parts[:i], ":")), true
		}
	}
	return "", false
}

// FromDotted converts a dotted compatibility name (`orders.create`) into a
// function URN under the given vendor.
func FromDotted(vendor, dotted string) (URN, error) {
	if vendor == "" || dotted == "" {
		return "", Error.New("vendor and name required")
	}
	segments := strings.Split(dotted, ".")
	return Parse("urn:" + vendor + ":forrst:fn:" + strings.Join(segments, ":"))
}

// IsDotted reports whether name looks like a dotted compatibility name
// rather than a URN.
func IsDotted(name string) bool {
	return !strings.HasPrefix(name, "urn:")
}

// CheckRegistration fails with ErrReserved when a non-core caller attempts
// to register under the reserved vendor.
func CheckRegistration(u URN, core bool) error {
	if !core && u.IsCore() {
		return ErrReserved.New("vendor %q is reserved for core registrations: %s", ReservedVendor, u)
	}
	return nil
}
