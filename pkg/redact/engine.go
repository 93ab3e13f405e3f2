// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package redact implements recursive field masking over arbitrary result
// trees, with full and field-type-aware partial modes.
package redact

import (
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/errs"

	"forrst.io/forrst/pkg/envelope"
)

// Error is a redact error class.
var Error = errs.Class("redact error")

// Mode selects how matched fields are masked.
type Mode string

// The redaction modes. ModeNone requires an authorization check.
const (
	ModeFull    Mode = "full"
	ModePartial Mode = "partial"
	ModeNone    Mode = "none"
)

// mask replaces a fully redacted value.
const mask = "***"

// DefaultFields is the default sensitive field set.
var DefaultFields = []string{
	"password", "secret", "token", "api_key", "card_number", "cvv",
	"account_number", "ssn", "tax_id", "passport_number", "email", "phone",
}

// FieldSet builds a lookup set from field names, case-insensitive.
func FieldSet(fields []string) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, field := range fields {
		set[strings.ToLower(field)] = true
	}
	return set
}

// Redact walks the result tree and masks every member whose name is in
// fields. It returns the redacted tree and the JSON pointer paths of all
// mutated leaves, sorted. ModeNone returns the tree unchanged.
func Redact(value envelope.Value, fields map[string]bool, mode Mode) (envelope.Value, []string) {
	if mode == ModeNone {
		return value, nil
	}
	redacted, paths := walk(value, "", fields, mode)
	sort.Strings(paths)
	return redacted, paths
}

func walk(value envelope.Value, path string, fields map[string]bool, mode Mode) (envelope.Value, []string) {
	var paths []string

	if object, ok := value.AsObject(); ok {
		replaced := make(map[string]envelope.Value, len(object))
		for name, member := range object {
			memberPath := path + "/" + escapePointer(name)
			if fields[strings.ToLower(name)] {
				replaced[name] = maskValue(name, member, mode)
				paths = append(paths, memberPath)
				continue
			}
			child, childPaths := walk(member, memberPath, fields, mode)
			replaced[name] = child
			paths = append(paths, childPaths...)
		}
		return envelope.Object(replaced), paths
	}

	if list, ok := value.AsList(); ok {
		replaced := make([]envelope.Value, len(list))
		for i, element := range list {
			child, childPaths := walk(element, path+"/"+strconv.Itoa(i), fields, mode)
			replaced[i] = child
			paths = append(paths, childPaths...)
		}
		return envelope.List(replaced...), paths
	}

	return value, nil
}

// maskValue masks one matched member. Non-string values and full mode
// always collapse to the mask; partial mode is field-type aware.
func maskValue(name string, value envelope.Value, mode Mode) envelope.Value {
	if mode == ModeFull {
		return envelope.String(mask)
	}
	str, ok := value.AsString()
	if !ok {
		return envelope.String(mask)
	}

	switch strings.ToLower(name) {
	case "email":
		return envelope.String(maskEmail(str))
	case "phone", "card_number", "ssn", "account_number", "tax_id", "passport_number":
		return envelope.String(maskLastFour(str))
	case "name", "first_name", "last_name", "full_name":
		return envelope.String(initials(str))
	default:
		return envelope.String(mask)
	}
}

// maskEmail keeps the first character and the top-level domain:
// jane@example.com becomes j***@***.com.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return mask
	}
	domain := email[at+1:]
	dot := strings.LastIndexByte(domain, '.')
	if dot < 0 || dot == len(domain)-1 {
		return string(email[0]) + "***@***"
	}
	return string(email[0]) + "***@***." + domain[dot+1:]
}

// maskLastFour masks all but the last four characters.
func maskLastFour(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

// initials reduces a name to its initials: "Jane Q Doe" becomes "J.Q.D.".
func initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteByte('.')
	}
	if b.Len() == 0 {
		return mask
	}
	return b.String()
}

// escapePointer escapes a member name per RFC 6901.
func escapePointer(name string) string {
	name = strings.ReplaceAll(name, "~", "~0")
	return strings.ReplaceAll(name, "/", "~1")
}
