// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package version wraps semantic version handling for per-function routing.
package version

import (
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/errs"
)

// Error is a version error class.
var Error = errs.Class("version error")

// Parse parses a strict semantic version.
func Parse(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, Error.New("invalid version %q: %v", s, err)
	}
	return v, nil
}

// SortAscending sorts versions by semver precedence, prereleases before
// their releases.
func SortAscending(versions []*semver.Version) {
	sort.Sort(semver.Collection(versions))
}

// Strings formats versions in ascending precedence order.
func Strings(versions []*semver.Version) []string {
	sorted := make([]*semver.Version, len(versions))
	copy(sorted, versions)
	SortAscending(sorted)

	strs := make([]string, len(sorted))
	for i, v := range sorted {
		strs[i] = v.String()
	}
	return strs
}

// SelectDefault returns the highest version without a prerelease tag, or
// false when every registered version is a prerelease.
func SelectDefault(versions []*semver.Version) (*semver.Version, bool) {
	var best *semver.Version
	for _, v := range versions {
		if v.Prerelease() != "" {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	return best, best != nil
}

// SelectExact returns the registered version equal to requested, or false.
func SelectExact(versions []*semver.Version, requested *semver.Version) (*semver.Version, bool) {
	for _, v := range versions {
		if v.Equal(requested) {
			return v, true
		}
	}
	return nil, false
}
