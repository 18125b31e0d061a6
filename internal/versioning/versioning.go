// Package versioning orders project versions by semantic version and derives
// the views built on that order: the stable version, version windows and
// the "is this the newest docs" comparison.
package versioning

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Parse reads a version name leniently, so "v1.2" and "1.2" both parse.
// Names such as "master" or "release-1.0" report false.
func Parse(name string) (*semver.Version, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	v, err := semver.NewVersion(name)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Comparable pairs a stored version with its parsed semantic version.
type Comparable struct {
	Version *models.Version
	Semver  *semver.Version
}

// Sorted returns the versions that parse as semantic versions, newest first.
// Synthetic versions are skipped. Ties keep the lower ID first.
func Sorted(versions []*models.Version) []Comparable {
	out := make([]Comparable, 0, len(versions))
	for _, v := range versions {
		if v.Machine || models.IsNonRepositoryVersion(v.Slug) {
			continue
		}
		name := v.VerboseName
		if name == "" {
			name = v.Slug
		}
		sv, ok := Parse(name)
		if !ok {
			continue
		}
		out = append(out, Comparable{Version: v, Semver: sv})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Semver.Compare(out[j].Semver); c != 0 {
			return c > 0
		}
		return out[i].Version.ID < out[j].Version.ID
	})
	return out
}

// Highest returns the newest version, optionally ignoring pre-releases.
func Highest(versions []*models.Version, includePrerelease bool) (*models.Version, bool) {
	for _, c := range Sorted(versions) {
		if !includePrerelease && c.Semver.Prerelease() != "" {
			continue
		}
		return c.Version, true
	}
	return nil, false
}

// StableCandidate picks the version "stable" should point at: the newest
// non pre-release tag, falling back to the newest non pre-release branch.
func StableCandidate(versions []*models.Version) (*models.Version, bool) {
	var tags, branches []*models.Version
	for _, v := range versions {
		switch v.Type {
		case models.VersionTag:
			tags = append(tags, v)
		case models.VersionBranch:
			branches = append(branches, v)
		}
	}
	if v, ok := Highest(tags, false); ok {
		return v, true
	}
	return Highest(branches, false)
}
