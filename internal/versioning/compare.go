package versioning

import (
	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Comparison tells a reader whether the docs they are on are the newest.
type Comparison struct {
	Project   string `json:"project"`
	Slug      string `json:"slug,omitempty"`
	Version   string `json:"version,omitempty"`
	IsHighest bool   `json:"is_highest"`
}

// Compare reports the highest public release of a project and whether
// current (a version slug or name) is at least that release. Versions that
// are not semantic versions, such as "latest", always count as highest.
func Compare(projectSlug string, versions []*models.Version, current string) Comparison {
	res := Comparison{Project: projectSlug, IsHighest: true}
	public := make([]*models.Version, 0, len(versions))
	for _, v := range versions {
		if v.Active && v.Privacy == models.PrivacyPublic {
			public = append(public, v)
		}
	}
	var top *Comparable
	for _, c := range Sorted(public) {
		if c.Semver.Prerelease() == "" {
			top = &c
			break
		}
	}
	if top == nil {
		return res
	}
	res.Slug = top.Version.Slug
	res.Version = top.Version.VerboseName
	if base, ok := Parse(current); ok {
		res.IsHighest = !base.LessThan(top.Semver)
	}
	return res
}
