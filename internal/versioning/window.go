package versioning

import (
	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Policy bounds how many versions are listed: the newest Major majors, the
// newest Minor minors of each, and the newest Point releases of each minor.
// Zero means no limit at that level.
type Policy struct {
	Major int
	Minor int
	Point int
}

// PolicyFor reads the window policy stored on a project.
func PolicyFor(p *models.Project) Policy {
	return Policy{Major: p.NumMajor, Minor: p.NumMinor, Point: p.NumPoint}
}

// Window applies p to versions and returns the kept versions newest first.
// Versions whose names are not semantic versions are dropped.
func Window(versions []*models.Version, p Policy) []*models.Version {
	sorted := Sorted(versions)
	var (
		out                    []*models.Version
		majors, minors, points int
		curMajor, curMinor     uint64
		haveMajor, haveMinor   bool
	)
	for _, c := range sorted {
		major, minor := c.Semver.Major(), c.Semver.Minor()
		if !haveMajor || major != curMajor {
			curMajor, haveMajor = major, true
			haveMinor = false
			majors++
			minors = 0
		}
		if !haveMinor || minor != curMinor {
			curMinor, haveMinor = minor, true
			minors++
			points = 0
		}
		points++
		if within(majors, p.Major) && within(minors, p.Minor) && within(points, p.Point) {
			out = append(out, c.Version)
		}
	}
	return out
}

func within(n, limit int) bool {
	return limit <= 0 || n <= limit
}
