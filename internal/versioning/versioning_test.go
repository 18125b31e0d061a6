package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

func versions(names ...string) []*models.Version {
	out := make([]*models.Version, len(names))
	for i, n := range names {
		out[i] = &models.Version{
			ID:          int64(i + 1),
			Slug:        n,
			VerboseName: n,
			Type:        models.VersionTag,
			Active:      true,
			Privacy:     models.PrivacyPublic,
		}
	}
	return out
}

func names(vs []*models.Version) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.VerboseName
	}
	return out
}

func TestParse(t *testing.T) {
	for _, name := range []string{"1.0", "v2.3.4", "0.1", "1.0.0-rc1"} {
		_, ok := Parse(name)
		assert.True(t, ok, name)
	}
	for _, name := range []string{"", "master", "latest", "release-1.0"} {
		_, ok := Parse(name)
		assert.False(t, ok, name)
	}
}

func TestSortedSkipsSyntheticAndNonSemver(t *testing.T) {
	vs := versions("0.2", "master", "1.0", "0.10")
	vs = append(vs, &models.Version{ID: 9, Slug: "latest", VerboseName: "latest", Machine: true})

	var got []string
	for _, c := range Sorted(vs) {
		got = append(got, c.Version.VerboseName)
	}
	assert.Equal(t, []string{"1.0", "0.10", "0.2"}, got)
}

func TestHighestIgnoresPrerelease(t *testing.T) {
	vs := versions("1.0", "2.0.0-beta1", "1.1")
	v, ok := Highest(vs, false)
	require.True(t, ok)
	assert.Equal(t, "1.1", v.VerboseName)

	v, ok = Highest(vs, true)
	require.True(t, ok)
	assert.Equal(t, "2.0.0-beta1", v.VerboseName)

	_, ok = Highest(versions("master"), true)
	assert.False(t, ok)
}

func TestStableCandidatePrefersTags(t *testing.T) {
	vs := versions("0.9", "1.0")
	vs = append(vs, &models.Version{ID: 10, Slug: "2.0", VerboseName: "2.0", Type: models.VersionBranch})

	v, ok := StableCandidate(vs)
	require.True(t, ok)
	assert.Equal(t, "1.0", v.VerboseName)

	branchOnly := []*models.Version{{ID: 1, VerboseName: "3.0", Type: models.VersionBranch}}
	v, ok = StableCandidate(branchOnly)
	require.True(t, ok)
	assert.Equal(t, "3.0", v.VerboseName)
}

func TestWindow(t *testing.T) {
	vs := versions("1.0.0", "1.0.1", "1.1.0", "1.1.1", "1.1.2", "2.0.0", "2.0.1", "3.0.0", "master")

	tests := []struct {
		name   string
		policy Policy
		want   []string
	}{
		{"unbounded", Policy{}, []string{"3.0.0", "2.0.1", "2.0.0", "1.1.2", "1.1.1", "1.1.0", "1.0.1", "1.0.0"}},
		{"one major", Policy{Major: 1}, []string{"3.0.0"}},
		{"two majors newest point", Policy{Major: 2, Point: 1}, []string{"3.0.0", "2.0.1"}},
		{"minors and points", Policy{Minor: 1, Point: 2}, []string{"3.0.0", "2.0.1", "2.0.0", "1.1.2", "1.1.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Window(vs, tt.policy)))
		})
	}
}

func TestPolicyFor(t *testing.T) {
	p := PolicyFor(&models.Project{NumMajor: 2, NumMinor: 2, NumPoint: 5})
	assert.Equal(t, Policy{Major: 2, Minor: 2, Point: 5}, p)
}

func TestCompare(t *testing.T) {
	vs := versions("0.1", "0.2", "0.3")
	vs[2].Privacy = models.PrivacyPrivate

	c := Compare("pip", vs, "0.1")
	assert.Equal(t, Comparison{Project: "pip", Slug: "0.2", Version: "0.2", IsHighest: false}, c)

	assert.True(t, Compare("pip", vs, "0.2").IsHighest)
	assert.True(t, Compare("pip", vs, "latest").IsHighest)
	assert.Equal(t, Comparison{Project: "pip", IsHighest: true}, Compare("pip", nil, "0.1"))
}
