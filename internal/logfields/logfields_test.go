package logfields

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringHelpers(t *testing.T) {
	cases := []struct {
		attr slog.Attr
		key  string
		val  string
	}{
		{JobID("j1"), KeyJobID, "j1"},
		{Project("pip"), KeyProject, "pip"},
		{Version("latest"), KeyVersion, "latest"},
		{BuildID("b1"), KeyBuildID, "b1"},
		{BuildState("cloning"), KeyBuildState, "cloning"},
		{RepoType("git"), KeyRepoType, "git"},
		{DocType("sphinx"), KeyDocType, "sphinx"},
		{Command("git fetch"), KeyCommand, "git fetch"},
		{LockKey("rtd:lock:pip"), KeyLockKey, "rtd:lock:pip"},
		{Path("/tmp/x"), KeyPath, "/tmp/x"},
	}
	for _, c := range cases {
		assert.Equal(t, c.key, c.attr.Key)
		assert.Equal(t, c.val, c.attr.Value.String())
	}
}

func TestIntHelpers(t *testing.T) {
	assert.Equal(t, int64(128), ExitCode(128).Value.Int64())
	assert.Equal(t, int64(401), Status(401).Value.Int64())
}

func TestErrorHelper(t *testing.T) {
	assert.Equal(t, "", Error(nil).Value.String())
	assert.Equal(t, "boom", Error(errors.New("boom")).Value.String())
}
