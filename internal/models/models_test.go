package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectDocTypeHelpers(t *testing.T) {
	p := &Project{DocumentationType: DocTypeSphinxHTMLDir}
	assert.True(t, p.IsSphinx())
	assert.True(t, p.IsHTMLDir())
	assert.False(t, p.IsMkDocs())

	p.DocumentationType = DocTypeMkDocs
	assert.True(t, p.IsMkDocs())
	assert.True(t, p.IsHTMLDir())
}

func TestNonRepositoryVersions(t *testing.T) {
	assert.True(t, IsNonRepositoryVersion(LatestSlug))
	assert.True(t, IsNonRepositoryVersion(StableSlug))
	assert.False(t, IsNonRepositoryVersion("0.1"))
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "docs.example.com", NormalizeDomain(" Docs.Example.com:8080 "))
	assert.Equal(t, "docs.example.com", NormalizeDomain("docs.example.com."))
}

func TestPrivacyLevelValid(t *testing.T) {
	assert.True(t, PrivacyProtected.Valid())
	assert.False(t, PrivacyLevel("secret").Valid())
}
