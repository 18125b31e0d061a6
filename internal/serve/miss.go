package serve

import (
	"fmt"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
)

// MissReason distinguishes the ways a request can fail to resolve.
type MissReason string

const (
	MissProject     MissReason = "project_not_found"
	MissTranslation MissReason = "translation_not_found"
	MissVersion     MissReason = "version_not_found"
	MissNotBuilt    MissReason = "version_not_built"
	MissPage        MissReason = "page_not_found"
)

const missKey = "miss"

var missMessages = map[MissReason]string{
	MissProject:     "project %s does not exist",
	MissTranslation: "project %s has no translation for this language",
	MissVersion:     "project %s has no such version",
	MissNotBuilt:    "this version of %s has not been built yet",
	MissPage:        "page not found in %s",
}

func miss(reason MissReason, req Request) error {
	b := errors.NotFoundError(fmt.Sprintf(missMessages[reason], req.Project)).
		WithContext(missKey, string(reason)).
		WithContext("project", req.Project)
	if req.Lang != "" {
		b = b.WithContext("lang", req.Lang)
	}
	if req.Version != "" {
		b = b.WithContext("version", req.Version)
	}
	if req.Filename != "" {
		b = b.WithContext("filename", req.Filename)
	}
	return b.Build()
}

// missOr turns a store not_found into a typed miss and passes other
// errors through.
func missOr(err error, reason MissReason, req Request) error {
	if errors.HasCategory(err, errors.CategoryNotFound) {
		return miss(reason, req)
	}
	return err
}

// MissReasonOf extracts the reason of a resolver miss.
func MissReasonOf(err error) (MissReason, bool) {
	c, ok := errors.AsClassified(err)
	if !ok || c.Category() != errors.CategoryNotFound {
		return "", false
	}
	reason, ok := c.Context().GetString(missKey)
	return MissReason(reason), ok
}
