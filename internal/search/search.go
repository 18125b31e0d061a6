// Package search turns built documentation into page records for the search
// index. Sphinx projects are read from the JSON builder's .fjson files;
// MkDocs projects are read from their Markdown sources.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PagesFile is the harvested page list written next to the JSON output.
const PagesFile = "pages.json"

// Page is one indexed document.
type Page struct {
	Path        string   `json:"path"`
	Title       string   `json:"title"`
	Headers     []string `json:"headers,omitempty"`
	Content     string   `json:"content"`
	Fingerprint string   `json:"fingerprint"`
}

// Payload is what the index writer receives for one built version.
type Payload struct {
	Project   string `json:"project"`
	ProjectID int64  `json:"project_id"`
	Version   string `json:"version"`
	VersionID int64  `json:"version_id"`
	Commit    string `json:"commit,omitempty"`
	Pages     []Page `json:"pages"`
}

// Indexer receives page payloads. Delivery is fire-and-forget from the
// build's point of view.
type Indexer interface {
	Index(ctx context.Context, p Payload) error
}

// NoopIndexer drops every payload.
type NoopIndexer struct{}

func (NoopIndexer) Index(context.Context, Payload) error { return nil }

// Write stores pages as dir/pages.json.
func Write(dir string, pages []Page) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, PagesFile), data, 0o600)
}

// Load reads the pages of a published JSON tree: pages.json when present,
// otherwise every .fjson file.
func Load(dir string) ([]Page, error) {
	data, err := os.ReadFile(filepath.Join(dir, PagesFile))
	switch {
	case err == nil:
		var pages []Page
		if err := json.Unmarshal(data, &pages); err != nil {
			return nil, fmt.Errorf("decode %s: %w", PagesFile, err)
		}
		return pages, nil
	case os.IsNotExist(err):
		return HarvestSphinx(dir)
	default:
		return nil, err
	}
}
