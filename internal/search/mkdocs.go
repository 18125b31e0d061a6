package search

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inful/mdfp"
	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// HarvestMkDocs reads the Markdown sources under docsDir. Page paths follow
// MkDocs' directory URLs: "install.md" becomes "install/" and "index.md"
// the directory itself.
func HarvestMkDocs(docsDir string) ([]Page, error) {
	md := goldmark.New()
	var pages []Page
	err := filepath.WalkDir(docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != docsDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".md") {
			return nil
		}
		src, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(docsDir, path)
		pages = append(pages, markdownPage(md, filepath.ToSlash(rel), src))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	return pages, nil
}

func markdownPage(md goldmark.Markdown, rel string, src []byte) Page {
	front, body := splitFrontMatter(src)
	root := md.Parser().Parse(text.NewReader(body))

	var (
		headers []string
		content strings.Builder
	)
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *gmast.Heading:
			if t := inlineText(node, body); t != "" {
				headers = append(headers, t)
			}
		case *gmast.Text:
			content.Write(node.Value(body))
			content.WriteByte(' ')
		case *gmast.FencedCodeBlock, *gmast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				content.Write(seg.Value(body))
			}
			return gmast.WalkSkipChildren, nil
		}
		return gmast.WalkContinue, nil
	})

	title := frontMatterTitle(front)
	if title == "" && len(headers) > 0 {
		title = headers[0]
	}
	return Page{
		Path:        pagePath(rel),
		Title:       title,
		Headers:     headers,
		Content:     strings.Join(strings.Fields(content.String()), " "),
		Fingerprint: mdfp.CalculateFingerprintFromParts(string(front), string(body)),
	}
}

func inlineText(n gmast.Node, src []byte) string {
	var b strings.Builder
	_ = gmast.Walk(n, func(c gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if entering {
			if t, ok := c.(*gmast.Text); ok {
				b.Write(t.Value(src))
			}
		}
		return gmast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func pagePath(rel string) string {
	name := strings.TrimSuffix(rel, ".md")
	switch {
	case name == "index" || name == "README":
		return ""
	case strings.HasSuffix(name, "/index"):
		return strings.TrimSuffix(name, "index")
	}
	return name + "/"
}

// splitFrontMatter separates a leading "---" YAML block from the body.
func splitFrontMatter(src []byte) (front, body []byte) {
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(src, []byte("---\n")) {
		return nil, src
	}
	rest := src[4:]
	if bytes.HasPrefix(rest, []byte("---\n")) {
		return []byte{}, rest[4:]
	}
	idx := bytes.Index(rest, []byte("\n---\n"))
	if idx < 0 {
		return nil, src
	}
	return rest[:idx+1], rest[idx+5:]
}

func frontMatterTitle(front []byte) string {
	if len(front) == 0 {
		return ""
	}
	var fields map[string]any
	if err := yaml.Unmarshal(front, &fields); err != nil {
		return ""
	}
	title, _ := fields["title"].(string)
	return strings.TrimSpace(title)
}
