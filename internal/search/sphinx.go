package search

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inful/mdfp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// fjson is the subset of a Sphinx JSON builder page we index.
type fjson struct {
	Current string `json:"current_page_name"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// HarvestSphinx reads every .fjson page under dir. Unreadable pages are
// logged and skipped.
func HarvestSphinx(dir string) ([]Page, error) {
	var pages []Page
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".fjson") {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		base := filepath.Base(rel)
		if base == "genindex.fjson" || base == "search.fjson" || base == "py-modindex.fjson" {
			return nil
		}
		page, perr := readFJSON(path, rel)
		if perr != nil {
			slog.Warn("Skipping unreadable search page", logfields.Path(path), logfields.Error(perr))
			return nil
		}
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	return pages, nil
}

func readFJSON(path, rel string) (Page, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Page{}, err
	}
	var doc fjson
	if err := json.Unmarshal(data, &doc); err != nil {
		return Page{}, err
	}
	name := doc.Current
	if name == "" {
		name = strings.TrimSuffix(filepath.ToSlash(rel), ".fjson")
	}
	headers, content := htmlText(doc.Body)
	return Page{
		Path:        name + ".html",
		Title:       strings.TrimSpace(plain(doc.Title)),
		Headers:     headers,
		Content:     content,
		Fingerprint: mdfp.CalculateFingerprintFromParts("", content),
	}, nil
}

// htmlText extracts heading texts and whitespace-collapsed body text.
func htmlText(fragment string) ([]string, string) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type: html.ElementNode, Data: "body", DataAtom: atom.Body,
	})
	if err != nil {
		return nil, strings.Join(strings.Fields(fragment), " ")
	}
	var (
		headers []string
		b       strings.Builder
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "h1", "h2", "h3", "h4", "h5", "h6":
				if t := strings.TrimSpace(strings.TrimSuffix(textOf(n), "¶")); t != "" {
					headers = append(headers, t)
				}
			case "a":
				if hasClass(n, "headerlink") {
					return
				}
			}
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return headers, strings.Join(strings.Fields(b.String()), " ")
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "headerlink") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

// plain strips markup from a title fragment.
func plain(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	_, text := htmlText(s)
	return text
}
