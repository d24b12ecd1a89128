package ingest

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Document is one markdown file ready to be chunked
type Document struct {
	Path      string
	Title     string
	Body      string
	CreatedAt time.Time
}

// Layouts accepted for the front matter "created" field
var createdLayouts = []string{
	"Jan 2, 2006 at 3:04 PM",
	time.RFC3339,
	"2006-01-02",
	"Jan 2, 2006",
}

var fileDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// LoadFile reads a markdown file. CreatedAt comes from the date in the file name, then the
// front matter "created" field, then the modification time.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read markdown file", goerr.V("path", path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat markdown file", goerr.V("path", path))
	}

	front, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse front matter", goerr.V("path", path))
	}

	doc := &Document{
		Path:      path,
		Title:     documentTitle(path, front, body),
		Body:      body,
		CreatedAt: info.ModTime(),
	}
	if t, ok := parseCreated(front["created"]); ok {
		doc.CreatedAt = t
	}
	if t, ok := dateFromFileName(path); ok {
		doc.CreatedAt = t
	}
	return doc, nil
}

// LoadAll loads every path. Directories are walked recursively for .md files.
func LoadAll(ctx context.Context, paths []string) ([]*Document, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to stat path", goerr.V("path", p))
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to walk directory", goerr.V("dir", p))
		}
	}
	slices.Sort(files)

	docs := make([]*Document, len(files))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, file := range files {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := LoadFile(file)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Memories converts the chunks of doc into note memories with stable IDs
func (d *Document) Memories(splitter *Splitter) []*model.Memory {
	chunks := splitter.Split(d.Body)
	memories := make([]*model.Memory, 0, len(chunks))
	for i, chunk := range chunks {
		memories = append(memories, &model.Memory{
			ID:        model.DeriveMemoryID(d.Path, strconv.Itoa(i)),
			Content:   chunk,
			CreatedAt: d.CreatedAt,
			Source:    d.Path,
			Type:      model.MemoryTypeNote,
			Metadata: map[string]any{
				"chunk": i,
				"title": d.Title,
			},
		})
	}
	return memories
}

func splitFrontMatter(data []byte) (map[string]any, string, error) {
	text := string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n")))
	if !strings.HasPrefix(text, "---\n") {
		return map[string]any{}, text, nil
	}

	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return map[string]any{}, text, nil
	}

	front := map[string]any{}
	if err := yaml.Unmarshal([]byte(rest[:end]), &front); err != nil {
		return nil, "", err
	}

	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return front, body, nil
}

func parseCreated(v any) (time.Time, bool) {
	switch value := v.(type) {
	case time.Time:
		return value, true
	case string:
		s := strings.TrimSpace(value)
		for _, layout := range createdLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func dateFromFileName(path string) (time.Time, bool) {
	m := fileDatePattern.FindString(filepath.Base(path))
	if m == "" {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation("2006-01-02", m, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return d.Add(12 * time.Hour), true
}

func documentTitle(path string, front map[string]any, body string) string {
	if title, ok := front["title"].(string); ok && title != "" {
		return title
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
