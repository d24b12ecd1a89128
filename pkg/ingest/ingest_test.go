package ingest_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/ingest"
	"github.com/m-mizutani/recall/pkg/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	gt.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	gt.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileFrontMatter(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trip.md", `---
title: Trip plan
created: Mar 5, 2024 at 9:30 AM
---
# Kyoto
Visit the temples.
`)

	doc, err := ingest.LoadFile(path)
	gt.NoError(t, err)
	gt.Equal(t, doc.Title, "Trip plan")
	gt.True(t, doc.CreatedAt.Equal(time.Date(2024, 3, 5, 9, 30, 0, 0, time.Local)))
	gt.False(t, strings.Contains(doc.Body, "created:"))
	gt.S(t, doc.Body).Contains("Visit the temples.")
}

func TestLoadFileCreatedLayouts(t *testing.T) {
	testCases := map[string]time.Time{
		"2024-03-05":           time.Date(2024, 3, 5, 0, 0, 0, 0, time.Local),
		"Mar 5, 2024":          time.Date(2024, 3, 5, 0, 0, 0, 0, time.Local),
		"2024-03-05T10:00:00Z": time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}

	for created, expected := range testCases {
		t.Run(created, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "note.md", "---\ncreated: \""+created+"\"\n---\nbody\n")
			doc, err := ingest.LoadFile(path)
			gt.NoError(t, err)
			gt.True(t, doc.CreatedAt.Equal(expected))
		})
	}
}

func TestLoadFileNameDateWins(t *testing.T) {
	path := writeFile(t, t.TempDir(), "2023-01-10-journal.md", "---\ncreated: Mar 5, 2024\n---\n# Journal\ntext\n")

	doc, err := ingest.LoadFile(path)
	gt.NoError(t, err)
	gt.True(t, doc.CreatedAt.Equal(time.Date(2023, 1, 10, 12, 0, 0, 0, time.Local)))
	gt.Equal(t, doc.Title, "Journal")
}

func TestLoadFileModTimeFallback(t *testing.T) {
	path := writeFile(t, t.TempDir(), "plain.md", "no front matter\n")
	mtime := time.Date(2022, 8, 1, 8, 0, 0, 0, time.UTC)
	gt.NoError(t, os.Chtimes(path, mtime, mtime))

	doc, err := ingest.LoadFile(path)
	gt.NoError(t, err)
	gt.True(t, doc.CreatedAt.Equal(mtime))
	gt.Equal(t, doc.Title, "plain")
	gt.Equal(t, doc.Body, "no front matter\n")
}

func TestLoadAllWalksDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "sub/b.md", "beta")
	writeFile(t, dir, "sub/ignore.txt", "gamma")

	docs, err := ingest.LoadAll(context.Background(), []string{dir})
	gt.NoError(t, err)
	gt.A(t, docs).Length(2)
	gt.Equal(t, docs[0].Body, "alpha")
	gt.Equal(t, docs[1].Body, "beta")
}

func TestNewSplitterValidation(t *testing.T) {
	_, err := ingest.NewSplitter(0, 0)
	gt.Error(t, err)
	_, err = ingest.NewSplitter(100, 100)
	gt.Error(t, err)
	_, err = ingest.NewSplitter(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
	gt.NoError(t, err)
}

func TestSplitShortText(t *testing.T) {
	s, err := ingest.NewSplitter(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
	gt.NoError(t, err)
	gt.Equal(t, s.Split("  hello world \n"), []string{"hello world"})
	gt.A(t, s.Split("   ")).Length(0)
}

func TestSplitParagraphs(t *testing.T) {
	s, err := ingest.NewSplitter(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
	gt.NoError(t, err)

	a := strings.TrimSpace(strings.Repeat("a ", 150))
	b := strings.TrimSpace(strings.Repeat("b ", 150))
	gt.Equal(t, s.Split(a+"\n\n"+b), []string{a, b})
}

func TestSplitOverlap(t *testing.T) {
	s, err := ingest.NewSplitter(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
	gt.NoError(t, err)

	words := make([]string, 300)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	chunks := s.Split(strings.Join(words, " "))
	gt.True(t, len(chunks) > 3)

	for i, chunk := range chunks {
		gt.True(t, utf8.RuneCountInString(chunk) <= ingest.DefaultChunkSize)
		if i == 0 {
			continue
		}
		prev := strings.Fields(chunks[i-1])
		gt.S(t, chunk).Contains(prev[len(prev)-1])
	}
	last := strings.Fields(chunks[len(chunks)-1])
	gt.Equal(t, last[len(last)-1], "word299")
}

func TestSplitLongToken(t *testing.T) {
	s, err := ingest.NewSplitter(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
	gt.NoError(t, err)

	chunks := s.Split(strings.Repeat("x", 1200))
	gt.True(t, len(chunks) >= 3)
	for _, chunk := range chunks {
		gt.True(t, utf8.RuneCountInString(chunk) <= ingest.DefaultChunkSize)
	}
}

func TestDocumentMemories(t *testing.T) {
	s, err := ingest.NewSplitter(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
	gt.NoError(t, err)

	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	doc := &ingest.Document{
		Path:      "notes/a.md",
		Title:     "A",
		Body:      "first paragraph\n\nsecond paragraph",
		CreatedAt: created,
	}

	mems := doc.Memories(s)
	gt.A(t, mems).Length(1)
	gt.Equal(t, mems[0].ID, model.DeriveMemoryID("notes/a.md", "0"))
	gt.Equal(t, mems[0].Source, "notes/a.md")
	gt.Equal(t, mems[0].Type, model.MemoryTypeNote)
	gt.Equal(t, mems[0].Metadata["title"], any("A"))
	gt.Equal(t, mems[0].Metadata["chunk"], any(0))
	gt.True(t, mems[0].CreatedAt.Equal(created))

	again := doc.Memories(s)
	gt.Equal(t, again[0].ID, mems[0].ID)
}
