package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into chunks of at most size characters, trying paragraph, line and
// word boundaries in that order. Consecutive chunks share up to overlap characters.
type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size < 1 {
		return nil, goerr.New("chunk size must be positive",
			goerr.V("size", size),
			goerr.T(model.ErrTagConfig))
	}
	if overlap < 0 || overlap >= size {
		return nil, goerr.New("chunk overlap must be in [0, size)",
			goerr.V("size", size),
			goerr.V("overlap", overlap),
			goerr.T(model.ErrTagConfig))
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split returns the non-empty chunks of text
func (s *Splitter) Split(text string) []string {
	return s.split(text, defaultSeparators)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var chunks, pending []string
	for _, piece := range strings.Split(text, sep) {
		if runeLen(piece) <= s.size {
			pending = append(pending, piece)
			continue
		}

		chunks = append(chunks, s.merge(pending, sep)...)
		pending = nil
		if len(rest) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	return append(chunks, s.merge(pending, sep)...)
}

// merge joins small pieces back together up to size, carrying a tail of up to overlap
// characters into the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var chunks, current []string
	total := 0

	emit := func() {
		if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range pieces {
		n := runeLen(piece)
		joined := n
		if len(current) > 0 {
			joined += sepLen
		}

		if len(current) > 0 && total+joined > s.size {
			emit()
			for len(current) > 0 && (total > s.overlap || total+n+sepLen > s.size) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}

		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, piece)
		total += n
	}
	emit()
	return chunks
}
