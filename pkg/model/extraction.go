package model

// ExtractedItem is a memory candidate found in a conversation. ID and embedding are
// assigned when it is stored.
type ExtractedItem struct {
	Content  string
	Type     MemoryType
	Category string
	Source   string
	Metadata map[string]any
}

// Extraction is the result of one extractor call
type Extraction struct {
	Items  []*ExtractedItem
	Counts map[MemoryType]int

	// Dropped counts candidates rejected by validation (empty content, duplicates).
	Dropped int
	// Coerced counts candidates whose type was unknown and became note.
	Coerced int
}

// NewExtraction returns an empty extraction with zero counts
func NewExtraction() *Extraction {
	return &Extraction{Counts: map[MemoryType]int{}}
}

// Add appends an item and updates counts
func (x *Extraction) Add(item *ExtractedItem) {
	x.Items = append(x.Items, item)
	x.Counts[item.Type]++
}

// Total returns the number of accepted items
func (x *Extraction) Total() int {
	return len(x.Items)
}
