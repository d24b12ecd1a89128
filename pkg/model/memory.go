package model

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// memoryNamespace seeds name-based IDs so that the same input always maps to the same memory.
var memoryNamespace = uuid.MustParse("5b0f7f4e-4c1e-4a8e-9d6e-2f3f0f6f1c21")

// DeriveMemoryID returns a deterministic MemoryID for the given parts. Re-ingesting the
// same chunk or re-learning the same fact therefore upserts instead of duplicating.
func DeriveMemoryID(parts ...string) MemoryID {
	return MemoryID(uuid.NewSHA1(memoryNamespace, []byte(strings.Join(parts, "\x00"))).String())
}

func (x MemoryID) String() string { return string(x) }

type MemoryType string

const (
	MemoryTypeNote        MemoryType = "note"
	MemoryTypeFact        MemoryType = "fact"
	MemoryTypePreference  MemoryType = "preference"
	MemoryTypeProfile     MemoryType = "profile"
	MemoryTypeUserCore    MemoryType = "user_core"
	MemoryTypeUnspecified MemoryType = "unspecified"
)

// MemoryTypes lists every recognized type in display order
var MemoryTypes = []MemoryType{
	MemoryTypeNote,
	MemoryTypeFact,
	MemoryTypePreference,
	MemoryTypeProfile,
	MemoryTypeUserCore,
	MemoryTypeUnspecified,
}

// ParseMemoryType converts s into a MemoryType. Unknown values fall back to note and ok is
// false so that callers can count the coercion.
func ParseMemoryType(s string) (t MemoryType, ok bool) {
	v := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range MemoryTypes {
		if v == known {
			return v, true
		}
	}
	return MemoryTypeNote, false
}

// IsCore reports whether memories of this type belong to the user's durable profile.
func (x MemoryType) IsCore() bool {
	switch x {
	case MemoryTypePreference, MemoryTypeFact, MemoryTypeProfile, MemoryTypeUserCore:
		return true
	}
	return false
}

const (
	SourceManual        = "manual"
	SourceAutoExtracted = "auto_extracted"
	SourceConversation  = "conversation"
)

// Memory is the atomic unit of stored knowledge
type Memory struct {
	ID        MemoryID
	Content   string
	Embedding []float32

	// CreatedAt is zero when the backend had no parsable timestamp.
	CreatedAt time.Time
	Source    string
	Type      MemoryType
	Category  string
	Metadata  map[string]any
}

// Copy returns a shallow copy with its own metadata map.
func (x *Memory) Copy() *Memory {
	c := *x
	if x.Metadata != nil {
		c.Metadata = make(map[string]any, len(x.Metadata))
		for k, v := range x.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Fingerprint is a short content hash used in logs
func (x *Memory) Fingerprint() string {
	sum := sha1.Sum([]byte(x.Content))
	return hex.EncodeToString(sum[:4])
}

// Filter narrows a vector query by exact metadata match. Empty fields are ignored.
type Filter struct {
	Type   MemoryType
	Source string
}

// IsEmpty reports whether the filter has no condition
func (x *Filter) IsEmpty() bool {
	return x == nil || (x.Type == "" && x.Source == "")
}

// Hit is a single nearest neighbor returned by a vector index
type Hit struct {
	Memory     *Memory
	Similarity float64
}
