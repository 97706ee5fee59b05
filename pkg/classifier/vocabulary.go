package classifier

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

// Vocabulary maps classifier output indices to human-readable label names.
// It is immutable after construction and safe for concurrent use.
type Vocabulary struct {
	names []string
	index map[string]int
}

// NewVocabulary builds a Vocabulary where names[i] is the label for output
// index i. Empty names leave their index unassigned.
func NewVocabulary(names []string) *Vocabulary {
	v := &Vocabulary{
		names: slices.Clone(names),
		index: make(map[string]int, len(names)),
	}
	for i, n := range v.names {
		if n == "" {
			continue
		}
		if _, dup := v.index[n]; !dup {
			v.index[n] = i
		}
	}
	return v
}

// LoadVocabulary reads a YAMNet-style class map CSV from path.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: open vocabulary: %w", err)
	}
	defer f.Close()

	v, err := ParseVocabulary(f)
	if err != nil {
		return nil, fmt.Errorf("classifier: %s: %w", path, err)
	}
	return v, nil
}

// ParseVocabulary reads a class map in the YAMNet CSV layout:
//
//	index,mid,display_name
//	0,/m/09x0r,Speech
//	...
//
// The header row is required. Indices need not be contiguous, but must be
// non-negative and unique.
func ParseVocabulary(r io.Reader) (*Vocabulary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("vocabulary is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.TrimSpace(header[0]) != "index" || strings.TrimSpace(header[2]) != "display_name" {
		return nil, fmt.Errorf("unexpected header %q, want index,mid,display_name", header)
	}

	var names []string
	seen := make(map[int]bool)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid index %q", rec[0])
		}
		if seen[idx] {
			return nil, fmt.Errorf("duplicate index %d", idx)
		}
		seen[idx] = true
		if idx >= len(names) {
			names = append(names, make([]string, idx+1-len(names))...)
		}
		names[idx] = strings.TrimSpace(rec[2])
	}
	if len(names) == 0 {
		return nil, errors.New("vocabulary has no labels")
	}
	return NewVocabulary(names), nil
}

// Size returns K, the width of a score row this vocabulary describes.
func (v *Vocabulary) Size() int { return len(v.names) }

// Name returns the label for index and whether the index is assigned.
func (v *Vocabulary) Name(index int) (string, bool) {
	if index < 0 || index >= len(v.names) || v.names[index] == "" {
		return "", false
	}
	return v.names[index], true
}

// Resolve returns the label for index, or the placeholder
// "Unknown sound #<index>" when the index is not in the vocabulary.
func (v *Vocabulary) Resolve(index int) string {
	if name, ok := v.Name(index); ok {
		return name
	}
	return "Unknown sound #" + strconv.Itoa(index)
}

// Contains reports whether label is an exact member of the vocabulary.
func (v *Vocabulary) Contains(label string) bool {
	_, ok := v.index[label]
	return ok
}

// Labels returns all assigned labels in index order.
func (v *Vocabulary) Labels() []string {
	out := make([]string, 0, len(v.index))
	for _, n := range v.names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Suggest returns the vocabulary label most similar to label by
// case-insensitive Jaro-Winkler similarity, together with the score in [0, 1].
// An empty vocabulary yields ("", 0).
func (v *Vocabulary) Suggest(label string) (string, float64) {
	needle := strings.ToLower(strings.TrimSpace(label))
	var (
		best  string
		score float64
	)
	for _, n := range v.names {
		if n == "" {
			continue
		}
		if s := matchr.JaroWinkler(needle, strings.ToLower(n), false); s > score {
			best, score = n, s
		}
	}
	return best, score
}
