package crypto

import (
	"sort"
	"strings"
)

// Fields signed requests never include in the signature base string.
var excludedFields = map[string]struct{}{
	"sign":        {},
	"sign_type":   {},
	"header":      {},
	"refund_info": {},
	"openType":    {},
	"raw_request": {},
}

// Pair is a single key/value entry of a request field set.
type Pair struct {
	Key   string
	Value string
}

// FieldSet is an ordered request field set. Go maps do not preserve insertion
// order, and both the raw-request encoding and the biz_content flattening
// depend on it, so callers build requests through Set/SetBiz instead.
type FieldSet struct {
	pairs []Pair
	biz   []Pair
}

// NewFieldSet creates an empty field set.
func NewFieldSet() *FieldSet {
	return &FieldSet{}
}

// Set adds or replaces a top-level field.
func (f *FieldSet) Set(key, value string) *FieldSet {
	for i := range f.pairs {
		if f.pairs[i].Key == key {
			f.pairs[i].Value = value
			return f
		}
	}
	f.pairs = append(f.pairs, Pair{Key: key, Value: value})
	return f
}

// SetBiz adds or replaces a biz_content sub-field.
func (f *FieldSet) SetBiz(key, value string) *FieldSet {
	for i := range f.biz {
		if f.biz[i].Key == key {
			f.biz[i].Value = value
			return f
		}
	}
	f.biz = append(f.biz, Pair{Key: key, Value: value})
	return f
}

// Pairs returns the top-level fields in insertion order.
func (f *FieldSet) Pairs() []Pair {
	return f.pairs
}

// BizContent returns the biz_content sub-fields in insertion order.
func (f *FieldSet) BizContent() []Pair {
	return f.biz
}

// Canonicalize builds the signature base string for a field set.
//
// The construction is two-phase: top-level keys are sorted lexicographically
// and walked in that order, with excluded keys dropped and biz_content
// expanded into its sub-fields in their original insertion order; the
// resulting "k=v" tokens joined by "&" are then re-sorted as whole strings.
// Because biz_content sub-fields enter the string unsorted before the token
// sort, this is not equivalent to a single sort of the flattened map and must
// not be "simplified" into one.
//
// An empty field set canonicalizes to the empty string.
func Canonicalize(f *FieldSet) string {
	if f == nil || (len(f.pairs) == 0 && len(f.biz) == 0) {
		return ""
	}

	keys := make([]string, 0, len(f.pairs)+1)
	for _, p := range f.pairs {
		keys = append(keys, p.Key)
	}
	if len(f.biz) > 0 {
		keys = append(keys, "biz_content")
	}
	sort.Strings(keys)

	values := make(map[string]string, len(f.pairs))
	for _, p := range f.pairs {
		values[p.Key] = p.Value
	}

	var tokens []string
	for _, key := range keys {
		if _, excluded := excludedFields[key]; excluded {
			continue
		}
		if key == "biz_content" {
			for _, p := range f.biz {
				tokens = append(tokens, p.Key+"="+p.Value)
			}
			continue
		}
		tokens = append(tokens, key+"="+values[key])
	}

	sort.Strings(tokens)
	return strings.Join(tokens, "&")
}
