// Package kv implements the key/value accumulator used while building header
// collections and form dictionaries.
package kv

// inlineKeys is the number of keys looked up by linear scan before an index
// map is built. Typical header blocks stay below it.
const inlineKeys = 16

// Entry is one key with all of its values in receipt order.
type Entry struct {
	Key    string
	Values []string
}

// entry holds up to two values inline. The third value for a key promotes the
// entry to a list-backed representation.
type entry struct {
	key    string
	first  string
	second string
	n      int      // values held inline (1 or 2) until promotion
	list   []string // nil until promoted
}

// Accumulator collects key/value pairs while a message is being parsed.
//
// Keys keep the spelling of their first occurrence and the order in which they
// first appeared. Most keys carry one or two values, so those are stored inline
// without a per-key slice; only keys with a third value allocate a list.
//
// The zero value is ready to use and compares keys case-sensitively.
type Accumulator struct {
	entries []entry
	index   map[string]int // built once len(entries) exceeds inlineKeys

	foldCase   bool
	valueCount int
}

// NewAccumulator returns an Accumulator. With foldCase set, keys that differ
// only in ASCII case are merged (header semantics).
func NewAccumulator(foldCase bool) *Accumulator {
	return &Accumulator{foldCase: foldCase}
}

// Append adds value under key.
func (a *Accumulator) Append(key, value string) {
	a.valueCount++

	if i := a.find(key); i >= 0 {
		e := &a.entries[i]
		switch {
		case e.list != nil:
			e.list = append(e.list, value)
		case e.n == 1:
			e.second = value
			e.n = 2
		default:
			e.list = make([]string, 0, 4)
			e.list = append(e.list, e.first, e.second, value)
			e.first, e.second = "", ""
			e.n = 0
		}
		return
	}

	a.entries = append(a.entries, entry{key: key, first: value, n: 1})
	if a.index != nil {
		a.index[a.indexKey(key)] = len(a.entries) - 1
	} else if len(a.entries) > inlineKeys {
		a.index = make(map[string]int, len(a.entries)*2)
		for i := range a.entries {
			a.index[a.indexKey(a.entries[i].key)] = i
		}
	}
}

func (a *Accumulator) find(key string) int {
	if a.index != nil {
		if i, ok := a.index[a.indexKey(key)]; ok {
			return i
		}
		return -1
	}
	for i := range a.entries {
		if a.equal(a.entries[i].key, key) {
			return i
		}
	}
	return -1
}

func (a *Accumulator) equal(x, y string) bool {
	if a.foldCase {
		return asciiEqualFold(x, y)
	}
	return x == y
}

func (a *Accumulator) indexKey(key string) string {
	if a.foldCase {
		return asciiLower(key)
	}
	return key
}

// Keys fold ASCII letters only, the same way on the linear and indexed
// paths; other bytes must match exactly.
func asciiEqualFold(x, y string) bool {
	if len(x) != len(y) {
		return false
	}
	for i := 0; i < len(x); i++ {
		if lowerASCII(x[i]) != lowerASCII(y[i]) {
			return false
		}
	}
	return true
}

func asciiLower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				b[j] = lowerASCII(b[j])
			}
			return string(b)
		}
	}
	return s
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// HasValues reports whether anything was appended.
func (a *Accumulator) HasValues() bool { return a.valueCount > 0 }

// KeyCount returns the number of distinct keys.
func (a *Accumulator) KeyCount() int { return len(a.entries) }

// ValueCount returns the number of appended values across all keys.
func (a *Accumulator) ValueCount() int { return a.valueCount }

// Promoted returns the number of keys that needed a value list.
func (a *Accumulator) Promoted() int {
	n := 0
	for i := range a.entries {
		if a.entries[i].list != nil {
			n++
		}
	}
	return n
}

// Finalize materializes every key into the uniform Entry form, preserving
// first-appearance order. The accumulator is reset and may be reused.
func (a *Accumulator) Finalize() []Entry {
	if len(a.entries) == 0 {
		return nil
	}

	// One backing array for all inline values keeps this to two allocations.
	inline := 0
	for i := range a.entries {
		inline += a.entries[i].n
	}
	backing := make([]string, 0, inline)

	out := make([]Entry, len(a.entries))
	for i := range a.entries {
		e := &a.entries[i]
		out[i].Key = e.key
		if e.list != nil {
			out[i].Values = e.list
			continue
		}
		start := len(backing)
		backing = append(backing, e.first)
		if e.n == 2 {
			backing = append(backing, e.second)
		}
		out[i].Values = backing[start:len(backing):len(backing)]
	}

	a.Reset()
	return out
}

// Reset clears the accumulator for reuse.
func (a *Accumulator) Reset() {
	a.entries = a.entries[:0]
	a.index = nil
	a.valueCount = 0
}
