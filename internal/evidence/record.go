package evidence

import "strings"

// Well-known evidence keys.
const (
	KeyQueryClientIP   = "query.client-ip"
	KeyServerClientIP  = "server.client-ip"
	KeyHeaderForwarded = "header.x-forwarded-for"
)

// Record is an ordered, immutable mapping of evidence keys to values.
type Record struct {
	keys   []string
	values map[string]string
}

// Pair is a single evidence entry.
type Pair struct {
	Key   string
	Value string
}

// NewRecord builds a record from pairs, keeping the first occurrence of a
// repeated key. Keys are lower-cased, matching how evidence keys are compared.
func NewRecord(pairs ...Pair) Record {
	rec := Record{
		keys:   make([]string, 0, len(pairs)),
		values: make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		key := strings.ToLower(strings.TrimSpace(p.Key))
		if key == "" {
			continue
		}
		if _, exists := rec.values[key]; exists {
			continue
		}
		rec.keys = append(rec.keys, key)
		rec.values[key] = p.Value
	}
	return rec
}

func (r Record) Get(key string) (string, bool) {
	v, ok := r.values[strings.ToLower(key)]
	return v, ok
}

// Keys returns the keys in load order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r Record) Len() int {
	return len(r.keys)
}

// Map returns a copy of the record as a plain map.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(r.values[k])
	}
	b.WriteByte('}')
	return b.String()
}
