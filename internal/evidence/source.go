// Package evidence loads and serves the evidence records that drive
// detection benchmarks.
package evidence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultMaxRecords caps how many records Load keeps.
const DefaultMaxRecords = 20000

var ErrNoEvidence = errors.New("no evidence records")

// SetupError reports an input file that could not be found or read.
type SetupError struct {
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("evidence setup %q: %v", e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Source is an immutable list of records. It is safe for concurrent use.
type Source struct {
	records []Record
}

func New(records []Record) *Source {
	cp := make([]Record, len(records))
	copy(cp, records)
	return &Source{records: cp}
}

// Sample returns a small built-in source with two IPv4 and one IPv6 address.
func Sample() *Source {
	return New([]Record{
		NewRecord(Pair{KeyQueryClientIP, "116.154.188.222"}),
		NewRecord(Pair{KeyQueryClientIP, "45.236.48.61"}),
		NewRecord(Pair{KeyQueryClientIP, "2001:0db8:085a:0000:0000:8a2e:0370:7334"}),
	})
}

// Load reads up to maxRecords YAML documents from path. Each document must
// be a mapping of evidence keys to scalar values. A maxRecords below one
// means DefaultMaxRecords.
func Load(path string, maxRecords int) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SetupError{Path: path, Err: err}
	}
	defer f.Close()

	records, err := Decode(f, maxRecords)
	if err != nil {
		return nil, &SetupError{Path: path, Err: err}
	}
	return &Source{records: records}, nil
}

// Decode parses a YAML multi-document stream into records.
func Decode(r io.Reader, maxRecords int) ([]Record, error) {
	if maxRecords < 1 {
		maxRecords = DefaultMaxRecords
	}

	dec := yaml.NewDecoder(r)
	var records []Record
	for doc := 1; len(records) < maxRecords; doc++ {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}

		rec, ok, err := recordFromNode(&node)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		if ok {
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return nil, ErrNoEvidence
	}
	return records, nil
}

func recordFromNode(node *yaml.Node) (Record, bool, error) {
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return Record{}, false, nil
		}
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return Record{}, false, nil
	}
	if node.Kind != yaml.MappingNode {
		return Record{}, false, fmt.Errorf("line %d: expected a mapping", node.Line)
	}

	pairs := make([]Pair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return Record{}, false, fmt.Errorf("line %d: value of %q is not a scalar", v.Line, k.Value)
		}
		pairs = append(pairs, Pair{Key: k.Value, Value: v.Value})
	}
	return NewRecord(pairs...), true, nil
}

func (s *Source) Size() int {
	return len(s.records)
}

// Get returns the record at i modulo Size, so callers may index past the
// end and cycle through the records. It panics on an empty source.
func (s *Source) Get(i int) Record {
	n := len(s.records)
	i %= n
	if i < 0 {
		i += n
	}
	return s.records[i]
}

// ResolvePath finds an input file. An empty name selects fallback.
// Absolute paths must exist as given. Relative paths are tried against the
// working directory and then against each of its parents, so the tool can
// be started from anywhere inside a project tree.
func ResolvePath(name, fallback string) (string, error) {
	if name == "" {
		name = fallback
	}

	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", &SetupError{Path: name, Err: err}
		}
		return name, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", &SetupError{Path: name, Err: err}
	}
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", &SetupError{Path: name, Err: os.ErrNotExist}
}
