package engine

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/user/ipibench/internal/evidence"
)

// cacheSizes holds per-goroutine result cache sizes. Profiles without an
// entry run uncached.
var cacheSizes = map[Profile]int{
	MaxPerformance:  50000,
	HighPerformance: 20000,
	Balanced:        5000,
	BalancedTemp:    5000,
}

// evidenceKeys lists where an address is looked for, in order.
var evidenceKeys = []string{
	evidence.KeyQueryClientIP,
	evidence.KeyServerClientIP,
	evidence.KeyHeaderForwarded,
}

// Reference is an in-process engine backed by a YAML table of CIDR ranges.
type Reference struct {
	info       DataFileInfo
	entries    []entry
	perf       *performanceGraph
	pred       *predictiveGraph
	cache      *lru.Cache[netip.Addr, *entry]
	properties map[string]bool

	results sync.Pool
	open    atomic.Int64
	closed  atomic.Bool
}

// Open loads the reference engine. It satisfies Loader.
func Open(dataFile string, opts Options) (Engine, error) {
	return OpenReference(dataFile, opts)
}

func OpenReference(dataFile string, opts Options) (*Reference, error) {
	if !opts.PerformanceGraph && !opts.PredictiveGraph {
		return nil, &EngineLoadError{Path: dataFile, Err: errors.New("at least one graph must be enabled")}
	}
	if opts.Profile == "" {
		opts.Profile = Balanced
	}
	if _, err := ParseProfile(string(opts.Profile)); err != nil {
		return nil, &EngineLoadError{Path: dataFile, Err: err}
	}

	props, err := selectProperties(opts.Properties)
	if err != nil {
		return nil, &EngineLoadError{Path: dataFile, Err: err}
	}

	df, err := readDataFile(dataFile)
	if err != nil {
		return nil, &EngineLoadError{Path: dataFile, Err: err}
	}
	entries, err := buildEntries(df.Ranges)
	if err != nil {
		return nil, &EngineLoadError{Path: dataFile, Err: err}
	}

	r := &Reference{
		info: DataFileInfo{
			Path:      dataFile,
			Tier:      df.Tier,
			Published: df.Published,
			Ranges:    len(entries),
		},
		entries:    entries,
		properties: props,
	}
	r.results.New = func() any { return new(result) }

	if opts.PerformanceGraph {
		r.perf = newPerformanceGraph(entries)
	}
	if opts.PredictiveGraph {
		r.pred = newPredictiveGraph(r.entries)
	}

	if size := cacheSizes[opts.Profile]; size > 0 {
		if opts.Concurrency > 1 {
			size *= opts.Concurrency
		}
		cache, err := lru.New[netip.Addr, *entry](size)
		if err != nil {
			return nil, &EngineLoadError{Path: dataFile, Err: err}
		}
		r.cache = cache
	}

	return r, nil
}

func selectProperties(names []string) (map[string]bool, error) {
	if len(names) == 0 {
		names = AllProperties
	}
	selected := make(map[string]bool, len(names))
	for _, name := range names {
		found := false
		for _, known := range AllProperties {
			if strings.EqualFold(name, known) {
				selected[known] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown property: %s", name)
		}
	}
	return selected, nil
}

func (r *Reference) Info() DataFileInfo {
	return r.info
}

// OpenSessions reports how many sessions have not been closed yet.
func (r *Reference) OpenSessions() int64 {
	return r.open.Load()
}

func (r *Reference) Close() error {
	r.closed.Store(true)
	if r.cache != nil {
		r.cache.Purge()
	}
	return nil
}

func (r *Reference) NewSession() (Session, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	r.open.Add(1)
	return &session{eng: r, res: r.results.Get().(*result)}, nil
}

func (r *Reference) lookup(addr netip.Addr) (*entry, bool) {
	if r.cache != nil {
		if e, ok := r.cache.Get(addr); ok {
			return e, e != nil
		}
	}

	var (
		e     *entry
		found bool
	)
	if r.perf != nil {
		e, found = r.perf.lookup(addr)
	}
	if !found && r.pred != nil {
		e, found = r.pred.lookup(addr)
	}

	if r.cache != nil {
		r.cache.Add(addr, e)
	}
	return e, found
}

type result struct {
	rec       evidence.Record
	submitted bool
	processed bool
	match     *entry
}

func (res *result) reset() {
	*res = result{}
}

type session struct {
	eng *Reference
	res *result
}

func (s *session) Submit(rec evidence.Record) error {
	if s.res == nil {
		return ErrClosed
	}
	s.res.rec = rec
	s.res.submitted = true
	s.res.processed = false
	s.res.match = nil
	return nil
}

func (s *session) Process() error {
	if s.res == nil {
		return &DetectionError{Err: ErrClosed}
	}
	if s.eng.closed.Load() {
		return &DetectionError{Err: ErrClosed}
	}
	if !s.res.submitted {
		return &DetectionError{Err: errors.New("no evidence submitted")}
	}

	addr, err := clientAddr(s.res.rec)
	if err != nil {
		return &DetectionError{Err: err}
	}

	e, ok := s.eng.lookup(addr)
	if ok {
		s.res.match = e
	}
	s.res.processed = true
	return nil
}

func clientAddr(rec evidence.Record) (netip.Addr, error) {
	for _, key := range evidenceKeys {
		v, ok := rec.Get(key)
		if !ok {
			continue
		}
		if key == evidence.KeyHeaderForwarded {
			v, _, _ = strings.Cut(v, ",")
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%s: %w", key, err)
		}
		return addr.Unmap(), nil
	}
	return netip.Addr{}, ErrNoAddress
}

func (s *session) Property(name string) (string, bool) {
	if s.res == nil || !s.res.processed || s.res.match == nil {
		return "", false
	}
	if !s.eng.properties[name] {
		return "", false
	}

	e := s.res.match
	var v string
	switch name {
	case PropRegisteredName:
		v = e.name
	case PropRegisteredOwner:
		v = e.owner
	case PropRegisteredCountry:
		v = e.country
	case PropIPRangeStart:
		v = e.start.String()
	case PropIPRangeEnd:
		v = e.end.String()
	}
	return v, v != ""
}

func (s *session) Close() error {
	if s.res == nil {
		return nil
	}
	s.res.reset()
	s.eng.results.Put(s.res)
	s.res = nil
	s.eng.open.Add(-1)
	return nil
}
