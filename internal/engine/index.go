package engine

import (
	"fmt"
	"net/netip"
	"sort"
)

type entry struct {
	prefix  netip.Prefix
	start   netip.Addr
	end     netip.Addr
	name    string
	owner   string
	country string
}

func lastAddr(p netip.Prefix) netip.Addr {
	p = p.Masked()
	if p.Addr().Is4() {
		b := p.Addr().As4()
		for i := p.Bits(); i < 32; i++ {
			b[i/8] |= 1 << (7 - uint(i%8))
		}
		return netip.AddrFrom4(b)
	}
	b := p.Addr().As16()
	for i := p.Bits(); i < 128; i++ {
		b[i/8] |= 1 << (7 - uint(i%8))
	}
	return netip.AddrFrom16(b)
}

// buildEntries parses the data file ranges. Later duplicates of a network
// are dropped.
func buildEntries(records []rangeRecord) ([]entry, error) {
	seen := make(map[netip.Prefix]struct{}, len(records))
	entries := make([]entry, 0, len(records))
	for i, r := range records {
		p, err := netip.ParsePrefix(r.Network)
		if err != nil {
			return nil, fmt.Errorf("range %d: %w", i, err)
		}
		if p.Addr().Is4In6() {
			if p.Bits() < 96 {
				return nil, fmt.Errorf("range %d: %s spans beyond the IPv4-mapped block", i, r.Network)
			}
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		p = p.Masked()
		if !p.IsValid() {
			return nil, fmt.Errorf("range %d: invalid network %q", i, r.Network)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		entries = append(entries, entry{
			prefix:  p,
			start:   p.Addr(),
			end:     lastAddr(p),
			name:    r.RegisteredName,
			owner:   r.RegisteredOwner,
			country: r.RegisteredCountry,
		})
	}
	return entries, nil
}

// performanceGraph is a table of ranges sorted by start address. CIDR
// ranges either nest or are disjoint, so each entry records its nearest
// enclosing entry and a lookup climbs that chain from the closest start.
type performanceGraph struct {
	entries []entry
	parent  []int
}

func newPerformanceGraph(entries []entry) *performanceGraph {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].start.Compare(sorted[j].start); c != 0 {
			return c < 0
		}
		return sorted[i].prefix.Bits() < sorted[j].prefix.Bits()
	})

	parent := make([]int, len(sorted))
	var stack []int
	for i, e := range sorted {
		for len(stack) > 0 && sorted[stack[len(stack)-1]].end.Compare(e.start) < 0 {
			stack = stack[:len(stack)-1]
		}
		parent[i] = -1
		if len(stack) > 0 {
			parent[i] = stack[len(stack)-1]
		}
		stack = append(stack, i)
	}
	return &performanceGraph{entries: sorted, parent: parent}
}

func (g *performanceGraph) lookup(addr netip.Addr) (*entry, bool) {
	i := sort.Search(len(g.entries), func(i int) bool {
		return g.entries[i].start.Compare(addr) > 0
	}) - 1
	for i >= 0 {
		e := &g.entries[i]
		if e.end.Compare(addr) >= 0 && e.start.Compare(addr) <= 0 {
			return e, true
		}
		i = g.parent[i]
	}
	return nil, false
}

// predictiveGraph matches the longest prefix by probing one map per prefix
// length, most specific first.
type predictiveGraph struct {
	v4, v6   []int
	byPrefix map[netip.Prefix]*entry
}

func newPredictiveGraph(entries []entry) *predictiveGraph {
	g := &predictiveGraph{byPrefix: make(map[netip.Prefix]*entry, len(entries))}
	lens4 := map[int]bool{}
	lens6 := map[int]bool{}
	for i := range entries {
		e := &entries[i]
		g.byPrefix[e.prefix] = e
		if e.prefix.Addr().Is4() {
			lens4[e.prefix.Bits()] = true
		} else {
			lens6[e.prefix.Bits()] = true
		}
	}
	g.v4 = sortedDesc(lens4)
	g.v6 = sortedDesc(lens6)
	return g
}

func sortedDesc(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func (g *predictiveGraph) lookup(addr netip.Addr) (*entry, bool) {
	lens := g.v6
	if addr.Is4() {
		lens = g.v4
	}
	for _, bits := range lens {
		p, err := addr.Prefix(bits)
		if err != nil {
			continue
		}
		if e, ok := g.byPrefix[p]; ok {
			return e, true
		}
	}
	return nil, false
}
