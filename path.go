package pathfinder

import (
	"fmt"
	"strconv"
	"strings"
)

// flowKind discriminates detailed-path items.
type flowKind uint8

const (
	flowEdge flowKind = iota
	flowLoopEntry
	flowLoopExit
	flowCall
	flowReturn
)

// FlowItem is one step of a detailed path: a traversed edge or a
// structural marker (loop entry/exit, call/return).
type FlowItem struct {
	kind  flowKind
	edge  *Edge
	block *Block // loop header or synth call block
}

// IsEdge returns true if the item is a traversed edge.
func (it FlowItem) IsEdge() bool { return it.kind == flowEdge }

// Edge returns the traversed edge, or nil for markers.
func (it FlowItem) Edge() *Edge { return it.edge }

func (it FlowItem) String() string {
	switch it.kind {
	case flowEdge:
		return it.edge.String()
	case flowLoopEntry:
		return fmt.Sprintf("LEn#%d", it.block.Index())
	case flowLoopExit:
		return fmt.Sprintf("LEx#%d", it.block.Index())
	case flowCall:
		return fmt.Sprintf("C#%d", it.block.Index())
	case flowReturn:
		return fmt.Sprintf("R#%d", it.block.Index())
	default:
		panic("unreachable")
	}
}

// DetailedPath is an ordered sequence of edges and structural markers
// describing a concrete traversal of the CFG.
type DetailedPath struct {
	fn    *CFG
	items []FlowItem
}

// NewDetailedPath returns an empty path scoped to fn.
func NewDetailedPath(fn *CFG) DetailedPath {
	return DetailedPath{fn: fn}
}

// Clone returns an independent copy.
func (p DetailedPath) Clone() DetailedPath {
	c := p
	c.items = append([]FlowItem(nil), p.items...)
	return c
}

// AddLast appends an item.
func (p *DetailedPath) AddLast(it FlowItem) { p.items = append(p.items, it) }

// AddEdge appends a traversed edge.
func (p *DetailedPath) AddEdge(e *Edge) {
	p.AddLast(FlowItem{kind: flowEdge, edge: e})
}

// OnLoopEntry appends a loop-entry marker for header h.
func (p *DetailedPath) OnLoopEntry(h *Block) {
	p.AddLast(FlowItem{kind: flowLoopEntry, block: h})
}

// OnLoopExit appends a loop-exit marker for header h.
func (p *DetailedPath) OnLoopExit(h *Block) {
	p.AddLast(FlowItem{kind: flowLoopExit, block: h})
}

// OnCall appends a call marker for synth block sb.
func (p *DetailedPath) OnCall(sb *Block) {
	p.AddLast(FlowItem{kind: flowCall, block: sb})
}

// OnReturn appends a return marker for synth block sb.
func (p *DetailedPath) OnReturn(sb *Block) {
	p.AddLast(FlowItem{kind: flowReturn, block: sb})
}

// Items returns the item sequence.
func (p DetailedPath) Items() []FlowItem { return p.items }

// Remove deletes every occurrence of edge e.
func (p *DetailedPath) Remove(e *Edge) {
	out := p.items[:0]
	for _, it := range p.items {
		if it.kind == flowEdge && it.edge == e {
			continue
		}
		out = append(out, it)
	}
	p.items = out
}

// Contains returns true if the path traverses e.
func (p DetailedPath) Contains(e *Edge) bool {
	for _, it := range p.items {
		if it.kind == flowEdge && it.edge == e {
			return true
		}
	}
	return false
}

// ContainsAll returns true if the path traverses every edge of the set.
func (p DetailedPath) ContainsAll(s EdgeSet) bool {
	for e := range s {
		if !p.Contains(e) {
			return false
		}
	}
	return true
}

// Equal returns true when both item sequences are equal.
func (p DetailedPath) Equal(o DetailedPath) bool {
	if len(p.items) != len(o.items) {
		return false
	}
	for i := range p.items {
		if p.items[i] != o.items[i] {
			return false
		}
	}
	return true
}

// Function returns the CFG containing the first edge, falling back to
// the scope the path was created with.
func (p DetailedPath) Function() *CFG {
	if e := p.FirstEdge(); e != nil {
		return e.source.cfg
	}
	return p.fn
}

// FirstEdge returns the first traversed edge, or nil.
func (p DetailedPath) FirstEdge() *Edge {
	for _, it := range p.items {
		if it.kind == flowEdge {
			return it.edge
		}
	}
	return nil
}

// LastEdge returns the last traversed edge, or nil.
func (p DetailedPath) LastEdge() *Edge {
	for i := len(p.items) - 1; i >= 0; i-- {
		if p.items[i].kind == flowEdge {
			return p.items[i].edge
		}
	}
	return nil
}

// HasAnEdge returns true if the path traverses at least one edge.
func (p DetailedPath) HasAnEdge() bool { return p.FirstEdge() != nil }

// CountEdges returns the number of traversed edges.
func (p DetailedPath) CountEdges() int {
	n := 0
	for _, it := range p.items {
		if it.kind == flowEdge {
			n++
		}
	}
	return n
}

// Edges returns the traversed edges in order.
func (p DetailedPath) Edges() []*Edge {
	var a []*Edge
	for _, it := range p.items {
		if it.kind == flowEdge {
			a = append(a, it.edge)
		}
	}
	return a
}

// EdgeSet returns the traversed edges as an unordered set.
func (p DetailedPath) EdgeSet() EdgeSet {
	s := make(EdgeSet)
	for _, it := range p.items {
		if it.kind == flowEdge {
			s[it.edge] = struct{}{}
		}
	}
	return s
}

// Optimize folds call/return runs with no edge in between and collapses
// degenerate loop marker pairs, repeating until nothing changes.
func (p *DetailedPath) Optimize() {
	for {
		changed := false
		out := p.items[:0:0]
		i := 0
		for i < len(p.items) {
			it := p.items[i]
			if i+1 < len(p.items) {
				next := p.items[i+1]
				if it.kind == flowCall && next.kind == flowReturn && it.block == next.block {
					i += 2
					changed = true
					continue
				}
				if it.kind == flowLoopEntry && next.kind == flowLoopExit && it.block == next.block {
					i += 2
					changed = true
					continue
				}
				if it.kind == next.kind && it.kind != flowEdge && it.block == next.block &&
					(it.kind == flowLoopEntry || it.kind == flowLoopExit) {
					// merge duplicated adjacent loop markers
					i++
					changed = true
					continue
				}
			}
			out = append(out, it)
			i++
		}
		p.items = out
		if !changed {
			return
		}
	}
}

// RemoveCallsAtEnd drops call and return markers trailing at the end of
// the path.
func (p *DetailedPath) RemoveCallsAtEnd() {
	n := len(p.items)
	for n > 0 {
		k := p.items[n-1].kind
		if k != flowCall && k != flowReturn {
			break
		}
		n--
	}
	p.items = p.items[:n]
}

// String renders the path as comma-separated items, e.g.
// "0->1, LEn#2, 2->3, LEx#2, C#4, R#4".
func (p DetailedPath) String() string {
	if len(p.items) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for i, it := range p.items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(it.String())
	}
	return b.String()
}

// ParseDetailedPath parses the String representation of a detailed path
// against the blocks and edges of g.
func ParseDetailedPath(g *CFG, s string) (DetailedPath, error) {
	p := NewDetailedPath(g)
	if s == "(empty)" || strings.TrimSpace(s) == "" {
		return p, nil
	}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case strings.Contains(tok, "->"):
			parts := strings.SplitN(tok, "->", 2)
			src, err1 := strconv.Atoi(parts[0])
			dst, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return DetailedPath{}, fmt.Errorf("malformed edge %q", tok)
			}
			e := g.EdgeBetween(src, dst)
			if e == nil {
				return DetailedPath{}, fmt.Errorf("no edge %q in cfg %s", tok, g.name)
			}
			p.AddEdge(e)
		case strings.HasPrefix(tok, "LEn#"), strings.HasPrefix(tok, "LEx#"),
			strings.HasPrefix(tok, "C#"), strings.HasPrefix(tok, "R#"):
			idx := strings.IndexByte(tok, '#')
			n, err := strconv.Atoi(tok[idx+1:])
			if err != nil {
				return DetailedPath{}, fmt.Errorf("malformed marker %q", tok)
			}
			b := g.Block(n)
			if b == nil {
				return DetailedPath{}, fmt.Errorf("no block %d in cfg %s", n, g.name)
			}
			switch tok[:idx] {
			case "LEn":
				p.OnLoopEntry(b)
			case "LEx":
				p.OnLoopExit(b)
			case "C":
				p.OnCall(b)
			case "R":
				p.OnReturn(b)
			}
		default:
			return DetailedPath{}, fmt.Errorf("unrecognized path item %q", tok)
		}
	}
	return p, nil
}
