package pathfinder

// Edge dominance over a CFG. Edges are lifted into the graph as nodes
// between their endpoints, so the classic iterative
// idom-over-postorder algorithm answers both block and edge queries.

// Dominance answers edge dominance and post-dominance queries for one
// CFG.
type Dominance struct {
	cfg    *CFG
	nodeOf map[*Edge]int
	idom   []int // forward, rooted at entry
	ipdom  []int // reverse, rooted at exit
}

// NewDominance computes dominator and post-dominator trees for cfg.
func NewDominance(cfg *CFG) *Dominance {
	nb := len(cfg.blocks)
	nodeOf := make(map[*Edge]int)
	n := nb
	for _, b := range cfg.blocks {
		for _, e := range b.outs {
			nodeOf[e] = n
			n++
		}
	}

	succs := make([][]int, n)
	preds := make([][]int, n)
	for _, b := range cfg.blocks {
		for _, e := range b.outs {
			en := nodeOf[e]
			succs[b.index] = append(succs[b.index], en)
			succs[en] = append(succs[en], e.target.index)
			preds[en] = append(preds[en], b.index)
			preds[e.target.index] = append(preds[e.target.index], en)
		}
	}

	d := &Dominance{
		cfg:    cfg,
		nodeOf: nodeOf,
		idom:   computeIdom(n, succs, cfg.entry.index),
	}
	if cfg.exit != nil {
		d.ipdom = computeIdom(n, preds, cfg.exit.index)
	}
	return d
}

// Dom returns true if e1 dominates e2: every path from the entry to e2
// passes through e1.
func (d *Dominance) Dom(e1, e2 *Edge) bool {
	return d.ancestor(d.idom, e1, e2)
}

// PostDom returns true if e1 post-dominates e2: every path from e2 to
// the exit passes through e1.
func (d *Dominance) PostDom(e1, e2 *Edge) bool {
	if d.ipdom == nil {
		return false
	}
	return d.ancestor(d.ipdom, e1, e2)
}

func (d *Dominance) ancestor(idom []int, e1, e2 *Edge) bool {
	a, ok1 := d.nodeOf[e1]
	b, ok2 := d.nodeOf[e2]
	if !ok1 || !ok2 {
		return false
	}
	for b != -1 {
		if b == a {
			return true
		}
		next := idom[b]
		if next == b {
			return false
		}
		b = next
	}
	return false
}

// computeIdom returns the immediate dominator of every node of the
// graph rooted at root, by the iterative algorithm over reverse
// postorder. Unreachable nodes get -1; the root maps to itself.
func computeIdom(n int, succs [][]int, root int) []int {
	// Postorder numbering by iterative DFS.
	ponum := make([]int, n)
	for i := range ponum {
		ponum[i] = -1
	}
	order := make([]int, 0, n)
	type frame struct {
		node, next int
	}
	seen := make([]bool, n)
	stack := []frame{{node: root}}
	seen[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(succs[top.node]) {
			s := succs[top.node][top.next]
			top.next++
			if !seen[s] {
				seen[s] = true
				stack = append(stack, frame{node: s})
			}
			continue
		}
		ponum[top.node] = len(order)
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}

	preds := make([][]int, n)
	for u, ss := range succs {
		for _, v := range ss {
			preds[v] = append(preds[v], u)
		}
	}

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[root] = root

	intersect := func(b, c int) int {
		for b != c {
			for ponum[b] < ponum[c] {
				b = idom[b]
			}
			for ponum[c] < ponum[b] {
				c = idom[c]
			}
		}
		return b
	}

	changed := true
	for changed {
		changed = false
		// Reverse postorder, root excluded.
		for i := len(order) - 2; i >= 0; i-- {
			b := order[i]
			newIdom := -1
			for _, p := range preds[b] {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	return idom
}
