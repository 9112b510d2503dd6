package pathfinder

import (
	"fmt"
	"sort"
	"strings"
)

// CondOp is a predicate comparison operator.
type CondOp uint8

const (
	CondLT CondOp = iota // <
	CondLE               // <=
	CondEQ               // =
	CondNE               // !=
)

func (op CondOp) String() string {
	switch op {
	case CondLT:
		return "<"
	case CondLE:
		return "<="
	case CondEQ:
		return "="
	case CondNE:
		return "!="
	default:
		return fmt.Sprintf("CondOp<%d>", uint8(op))
	}
}

// Predicate is a comparison between two terms.
type Predicate struct {
	Op  CondOp
	LHS Term
	RHS Term
}

// NewPredicate returns the predicate lhs op rhs. Trivially true
// identities (x = x) are discarded: ok is false and the predicate must
// not be recorded.
func NewPredicate(op CondOp, lhs, rhs Term) (Predicate, bool) {
	if op == CondEQ && lhs == rhs {
		return Predicate{}, false
	}
	return Predicate{Op: op, LHS: lhs, RHS: rhs}, true
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %s", p.LHS, p.Op, p.RHS)
}

// IsIdent returns true for a trivially true x = x predicate.
func (p Predicate) IsIdent() bool { return p.Op == CondEQ && p.LHS == p.RHS }

// IsComplete returns true if the predicate can be handed to the solver:
// no opaque unknowns and no raw comparison values on either side.
func (p Predicate) IsComplete() bool {
	return !termHasTop(p.LHS) && !termHasTop(p.RHS) &&
		!termHasCmp(p.LHS) && !termHasCmp(p.RHS)
}

// InvolvesVar returns the number of occurrences of variable id.
func (p Predicate) InvolvesVar(id int32) int {
	return termCountVar(p.LHS, id) + termCountVar(p.RHS, id)
}

// InvolvesMem returns true if the predicate reads the cell at addr.
func (p Predicate) InvolvesMem(addr Constant) bool {
	return termInvolvesMem(p.LHS, addr) || termInvolvesMem(p.RHS, addr)
}

// InvolvesAnyMem returns true if the predicate reads any memory cell.
func (p Predicate) InvolvesAnyMem() bool {
	return termInvolvesAnyMem(p.LHS) || termInvolvesAnyMem(p.RHS)
}

// CountTemps returns the number of temporary occurrences.
func (p Predicate) CountTemps() int {
	return termCountTemps(p.LHS) + termCountTemps(p.RHS)
}

// IsolatedTemp reports a temporary t solvable as t = expr from this
// predicate: the predicate is an equality with the temporary alone on
// one side and no temporary on the other.
func (p Predicate) IsolatedTemp() (id int32, expr Term, ok bool) {
	if p.Op != CondEQ {
		return 0, nil, false
	}
	if v, isVar := p.LHS.(*VarTerm); isVar && v.IsTemp() && termCountTemps(p.RHS) == 0 {
		return v.ID, p.RHS, true
	}
	if v, isVar := p.RHS.(*VarTerm); isVar && v.IsTemp() && termCountTemps(p.LHS) == 0 {
		return v.ID, p.LHS, true
	}
	return 0, nil, false
}

// Subst returns the predicate with leaf terms substituted per m, and
// false if the result became a trivial identity.
func (p Predicate) Subst(d *DAG, m map[Term]Term) (Predicate, bool) {
	return NewPredicate(p.Op, d.Subst(p.LHS, m), d.Subst(p.RHS, m))
}

// EdgeSet is an unordered set of CFG edges labelling a predicate with
// the control decisions that made it true.
type EdgeSet map[*Edge]struct{}

// NewEdgeSet returns a set holding the given edges.
func NewEdgeSet(edges ...*Edge) EdgeSet {
	s := make(EdgeSet, len(edges))
	for _, e := range edges {
		s[e] = struct{}{}
	}
	return s
}

// Contains returns true if e is in the set.
func (s EdgeSet) Contains(e *Edge) bool {
	_, ok := s[e]
	return ok
}

// Clone returns a copy of the set.
func (s EdgeSet) Clone() EdgeSet {
	c := make(EdgeSet, len(s))
	for e := range s {
		c[e] = struct{}{}
	}
	return c
}

// Union returns a new set holding the edges of s and o.
func (s EdgeSet) Union(o EdgeSet) EdgeSet {
	c := s.Clone()
	for e := range o {
		c[e] = struct{}{}
	}
	return c
}

// Equal returns true if both sets hold the same edges.
func (s EdgeSet) Equal(o EdgeSet) bool {
	if len(s) != len(o) {
		return false
	}
	for e := range s {
		if !o.Contains(e) {
			return false
		}
	}
	return true
}

// Edges returns the edges sorted by block indices, for deterministic
// output.
func (s EdgeSet) Edges() []*Edge {
	a := make([]*Edge, 0, len(s))
	for e := range s {
		a = append(a, e)
	}
	sort.Slice(a, func(i, j int) bool {
		if a[i].Source().Index() != a[j].Source().Index() {
			return a[i].Source().Index() < a[j].Source().Index()
		}
		return a[i].Target().Index() < a[j].Target().Index()
	})
	return a
}

func (s EdgeSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range s.Edges() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.String())
	}
	b.WriteByte('}')
	return b.String()
}

// LabelledPredicate is a predicate tagged with the set of edges that
// justify it.
type LabelledPredicate struct {
	Pred   Predicate
	Labels EdgeSet
}

func (lp LabelledPredicate) String() string {
	return fmt.Sprintf("%s %s", lp.Pred, lp.Labels)
}

// labelPreds returns the list with e added to every label set.
func labelPreds(preds []LabelledPredicate, e *Edge) []LabelledPredicate {
	out := make([]LabelledPredicate, len(preds))
	for i, lp := range preds {
		labels := lp.Labels.Clone()
		labels[e] = struct{}{}
		out[i] = LabelledPredicate{Pred: lp.Pred, Labels: labels}
	}
	return out
}
