package pathfinder

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// constComparer orders memory-store keys. Implements
// immutable.Comparer.
type constComparer struct{}

func (constComparer) Compare(a, b Constant) int { return a.Compare(b) }

// State is the abstract state of one set of paths at one point of the
// program: symbolic values for every register and temporary, the known
// memory cells, the predicates collected so far, and the detailed path
// that led here.
type State struct {
	dag *DAG
	ctx *Context

	lvars LocalVariables
	mem   *immutable.SortedMap[Constant, Term]

	labelledPreds       []LabelledPredicate // carried from previous blocks
	generatedPreds      []LabelledPredicate // current block, fall-through branch
	generatedPredsTaken []LabelledPredicate // current block, taken branch
	forked              bool                // the current block ended on a live conditional

	path      DetailedPath
	bottom    bool
	spIsLocal bool
	valid     bool
}

// newTopState returns the unconstrained state at the entry of cfg.
func newTopState(d *DAG, ctx *Context, cfg *CFG) *State {
	lvars := NewLocalVariables(d, ctx.MaxRegisters, ctx.MaxTempVars)
	lvars.Set(int32(ctx.SP), d.SPRel(0))
	lvars.ClearUpdated()
	return &State{
		dag:       d,
		ctx:       ctx,
		lvars:     lvars,
		mem:       immutable.NewSortedMap[Constant, Term](constComparer{}),
		path:      NewDetailedPath(cfg),
		spIsLocal: true,
		valid:     true,
	}
}

// newBottomState returns the absorbing bottom state.
func newBottomState() *State { return &State{bottom: true} }

// IsBottom returns true for the absorbing bottom state.
func (s *State) IsBottom() bool { return s.bottom }

// IsValid returns false for zero or bottom states.
func (s *State) IsValid() bool { return s.valid }

// SPIsLocal returns true while SP still equals its entry value.
func (s *State) SPIsLocal() bool { return s.spIsLocal }

// Path returns the detailed path of the state.
func (s *State) Path() DetailedPath { return s.path }

// LastEdge returns the last edge traversed by the state's path.
func (s *State) LastEdge() *Edge { return s.path.LastEdge() }

// LocalVariables exposes the current variable mapping.
func (s *State) LocalVariables() *LocalVariables { return &s.lvars }

// Clone returns a deep copy; memory is shared structurally through the
// immutable map, terms through the DAG.
func (s *State) Clone() *State {
	c := *s
	c.lvars = s.lvars.Clone()
	c.labelledPreds = append([]LabelledPredicate(nil), s.labelledPreds...)
	c.generatedPreds = append([]LabelledPredicate(nil), s.generatedPreds...)
	c.generatedPredsTaken = append([]LabelledPredicate(nil), s.generatedPredsTaken...)
	c.path = s.path.Clone()
	return &c
}

// Preds returns the predicates of the state: block-local ones first,
// then the carried labelled set.
func (s *State) Preds() []LabelledPredicate {
	out := make([]LabelledPredicate, 0, len(s.generatedPreds)+len(s.labelledPreds))
	out = append(out, s.generatedPreds...)
	out = append(out, s.labelledPreds...)
	return out
}

// CompletePreds returns the predicates the solver can consume.
func (s *State) CompletePreds() []LabelledPredicate {
	var out []LabelledPredicate
	for _, lp := range s.Preds() {
		if lp.Pred.IsComplete() {
			out = append(out, lp)
		}
	}
	return out
}

// AppendEdge commits the block-local predicates to the labelled set
// under the label e and extends the path. The taken-branch buffer is
// selected when e is the taken branch of a conditional.
func (s *State) AppendEdge(e *Edge) {
	preds := s.generatedPreds
	if e.IsTaken() && s.forked {
		preds = s.generatedPredsTaken
	}
	s.labelledPreds = append(s.labelledPreds, labelPreds(preds, e)...)
	s.generatedPreds = nil
	s.generatedPredsTaken = nil
	s.forked = false
	s.path.AddEdge(e)
}

// Path markers.

func (s *State) OnLoopEntry(h *Block) { s.path.OnLoopEntry(h) }
func (s *State) OnLoopExit(h *Block)  { s.path.OnLoopExit(h) }
func (s *State) OnCall(sb *Block)     { s.path.OnCall(sb) }
func (s *State) OnReturn(sb *Block)   { s.path.OnReturn(sb) }

// InitializeWithDFA seeds the memory store with the cells known from
// the initial data-flow state.
func (s *State) InitializeWithDFA() {
	s.ctx.DFA.Cells(func(addr Constant, v int32) {
		s.mem = s.mem.Set(addr, s.dag.Const(v))
	})
}

// InvalidateStackBelow drops every memory cell whose SP-relative
// address lies below limit. Called when a function returns and its
// frame dies.
func (s *State) InvalidateStackBelow(limit int32) {
	itr := s.mem.Iterator()
	var drop []Constant
	for !itr.Done() {
		addr, _, _ := itr.Next()
		if addr.Tag == SPPos && addr.Val < limit {
			drop = append(drop, addr)
		}
	}
	for _, addr := range drop {
		s.mem = s.mem.Delete(addr)
	}
}

// scratchAllMemory empties the memory store.
func (s *State) scratchAllMemory() {
	s.mem = immutable.NewSortedMap[Constant, Term](constComparer{})
}

// predsEqualMultiset compares two labelled predicate lists ignoring
// order and labels.
func predsEqualMultiset(a, b []LabelledPredicate) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, pa := range a {
		found := false
		for j, pb := range b {
			if !used[j] && pa.Pred == pb.Pred {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// equivTerm compares two slot values for fixpoint detection: canonical
// identity, except that two opaque unknowns count as equal (each join
// allocates fresh ones, and "unknown" has converged).
func equivTerm(a, b Term) bool {
	if a == b {
		return true
	}
	_, at := a.(*TopTerm)
	_, bt := b.(*TopTerm)
	return at && bt
}

// Equiv returns true if both states bind every variable and memory
// cell to the same canonical term (unknowns equal up to renaming) and
// carry the same predicate set. Used to detect the FIX→ACCEL
// transition.
func (s *State) Equiv(o *State) bool {
	if s.bottom != o.bottom {
		return false
	}
	if s.bottom {
		return true
	}
	if len(s.lvars.terms) != len(o.lvars.terms) {
		return false
	}
	for i := range s.lvars.terms {
		a, b := s.lvars.terms[i], o.lvars.terms[i]
		if a == nil || b == nil {
			if a != b {
				return false
			}
			continue
		}
		if !equivTerm(a, b) {
			return false
		}
	}
	if s.mem.Len() != o.mem.Len() {
		return false
	}
	itr := s.mem.Iterator()
	for !itr.Done() {
		addr, t, _ := itr.Next()
		ot, ok := o.mem.Get(addr)
		if !ok || !equivTerm(t, ot) {
			return false
		}
	}
	return predsEqualMultiset(s.labelledPreds, o.labelledPreds)
}

// MergeStates joins the given states into one at block b: variables
// agreeing in all inputs survive, the rest become fresh unknowns;
// memory keeps the cells present and equal everywhere; the labelled
// predicate sets intersect, with labels unioned. The path restarts at
// b.
func MergeStates(states []*State, b *Block, vm *VarMaker) *State {
	assert(len(states) > 0, "merge of no states")
	base := states[0].Clone()
	base.path = NewDetailedPath(b.CFG())
	base.generatedPreds = nil
	base.generatedPredsTaken = nil
	base.forked = false

	if len(states) == 1 {
		return base
	}

	// Variables: common term or fresh top.
	for i := range base.lvars.terms {
		t := base.lvars.terms[i]
		for _, o := range states[1:] {
			if o.lvars.terms[i] != t {
				if t != nil {
					base.lvars.terms[i] = vm.New()
				}
				break
			}
		}
	}

	// Memory: intersection of identical cells.
	itr := states[0].mem.Iterator()
	for !itr.Done() {
		addr, t, _ := itr.Next()
		for _, o := range states[1:] {
			if ot, ok := o.mem.Get(addr); !ok || ot != t {
				base.mem = base.mem.Delete(addr)
				break
			}
		}
	}

	// Predicates: multiset intersection, labels unioned across inputs.
	var kept []LabelledPredicate
	for _, lp := range states[0].labelledPreds {
		labels := lp.Labels.Clone()
		in := true
		for _, o := range states[1:] {
			found := false
			for _, olp := range o.labelledPreds {
				if olp.Pred == lp.Pred {
					labels = labels.Union(olp.Labels)
					found = true
					break
				}
			}
			if !found {
				in = false
				break
			}
		}
		if in {
			kept = append(kept, LabelledPredicate{Pred: lp.Pred, Labels: labels})
		}
	}
	base.labelledPreds = kept

	for _, o := range states[1:] {
		if !o.spIsLocal {
			base.spIsLocal = false
		}
	}
	return base
}

// Widen accelerates the state at a loop header: every variable slot
// that changed between the first-arrival state s0 and this candidate is
// replaced by the loop iterator operand, memory cells that changed are
// dropped, and only the predicates already present at first arrival
// survive (the loop invariants).
func (s *State) Widen(s0 *State, iter *IterTerm) {
	for i := range s.lvars.terms {
		if s.lvars.terms[i] != s0.lvars.terms[i] && s.lvars.terms[i] != nil {
			s.lvars.terms[i] = iter
		}
	}

	itr := s.mem.Iterator()
	var drop []Constant
	for !itr.Done() {
		addr, t, _ := itr.Next()
		if ot, ok := s0.mem.Get(addr); !ok || ot != t {
			drop = append(drop, addr)
		}
	}
	for _, addr := range drop {
		s.mem = s.mem.Delete(addr)
	}

	var kept []LabelledPredicate
	for _, lp := range s.labelledPreds {
		for _, olp := range s0.labelledPreds {
			if olp.Pred == lp.Pred {
				kept = append(kept, lp)
				break
			}
		}
	}
	s.labelledPreds = kept
}

// compositor substitutes caller-side terms for every caller-visible
// symbol of a callee summary: entry registers become the caller's
// current values, SP-relative constants are rebased on the caller's SP,
// memory cells read the caller's store, and imported tops are
// renumbered.
type compositor struct {
	dag    *DAG
	sp     Term // caller's SP value at the call site
	lvars  LocalVariables
	mem    *immutable.SortedMap[Constant, Term]
	topMap map[Term]Term
}

func (c *compositor) VisitConst(t *ConstTerm) Term {
	switch t.Value.Tag {
	case SPPos:
		return c.dag.Add(c.sp, c.dag.Const(t.Value.Val))
	case SPNeg:
		return c.dag.Sub(c.dag.Const(t.Value.Val), c.sp)
	default:
		return t
	}
}

func (c *compositor) VisitVar(t *VarTerm) Term {
	if v := c.lvars.Get(t.ID); v != nil {
		return v
	}
	return t
}

func (c *compositor) VisitMem(t *MemTerm) Term {
	if v, ok := c.mem.Get(t.Addr); ok {
		return v
	}
	return t
}

func (c *compositor) VisitTop(t *TopTerm) Term {
	if v, ok := c.topMap[t]; ok {
		return v
	}
	return t
}

func (c *compositor) VisitIter(t *IterTerm) Term {
	assert(false, "iterator operand %s escaped into a callee summary", t)
	return t
}

func (c *compositor) VisitArith(t *ArithTerm, rebuilt Term) Term { return rebuilt }

// Apply composes a callee summary into the receiver at a call site:
// lvars, memory and predicates of the callee are substituted into the
// caller's frame of reference and folded in. topMap renumbers the
// callee's opaque unknowns (from VarMaker.Import).
func (s *State) Apply(callee *State, topMap map[Term]Term) {
	snapshot := s.lvars.Clone()
	spVal := snapshot.Get(int32(s.ctx.SP))
	if spVal == nil {
		spVal = s.dag.SPRel(0)
	}
	comp := &compositor{dag: s.dag, sp: spVal, lvars: snapshot, mem: s.mem, topMap: topMap}

	// Registers: unchanged callee slots keep the caller's value.
	for i := 0; i < callee.lvars.NumRegisters(); i++ {
		id := int32(i)
		ct := callee.lvars.Get(id)
		if ct == nil || ct == s.dag.Var(id) {
			continue
		}
		s.lvars.Set(id, s.dag.Rewrite(ct, comp))
	}

	// Memory: rebase SP-relative cells on the caller's SP offset.
	spOff, spKnown := int32(0), false
	if c, ok := spVal.(*ConstTerm); ok && c.Value.Tag == SPPos {
		spOff, spKnown = c.Value.Val, true
	}
	itr := callee.mem.Iterator()
	for !itr.Done() {
		addr, t, _ := itr.Next()
		target := addr
		if addr.Tag != Abs {
			if addr.Tag != SPPos || !spKnown {
				continue // cannot place the cell in the caller's frame
			}
			target = SPRel(addr.Val + spOff)
		}
		s.mem = s.mem.Set(target, s.dag.Rewrite(t, comp))
	}

	// Predicates: substituted and concatenated.
	for _, lp := range callee.Preds() {
		lhs := s.dag.Rewrite(lp.Pred.LHS, comp)
		rhs := s.dag.Rewrite(lp.Pred.RHS, comp)
		if p, ok := NewPredicate(lp.Pred.Op, lhs, rhs); ok {
			s.labelledPreds = append(s.labelledPreds, LabelledPredicate{Pred: p, Labels: lp.Labels.Clone()})
		}
	}

	s.spIsLocal = s.lvars.Get(int32(s.ctx.SP)) == s.dag.SPRel(0)
}

// resetSP rebinds SP to its entry value. Used on CFG summaries under
// the assume-identical-sp option.
func (s *State) resetSP() {
	s.lvars.Set(int32(s.ctx.SP), s.dag.SPRel(0))
	s.spIsLocal = true
}

// usedTops collects every opaque unknown still referenced by the state.
func (s *State) usedTops(set map[*TopTerm]struct{}) {
	for _, t := range s.lvars.terms {
		if t != nil {
			termTops(t, set)
		}
	}
	itr := s.mem.Iterator()
	for !itr.Done() {
		_, t, _ := itr.Next()
		termTops(t, set)
	}
	for _, lp := range s.Preds() {
		termTops(lp.Pred.LHS, set)
		termTops(lp.Pred.RHS, set)
	}
}

// Dump returns the full contents of the state as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "STATE path=[%s] bottom=%v spIsLocal=%v\n", s.path, s.bottom, s.spIsLocal)
	fmt.Fprintln(&buf, "== VARIABLES")
	s.lvars.eachRegister(func(id int32, t Term) {
		if t != nil && t != s.dag.Var(id) {
			fmt.Fprintf(&buf, "r%d = %s\n", id, t)
		}
	})
	fmt.Fprintln(&buf, "== MEMORY")
	itr := s.mem.Iterator()
	for !itr.Done() {
		addr, t, _ := itr.Next()
		fmt.Fprintf(&buf, "[%s] = %s\n", addr, t)
	}
	fmt.Fprintln(&buf, "== PREDICATES")
	for _, lp := range s.Preds() {
		fmt.Fprintf(&buf, "%s\n", lp)
	}
	return buf.String()
}

// States is the collection of states reaching one point of the
// program.
type States struct {
	s []*State
}

// NewStates returns a collection holding the given states.
func NewStates(states ...*State) *States {
	return &States{s: append([]*State(nil), states...)}
}

// Clone returns a deep copy of the collection.
func (ss *States) Clone() *States {
	out := make([]*State, len(ss.s))
	for i, s := range ss.s {
		out[i] = s.Clone()
	}
	return &States{s: out}
}

// Push appends a state.
func (ss *States) Push(s *State) { ss.s = append(ss.s, s) }

// Count returns the number of states.
func (ss *States) Count() int { return len(ss.s) }

// IsEmpty returns true if the collection holds no state.
func (ss *States) IsEmpty() bool { return len(ss.s) == 0 }

// All returns the underlying states.
func (ss *States) All() []*State { return ss.s }

// One returns the unique state of the collection, or bottom when it is
// empty. It is an error to call this with more than one state.
func (ss *States) One() *State {
	assert(len(ss.s) <= 1, "multiple states available")
	if len(ss.s) == 0 {
		return newBottomState()
	}
	return ss.s[0]
}

// OnCall appends a call marker to every state.
func (ss *States) OnCall(sb *Block) {
	for _, s := range ss.s {
		s.OnCall(sb)
	}
}

// OnReturn appends a return marker to every state.
func (ss *States) OnReturn(sb *Block) {
	for _, s := range ss.s {
		s.OnReturn(sb)
	}
}

// OnLoopEntry appends a loop-entry marker to every state.
func (ss *States) OnLoopEntry(h *Block) {
	for _, s := range ss.s {
		s.OnLoopEntry(h)
	}
}

// OnLoopExitEdge records, on every state, the exit of all loops left by
// taking e, innermost first.
func (ss *States) OnLoopExitEdge(e *Edge) {
	h := e.LoopExit()
	if h == nil {
		return
	}
	for _, s := range ss.s {
		for _, hh := range loopHeaders(e.Source()) {
			if hh == h {
				break
			}
			s.OnLoopExit(hh)
		}
		s.OnLoopExit(h)
	}
}
