package pathfinder

import (
	"errors"
	"fmt"
)

// Context carries the inputs the upstream toolchain must provide:
// the initial data-flow state, the platform stack-pointer register and
// the register/temporary counts.
type Context struct {
	DFA          *InitialState
	SP           int // stack pointer register number
	MaxTempVars  int
	MaxRegisters int
}

// Options is the recognized configuration set of the analysis.
type Options struct {
	Merge             bool // cap the per-edge state count at MergeThreshold
	UnminimizedPaths  bool // fall back to the full path on minimization failure
	DryRun            bool // skip SMT calls entirely
	SMTCheckLinear    bool // assert one predicate at a time, for diagnostics
	ShowProgress      bool // report per-block progress through the logger
	VirtualizeCFG     bool // inlined-call CFGs; handled upstream, rejected here
	SliceCFG          bool // control-dependence slicing; handled upstream, rejected here
	ReduceLoops       bool // irregular-loop reduction; handled upstream, rejected here
	PostProcessing    bool // dominance pruning and deduplication of results
	AssumeIdenticalSP bool // reset SP on CFG summaries
	CleanTops         bool // minimize a CFG's VarMaker against its summary
	UseInitialData    bool // seed entry states from the DFA initial state

	Version        int // interpreter variant, 1-3; this driver implements 2
	MergeThreshold int // state cap per edge when Merge is set
	NbCores        int // parallel SMT checks when > 1

	Logger Logger
}

// IPStats counts reported infeasible paths.
type IPStats struct {
	ipCount            int
	unminimizedIPCount int
}

func (st *IPStats) onAnyInfeasiblePath()        { st.ipCount++ }
func (st *IPStats) onUnminimizedInfeasiblePath() { st.unminimizedIPCount++ }

// IPCount returns the number of infeasible paths detected, minimized or
// not.
func (st IPStats) IPCount() int { return st.ipCount }

// MinimizedIPCount returns the number of paths whose minimization
// passed the validity check and could be ordered along the state's path.
func (st IPStats) MinimizedIPCount() int { return st.ipCount - st.unminimizedIPCount }

// UnminimizedIPCount returns the number of paths whose minimization was
// rejected by a counter-example or named edges outside the state's path.
func (st IPStats) UnminimizedIPCount() int { return st.unminimizedIPCount }

// Add returns the sum of both counters.
func (st IPStats) Add(o IPStats) IPStats {
	return IPStats{ipCount: st.ipCount + o.ipCount, unminimizedIPCount: st.unminimizedIPCount + o.unminimizedIPCount}
}

// loopStatus is the fixpoint status of a loop header. Absence of an
// annotation means the loop has not been entered.
type loopStatus uint8

const (
	statusEnter loopStatus = iota
	statusFix
	statusAccel
	statusLeave
)

func (s loopStatus) String() string {
	switch s {
	case statusEnter:
		return "ENTER"
	case statusFix:
		return "FIX"
	case statusAccel:
		return "ACCEL"
	case statusLeave:
		return "LEAVE"
	default:
		return fmt.Sprintf("loopStatus<%d>", uint8(s))
	}
}

// Analysis performs the infeasible-path analysis over a CFG set. The
// per-edge and per-loop-header annotations live in driver-owned side
// tables keyed by block and edge identity; blocks never point at
// states.
type Analysis struct {
	ctx  Context
	opts Options
	log  Logger
	dag  *DAG

	newSolver func() Solver
	solver    Solver // serial-mode instance, lazily created

	vm         *VarMaker
	edgeStates map[*Edge]*States
	lhStatus   map[*Block]loopStatus
	lhState    map[*Block]*State
	lhS0       map[*Block]*State
	cfgStates  map[*CFG]*States
	cfgVars    map[*CFG]*VarMaker
	inProgress map[*CFG]bool
	dom        map[*CFG]*Dominance

	infeasiblePaths []DetailedPath
	stats           IPStats
}

// NewAnalysis returns an analysis over the given context. newSolver
// builds one solver adapter per consumer; it may be nil only with
// Options.DryRun.
func NewAnalysis(ctx Context, newSolver func() Solver, opts Options) (*Analysis, error) {
	if ctx.MaxRegisters <= 0 {
		return nil, errors.New("register count not provided")
	}
	if ctx.SP < 0 || ctx.SP >= ctx.MaxRegisters {
		return nil, ErrNoStackPointer
	}
	if newSolver == nil && !opts.DryRun {
		return nil, errors.New("no solver provided")
	}
	if opts.VirtualizeCFG {
		return nil, errors.New("virtualized CFGs are handled upstream, not by this driver")
	}
	if opts.SliceCFG {
		return nil, errors.New("CFG slicing is handled upstream, not by this driver")
	}
	if opts.ReduceLoops {
		return nil, errors.New("loop reduction is handled upstream, not by this driver")
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = 100
	}
	if opts.Version == 0 {
		opts.Version = 2
	}
	if opts.Version != 2 {
		return nil, fmt.Errorf("interpreter version %d not supported", opts.Version)
	}
	return &Analysis{
		ctx:        ctx,
		opts:       opts,
		log:        opts.Logger,
		dag:        NewDAG(),
		newSolver:  newSolver,
		edgeStates: make(map[*Edge]*States),
		lhStatus:   make(map[*Block]loopStatus),
		lhState:    make(map[*Block]*State),
		lhS0:       make(map[*Block]*State),
		cfgStates:  make(map[*CFG]*States),
		cfgVars:    make(map[*CFG]*VarMaker),
		inProgress: make(map[*CFG]bool),
		dom:        make(map[*CFG]*Dominance),
	}, nil
}

// DAG exposes the term DAG of the analysis.
func (a *Analysis) DAG() *DAG { return a.dag }

// Stats returns the infeasible-path counters of the last run.
func (a *Analysis) Stats() IPStats { return a.stats }

// InfeasiblePaths returns the result list of the last run.
func (a *Analysis) InfeasiblePaths() []DetailedPath { return a.infeasiblePaths }

// Run analyzes cfg and returns the infeasible paths found.
func (a *Analysis) Run(cfg *CFG) ([]DetailedPath, error) {
	a.infeasiblePaths = nil
	a.stats = IPStats{}
	defer func() {
		if a.solver != nil {
			a.solver.Close()
			a.solver = nil
		}
	}()

	if err := a.processCFG(cfg, a.opts.UseInitialData); err != nil {
		return nil, err
	}
	a.log.Debugf("reached end of program")
	a.postProcessResults()
	return a.infeasiblePaths, nil
}

// loopStatusOf returns the fixpoint status of loop header h.
func (a *Analysis) loopStatusOf(h *Block) loopStatus {
	assert(h.IsLoopHeader(), "loop status of non-header %s", h)
	return a.lhStatus[h]
}

// selectedPreds returns the effective incoming edges of b for the
// current fixpoint phase.
func (a *Analysis) selectedPreds(b *Block) []*Edge {
	if !b.IsLoopHeader() {
		return b.Ins()
	}
	back := a.loopStatusOf(b) != statusEnter
	var out []*Edge
	for _, e := range b.Ins() {
		if e.IsBack() == back {
			out = append(out, e)
		}
	}
	return out
}

func (a *Analysis) allEdgesHaveTrace(edges []*Edge) bool {
	if len(edges) == 0 {
		return false
	}
	for _, e := range edges {
		if _, ok := a.edgeStates[e]; !ok {
			return false
		}
	}
	return true
}

func (a *Analysis) anyInHasTrace(b *Block) bool {
	for _, e := range b.Ins() {
		if _, ok := a.edgeStates[e]; ok {
			return true
		}
	}
	return false
}

func (a *Analysis) blockReady(b *Block) bool {
	return a.allEdgesHaveTrace(a.selectedPreds(b))
}

// isAllowedExit checks that every loop the edge exits has reached the
// LEAVE status.
func (a *Analysis) isAllowedExit(e *Edge) bool {
	outer := e.LoopExit()
	for _, lh := range loopHeaders(e.Source()) {
		if a.loopStatusOf(lh) != statusLeave {
			return false
		}
		if lh == outer {
			break
		}
	}
	return true
}

// outsWithoutUnallowedExits filters the outgoing edges of b, skipping
// exits of loops still searching their fixpoint.
func (a *Analysis) outsWithoutUnallowedExits(b *Block) []*Edge {
	if b.Kind() == BlockExit {
		return nil
	}
	var out []*Edge
	for _, e := range b.Outs() {
		if e.LoopExit() == nil || a.isAllowedExit(e) {
			out = append(out, e)
		}
	}
	return out
}

// inD reports whether the oracle may look for infeasibility on e: its
// source is conditional and every enclosing loop reached LEAVE.
func (a *Analysis) inD(e *Edge) bool {
	if !e.Source().IsConditional() {
		return false
	}
	for _, lh := range loopHeaders(e.Source()) {
		if a.loopStatusOf(lh) != statusLeave {
			return false
		}
	}
	return true
}

// join collects and, at loop headers or above the merge threshold,
// merges the states of the selected incoming edges.
func (a *Analysis) join(pred []*Edge, b *Block) *States {
	var all []*State
	for _, e := range pred {
		all = append(all, a.edgeStates[e].All()...)
	}

	if b.IsLoopHeader() || (a.opts.Merge && len(all) > a.opts.MergeThreshold) {
		if b.IsLoopHeader() {
			if cand, ok := a.lhState[b]; ok {
				all = append(all, cand)
			}
		}
		live := all[:0]
		for _, s := range all {
			if !s.IsBottom() {
				live = append(live, s)
			}
		}
		if len(live) == 0 {
			a.log.Debugf("join at %s received only bottom states", b)
			return NewStates()
		}
		if len(live) > 50 {
			a.log.Infof("%d states merged into 1 at %s", len(live), b)
		}
		return NewStates(MergeStates(live, b, a.vm))
	}
	return NewStates(all...)
}

// processCFG runs the fixpoint worklist over one CFG and records its
// exit summary.
func (a *Analysis) processCFG(cfg *CFG, useInitialData bool) error {
	a.log.Debugf("==> %q", cfg.Name())
	a.inProgress[cfg] = true
	vmBackup := a.vm
	a.vm = NewVarMaker(a.dag)

	wl := &worklist{}
	for _, e := range cfg.Entry().Outs() {
		st := newTopState(a.dag, &a.ctx, cfg)
		if useInitialData {
			st.InitializeWithDFA()
		}
		a.edgeStates[e] = NewStates(st)
		wl.push(e.Target())
	}

	for !wl.empty() {
		b := wl.pop(a.blockReady)
		pred := a.selectedPreds(b)
		if !a.allEdgesHaveTrace(pred) {
			continue // re-enqueued when the missing edges fill
		}
		if a.opts.ShowProgress {
			a.log.Infof("processing %s %s", b, a.fixpointStatusString(b))
		}

		s := a.join(pred, b)
		for _, e := range pred {
			delete(a.edgeStates, e)
		}

		propagate := true
		if b.IsLoopHeader() {
			assert(s.Count() <= 1, "unmerged states at loop header %s", b)
			switch a.loopStatusOf(b) {
			case statusEnter:
				st := s.One()
				a.lhStatus[b] = statusFix
				a.lhS0[b] = st.Clone()
				a.lhState[b] = st.Clone()
			case statusFix:
				st := s.One()
				if st.Equiv(a.lhState[b]) {
					a.lhStatus[b] = statusAccel
					a.log.Debugf("%s: fixpoint reached", b)
				} else {
					a.lhState[b] = st.Clone()
				}
			case statusAccel:
				a.lhStatus[b] = statusLeave
				s.One().Widen(a.lhS0[b], a.dag.Iter(b))
			case statusLeave:
				delete(a.lhStatus, b)
				delete(a.lhState, b)
				delete(a.lhS0, b)
				if a.anyInHasTrace(b) {
					wl.push(b)
				}
				propagate = false
			}
		}

		if err := a.transferBlock(b, s); err != nil {
			return err
		}

		if !propagate {
			continue
		}
		succ := a.outsWithoutUnallowedExits(b)
		for i, e := range succ {
			es := a.interpretEdge(e, s, i < len(succ)-1)
			a.edgeStates[e] = es
			if a.inD(e) {
				a.ipcheck(es)
			}
			wl.push(e.Target())
		}
	}

	// Record the exit summary of the CFG.
	if ss, ok := a.cfgStates[cfg]; ok {
		if ss.Count() > 1 {
			a.cfgStates[cfg] = NewStates(MergeStates(ss.All(), cfg.Exit(), a.vm))
		}
		sum := a.cfgStates[cfg].One()
		if !sum.IsBottom() {
			if !sum.SPIsLocal() {
				a.log.Warnf("%s: SP does not provably return to its entry value", cfg)
			}
			if a.opts.AssumeIdenticalSP {
				sum.resetSP()
			}
			if a.opts.CleanTops {
				used := make(map[*TopTerm]struct{})
				sum.usedTops(used)
				a.vm.Minimize(used, true)
			}
		}
	} else {
		a.cfgStates[cfg] = NewStates()
	}
	a.cfgVars[cfg] = a.vm
	a.vm = vmBackup
	delete(a.inProgress, cfg)
	a.log.Debugf("<== %q", cfg.Name())
	return nil
}

// transferBlock applies the interpretation of b to the joined states.
func (a *Analysis) transferBlock(b *Block, s *States) error {
	switch b.Kind() {
	case BlockBasic:
		for _, st := range s.All() {
			st.ProcessBlock(b, a.vm, a.log)
		}
	case BlockEntry:
		// nothing flows out of the entry itself
	case BlockSynth:
		return a.transferCall(b, s)
	case BlockExit:
		a.cfgStates[b.CFG()] = s
	default:
		return fmt.Errorf("%w: %s", ErrUnknownBlock, b)
	}
	return nil
}

// transferCall composes the callee summary into every state at a call
// site, running the callee's analysis first if needed.
func (a *Analysis) transferCall(b *Block, s *States) error {
	callee := b.Callee()
	if a.inProgress[callee] {
		a.log.Warnf("recursive call to %s at %s, scratching the caller state", callee, b)
		for _, st := range s.All() {
			for i := 0; i < st.lvars.NumRegisters(); i++ {
				if i != a.ctx.SP {
					st.scratch(int32(i), a.vm)
				}
			}
			st.scratchAllMemory()
		}
		return nil
	}
	if _, ok := a.cfgStates[callee]; !ok {
		if err := a.processCFG(callee, false); err != nil {
			return err
		}
	}

	a.log.Debugf("importing %d tops from %s", a.cfgVars[callee].Len(), callee)
	topMap := a.vm.Import(a.cfgVars[callee])
	summary := a.cfgStates[callee].One()

	s.OnCall(b)
	for _, st := range s.All() {
		if summary.IsBottom() {
			continue
		}
		st.Apply(summary, topMap)
		if sp, ok := st.lvars.Get(int32(a.ctx.SP)).(*ConstTerm); ok && sp.Value.Tag == SPPos {
			st.InvalidateStackBelow(sp.Value.Val)
		}
	}
	s.OnReturn(b)
	return nil
}

// interpretEdge produces the per-edge states: a copy when more edges
// still consume s, edge appended to paths and predicates, loop exits
// recorded.
func (a *Analysis) interpretEdge(e *Edge, s *States, copyStates bool) *States {
	out := s
	if copyStates {
		out = s.Clone()
	}
	if out.IsEmpty() {
		a.log.Debugf("propagating bottom state over %s", e)
		return out
	}
	if e.Source().Kind() != BlockEntry {
		for _, st := range out.All() {
			st.AppendEdge(e)
		}
	}
	if e.LoopExit() != nil {
		out.OnLoopExitEdge(e)
	}
	return out
}

// fixpointStatusString renders the nest of loop statuses around b.
func (a *Analysis) fixpointStatusString(b *Block) string {
	out := "["
	for _, lh := range loopHeaders(b) {
		out += a.loopStatusOf(lh).String()[:1]
	}
	return out + "]"
}

// worklist is the FIFO-with-priority block queue: ready blocks (all
// selected predecessor edges annotated) are served before waiting ones.
type worklist struct {
	q []*Block
}

func (w *worklist) push(b *Block) {
	for _, o := range w.q {
		if o == b {
			return
		}
	}
	w.q = append(w.q, b)
}

func (w *worklist) empty() bool { return len(w.q) == 0 }

func (w *worklist) pop(ready func(*Block) bool) *Block {
	for i, b := range w.q {
		if ready(b) {
			w.q = append(w.q[:i], w.q[i+1:]...)
			return b
		}
	}
	b := w.q[0]
	w.q = w.q[1:]
	return b
}
