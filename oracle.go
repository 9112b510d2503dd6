package pathfinder

import "sync"

// The infeasibility oracle: on every in-D edge, each state's predicate
// set is checked for satisfiability; UNSAT sets are minimized into an
// infeasible edge set, validated against the feasible sibling states,
// reordered along the detailed path and recorded.

// ipResult is the outcome of one state's satisfiability probe.
type ipResult struct {
	infeasible bool
	core       EdgeSet
}

// ipcheck looks for infeasible paths among the states of one edge,
// records them, and removes the UNSAT states from the collection.
func (a *Analysis) ipcheck(ss *States) {
	if a.opts.DryRun || ss.IsEmpty() {
		return
	}

	states := ss.All()
	results := make([]ipResult, len(states))
	if a.opts.NbCores > 1 && len(states) > 1 {
		a.ipcheckParallel(states, results)
	} else {
		s := a.serialSolver()
		if s == nil {
			return
		}
		for i, st := range states {
			results[i] = a.seekInfeasiblePath(s, st)
		}
	}

	keep := states[:0:0]
	for i, st := range states {
		if !results[i].infeasible {
			keep = append(keep, st)
			continue
		}
		ip := results[i].core
		a.stats.onAnyInfeasiblePath()
		a.log.Debugf("path %s minimized to %s", st.Path(), ip)

		if counterexample, ok := a.findCounterexample(states, results, ip); ok {
			// The minimization covers a sibling path that is feasible:
			// it cannot be reported as such.
			a.log.Debugf("minimized path rejected, counterexample: %s", counterexample)
			a.stats.onUnminimizedInfeasiblePath()
			if a.opts.UnminimizedPaths {
				full := st.Path().Clone()
				full.Optimize()
				if full.HasAnEdge() {
					a.addInfeasiblePath(full)
				}
			}
			continue
		}

		reordered := reorderInfeasiblePath(ip, st.Path())
		reordered.Optimize()
		if !reordered.HasAnEdge() {
			// The responsible labels lie outside this path (a callee
			// summary's edges): the minimization cannot be placed.
			a.stats.onUnminimizedInfeasiblePath()
			if a.opts.UnminimizedPaths {
				full := st.Path().Clone()
				full.Optimize()
				if full.HasAnEdge() {
					a.addInfeasiblePath(full)
				}
			}
			continue
		}
		a.addInfeasiblePath(reordered)
		a.log.Infof("infeasible path found: [%s]", reordered)
	}
	ss.s = keep
}

// serialSolver lazily builds the single solver of the sequential mode.
func (a *Analysis) serialSolver() Solver {
	if a.solver == nil {
		a.solver = a.newSolver()
	}
	return a.solver
}

// ipcheckParallel distributes the SMT probes of independent states over
// NbCores workers, each with its own solver, and joins at the barrier.
func (a *Analysis) ipcheckParallel(states []*State, results []ipResult) {
	n := a.opts.NbCores
	if n > len(states) {
		n = len(states)
	}
	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := a.newSolver()
			defer s.Close()
			for i := range work {
				results[i] = a.seekInfeasiblePath(s, states[i])
			}
		}()
	}
	for i := range states {
		work <- i
	}
	close(work)
	wg.Wait()
}

// seekInfeasiblePath checks the complete predicates of one state and,
// when UNSAT, minimizes them into the responsible edge set.
func (a *Analysis) seekInfeasiblePath(s Solver, st *State) ipResult {
	preds := st.CompletePreds()
	if checkSat(s, bare(preds), a.opts.SMTCheckLinear, a.log) != Unsat {
		return ipResult{}
	}
	core := minimizeUnsatCore(s, preds, a.opts.SMTCheckLinear, a.log)
	labels := make(EdgeSet)
	for _, lp := range core {
		labels = labels.Union(lp.Labels)
	}
	return ipResult{infeasible: true, core: labels}
}

// findCounterexample verifies a minimized edge set against the sibling
// states of the same edge: a feasible sibling whose trace contains the
// whole set disproves the minimization.
func (a *Analysis) findCounterexample(states []*State, results []ipResult, ip EdgeSet) (DetailedPath, bool) {
	for i, st := range states {
		if results[i].infeasible {
			continue
		}
		if st.Path().ContainsAll(ip) {
			return st.Path(), true
		}
	}
	return DetailedPath{}, false
}

// reorderInfeasiblePath orders the minimized edge set along the full
// detailed path it originates from, keeping the structural markers.
func reorderInfeasiblePath(ip EdgeSet, full DetailedPath) DetailedPath {
	ordered := NewDetailedPath(full.Function())
	for _, it := range full.Items() {
		if it.IsEdge() {
			if ip.Contains(it.Edge()) {
				ordered.AddLast(it)
			}
		} else {
			ordered.AddLast(it)
		}
	}
	return ordered
}

// addInfeasiblePath records ip unless an equal detailed path is already
// present.
func (a *Analysis) addInfeasiblePath(ip DetailedPath) {
	assert(ip.HasAnEdge(), "recording an infeasible path with no edge")
	for _, known := range a.infeasiblePaths {
		if known.Equal(ip) {
			a.log.Debugf("not adding redundant infeasible path: %s", ip)
			return
		}
	}
	a.infeasiblePaths = append(a.infeasiblePaths, ip)
}

// postProcessResults prunes reported paths by edge dominance and
// post-dominance, drops trailing call markers and removes duplicates.
func (a *Analysis) postProcessResults() {
	if !a.opts.PostProcessing {
		return
	}
	a.log.Debugf("post-processing %d infeasible paths", len(a.infeasiblePaths))
	n := a.simplifyUsingDominance(a.domRule)
	a.log.Debugf("dominance: minimized %d infeasible paths", n)
	n = a.simplifyUsingDominance(a.postdomRule)
	a.log.Debugf("post-dominance: minimized %d infeasible paths", n)
	for i := range a.infeasiblePaths {
		a.infeasiblePaths[i].RemoveCallsAtEnd()
	}
	n = a.removeDuplicateIPs()
	a.log.Debugf("removed %d duplicate infeasible paths", n)
}

// dominance returns the lazily built dominance engine of cfg.
func (a *Analysis) dominance(cfg *CFG) *Dominance {
	d, ok := a.dom[cfg]
	if !ok {
		d = NewDominance(cfg)
		a.dom[cfg] = d
	}
	return d
}

// domRule returns the edge to remove when e1 dominates e2.
func (a *Analysis) domRule(e1, e2 *Edge) *Edge {
	if e1.Source().CFG() != e2.Source().CFG() {
		return nil
	}
	if a.dominance(e1.Source().CFG()).Dom(e1, e2) {
		return e1
	}
	return nil
}

// postdomRule returns the edge to remove when e2 post-dominates e1.
func (a *Analysis) postdomRule(e1, e2 *Edge) *Edge {
	if e1.Source().CFG() != e2.Source().CFG() {
		return nil
	}
	if a.dominance(e1.Source().CFG()).PostDom(e2, e1) {
		return e2
	}
	return nil
}

// simplifyUsingDominance walks adjacent edge pairs of every reported
// path, removing whichever edge the rule designates, to a fixpoint.
func (a *Analysis) simplifyUsingDominance(rule func(e1, e2 *Edge) *Edge) int {
	changedCount := 0
	for i := range a.infeasiblePaths {
		dp := &a.infeasiblePaths[i]
		hasChanged := false
		for {
			changed := false
			var prev *Edge
			for _, it := range dp.Items() {
				if !it.IsEdge() {
					continue
				}
				if prev != nil {
					if remove := rule(prev, it.Edge()); remove != nil {
						dp.Remove(remove)
						changed = true
						hasChanged = true
						break
					}
				}
				prev = it.Edge()
			}
			if !changed {
				break
			}
		}
		if hasChanged {
			dp.RemoveCallsAtEnd()
			changedCount++
		}
	}
	return changedCount
}

// removeDuplicateIPs drops reported paths equal to a later one.
func (a *Analysis) removeDuplicateIPs() int {
	n := len(a.infeasiblePaths)
	if n == 0 {
		return 0
	}
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if a.infeasiblePaths[j].Equal(a.infeasiblePaths[i]) {
				keep[i] = false
				break
			}
		}
	}
	out := a.infeasiblePaths[:0]
	for i, ip := range a.infeasiblePaths {
		if keep[i] {
			out = append(out, ip)
		}
	}
	removed := n - len(out)
	a.infeasiblePaths = out
	return removed
}
