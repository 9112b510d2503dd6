package pathfinder

// The contract between the analysis and an SMT solver deciding QF_LIA
// satisfiability: integer-typed variables named after registers,
// temporaries, memory-cell addresses and a distinguished sp variable,
// with the four predicate operators and linear arithmetic.

// SatResult is the outcome of a satisfiability check.
type SatResult int

const (
	Unknown SatResult = iota
	Sat
	Unsat
)

func (r SatResult) String() string {
	switch r {
	case Sat:
		return "SAT"
	case Unsat:
		return "UNSAT"
	default:
		return "UNKNOWN"
	}
}

// Solver is the adapter over an external SMT solver. Implementations
// translate predicates to the solver's term language; the analysis only
// asserts complete predicates (no opaque unknowns, no raw comparison
// values).
//
// The adapter must support incremental use: each satisfiability probe
// asserts a batch of predicates between Push and Pop.
type Solver interface {
	Push() error
	Pop() error
	Assert(p Predicate) error
	CheckSat() (SatResult, error)
	Close() error
}

// Simplifier is optionally implemented by solvers that can normalize a
// predicate.
type Simplifier interface {
	Simplify(p Predicate) (Predicate, error)
}

// checkSat probes the satisfiability of the conjunction of preds.
// Timeouts and unknown outcomes degrade to SAT: a state is never
// reported infeasible on solver uncertainty. linear asserts predicates
// one at a time for diagnostics.
func checkSat(s Solver, preds []Predicate, linear bool, log Logger) SatResult {
	if err := s.Push(); err != nil {
		log.Errorf("solver push: %v", err)
		return Unknown
	}
	defer func() {
		if err := s.Pop(); err != nil {
			log.Errorf("solver pop: %v", err)
		}
	}()

	for _, p := range preds {
		if err := s.Assert(p); err != nil {
			log.Warnf("solver rejected %s: %v", p, err)
			continue
		}
		if linear {
			if r, err := s.CheckSat(); err == nil && r == Unsat {
				log.Debugf("linear check: UNSAT at %s", p)
			}
		}
	}

	r, err := s.CheckSat()
	if err != nil {
		log.Warnf("solver: %v (treated as SAT)", err)
		return Unknown
	}
	return r
}

// minimizeUnsatCore reduces an UNSAT predicate conjunction to a minimal
// UNSAT subset by deletion: drop a candidate, re-check, and keep the
// drop whenever the rest is still UNSAT.
func minimizeUnsatCore(s Solver, lps []LabelledPredicate, linear bool, log Logger) []LabelledPredicate {
	kept := append([]LabelledPredicate(nil), lps...)
	for i := 0; i < len(kept); {
		trial := make([]LabelledPredicate, 0, len(kept)-1)
		trial = append(trial, kept[:i]...)
		trial = append(trial, kept[i+1:]...)
		if checkSat(s, bare(trial), linear, log) == Unsat {
			kept = trial
		} else {
			i++
		}
	}
	return kept
}

// bare strips labels off a predicate list.
func bare(lps []LabelledPredicate) []Predicate {
	out := make([]Predicate, len(lps))
	for i, lp := range lps {
		out[i] = lp.Pred
	}
	return out
}
