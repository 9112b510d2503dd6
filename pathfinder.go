// Package pathfinder performs an infeasible-path analysis on the
// control-flow graph of a compiled program, for use by WCET tooling.
// The analysis interprets each basic block symbolically, runs a fixpoint
// over the CFG with loop acceleration, and asks an SMT solver whether
// the predicates collected along a path are satisfiable. Paths whose
// predicate sets are unsatisfiable are minimized, validated and
// reported so a timing analyzer can exclude them.
package pathfinder

import (
	"errors"
	"fmt"
)

var (
	ErrSolverTimeout  = errors.New("solver timeout")
	ErrSolverCanceled = errors.New("solver canceled")
	ErrSolverUnknown  = errors.New("solver unknown error")

	ErrMissingLoopInfo = errors.New("cfg is missing loop info (back edges, exit edges)")
	ErrUnknownBlock    = errors.New("unknown block kind")
	ErrNoStackPointer  = errors.New("stack pointer register not identified")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
