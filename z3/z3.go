// Package z3 adapts the Z3 SMT solver to the pathfinder solver
// contract: incremental QF_LIA satisfiability over integer-typed
// variables named after registers, temporaries, memory cells and the
// stack pointer.
package z3

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/wcetlab/pathfinder"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
*/
import "C"

// Ensure solver implements the contract.
var _ pathfinder.Solver = (*Solver)(nil)

// DefaultTimeoutMS bounds each satisfiability check. A timeout is
// reported as an error and the analysis treats it as SAT.
const DefaultTimeoutMS = 10000

// Solver is an incremental Z3 solver over the integers.
type Solver struct {
	ctx     C.Z3_context
	solver  C.Z3_solver
	intSort C.Z3_sort
	stats   Stats
}

// Stats counts the solver activity.
type Stats struct {
	CheckN  int
	AssertN int
}

// NewSolver returns a solver with the default timeout.
func NewSolver() *Solver {
	return NewSolverTimeout(DefaultTimeoutMS)
}

// NewSolverTimeout returns a solver bounding each check to timeoutMS
// milliseconds.
func NewSolverTimeout(timeoutMS uint) *Solver {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	timeout := C.CString("timeout")
	defer C.free(unsafe.Pointer(timeout))
	value := C.CString(fmt.Sprintf("%d", timeoutMS))
	defer C.free(unsafe.Pointer(value))
	C.Z3_set_param_value(config, timeout, value)

	ctx := C.Z3_mk_context(config)
	C.Z3_set_error_handler(ctx, nil)

	solver := C.Z3_mk_solver(ctx)
	C.Z3_solver_inc_ref(ctx, solver)

	return &Solver{
		ctx:     ctx,
		solver:  solver,
		intSort: C.Z3_mk_int_sort(ctx),
	}
}

// Close releases the underlying Z3 objects.
func (s *Solver) Close() error {
	C.Z3_solver_dec_ref(s.ctx, s.solver)
	C.Z3_del_context(s.ctx)
	return nil
}

// Stats returns activity counters.
func (s *Solver) Stats() Stats { return s.stats }

// Push opens a backtracking point.
func (s *Solver) Push() error {
	C.Z3_solver_push(s.ctx, s.solver)
	return s.err("Z3_solver_push")
}

// Pop discards the assertions since the matching Push.
func (s *Solver) Pop() error {
	C.Z3_solver_pop(s.ctx, s.solver, 1)
	return s.err("Z3_solver_pop")
}

// Assert translates and asserts one predicate.
func (s *Solver) Assert(p pathfinder.Predicate) error {
	ast, err := s.toPredicateAST(p)
	if err != nil {
		return err
	}
	s.stats.AssertN++
	C.Z3_solver_assert(s.ctx, s.solver, ast)
	return s.err("Z3_solver_assert")
}

// CheckSat decides the asserted conjunction.
func (s *Solver) CheckSat() (pathfinder.SatResult, error) {
	s.stats.CheckN++
	switch C.Z3_solver_check(s.ctx, s.solver) {
	case C.Z3_L_TRUE:
		return pathfinder.Sat, nil
	case C.Z3_L_FALSE:
		return pathfinder.Unsat, nil
	default:
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx, s.solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return pathfinder.Unknown, pathfinder.ErrSolverTimeout
		case strings.Contains(reason, "canceled"):
			return pathfinder.Unknown, pathfinder.ErrSolverCanceled
		default:
			return pathfinder.Unknown, fmt.Errorf("z3: %s: %w", reason, pathfinder.ErrSolverUnknown)
		}
	}
}

// err returns the error of the last API call, nil on success.
func (s *Solver) err(op string) error {
	if code := C.Z3_get_error_code(s.ctx); code != C.Z3_OK {
		return fmt.Errorf("z3: %s: %s", op, C.GoString(C.Z3_get_error_msg(s.ctx, code)))
	}
	return nil
}

func (s *Solver) toPredicateAST(p pathfinder.Predicate) (C.Z3_ast, error) {
	lhs, err := s.toAST(p.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := s.toAST(p.RHS)
	if err != nil {
		return nil, err
	}
	switch p.Op {
	case pathfinder.CondLT:
		return C.Z3_mk_lt(s.ctx, lhs, rhs), s.err("Z3_mk_lt")
	case pathfinder.CondLE:
		return C.Z3_mk_le(s.ctx, lhs, rhs), s.err("Z3_mk_le")
	case pathfinder.CondEQ:
		return C.Z3_mk_eq(s.ctx, lhs, rhs), s.err("Z3_mk_eq")
	case pathfinder.CondNE:
		eq := C.Z3_mk_eq(s.ctx, lhs, rhs)
		if err := s.err("Z3_mk_eq"); err != nil {
			return nil, err
		}
		return C.Z3_mk_not(s.ctx, eq), s.err("Z3_mk_not")
	default:
		return nil, fmt.Errorf("z3: invalid predicate operator: %s", p.Op)
	}
}

func (s *Solver) toAST(t pathfinder.Term) (C.Z3_ast, error) {
	switch t := t.(type) {
	case *pathfinder.ConstTerm:
		return s.toConstAST(t.Value)
	case *pathfinder.VarTerm:
		return s.namedInt(t.String()), s.err("Z3_mk_const")
	case *pathfinder.MemTerm:
		return s.namedInt(memName(t.Addr)), s.err("Z3_mk_const")
	case *pathfinder.IterTerm:
		return s.namedInt(t.String()), s.err("Z3_mk_const")
	case *pathfinder.ArithTerm:
		return s.toArithAST(t)
	default:
		return nil, fmt.Errorf("z3: untranslatable term: %s", t)
	}
}

func (s *Solver) toConstAST(c pathfinder.Constant) (C.Z3_ast, error) {
	v := C.Z3_mk_int(s.ctx, C.int(c.Val), s.intSort)
	if err := s.err("Z3_mk_int"); err != nil {
		return nil, err
	}
	switch c.Tag {
	case pathfinder.SPPos: // sp + v
		return s.mkAdd(s.namedInt("sp"), v)
	case pathfinder.SPNeg: // v - sp
		return C.Z3_mk_sub(s.ctx, 2, s.pair(v, s.namedInt("sp"))), s.err("Z3_mk_sub")
	default:
		return v, nil
	}
}

func (s *Solver) toArithAST(t *pathfinder.ArithTerm) (C.Z3_ast, error) {
	a, err := s.toAST(t.A)
	if err != nil {
		return nil, err
	}
	if t.Op == pathfinder.OpNeg {
		return C.Z3_mk_unary_minus(s.ctx, a), s.err("Z3_mk_unary_minus")
	}
	b, err := s.toAST(t.B)
	if err != nil {
		return nil, err
	}
	switch t.Op {
	case pathfinder.OpAdd:
		return s.mkAdd(a, b)
	case pathfinder.OpSub:
		return C.Z3_mk_sub(s.ctx, 2, s.pair(a, b)), s.err("Z3_mk_sub")
	case pathfinder.OpMul:
		return C.Z3_mk_mul(s.ctx, 2, s.pair(a, b)), s.err("Z3_mk_mul")
	case pathfinder.OpDiv:
		return C.Z3_mk_div(s.ctx, a, b), s.err("Z3_mk_div")
	case pathfinder.OpMod:
		return C.Z3_mk_mod(s.ctx, a, b), s.err("Z3_mk_mod")
	default:
		return nil, fmt.Errorf("z3: untranslatable operation: %s", t.Op)
	}
}

func (s *Solver) mkAdd(a, b C.Z3_ast) (C.Z3_ast, error) {
	return C.Z3_mk_add(s.ctx, 2, s.pair(a, b)), s.err("Z3_mk_add")
}

func (s *Solver) pair(a, b C.Z3_ast) *C.Z3_ast {
	args := [2]C.Z3_ast{a, b}
	return &args[0]
}

func (s *Solver) namedInt(name string) C.Z3_ast {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	sym := C.Z3_mk_string_symbol(s.ctx, cname)
	return C.Z3_mk_const(s.ctx, sym, s.intSort)
}

// memName names the solver variable of a memory cell.
func memName(addr pathfinder.Constant) string {
	switch addr.Tag {
	case pathfinder.SPPos:
		return fmt.Sprintf("ms_%d", addr.Val)
	case pathfinder.SPNeg:
		return fmt.Sprintf("msn_%d", addr.Val)
	default:
		return fmt.Sprintf("m_%d", addr.Val)
	}
}
