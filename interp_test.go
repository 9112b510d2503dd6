package pathfinder

import "testing"

func testContext() Context {
	return Context{SP: 13, MaxRegisters: 16, MaxTempVars: 8, DFA: NewInitialState()}
}

// interpBlock runs one block's instructions against a fresh state and
// returns the state, the DAG and the maker.
func interpBlock(t *testing.T, ctx Context, insts ...MachineInst) (*State, *DAG, *VarMaker) {
	t.Helper()
	d := NewDAG()
	vm := NewVarMaker(d)
	g := NewCFG("f")
	b := g.AddBasic(insts...)
	s := newTopState(d, &ctx, g)
	s.ProcessBlock(b, vm, NopLogger)
	return s, d, vm
}

func TestProcessBlock_Assignments(t *testing.T) {
	ctx := testContext()
	s, d, _ := interpBlock(t, ctx,
		MI(Seti(0, 7)),
		MI(Set(1, 0)),
		MI(Seti(-1, 1), Add(2, 0, -1)),
	)

	if got := s.lvars.Get(0); got != Term(d.Const(7)) {
		t.Fatalf("r0: unexpected term: %s", got)
	}
	if got := s.lvars.Get(1); got != Term(d.Const(7)) {
		t.Fatalf("r1: unexpected term: %s", got)
	}
	if got := s.lvars.Get(2); got != Term(d.Const(8)) {
		t.Fatalf("r2: unexpected term: %s", got)
	}
	if got := s.lvars.Get(-1); got != nil {
		t.Fatalf("temporary must be invalidated at end of instruction, got %s", got)
	}
}

func TestProcessBlock_SymbolicArith(t *testing.T) {
	ctx := testContext()
	s, d, _ := interpBlock(t, ctx,
		MI(Seti(-1, 1), Add(2, 0, -1)), // r2 = r0 + 1
		MI(Sub(3, 1, 1)),               // r3 = r1 - r1 = 0
		MI(Neg(4, 0)),                  // r4 = -r0
	)

	if got := s.lvars.Get(2); got != d.Add(d.Var(0), d.Const(1)) {
		t.Fatalf("r2: unexpected term: %s", got)
	}
	if got := s.lvars.Get(3); got != Term(d.Const(0)) {
		t.Fatalf("r3: unexpected term: %s", got)
	}
	if got := s.lvars.Get(4); got != d.Neg(d.Var(0)) {
		t.Fatalf("r4: unexpected term: %s", got)
	}
}

func TestProcessBlock_Shifts(t *testing.T) {
	ctx := testContext()

	t.Run("ConstantCount", func(t *testing.T) {
		s, d, _ := interpBlock(t, ctx,
			MI(Seti(-1, 2), Shl(1, 0, -1)),
			MI(Seti(-1, 2), Shr(2, 0, -1)),
			MI(Seti(-1, 2), Asr(3, 0, -1)),
		)
		if got := s.lvars.Get(1); got != d.Mul(d.Var(0), d.Const(4)) {
			t.Fatalf("shl: unexpected term: %s", got)
		}
		// SHR and ASR share the division lowering.
		if s.lvars.Get(2) != s.lvars.Get(3) {
			t.Fatalf("shr/asr disagree: %s vs %s", s.lvars.Get(2), s.lvars.Get(3))
		}
		if got := s.lvars.Get(2); got != d.Div(d.Var(0), d.Const(4)) {
			t.Fatalf("shr: unexpected term: %s", got)
		}
	})
	t.Run("SymbolicCount", func(t *testing.T) {
		s, _, _ := interpBlock(t, ctx, MI(Shl(2, 0, 1)))
		if _, ok := s.lvars.Get(2).(*TopTerm); !ok {
			t.Fatalf("symbolic shift count must scratch, got %s", s.lvars.Get(2))
		}
	})
}

func TestProcessBlock_UnmodeledScratch(t *testing.T) {
	ctx := testContext()
	s, _, _ := interpBlock(t, ctx, MI(Inst{Op: AND, D: 1, A: 0, B: 2}))
	if _, ok := s.lvars.Get(1).(*TopTerm); !ok {
		t.Fatalf("AND must scratch its destination, got %s", s.lvars.Get(1))
	}
}

func TestProcessBlock_ConditionalFork(t *testing.T) {
	ctx := testContext()

	t.Run("SignedLT", func(t *testing.T) {
		s, d, _ := interpBlock(t, ctx,
			MI(Cmp(1, 0, 2)),
			MI(If(CondLt, 1), Cont()),
		)
		if len(s.generatedPredsTaken) != 1 {
			t.Fatalf("unexpected taken preds: %v", s.generatedPredsTaken)
		}
		taken := s.generatedPredsTaken[0].Pred
		if taken.Op != CondLT || taken.LHS != Term(d.Var(0)) || taken.RHS != Term(d.Var(2)) {
			t.Fatalf("unexpected taken predicate: %s", taken)
		}
		if len(s.generatedPreds) != 1 {
			t.Fatalf("unexpected fall-through preds: %v", s.generatedPreds)
		}
		nt := s.generatedPreds[0].Pred
		if nt.Op != CondLE || nt.LHS != Term(d.Var(2)) || nt.RHS != Term(d.Var(0)) {
			t.Fatalf("unexpected fall-through predicate: %s", nt)
		}
	})
	t.Run("UnsignedMatchesSigned", func(t *testing.T) {
		su, _, _ := interpBlock(t, ctx, MI(Cmp(1, 0, 2)), MI(If(CondULt, 1), Cont()))
		ss, _, _ := interpBlock(t, ctx, MI(Cmp(1, 0, 2)), MI(If(CondLt, 1), Cont()))
		// Each interpBlock call builds its own DAG, so the predicates are
		// compared by structure rather than by term identity.
		pu, ps := su.generatedPredsTaken[0].Pred, ss.generatedPredsTaken[0].Pred
		if pu.Op != ps.Op || pu.String() != ps.String() {
			t.Fatalf("unsigned conditions must produce the same structural predicate: %s vs %s", pu, ps)
		}
	})
	t.Run("TrivialEqualityDiscarded", func(t *testing.T) {
		s, _, _ := interpBlock(t, ctx,
			MI(Seti(0, 0)),
			MI(Cmp(1, 0, 0)),
			MI(If(CondEq, 1), Cont()),
		)
		if len(s.generatedPredsTaken) != 0 {
			t.Fatalf("0 = 0 must be discarded, got %v", s.generatedPredsTaken)
		}
		if len(s.generatedPreds) != 1 || s.generatedPreds[0].Pred.String() != "0 != 0" {
			t.Fatalf("expected the falsifiable 0 != 0, got %v", s.generatedPreds)
		}
	})
	t.Run("NoComparisonValue", func(t *testing.T) {
		s, _, _ := interpBlock(t, ctx, MI(If(CondEq, 1), Cont()))
		if len(s.generatedPreds) != 0 || len(s.generatedPredsTaken) != 0 {
			t.Fatal("a branch without a cmp value generates no predicate")
		}
	})
}

func TestProcessBlock_Memory(t *testing.T) {
	t.Run("StackStoreLoad", func(t *testing.T) {
		ctx := testContext()
		s, d, _ := interpBlock(t, ctx,
			MI(Seti(-1, 8), Sub(13, 13, -1)), // sp -= 8
			MI(Store(0, 13)),                 // [sp] = r0
			MI(Load(1, 13)),                  // r1 = [sp]
		)
		if s.SPIsLocal() {
			t.Fatal("SP moved, state must not claim it local")
		}
		if got := s.lvars.Get(13); got != Term(d.SPRel(-8)) {
			t.Fatalf("sp: unexpected term: %s", got)
		}
		if v, ok := s.mem.Get(SPRel(-8)); !ok || v != Term(d.Var(0)) {
			t.Fatalf("[sp-8]: unexpected cell: %v %v", v, ok)
		}
		if got := s.lvars.Get(1); got != Term(d.Var(0)) {
			t.Fatalf("r1: unexpected term: %s", got)
		}
	})
	t.Run("UnresolvableStoreScratchesMemory", func(t *testing.T) {
		ctx := testContext()
		s, _, _ := interpBlock(t, ctx,
			MI(Store(0, 13)),    // [sp] = r0, tracked
			MI(Scratch(2)),      // r2 = T
			MI(Store(1, 2)),     // [T] = r1: address unresolvable
		)
		if s.mem.Len() != 0 {
			t.Fatalf("whole memory must be scratched, %d cells left", s.mem.Len())
		}
	})
	t.Run("ReadOnlyLoadFolds", func(t *testing.T) {
		ctx := testContext()
		ctx.DFA.Set(100, 42)
		s, d, _ := interpBlock(t, ctx,
			MI(Seti(1, 100)),
			MI(Load(0, 1)),
		)
		if got := s.lvars.Get(0); got != Term(d.Const(42)) {
			t.Fatalf("read-only load must fold, got %s", got)
		}
	})
	t.Run("UnknownLoadAllocatesAndRemembers", func(t *testing.T) {
		ctx := testContext()
		s, _, _ := interpBlock(t, ctx,
			MI(Seti(1, 200)),
			MI(Load(0, 1)),
			MI(Load(2, 1)),
		)
		top, ok := s.lvars.Get(0).(*TopTerm)
		if !ok {
			t.Fatalf("unknown load must scratch, got %s", s.lvars.Get(0))
		}
		if s.lvars.Get(2) != Term(top) {
			t.Fatal("second load of the same cell must return the remembered unknown")
		}
	})
}

func TestInvalidateTempVars_KeepsInformation(t *testing.T) {
	d := NewDAG()
	ctx := testContext()
	g := NewCFG("f")
	s := newTopState(d, &ctx, g)

	// t1 = r0+1 and t1 <= 5: dropping t1 must leave r0+1 <= 5.
	p1, _ := NewPredicate(CondEQ, d.Var(-1), d.Add(d.Var(0), d.Const(1)))
	p2, _ := NewPredicate(CondLE, d.Var(-1), d.Const(5))
	s.generatedPreds = []LabelledPredicate{
		{Pred: p1, Labels: NewEdgeSet()},
		{Pred: p2, Labels: NewEdgeSet()},
	}
	s.invalidateTempVars()

	if len(s.generatedPreds) != 1 {
		t.Fatalf("unexpected predicates: %v", s.generatedPreds)
	}
	want, _ := NewPredicate(CondLE, d.Add(d.Var(0), d.Const(1)), d.Const(5))
	if s.generatedPreds[0].Pred != want {
		t.Fatalf("unexpected predicate: %s", s.generatedPreds[0].Pred)
	}
}
