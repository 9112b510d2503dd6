package pathfinder_test

import (
	"testing"

	"github.com/wcetlab/pathfinder"
)

func TestDAG_HashConsing(t *testing.T) {
	d := pathfinder.NewDAG()

	t.Run("Const", func(t *testing.T) {
		if d.Const(42) != d.Const(42) {
			t.Fatal("equal constants must share address")
		} else if d.Const(42) == d.Const(43) {
			t.Fatal("distinct constants must not share address")
		} else if pathfinder.Term(d.Const(0)) == pathfinder.Term(d.SPRel(0)) {
			t.Fatal("absolute and sp-relative zero must differ")
		}
	})
	t.Run("Var", func(t *testing.T) {
		if d.Var(3) != d.Var(3) {
			t.Fatal("equal variables must share address")
		} else if d.Var(3) == d.Var(-3) {
			t.Fatal("register and temporary must differ")
		}
	})
	t.Run("Mem", func(t *testing.T) {
		if d.Mem(pathfinder.Cst(8)) != d.Mem(pathfinder.Cst(8)) {
			t.Fatal("equal cells must share address")
		} else if d.Mem(pathfinder.Cst(8)) == d.Mem(pathfinder.SPRel(8)) {
			t.Fatal("absolute and sp-relative cells must differ")
		}
	})
	t.Run("Arith", func(t *testing.T) {
		a := d.Add(d.Var(0), d.Var(1))
		b := d.Add(d.Var(0), d.Var(1))
		if a != b {
			t.Fatal("structurally equal terms must share address")
		}
	})
}

func TestDAG_Simplify(t *testing.T) {
	d := pathfinder.NewDAG()
	x := pathfinder.Term(d.Var(0))

	t.Run("AddZero", func(t *testing.T) {
		if got := d.Add(x, d.Const(0)); got != x {
			t.Fatalf("x+0: unexpected term: %s", got)
		}
		if got := d.Add(d.Const(0), x); got != x {
			t.Fatalf("0+x: unexpected term: %s", got)
		}
	})
	t.Run("SubSelf", func(t *testing.T) {
		if got := d.Sub(x, x); got != pathfinder.Term(d.Const(0)) {
			t.Fatalf("x-x: unexpected term: %s", got)
		}
	})
	t.Run("SubZero", func(t *testing.T) {
		if got := d.Sub(x, d.Const(0)); got != x {
			t.Fatalf("x-0: unexpected term: %s", got)
		}
	})
	t.Run("MulOne", func(t *testing.T) {
		if got := d.Mul(x, d.Const(1)); got != x {
			t.Fatalf("x*1: unexpected term: %s", got)
		}
	})
	t.Run("MulZero", func(t *testing.T) {
		if got := d.Mul(x, d.Const(0)); got != pathfinder.Term(d.Const(0)) {
			t.Fatalf("x*0: unexpected term: %s", got)
		}
		if got := d.Mul(d.Const(0), x); got != pathfinder.Term(d.Const(0)) {
			t.Fatalf("0*x: unexpected term: %s", got)
		}
	})
	t.Run("DivOne", func(t *testing.T) {
		if got := d.Div(x, d.Const(1)); got != x {
			t.Fatalf("x/1: unexpected term: %s", got)
		}
	})
	t.Run("DivSelf", func(t *testing.T) {
		if got := d.Div(x, x); got != pathfinder.Term(d.Const(1)) {
			t.Fatalf("x/x: unexpected term: %s", got)
		}
	})
	t.Run("ZeroDiv", func(t *testing.T) {
		if got := d.Div(d.Const(0), x); got != pathfinder.Term(d.Const(0)) {
			t.Fatalf("0/x: unexpected term: %s", got)
		}
	})
	t.Run("ConstantFold", func(t *testing.T) {
		if got := d.Add(d.Const(6), d.Const(4)); got != pathfinder.Term(d.Const(10)) {
			t.Fatalf("6+4: unexpected term: %s", got)
		}
		if got := d.Mul(d.Const(6), d.Const(4)); got != pathfinder.Term(d.Const(24)) {
			t.Fatalf("6*4: unexpected term: %s", got)
		}
		if got := d.Mod(d.Const(7), d.Const(4)); got != pathfinder.Term(d.Const(3)) {
			t.Fatalf("7%%4: unexpected term: %s", got)
		}
	})
	t.Run("NegNeg", func(t *testing.T) {
		if got := d.Neg(d.Neg(x)); got != x {
			t.Fatalf("-(-x): unexpected term: %s", got)
		}
	})
	t.Run("NegConst", func(t *testing.T) {
		if got := d.Neg(d.Const(5)); got != pathfinder.Term(d.Const(-5)) {
			t.Fatalf("-(5): unexpected term: %s", got)
		}
	})
	t.Run("ConstantsBubbleRight", func(t *testing.T) {
		// (x+2)+3 and 3+(2+x) must canonicalize identically.
		a := d.Add(d.Add(x, d.Const(2)), d.Const(3))
		b := d.Add(d.Const(3), d.Add(d.Const(2), x))
		if a != b {
			t.Fatalf("build orders disagree: %s vs %s", a, b)
		}
		if a != d.Add(x, d.Const(5)) {
			t.Fatalf("chain not folded: %s", a)
		}
	})
	t.Run("SubFoldsIntoAdd", func(t *testing.T) {
		// (x-2)+5 == x+3
		if got := d.Add(d.Sub(x, d.Const(2)), d.Const(5)); got != d.Add(x, d.Const(3)) {
			t.Fatalf("unexpected term: %s", got)
		}
	})
}

func TestDAG_SPRelative(t *testing.T) {
	d := pathfinder.NewDAG()

	t.Run("AddAbsolute", func(t *testing.T) {
		// (sp+8) + 4 = sp+12
		if got := d.Add(d.SPRel(8), d.Const(4)); got != pathfinder.Term(d.SPRel(12)) {
			t.Fatalf("unexpected term: %s", got)
		}
	})
	t.Run("SubToAbsolute", func(t *testing.T) {
		// (sp+8) - (sp+2) = 6
		if got := d.Sub(d.SPRel(8), d.SPRel(2)); got != pathfinder.Term(d.Const(6)) {
			t.Fatalf("unexpected term: %s", got)
		}
	})
	t.Run("SPPlusSPKept", func(t *testing.T) {
		// sp+sp is not representable as a constant; the node survives.
		got := d.Add(d.SPRel(0), d.SPRel(0))
		if _, ok := got.(*pathfinder.ArithTerm); !ok {
			t.Fatalf("expected arithmetic node, got %s", got)
		}
	})
	t.Run("NegFlips", func(t *testing.T) {
		// -(sp+8) = -8-sp
		got := d.Neg(d.SPRel(8))
		c, ok := got.(*pathfinder.ConstTerm)
		if !ok || c.Value.Tag != pathfinder.SPNeg || c.Value.Val != -8 {
			t.Fatalf("unexpected term: %s", got)
		}
	})
}

func TestDAG_Cmp(t *testing.T) {
	d := pathfinder.NewDAG()
	// cmp is never reordered, even over constants.
	a := d.Cmp(d.Const(1), d.Const(2))
	b := d.Cmp(d.Const(2), d.Const(1))
	if a == b {
		t.Fatal("cmp operand order must be preserved")
	}
}

func TestDAG_Subst(t *testing.T) {
	d := pathfinder.NewDAG()
	x, y := pathfinder.Term(d.Var(0)), pathfinder.Term(d.Var(1))
	sum := d.Add(x, y)

	got := d.Subst(sum, map[pathfinder.Term]pathfinder.Term{x: d.Const(2), y: d.Const(3)})
	if got != pathfinder.Term(d.Const(5)) {
		t.Fatalf("substitution did not fold: %s", got)
	}
	if d.Subst(sum, nil) != sum {
		t.Fatal("empty substitution must be identity")
	}
}
