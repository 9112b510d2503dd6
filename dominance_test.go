package pathfinder_test

import (
	"testing"

	"github.com/wcetlab/pathfinder"
)

func TestDominance_Diamond(t *testing.T) {
	g := buildDiamond(t)
	dom := pathfinder.NewDominance(g)

	e01 := g.EdgeBetween(0, 1)
	e12 := g.EdgeBetween(1, 2)
	e13 := g.EdgeBetween(1, 3)
	e24 := g.EdgeBetween(2, 4)
	e45 := g.EdgeBetween(4, 5)

	t.Run("Dom", func(t *testing.T) {
		if !dom.Dom(e01, e12) {
			t.Fatal("the entry edge dominates every edge")
		}
		if !dom.Dom(e12, e24) {
			t.Fatal("1->2 dominates 2->4")
		}
		if dom.Dom(e12, e45) {
			t.Fatal("1->2 must not dominate the join's out edge")
		}
		if dom.Dom(e12, e13) || dom.Dom(e13, e12) {
			t.Fatal("sibling branches must not dominate each other")
		}
	})
	t.Run("PostDom", func(t *testing.T) {
		if !dom.PostDom(e45, e12) {
			t.Fatal("4->5 post-dominates 1->2")
		}
		if !dom.PostDom(e24, e12) {
			t.Fatal("2->4 post-dominates 1->2")
		}
		if dom.PostDom(e12, e01) {
			t.Fatal("1->2 must not post-dominate the entry edge")
		}
	})
}

func TestComputeLoopInfo(t *testing.T) {
	// entry(0) -> b1(1) -> h(2) <-> body(3), h -> after(4) -> exit(5)
	g := pathfinder.NewCFG("loop")
	b1 := g.AddBasic()
	h := g.AddBasic()
	body := g.AddBasic()
	after := g.AddBasic()
	exit := g.AddExit()
	g.AddEdge(g.Entry(), b1)
	g.AddEdge(b1, h)
	g.AddTakenEdge(h, body)
	back := g.AddEdge(body, h)
	exitEdge := g.AddEdge(h, after)
	g.AddEdge(after, exit)
	if err := g.ComputeLoopInfo(); err != nil {
		t.Fatal(err)
	}

	if !h.IsLoopHeader() {
		t.Fatal("h must be detected as a loop header")
	}
	if body.IsLoopHeader() || b1.IsLoopHeader() {
		t.Fatal("unexpected loop header")
	}
	if !back.IsBack() {
		t.Fatal("body->h must be a back edge")
	}
	if exitEdge.LoopExit() != h {
		t.Fatalf("h->after must exit the loop of h, got %v", exitEdge.LoopExit())
	}
	if body.EnclosingHeader() != h {
		t.Fatal("body must be enclosed by h")
	}
	if after.EnclosingHeader() != nil {
		t.Fatal("after must not be inside the loop")
	}
}

func TestComputeLoopInfo_Nested(t *testing.T) {
	// entry -> h1 <-> (h2 <-> body), h1 -> exit
	g := pathfinder.NewCFG("nested")
	h1 := g.AddBasic()
	h2 := g.AddBasic()
	body := g.AddBasic()
	exit := g.AddExit()
	g.AddEdge(g.Entry(), h1)
	g.AddTakenEdge(h1, h2)
	g.AddTakenEdge(h2, body)
	g.AddEdge(body, h2)   // inner back edge
	inner := g.AddEdge(h2, h1) // inner exit, outer back edge
	g.AddEdge(h1, exit)
	if err := g.ComputeLoopInfo(); err != nil {
		t.Fatal(err)
	}

	if !h1.IsLoopHeader() || !h2.IsLoopHeader() {
		t.Fatal("both headers must be detected")
	}
	if h2.EnclosingHeader() != h1 {
		t.Fatal("inner loop must be enclosed by the outer one")
	}
	if body.EnclosingHeader() != h2 {
		t.Fatal("body must be enclosed by the inner loop")
	}
	if !inner.IsBack() {
		t.Fatal("h2->h1 must be the outer back edge")
	}
	if inner.LoopExit() != h2 {
		t.Fatalf("h2->h1 exits the inner loop, got %v", inner.LoopExit())
	}
}
