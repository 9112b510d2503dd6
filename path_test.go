package pathfinder_test

import (
	"testing"

	"github.com/wcetlab/pathfinder"
)

// buildDiamond returns a CFG shaped entry -> b1 -> {b2|b3} -> b4 ->
// exit, with the taken branch of b1 going to b2.
func buildDiamond(t *testing.T) *pathfinder.CFG {
	t.Helper()
	g := pathfinder.NewCFG("f")
	b1 := g.AddBasic()
	b2 := g.AddBasic()
	b3 := g.AddBasic()
	b4 := g.AddBasic()
	exit := g.AddExit()
	g.AddEdge(g.Entry(), b1)
	g.AddTakenEdge(b1, b2)
	g.AddEdge(b1, b3)
	g.AddEdge(b2, b4)
	g.AddEdge(b3, b4)
	g.AddEdge(b4, exit)
	if err := g.ComputeLoopInfo(); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestDetailedPath_StringParseRoundTrip(t *testing.T) {
	g := buildDiamond(t)

	for _, str := range []string{
		"0->1, 1->2, 2->4, 4->5",
		"0->1, LEn#1, 1->3, LEx#1",
		"C#2, 2->4, R#2",
		"(empty)",
	} {
		p, err := pathfinder.ParseDetailedPath(g, str)
		if err != nil {
			t.Fatalf("parse %q: %v", str, err)
		}
		if got := p.String(); got != str {
			t.Fatalf("round trip: %q != %q", got, str)
		}
	}

	if _, err := pathfinder.ParseDetailedPath(g, "9->10"); err == nil {
		t.Fatal("expected error for unknown edge")
	}
}

func TestDetailedPath_Equal(t *testing.T) {
	g := buildDiamond(t)
	a, _ := pathfinder.ParseDetailedPath(g, "0->1, 1->2")
	b, _ := pathfinder.ParseDetailedPath(g, "0->1, 1->2")
	c, _ := pathfinder.ParseDetailedPath(g, "0->1, 1->3")
	if !a.Equal(b) {
		t.Fatal("equal item sequences must compare equal")
	}
	if a.Equal(c) {
		t.Fatal("different item sequences must not compare equal")
	}
}

func TestDetailedPath_RemoveContains(t *testing.T) {
	g := buildDiamond(t)
	p, _ := pathfinder.ParseDetailedPath(g, "0->1, 1->2, 2->4")
	e := g.EdgeBetween(1, 2)
	if !p.Contains(e) {
		t.Fatal("expected edge in path")
	}
	p.Remove(e)
	if p.Contains(e) {
		t.Fatal("edge still present after removal")
	}
	if got := p.String(); got != "0->1, 2->4" {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestDetailedPath_Optimize(t *testing.T) {
	g := buildDiamond(t)

	t.Run("FoldsEmptyCall", func(t *testing.T) {
		p, _ := pathfinder.ParseDetailedPath(g, "0->1, C#2, R#2, 1->2")
		p.Optimize()
		if got := p.String(); got != "0->1, 1->2" {
			t.Fatalf("unexpected path: %s", got)
		}
	})
	t.Run("KeepsCallWithEdge", func(t *testing.T) {
		p, _ := pathfinder.ParseDetailedPath(g, "C#2, 2->4, R#2")
		p.Optimize()
		if got := p.String(); got != "C#2, 2->4, R#2" {
			t.Fatalf("unexpected path: %s", got)
		}
	})
	t.Run("FoldsDegenerateLoop", func(t *testing.T) {
		p, _ := pathfinder.ParseDetailedPath(g, "0->1, LEn#1, LEx#1")
		p.Optimize()
		if got := p.String(); got != "0->1" {
			t.Fatalf("unexpected path: %s", got)
		}
	})
}

func TestDetailedPath_RemoveCallsAtEnd(t *testing.T) {
	g := buildDiamond(t)
	p, _ := pathfinder.ParseDetailedPath(g, "0->1, 1->2, C#3, R#3")
	p.RemoveCallsAtEnd()
	if got := p.String(); got != "0->1, 1->2" {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestDetailedPath_Derived(t *testing.T) {
	g := buildDiamond(t)
	p, _ := pathfinder.ParseDetailedPath(g, "0->1, 1->2, 2->4")

	if p.Function() != g {
		t.Fatal("unexpected function")
	}
	if p.FirstEdge() != g.EdgeBetween(0, 1) {
		t.Fatal("unexpected first edge")
	}
	if p.LastEdge() != g.EdgeBetween(2, 4) {
		t.Fatal("unexpected last edge")
	}
	if p.CountEdges() != 3 {
		t.Fatalf("unexpected edge count: %d", p.CountEdges())
	}
}
