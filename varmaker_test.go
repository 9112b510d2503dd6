package pathfinder_test

import (
	"testing"

	"github.com/wcetlab/pathfinder"
)

func TestVarMaker_New(t *testing.T) {
	d := pathfinder.NewDAG()
	vm := pathfinder.NewVarMaker(d)

	a, b := vm.New(), vm.New()
	if a == b {
		t.Fatal("every allocation must be unique")
	}
	if vm.Len() != 2 {
		t.Fatalf("unexpected length: %d", vm.Len())
	}
}

func TestVarMaker_UniqueAcrossMakers(t *testing.T) {
	d := pathfinder.NewDAG()
	vm1 := pathfinder.NewVarMaker(d)
	vm2 := pathfinder.NewVarMaker(d)
	if vm1.New() == vm2.New() {
		t.Fatal("makers sharing a DAG must not collide")
	}
}

func TestVarMaker_Import(t *testing.T) {
	d := pathfinder.NewDAG()
	caller := pathfinder.NewVarMaker(d)
	callee := pathfinder.NewVarMaker(d)
	t1, t2 := callee.New(), callee.New()

	m := caller.Import(callee)
	if len(m) != 2 {
		t.Fatalf("unexpected mapping size: %d", len(m))
	}
	if m[t1] == pathfinder.Term(t1) || m[t2] == pathfinder.Term(t2) {
		t.Fatal("imported tops must be renumbered")
	}
	if m[t1] == m[t2] {
		t.Fatal("imported tops must stay distinct")
	}
	if caller.Len() != 2 {
		t.Fatalf("unexpected caller length: %d", caller.Len())
	}

	if caller.Import(nil) != nil {
		t.Fatal("importing nothing yields no mapping")
	}
}

func TestVarMaker_Minimize(t *testing.T) {
	d := pathfinder.NewDAG()
	vm := pathfinder.NewVarMaker(d)
	a := vm.New()
	vm.New()

	used := map[*pathfinder.TopTerm]struct{}{a: {}}
	vm.Minimize(used, false)
	if vm.Len() != 2 {
		t.Fatal("minimize without the clean flag must keep everything")
	}
	vm.Minimize(used, true)
	if vm.Len() != 1 {
		t.Fatalf("unexpected length after minimize: %d", vm.Len())
	}
}
