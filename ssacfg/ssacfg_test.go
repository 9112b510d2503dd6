package ssacfg_test

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/wcetlab/pathfinder"
	"github.com/wcetlab/pathfinder/ssacfg"
)

func buildSSA(t *testing.T, src string) *ssa.Package {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", src, 0)
	if err != nil {
		t.Fatal(err)
	}
	pkg := types.NewPackage("p", "")
	ssapkg, _, err := ssautil.BuildPackage(
		&types.Config{Importer: importer.Default()},
		fset, pkg, []*ast.File{f}, ssa.SanityCheckFunctions,
	)
	if err != nil {
		t.Fatal(err)
	}
	return ssapkg
}

func TestBuild_Branch(t *testing.T) {
	pkg := buildSSA(t, `package p
func Max(a, b int) int {
	if a < b {
		return b
	}
	return a
}`)
	b := ssacfg.NewBuilder()
	g, err := b.Build(pkg.Func("Max"))
	if err != nil {
		t.Fatal(err)
	}

	if g.Exit() == nil {
		t.Fatal("lowered CFG must have an exit")
	}
	foundIf := false
	for _, blk := range g.Blocks() {
		for _, mi := range blk.Insts() {
			for _, in := range mi.Sem {
				if in.Op == pathfinder.IF && in.Cond == pathfinder.CondLt {
					foundIf = true
				}
			}
		}
	}
	if !foundIf {
		t.Fatal("comparison branch not lowered to IF lt")
	}
}

func TestBuild_Loop(t *testing.T) {
	pkg := buildSSA(t, `package p
func Sum(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		s += i
	}
	return s
}`)
	b := ssacfg.NewBuilder()
	g, err := b.Build(pkg.Func("Sum"))
	if err != nil {
		t.Fatal(err)
	}

	header := false
	for _, blk := range g.Blocks() {
		if blk.IsLoopHeader() {
			header = true
		}
	}
	if !header {
		t.Fatal("loop header not detected in lowered CFG")
	}
}

func TestBuild_RunsUnderAnalysis(t *testing.T) {
	pkg := buildSSA(t, `package p
func Clamp(x int) int {
	if x > 10 {
		x = 10
	}
	if x < 0 {
		x = 0
	}
	return x
}`)
	b := ssacfg.NewBuilder()
	g, err := b.Build(pkg.Func("Clamp"))
	if err != nil {
		t.Fatal(err)
	}

	a, err := pathfinder.NewAnalysis(b.Context(), nil, pathfinder.Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Run(g); err != nil {
		t.Fatal(err)
	}
}
