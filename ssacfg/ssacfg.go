// Package ssacfg lowers go/ssa functions into pathfinder CFGs with
// semantic microinstructions. It exists for tests and demos: integer
// parameters become registers, arithmetic and comparisons lower
// directly, and anything outside that fragment conservatively scratches
// its destination.
package ssacfg

import (
	"fmt"
	"go/constant"
	"go/token"

	"golang.org/x/tools/go/ssa"

	"github.com/wcetlab/pathfinder"
)

// spRegister is reserved for the stack pointer, which Go SSA code never
// touches.
const spRegister = 0

// Builder lowers one function at a time, keeping a stable register
// assignment per ssa.Value.
type Builder struct {
	regs   map[ssa.Value]int16
	nextID int16
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{regs: make(map[ssa.Value]int16), nextID: spRegister + 1}
}

// Context returns the platform context covering every register the
// builder allocated.
func (b *Builder) Context() pathfinder.Context {
	return pathfinder.Context{
		SP:           spRegister,
		MaxRegisters: int(b.nextID) + 1,
		MaxTempVars:  8,
		DFA:          pathfinder.NewInitialState(),
	}
}

func (b *Builder) reg(v ssa.Value) int16 {
	if id, ok := b.regs[v]; ok {
		return id
	}
	id := b.nextID
	b.nextID++
	b.regs[v] = id
	return id
}

// Build lowers fn into a CFG. Loop info is computed from the dominator
// tree of the result.
func (b *Builder) Build(fn *ssa.Function) (*pathfinder.CFG, error) {
	if len(fn.Blocks) == 0 {
		return nil, fmt.Errorf("ssacfg: %s has no blocks", fn)
	}

	g := pathfinder.NewCFG(fn.Name())
	blocks := make([]*pathfinder.Block, len(fn.Blocks))

	// One lowered block per SSA block; instructions are attached after
	// creation so phi moves can target predecessors.
	lowered := make([][]pathfinder.MachineInst, len(fn.Blocks))
	for i := range fn.Blocks {
		blocks[i] = g.AddBasic()
	}
	exit := g.AddExit()

	for i, sb := range fn.Blocks {
		for _, instr := range sb.Instrs {
			mis, err := b.lower(instr)
			if err != nil {
				return nil, err
			}
			lowered[i] = append(lowered[i], mis...)
		}
	}

	// Phi elimination: each predecessor assigns the phi's register.
	for _, sb := range fn.Blocks {
		for _, instr := range sb.Instrs {
			phi, ok := instr.(*ssa.Phi)
			if !ok {
				continue
			}
			d := b.reg(phi)
			for pi, pred := range sb.Preds {
				// A predecessor with several successors cannot carry
				// the move (it belongs on the edge); the phi register
				// is conservatively opaque there.
				move, ok := b.assign(d, phi.Edges[pi])
				if !ok || len(pred.Succs) > 1 {
					move = pathfinder.MI(pathfinder.Scratch(d))
				}
				lowered[pred.Index] = append(lowered[pred.Index], move)
			}
		}
	}

	setInsts(blocks, lowered)

	// Edges mirror the SSA successor lists; an If's first successor is
	// the taken branch.
	g.AddEdge(g.Entry(), blocks[0])
	for i, sb := range fn.Blocks {
		if last := lastInstr(sb); last != nil {
			if _, isIf := last.(*ssa.If); isIf && len(sb.Succs) == 2 {
				g.AddTakenEdge(blocks[i], blocks[sb.Succs[0].Index])
				g.AddEdge(blocks[i], blocks[sb.Succs[1].Index])
				continue
			}
			if _, isRet := last.(*ssa.Return); isRet {
				g.AddEdge(blocks[i], exit)
				continue
			}
		}
		for _, succ := range sb.Succs {
			g.AddEdge(blocks[i], blocks[succ.Index])
		}
	}

	if err := g.ComputeLoopInfo(); err != nil {
		return nil, err
	}
	return g, nil
}

// lower translates one SSA instruction into machine instructions.
func (b *Builder) lower(instr ssa.Instruction) ([]pathfinder.MachineInst, error) {
	switch instr := instr.(type) {
	case *ssa.BinOp:
		return b.lowerBinOp(instr)

	case *ssa.UnOp:
		d := b.reg(instr)
		if instr.Op == token.SUB {
			if a, ok := b.operand(instr.X); ok {
				return []pathfinder.MachineInst{pathfinder.MI(pathfinder.Neg(d, a))}, nil
			}
		}
		return []pathfinder.MachineInst{pathfinder.MI(pathfinder.Scratch(d))}, nil

	case *ssa.Phi:
		// handled by phi elimination in Build
		return nil, nil

	case *ssa.If:
		return b.lowerIf(instr)

	case *ssa.Jump, *ssa.Return:
		// control flow is carried by the edges
		return nil, nil

	case *ssa.Call:
		// Calls are outside the lowered fragment; the result is opaque.
		return []pathfinder.MachineInst{pathfinder.MI(pathfinder.Scratch(b.reg(instr)))}, nil

	default:
		if v, ok := instr.(ssa.Value); ok {
			return []pathfinder.MachineInst{pathfinder.MI(pathfinder.Scratch(b.reg(v)))}, nil
		}
		return nil, nil
	}
}

func (b *Builder) lowerBinOp(instr *ssa.BinOp) ([]pathfinder.MachineInst, error) {
	d := b.reg(instr)
	var sem []pathfinder.Inst
	nextTemp := int16(-1)
	materialize := func(v ssa.Value) (int16, bool) {
		if k, ok := constInt(v); ok {
			t := nextTemp
			nextTemp--
			sem = append(sem, pathfinder.Seti(t, k))
			return t, true
		}
		return b.operand(v)
	}

	a, aok := materialize(instr.X)
	c, cok := materialize(instr.Y)
	if !aok || !cok {
		return []pathfinder.MachineInst{pathfinder.MI(pathfinder.Scratch(d))}, nil
	}

	var in pathfinder.Inst
	switch instr.Op {
	case token.ADD:
		in = pathfinder.Add(d, a, c)
	case token.SUB:
		in = pathfinder.Sub(d, a, c)
	case token.MUL:
		in = pathfinder.Mul(d, a, c)
	case token.QUO:
		in = pathfinder.Div(d, a, c)
	case token.REM:
		in = pathfinder.Mod(d, a, c)
	case token.SHL:
		in = pathfinder.Shl(d, a, c)
	case token.SHR:
		in = pathfinder.Shr(d, a, c)
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		in = pathfinder.Cmp(d, a, c)
	default:
		in = pathfinder.Scratch(d)
	}
	sem = append(sem, in)
	return []pathfinder.MachineInst{pathfinder.MI(sem...)}, nil
}

// lowerIf emits the IF/CONT pair reading the comparison register of the
// branch condition.
func (b *Builder) lowerIf(instr *ssa.If) ([]pathfinder.MachineInst, error) {
	binop, ok := instr.Cond.(*ssa.BinOp)
	if !ok {
		// Opaque condition: branch with no derivable predicate.
		return []pathfinder.MachineInst{pathfinder.MI(pathfinder.Branch())}, nil
	}
	var cond pathfinder.Cond
	switch binop.Op {
	case token.EQL:
		cond = pathfinder.CondEq
	case token.NEQ:
		cond = pathfinder.CondNe
	case token.LSS:
		cond = pathfinder.CondLt
	case token.LEQ:
		cond = pathfinder.CondLe
	case token.GTR:
		cond = pathfinder.CondGt
	case token.GEQ:
		cond = pathfinder.CondGe
	default:
		return []pathfinder.MachineInst{pathfinder.MI(pathfinder.Branch())}, nil
	}
	sr := b.reg(binop)
	return []pathfinder.MachineInst{
		pathfinder.MI(pathfinder.If(cond, sr), pathfinder.Cont()),
	}, nil
}

// assign emits a move of v into register d.
func (b *Builder) assign(d int16, v ssa.Value) (pathfinder.MachineInst, bool) {
	if k, ok := constInt(v); ok {
		return pathfinder.MI(pathfinder.Seti(d, k)), true
	}
	if a, ok := b.operand(v); ok {
		return pathfinder.MI(pathfinder.Set(d, a)), true
	}
	return pathfinder.MachineInst{}, false
}

// operand returns the register holding v. Constants are materialized
// by the caller.
func (b *Builder) operand(v ssa.Value) (int16, bool) {
	switch v.(type) {
	case *ssa.Parameter, *ssa.BinOp, *ssa.UnOp, *ssa.Phi, *ssa.Call:
		return b.reg(v), true
	default:
		return 0, false
	}
}

func constInt(v ssa.Value) (int32, bool) {
	c, ok := v.(*ssa.Const)
	if !ok || c.Value == nil || c.Value.Kind() != constant.Int {
		return 0, false
	}
	return int32(c.Int64()), true
}

func lastInstr(b *ssa.BasicBlock) ssa.Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

func setInsts(blocks []*pathfinder.Block, lowered [][]pathfinder.MachineInst) {
	for i, mis := range lowered {
		blocks[i].SetInsts(mis)
	}
}
