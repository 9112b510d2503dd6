// Package cfgio loads CFG descriptions from their YAML form: the block
// and edge lists of each function, the microinstruction unfolding of
// every basic block, and the platform context (stack pointer, register
// and temporary counts, initial memory).
package cfgio

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wcetlab/pathfinder"
)

// Program is a loaded CFG set with its platform context.
type Program struct {
	CFGs    []*pathfinder.CFG
	Entry   *pathfinder.CFG
	Context pathfinder.Context
}

type programDoc struct {
	SP        int          `yaml:"sp"`
	Registers int          `yaml:"registers"`
	Temps     int          `yaml:"temps"`
	Entry     string       `yaml:"entry"`
	Initial   []initialDoc `yaml:"initial"`
	CFGs      []cfgDoc     `yaml:"cfgs"`
}

type initialDoc struct {
	Addr  int32 `yaml:"addr"`
	Value int32 `yaml:"value"`
}

type cfgDoc struct {
	Name   string     `yaml:"name"`
	Blocks []blockDoc `yaml:"blocks"`
	Edges  []edgeDoc  `yaml:"edges"`
}

type blockDoc struct {
	Kind   string      `yaml:"kind"`
	Callee string      `yaml:"callee,omitempty"`
	Insts  [][]instDoc `yaml:"insts,omitempty"`
}

type edgeDoc struct {
	Source int  `yaml:"source"`
	Target int  `yaml:"target"`
	Taken  bool `yaml:"taken,omitempty"`
}

type instDoc struct {
	Op   string `yaml:"op"`
	D    int16  `yaml:"d,omitempty"`
	A    int16  `yaml:"a,omitempty"`
	B    int16  `yaml:"b,omitempty"`
	Cst  int32  `yaml:"cst,omitempty"`
	Addr int16  `yaml:"addr,omitempty"`
	Reg  int16  `yaml:"reg,omitempty"`
	Cond string `yaml:"cond,omitempty"`
	SR   int16  `yaml:"sr,omitempty"`
}

var opcodes = map[string]pathfinder.Opcode{
	"nop": pathfinder.NOP, "branch": pathfinder.BRANCH,
	"if": pathfinder.IF, "cont": pathfinder.CONT,
	"load": pathfinder.LOAD, "store": pathfinder.STORE,
	"scratch": pathfinder.SCRATCH,
	"set":     pathfinder.SET, "seti": pathfinder.SETI, "setp": pathfinder.SETP,
	"cmp": pathfinder.CMP, "cmpu": pathfinder.CMPU,
	"add": pathfinder.ADD, "sub": pathfinder.SUB,
	"shl": pathfinder.SHL, "shr": pathfinder.SHR, "asr": pathfinder.ASR,
	"neg": pathfinder.NEG, "not": pathfinder.NOT,
	"and": pathfinder.AND, "or": pathfinder.OR, "xor": pathfinder.XOR,
	"mul": pathfinder.MUL, "mulu": pathfinder.MULU,
	"div": pathfinder.DIV, "divu": pathfinder.DIVU,
	"mod": pathfinder.MOD, "modu": pathfinder.MODU,
	"spec": pathfinder.SPEC,
}

var conds = map[string]pathfinder.Cond{
	"eq": pathfinder.CondEq, "ne": pathfinder.CondNe,
	"lt": pathfinder.CondLt, "le": pathfinder.CondLe,
	"ge": pathfinder.CondGe, "gt": pathfinder.CondGt,
	"ult": pathfinder.CondULt, "ule": pathfinder.CondULe,
	"uge": pathfinder.CondUGe, "ugt": pathfinder.CondUGt,
}

// LoadFile loads a program description from a YAML file.
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load loads a program description from YAML.
func Load(r io.Reader) (*Program, error) {
	var doc programDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("cfgio: %w", err)
	}
	if len(doc.CFGs) == 0 {
		return nil, fmt.Errorf("cfgio: no cfgs in document")
	}
	if doc.Registers == 0 {
		doc.Registers = 16
	}
	if doc.Temps == 0 {
		doc.Temps = 16
	}

	prog := &Program{
		Context: pathfinder.Context{
			SP:           doc.SP,
			MaxRegisters: doc.Registers,
			MaxTempVars:  doc.Temps,
			DFA:          pathfinder.NewInitialState(),
		},
	}
	for _, cell := range doc.Initial {
		prog.Context.DFA.Set(cell.Addr, cell.Value)
	}

	// First pass: create the CFGs so call blocks can reference them.
	byName := make(map[string]*pathfinder.CFG, len(doc.CFGs))
	for _, cd := range doc.CFGs {
		if cd.Name == "" {
			return nil, fmt.Errorf("cfgio: unnamed cfg")
		}
		if _, dup := byName[cd.Name]; dup {
			return nil, fmt.Errorf("cfgio: duplicate cfg %q", cd.Name)
		}
		g := pathfinder.NewCFG(cd.Name)
		byName[cd.Name] = g
		prog.CFGs = append(prog.CFGs, g)
	}

	for i, cd := range doc.CFGs {
		if err := buildCFG(prog.CFGs[i], cd, byName); err != nil {
			return nil, err
		}
	}

	entry := doc.Entry
	if entry == "" {
		entry = doc.CFGs[0].Name
	}
	prog.Entry = byName[entry]
	if prog.Entry == nil {
		return nil, fmt.Errorf("cfgio: entry cfg %q not found", entry)
	}
	return prog, nil
}

func buildCFG(g *pathfinder.CFG, cd cfgDoc, byName map[string]*pathfinder.CFG) error {
	if len(cd.Blocks) == 0 || cd.Blocks[0].Kind != "entry" {
		return fmt.Errorf("cfgio: cfg %q must start with its entry block", cd.Name)
	}
	for i, bd := range cd.Blocks[1:] {
		switch bd.Kind {
		case "basic", "":
			insts, err := buildInsts(bd.Insts)
			if err != nil {
				return fmt.Errorf("cfgio: cfg %q block %d: %w", cd.Name, i+1, err)
			}
			g.AddBasic(insts...)
		case "call":
			callee := byName[bd.Callee]
			if callee == nil {
				return fmt.Errorf("cfgio: cfg %q block %d: unknown callee %q", cd.Name, i+1, bd.Callee)
			}
			g.AddSynth(callee)
		case "exit":
			g.AddExit()
		case "entry":
			return fmt.Errorf("cfgio: cfg %q has more than one entry block", cd.Name)
		default:
			return fmt.Errorf("cfgio: cfg %q block %d: unknown kind %q", cd.Name, i+1, bd.Kind)
		}
	}

	for _, ed := range cd.Edges {
		src, dst := g.Block(ed.Source), g.Block(ed.Target)
		if src == nil || dst == nil {
			return fmt.Errorf("cfgio: cfg %q: edge %d->%d out of range", cd.Name, ed.Source, ed.Target)
		}
		if ed.Taken {
			g.AddTakenEdge(src, dst)
		} else {
			g.AddEdge(src, dst)
		}
	}

	if g.Exit() != nil {
		if err := g.ComputeLoopInfo(); err != nil {
			return err
		}
	}
	return nil
}

func buildInsts(docs [][]instDoc) ([]pathfinder.MachineInst, error) {
	var out []pathfinder.MachineInst
	for _, mi := range docs {
		var sem []pathfinder.Inst
		for _, id := range mi {
			in, err := buildInst(id)
			if err != nil {
				return nil, err
			}
			sem = append(sem, in)
		}
		out = append(out, pathfinder.MI(sem...))
	}
	return out, nil
}

func buildInst(id instDoc) (pathfinder.Inst, error) {
	op, ok := opcodes[strings.ToLower(id.Op)]
	if !ok {
		return pathfinder.Inst{}, fmt.Errorf("unknown opcode %q", id.Op)
	}
	in := pathfinder.Inst{
		Op: op, D: id.D, A: id.A, B: id.B,
		Cst: id.Cst, Addr: id.Addr, Reg: id.Reg, SR: id.SR,
	}
	if id.Cond != "" {
		cond, ok := conds[strings.ToLower(id.Cond)]
		if !ok {
			return pathfinder.Inst{}, fmt.Errorf("unknown condition %q", id.Cond)
		}
		in.Cond = cond
	}
	return in, nil
}
