package pathfinder

// Semantic interpretation of one basic block: registers, temporaries
// and memory are tracked symbolically; conditional branches fork the
// block-local predicate buffer into a taken and a fall-through set.
//
// Right shifts (SHR and ASR) are both lowered to division by a power of
// two when the shift count folds to a constant; the logical/arithmetic
// distinction is not preserved.

// ProcessBlock interprets the machine instructions of b against the
// state. After the call the fall-through predicates sit in the
// block-local buffer and, when the block ends on a conditional, the
// taken-branch predicates sit in the taken buffer; AppendEdge selects
// between them.
func (s *State) ProcessBlock(b *Block, vm *VarMaker, log Logger) {
	if s.bottom {
		return
	}
	s.generatedPreds = nil
	s.generatedPredsTaken = nil
	s.forked = false
	s.lvars.ClearUpdated()

	var genBeforeCond []LabelledPredicate
	var lastCond Inst
	forkOpen := false

	for _, mi := range b.Insts() {
		for _, in := range mi.Sem {
			switch in.Op {
			case NOP, BRANCH:
				// no effect on the symbolic state

			case IF:
				lastCond = in
				forkOpen = true
				genBeforeCond = append([]LabelledPredicate(nil), s.generatedPreds...)
				if p, ok := s.conditionalPredicate(lastCond, true); ok {
					s.generatedPreds = append(s.generatedPreds, LabelledPredicate{Pred: p, Labels: NewEdgeSet()})
				}

			case CONT:
				s.invalidateTempVars()
				s.generatedPredsTaken = s.generatedPreds
				s.generatedPreds = genBeforeCond
				s.forked = true
				forkOpen = false
				if p, ok := s.conditionalPredicate(lastCond, false); ok {
					s.generatedPreds = append(s.generatedPreds, LabelledPredicate{Pred: p, Labels: NewEdgeSet()})
				}

			case LOAD:
				d := int32(in.Reg)
				addr, ok := resolveAddr(s.value(in.Addr, vm))
				if !ok {
					log.Debugf("load: unresolvable address in %s, scratching r%d", b, d)
					s.scratch(d, vm)
					break
				}
				if v, ok := s.ctx.DFA.Lookup(addr); ok {
					s.lvars.Set(d, s.dag.Const(v))
				} else if t, ok := s.mem.Get(addr); ok {
					s.lvars.Set(d, t)
				} else {
					top := vm.New()
					s.lvars.Set(d, top)
					s.mem = s.mem.Set(addr, top)
				}

			case STORE:
				addr, ok := resolveAddr(s.value(in.Addr, vm))
				if !ok {
					log.Warnf("store: unresolvable address in %s, scratching whole memory", b)
					s.scratchAllMemory()
					break
				}
				s.mem = s.mem.Set(addr, s.value(in.Reg, vm))

			case SCRATCH:
				s.scratch(int32(in.D), vm)

			case SET:
				s.lvars.Set(int32(in.D), s.value(in.A, vm))

			case SETI:
				s.lvars.Set(int32(in.D), s.dag.Const(in.Cst))

			case CMP, CMPU:
				s.lvars.Set(int32(in.D), s.dag.Cmp(s.value(in.A, vm), s.value(in.B, vm)))

			case ADD:
				s.lvars.Set(int32(in.D), s.dag.Add(s.value(in.A, vm), s.value(in.B, vm)))

			case SUB:
				if in.A == in.B {
					s.lvars.Set(int32(in.D), s.dag.Const(0))
				} else {
					s.lvars.Set(int32(in.D), s.dag.Sub(s.value(in.A, vm), s.value(in.B, vm)))
				}

			case SHL, SHR, ASR:
				k, ok := shiftCount(s.value(in.B, vm))
				if !ok {
					log.Debugf("%s: non-constant shift count in %s, scratching r%d", in.Op, b, in.D)
					s.scratch(int32(in.D), vm)
					break
				}
				pow := s.dag.Const(int32(1) << k)
				if in.Op == SHL {
					s.lvars.Set(int32(in.D), s.dag.Mul(s.value(in.A, vm), pow))
				} else {
					s.lvars.Set(int32(in.D), s.dag.Div(s.value(in.A, vm), pow))
				}

			case NEG:
				s.lvars.Set(int32(in.D), s.dag.Neg(s.value(in.A, vm)))

			case MUL, MULU:
				s.lvars.Set(int32(in.D), s.dag.Mul(s.value(in.A, vm), s.value(in.B, vm)))

			case DIV, DIVU:
				s.lvars.Set(int32(in.D), s.dag.Div(s.value(in.A, vm), s.value(in.B, vm)))

			case MOD, MODU:
				s.lvars.Set(int32(in.D), s.dag.Mod(s.value(in.A, vm), s.value(in.B, vm)))

			case NOT, AND, OR, XOR, SETP, SPEC:
				log.Warnf("unmodeled %s in %s, scratching r%d", in.Op, b, in.D)
				s.scratch(int32(in.D), vm)

			default:
				log.Warnf("unknown opcode %s in %s", in.Op, b)
			}
		}

		// A machine instruction's taken path may end without an
		// explicit CONT when the branch is its last microinstruction.
		if forkOpen {
			s.invalidateTempVars()
			s.generatedPredsTaken = s.generatedPreds
			s.generatedPreds = genBeforeCond
			s.forked = true
			forkOpen = false
			if p, ok := s.conditionalPredicate(lastCond, false); ok {
				s.generatedPreds = append(s.generatedPreds, LabelledPredicate{Pred: p, Labels: NewEdgeSet()})
			}
		}

		// Temporaries are freed at the end of every machine
		// instruction.
		s.invalidateTempVars()
	}

	s.spIsLocal = s.lvars.Get(int32(s.ctx.SP)) == s.dag.SPRel(0)
}

// value returns the current term of a register or temporary. Reading an
// unset temporary allocates an opaque unknown.
func (s *State) value(id int16, vm *VarMaker) Term {
	t := s.lvars.Get(int32(id))
	if t == nil {
		t = vm.New()
		s.lvars.Set(int32(id), t)
	}
	return t
}

// scratch binds id to a fresh opaque unknown.
func (s *State) scratch(id int32, vm *VarMaker) {
	s.lvars.Set(id, vm.New())
}

// resolveAddr reduces an address term to an absolute or SP-relative
// constant.
func resolveAddr(t Term) (Constant, bool) {
	c, ok := t.(*ConstTerm)
	if !ok || c.Value.Tag == SPNeg {
		return Constant{}, false
	}
	return c.Value, true
}

// shiftCount extracts a usable constant shift amount.
func shiftCount(t Term) (int32, bool) {
	c, ok := t.(*ConstTerm)
	if !ok || !c.Value.IsAbsolute() || c.Value.Val < 0 || c.Value.Val > 31 {
		return 0, false
	}
	return c.Value.Val, true
}

// conditionalPredicate derives the predicate implied by the stored
// comparison value of the branch's status register. Unsigned condition
// kinds map like their signed counterparts.
func (s *State) conditionalPredicate(branch Inst, taken bool) (Predicate, bool) {
	v, ok := s.lvars.Get(int32(branch.SR)).(*ArithTerm)
	if !ok || v.Op != OpCmp {
		return Predicate{}, false
	}
	l, r := v.A, v.B

	var op CondOp
	reverse := false
	switch branch.Cond {
	case CondEq:
		op = CondEQ
	case CondNe:
		op = CondNE
	case CondLt, CondULt:
		op = CondLT
	case CondLe, CondULe:
		op = CondLE
	case CondGe, CondUGe:
		op = CondLE
		reverse = true
	case CondGt, CondUGt:
		op = CondLT
		reverse = true
	default:
		return Predicate{}, false
	}
	if !taken {
		// invert: =/!= swap, strict and non-strict swap with reversal
		switch op {
		case CondEQ:
			op = CondNE
		case CondNE:
			op = CondEQ
		case CondLT:
			op = CondLE
			reverse = !reverse
		case CondLE:
			op = CondLT
			reverse = !reverse
		}
	}
	if reverse {
		l, r = r, l
	}
	return NewPredicate(op, l, r)
}

// invalidateTempVars frees the temporaries at the end of a machine
// instruction or branch path. Information is kept where possible: a
// predicate solving a temporary as t = expr is substituted into the
// others before the temporary dies.
func (s *State) invalidateTempVars() {
	for changed := true; changed; {
		changed = false
		for i, lp := range s.generatedPreds {
			if lp.Pred.CountTemps() == 0 {
				continue
			}
			id, expr, ok := lp.Pred.IsolatedTemp()
			if !ok {
				continue
			}
			s.generatedPreds = append(s.generatedPreds[:i], s.generatedPreds[i+1:]...)
			s.substInGenerated(s.dag.Var(id), expr)
			changed = true
			break
		}
	}

	out := s.generatedPreds[:0]
	for _, lp := range s.generatedPreds {
		if lp.Pred.CountTemps() == 0 {
			out = append(out, lp)
		}
	}
	s.generatedPreds = out
	s.lvars.ResetTemps()
}

// substInGenerated replaces a leaf term in every block-local predicate.
func (s *State) substInGenerated(from, to Term) {
	m := map[Term]Term{from: to}
	out := s.generatedPreds[:0]
	for _, lp := range s.generatedPreds {
		p, ok := lp.Pred.Subst(s.dag, m)
		if !ok {
			continue // became a trivial identity
		}
		out = append(out, LabelledPredicate{Pred: p, Labels: lp.Labels})
	}
	s.generatedPreds = out
}
