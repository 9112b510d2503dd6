package pathfinder

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// RelTag describes how a Constant is anchored: as an absolute value or
// relative to the stack pointer at function entry.
type RelTag uint8

const (
	Abs   RelTag = iota // plain integer
	SPPos               // sp + Val
	SPNeg               // Val - sp
)

// Constant is a 32-bit integer constant, possibly stack-pointer relative
// so that sp+c can be carried as a single value.
type Constant struct {
	Val int32
	Tag RelTag
}

// Cst returns an absolute constant.
func Cst(v int32) Constant { return Constant{Val: v} }

// SPRel returns the stack-pointer-relative constant sp+off.
func SPRel(off int32) Constant { return Constant{Val: off, Tag: SPPos} }

func (c Constant) IsAbsolute() bool { return c.Tag == Abs }
func (c Constant) IsRelative() bool { return c.Tag != Abs }

func (c Constant) String() string {
	switch c.Tag {
	case SPPos:
		if c.Val == 0 {
			return "sp"
		} else if c.Val < 0 {
			return fmt.Sprintf("sp-%d", -c.Val)
		}
		return fmt.Sprintf("sp+%d", c.Val)
	case SPNeg:
		return fmt.Sprintf("%d-sp", c.Val)
	default:
		return fmt.Sprintf("%d", c.Val)
	}
}

// Compare orders constants by tag, then value. Used by the sorted
// memory store.
func (c Constant) Compare(o Constant) int {
	if c.Tag != o.Tag {
		if c.Tag < o.Tag {
			return -1
		}
		return 1
	}
	if c.Val < o.Val {
		return -1
	} else if c.Val > o.Val {
		return 1
	}
	return 0
}

// add returns c+o, retagging mixed absolute/SP-relative operands.
// Returns false if the sum is not representable (e.g. sp+sp).
func (c Constant) add(o Constant) (Constant, bool) {
	switch {
	case c.Tag == Abs && o.Tag == Abs:
		return Constant{Val: c.Val + o.Val}, true
	case c.Tag == Abs:
		return Constant{Val: c.Val + o.Val, Tag: o.Tag}, true
	case o.Tag == Abs:
		return Constant{Val: c.Val + o.Val, Tag: c.Tag}, true
	case c.Tag == SPPos && o.Tag == SPNeg, c.Tag == SPNeg && o.Tag == SPPos:
		return Constant{Val: c.Val + o.Val}, true // sp cancels out
	default:
		return Constant{}, false
	}
}

// neg returns -c. -(sp+k) is k' - sp, and conversely.
func (c Constant) neg() Constant {
	switch c.Tag {
	case SPPos:
		return Constant{Val: -c.Val, Tag: SPNeg}
	case SPNeg:
		return Constant{Val: -c.Val, Tag: SPPos}
	default:
		return Constant{Val: -c.Val}
	}
}

func (c Constant) sub(o Constant) (Constant, bool) { return c.add(o.neg()) }

func (c Constant) mul(o Constant) (Constant, bool) {
	if c.Tag != Abs || o.Tag != Abs {
		return Constant{}, false
	}
	return Constant{Val: c.Val * o.Val}, true
}

func (c Constant) div(o Constant) (Constant, bool) {
	if c.Tag != Abs || o.Tag != Abs || o.Val == 0 {
		return Constant{}, false
	}
	return Constant{Val: c.Val / o.Val}, true
}

func (c Constant) mod(o Constant) (Constant, bool) {
	if c.Tag != Abs || o.Tag != Abs || o.Val == 0 {
		return Constant{}, false
	}
	return Constant{Val: c.Val % o.Val}, true
}

// ArithOp represents an arithmetic term operation.
type ArithOp uint8

const (
	OpNeg ArithOp = iota // unary
	OpAdd
	OpSub
	OpMul
	OpMulh
	OpDiv
	OpDivmod
	OpMod
	OpCmp
)

var arithOps = [...]string{
	OpNeg:    "neg",
	OpAdd:    "+",
	OpSub:    "-",
	OpMul:    "*",
	OpMulh:   "*H",
	OpDiv:    "/",
	OpDivmod: "/%",
	OpMod:    "%",
	OpCmp:    "~",
}

// String returns the string representation of the operation.
func (op ArithOp) String() string {
	if int(op) < len(arithOps) && arithOps[op] != "" {
		return arithOps[op]
	}
	return fmt.Sprintf("ArithOp<%d>", op)
}

// IsUnary returns true if op takes a single operand.
func (op ArithOp) IsUnary() bool { return op == OpNeg }

// Term is a node of the hash-consed symbolic term DAG. Terms are
// immutable and interned: structurally equal terms share the same
// address, so equality downstream is pointer comparison.
type Term interface {
	fmt.Stringer
	term()
	hashKey() uint64
}

func (*ConstTerm) term() {}
func (*VarTerm) term()   {}
func (*MemTerm) term()   {}
func (*ArithTerm) term() {}
func (*IterTerm) term()  {}
func (*TopTerm) term()   {}

// ConstTerm is an integer constant, possibly SP-relative.
type ConstTerm struct {
	Value Constant
}

func (t *ConstTerm) String() string { return t.Value.String() }

func (t *ConstTerm) hashKey() uint64 {
	var b [8]byte
	b[0] = 'c'
	b[1] = byte(t.Value.Tag)
	binary.LittleEndian.PutUint32(b[2:], uint32(t.Value.Val))
	return xxhash.Sum64(b[:])
}

// VarTerm is a machine register (ID >= 0) or a temporary (ID < 0) as
// valued at the entry of the current scope.
type VarTerm struct {
	ID int32
}

// IsTemp returns true if the variable is a temporary.
func (t *VarTerm) IsTemp() bool { return t.ID < 0 }

func (t *VarTerm) String() string {
	if t.ID < 0 {
		return fmt.Sprintf("t%d", -t.ID)
	}
	return fmt.Sprintf("r%d", t.ID)
}

func (t *VarTerm) hashKey() uint64 {
	var b [8]byte
	b[0] = 'v'
	binary.LittleEndian.PutUint32(b[2:], uint32(t.ID))
	return xxhash.Sum64(b[:])
}

// MemTerm is the value held by the memory cell at a constant address,
// absolute or SP-relative.
type MemTerm struct {
	Addr Constant
}

func (t *MemTerm) String() string { return fmt.Sprintf("[%s]", t.Addr) }

func (t *MemTerm) hashKey() uint64 {
	var b [8]byte
	b[0] = 'm'
	b[1] = byte(t.Addr.Tag)
	binary.LittleEndian.PutUint32(b[2:], uint32(t.Addr.Val))
	return xxhash.Sum64(b[:])
}

// ArithTerm is an arithmetic operation over one or two terms.
// B is nil for unary operations.
type ArithTerm struct {
	Op ArithOp
	A  Term
	B  Term
	h  uint64
}

func (t *ArithTerm) String() string {
	if t.Op.IsUnary() {
		return fmt.Sprintf("-(%s)", t.A)
	}
	return fmt.Sprintf("(%s %s %s)", t.A, t.Op, t.B)
}

func (t *ArithTerm) hashKey() uint64 { return t.h }

// IterTerm is the symbolic induction variable of a loop header: it
// stands for "the value at some iteration" after acceleration.
type IterTerm struct {
	Header *Block
}

func (t *IterTerm) String() string { return fmt.Sprintf("I%d", t.Header.Index()) }

func (t *IterTerm) hashKey() uint64 {
	var b [8]byte
	b[0] = 'i'
	binary.LittleEndian.PutUint32(b[2:], uint32(t.Header.Index()))
	return xxhash.Sum64(b[:])
}

// TopTerm is an opaque unknown, unique per allocation.
type TopTerm struct {
	UID int64
}

func (t *TopTerm) String() string { return fmt.Sprintf("T%d", t.UID) }

func (t *TopTerm) hashKey() uint64 {
	var b [9]byte
	b[0] = 'T'
	binary.LittleEndian.PutUint64(b[1:], uint64(t.UID))
	return xxhash.Sum64(b[:])
}

// DAG interns terms so that structural equality is address identity.
// Construction applies constant folding and algebraic normalization
// bottom-up; any term has a deterministic canonical form.
type DAG struct {
	buckets map[uint64][]Term
	nextTop int64
}

// NewDAG returns an empty term DAG.
func NewDAG() *DAG {
	return &DAG{buckets: make(map[uint64][]Term)}
}

func (d *DAG) intern(t Term) Term {
	h := t.hashKey()
	for _, o := range d.buckets[h] {
		if shallowEq(o, t) {
			return o
		}
	}
	d.buckets[h] = append(d.buckets[h], t)
	return t
}

// shallowEq compares two terms one level deep. Children are interned,
// so they compare by address.
func shallowEq(a, b Term) bool {
	switch a := a.(type) {
	case *ConstTerm:
		o, ok := b.(*ConstTerm)
		return ok && a.Value == o.Value
	case *VarTerm:
		o, ok := b.(*VarTerm)
		return ok && a.ID == o.ID
	case *MemTerm:
		o, ok := b.(*MemTerm)
		return ok && a.Addr == o.Addr
	case *ArithTerm:
		o, ok := b.(*ArithTerm)
		return ok && a.Op == o.Op && a.A == o.A && a.B == o.B
	case *IterTerm:
		o, ok := b.(*IterTerm)
		return ok && a.Header == o.Header
	case *TopTerm:
		o, ok := b.(*TopTerm)
		return ok && a.UID == o.UID
	default:
		panic("unreachable")
	}
}

// Const returns the interned absolute constant v.
func (d *DAG) Const(v int32) *ConstTerm { return d.ConstOf(Cst(v)) }

// SPRel returns the interned SP-relative constant sp+off.
func (d *DAG) SPRel(off int32) *ConstTerm { return d.ConstOf(SPRel(off)) }

// ConstOf returns the interned constant c.
func (d *DAG) ConstOf(c Constant) *ConstTerm {
	return d.intern(&ConstTerm{Value: c}).(*ConstTerm)
}

// Var returns the interned variable id (register if id >= 0, temporary
// otherwise).
func (d *DAG) Var(id int32) *VarTerm {
	return d.intern(&VarTerm{ID: id}).(*VarTerm)
}

// Mem returns the interned memory cell term at addr.
func (d *DAG) Mem(addr Constant) *MemTerm {
	return d.intern(&MemTerm{Addr: addr}).(*MemTerm)
}

// Iter returns the interned loop iterator operand of header h.
func (d *DAG) Iter(h *Block) *IterTerm {
	return d.intern(&IterTerm{Header: h}).(*IterTerm)
}

// top returns a fresh opaque unknown. Callers go through a VarMaker.
func (d *DAG) top() *TopTerm {
	t := &TopTerm{UID: d.nextTop}
	d.nextTop++
	return d.intern(t).(*TopTerm)
}

func (d *DAG) arith(op ArithOp, a, b Term) *ArithTerm {
	var buf [19]byte
	buf[0] = 'a'
	buf[1] = byte(op)
	binary.LittleEndian.PutUint64(buf[2:], a.hashKey())
	if b != nil {
		buf[10] = 1
		binary.LittleEndian.PutUint64(buf[11:], b.hashKey())
	}
	t := &ArithTerm{Op: op, A: a, B: b, h: xxhash.Sum64(buf[:])}
	return d.intern(t).(*ArithTerm)
}

// Arith builds op(a, b), applying simplification. b is ignored for
// unary ops.
func (d *DAG) Arith(op ArithOp, a, b Term) Term {
	switch op {
	case OpNeg:
		return d.Neg(a)
	case OpAdd:
		return d.Add(a, b)
	case OpSub:
		return d.Sub(a, b)
	case OpMul:
		return d.Mul(a, b)
	case OpDiv:
		return d.Div(a, b)
	case OpMod:
		return d.Mod(a, b)
	case OpCmp:
		return d.Cmp(a, b)
	case OpMulh, OpDivmod:
		return d.arith(op, a, b)
	default:
		panic("unreachable")
	}
}

// Neg returns -a.
func (d *DAG) Neg(a Term) Term {
	switch a := a.(type) {
	case *ConstTerm:
		return d.ConstOf(a.Value.neg())
	case *ArithTerm:
		if a.Op == OpNeg {
			return a.A
		}
		if a.Op == OpSub { // -(x-y) = y-x
			return d.Sub(a.B, a.A)
		}
	}
	return d.arith(OpNeg, a, nil)
}

// Add returns a+b. Constants bubble to the right and fold with
// neighbors; associative chains are flattened.
func (d *DAG) Add(a, b Term) Term {
	// Move constant to the right-hand side.
	if isConstTerm(a) && !isConstTerm(b) {
		a, b = b, a
	}

	if bc, ok := b.(*ConstTerm); ok {
		if ac, ok := a.(*ConstTerm); ok {
			if v, ok := ac.Value.add(bc.Value); ok {
				return d.ConstOf(v)
			}
		}
		if bc.Value == Cst(0) {
			return a
		}
		// Merge with the constant neighbor of an addition chain, when
		// the two constants actually fold.
		if aa, ok := a.(*ArithTerm); ok {
			if aa.Op == OpAdd && isConstTerm(aa.B) {
				if v, ok := aa.B.(*ConstTerm).Value.add(bc.Value); ok {
					return d.Add(aa.A, d.ConstOf(v))
				}
			}
			if aa.Op == OpSub && isConstTerm(aa.B) { // (x-c2)+c = x+(c-c2)
				if v, ok := bc.Value.sub(aa.B.(*ConstTerm).Value); ok {
					return d.Add(aa.A, d.ConstOf(v))
				}
			}
		}
	}

	// Flatten chains so the constant, if any, ends up rightmost.
	if ba, ok := b.(*ArithTerm); ok && ba.Op == OpAdd && isConstTerm(ba.B) {
		return d.Add(d.Add(a, ba.A), ba.B)
	}

	return d.arith(OpAdd, a, b)
}

// Sub returns a-b.
func (d *DAG) Sub(a, b Term) Term {
	if a == b {
		return d.Const(0)
	}
	if bc, ok := b.(*ConstTerm); ok {
		if ac, ok := a.(*ConstTerm); ok {
			if v, ok := ac.Value.sub(bc.Value); ok {
				return d.ConstOf(v)
			}
		}
		// x - c is x + (-c): keeps all constants on the add side.
		return d.Add(a, d.ConstOf(bc.Value.neg()))
	}
	if ac, ok := a.(*ConstTerm); ok && ac.Value == Cst(0) {
		return d.Neg(b)
	}
	return d.arith(OpSub, a, b)
}

// Mul returns a*b.
func (d *DAG) Mul(a, b Term) Term {
	if isConstTerm(a) && !isConstTerm(b) {
		a, b = b, a
	}
	if bc, ok := b.(*ConstTerm); ok {
		if ac, ok := a.(*ConstTerm); ok {
			if v, ok := ac.Value.mul(bc.Value); ok {
				return d.ConstOf(v)
			}
		}
		switch bc.Value {
		case Cst(0):
			return bc
		case Cst(1):
			return a
		}
		if aa, ok := a.(*ArithTerm); ok && aa.Op == OpMul && isConstTerm(aa.B) {
			if v, ok := aa.B.(*ConstTerm).Value.mul(bc.Value); ok {
				return d.Mul(aa.A, d.ConstOf(v))
			}
		}
	}
	return d.arith(OpMul, a, b)
}

// Div returns a/b.
func (d *DAG) Div(a, b Term) Term {
	if a == b {
		return d.Const(1)
	}
	if ac, ok := a.(*ConstTerm); ok {
		if ac.Value == Cst(0) {
			return ac
		}
		if bc, ok := b.(*ConstTerm); ok {
			if v, ok := ac.Value.div(bc.Value); ok {
				return d.ConstOf(v)
			}
		}
	}
	if bc, ok := b.(*ConstTerm); ok && bc.Value == Cst(1) {
		return a
	}
	return d.arith(OpDiv, a, b)
}

// Mod returns a%b.
func (d *DAG) Mod(a, b Term) Term {
	if ac, ok := a.(*ConstTerm); ok {
		if bc, ok := b.(*ConstTerm); ok {
			if v, ok := ac.Value.mod(bc.Value); ok {
				return d.ConstOf(v)
			}
		}
	}
	if bc, ok := b.(*ConstTerm); ok && bc.Value == Cst(1) {
		return d.Const(0)
	}
	if a == b {
		return d.Const(0)
	}
	return d.arith(OpMod, a, b)
}

// Cmp returns the comparison value a~b consumed later by a conditional
// branch. It is never reordered: the predicate derivation at the branch
// decides the direction.
func (d *DAG) Cmp(a, b Term) Term {
	return d.arith(OpCmp, a, b)
}

// TermVisitor rewrites the leaves of a term; DAG.Rewrite rebuilds
// arithmetic nodes bottom-up through the simplifier.
type TermVisitor interface {
	VisitConst(*ConstTerm) Term
	VisitVar(*VarTerm) Term
	VisitMem(*MemTerm) Term
	VisitArith(t *ArithTerm, rebuilt Term) Term
	VisitIter(*IterTerm) Term
	VisitTop(*TopTerm) Term
}

// Rewrite applies v to t bottom-up and returns the canonical result.
func (d *DAG) Rewrite(t Term, v TermVisitor) Term {
	switch t := t.(type) {
	case *ConstTerm:
		return v.VisitConst(t)
	case *VarTerm:
		return v.VisitVar(t)
	case *MemTerm:
		return v.VisitMem(t)
	case *IterTerm:
		return v.VisitIter(t)
	case *TopTerm:
		return v.VisitTop(t)
	case *ArithTerm:
		a := d.Rewrite(t.A, v)
		var b Term
		if t.B != nil {
			b = d.Rewrite(t.B, v)
		}
		rebuilt := Term(t)
		if a != t.A || b != t.B {
			rebuilt = d.Arith(t.Op, a, b)
		}
		return v.VisitArith(t, rebuilt)
	default:
		panic("unreachable")
	}
}

// walkTerm calls f on t and all its subterms, pre-order.
func walkTerm(t Term, f func(Term)) {
	f(t)
	if a, ok := t.(*ArithTerm); ok {
		walkTerm(a.A, f)
		if a.B != nil {
			walkTerm(a.B, f)
		}
	}
}

func isConstTerm(t Term) bool {
	_, ok := t.(*ConstTerm)
	return ok
}

// termHasTop returns true if t contains an opaque unknown.
func termHasTop(t Term) bool {
	found := false
	walkTerm(t, func(s Term) {
		if _, ok := s.(*TopTerm); ok {
			found = true
		}
	})
	return found
}

// termHasCmp returns true if t contains a comparison value.
func termHasCmp(t Term) bool {
	found := false
	walkTerm(t, func(s Term) {
		if a, ok := s.(*ArithTerm); ok && a.Op == OpCmp {
			found = true
		}
	})
	return found
}

// termCountVar returns the number of occurrences of variable id in t.
func termCountVar(t Term, id int32) int {
	n := 0
	walkTerm(t, func(s Term) {
		if v, ok := s.(*VarTerm); ok && v.ID == id {
			n++
		}
	})
	return n
}

// termCountTemps returns the number of temporary occurrences in t.
func termCountTemps(t Term) int {
	n := 0
	walkTerm(t, func(s Term) {
		if v, ok := s.(*VarTerm); ok && v.IsTemp() {
			n++
		}
	})
	return n
}

// termInvolvesMem returns true if t reads the memory cell at addr.
func termInvolvesMem(t Term, addr Constant) bool {
	found := false
	walkTerm(t, func(s Term) {
		if m, ok := s.(*MemTerm); ok && m.Addr == addr {
			found = true
		}
	})
	return found
}

// termInvolvesAnyMem returns true if t reads any memory cell.
func termInvolvesAnyMem(t Term) bool {
	found := false
	walkTerm(t, func(s Term) {
		if _, ok := s.(*MemTerm); ok {
			found = true
		}
	})
	return found
}

// termTops collects the distinct opaque unknowns of t into set.
func termTops(t Term, set map[*TopTerm]struct{}) {
	walkTerm(t, func(s Term) {
		if top, ok := s.(*TopTerm); ok {
			set[top] = struct{}{}
		}
	})
}

// substVisitor replaces leaves according to a map; everything else is
// kept.
type substVisitor struct {
	m map[Term]Term
}

func (v substVisitor) VisitConst(t *ConstTerm) Term { return v.lookup(t) }
func (v substVisitor) VisitVar(t *VarTerm) Term     { return v.lookup(t) }
func (v substVisitor) VisitMem(t *MemTerm) Term     { return v.lookup(t) }
func (v substVisitor) VisitIter(t *IterTerm) Term   { return v.lookup(t) }
func (v substVisitor) VisitTop(t *TopTerm) Term     { return v.lookup(t) }
func (v substVisitor) VisitArith(t *ArithTerm, rebuilt Term) Term {
	return rebuilt
}

func (v substVisitor) lookup(t Term) Term {
	if r, ok := v.m[t]; ok {
		return r
	}
	return t
}

// Subst returns t with every leaf occurring as a key of m replaced by
// the mapped term.
func (d *DAG) Subst(t Term, m map[Term]Term) Term {
	if len(m) == 0 {
		return t
	}
	return d.Rewrite(t, substVisitor{m: m})
}
