package pathfinder

// LocalVariables is the total map from register/temporary identifiers
// to their symbolic values, with two bookkeeping bits per slot: live
// (the slot holds a value) and updated (the slot was written in the
// current block). Registers start mapped to themselves; temporaries
// start unset.
type LocalVariables struct {
	dag     *DAG
	regs    int
	temps   int
	terms   []Term
	updated []bool
}

// NewLocalVariables returns the identity mapping over regs registers
// and temps temporaries.
func NewLocalVariables(d *DAG, regs, temps int) LocalVariables {
	lv := LocalVariables{
		dag:     d,
		regs:    regs,
		temps:   temps,
		terms:   make([]Term, regs+temps),
		updated: make([]bool, regs+temps),
	}
	for i := 0; i < regs; i++ {
		lv.terms[i] = d.Var(int32(i))
	}
	return lv
}

// slot maps an identifier to its backing index. Registers occupy
// [0, regs); temporary -t occupies regs+t-1.
func (lv *LocalVariables) slot(id int32) int {
	if id >= 0 {
		assert(int(id) < lv.regs, "register id out of range: %d", id)
		return int(id)
	}
	t := int(-id)
	assert(t <= lv.temps, "temporary id out of range: %d", id)
	return lv.regs + t - 1
}

// Get returns the term bound to id, or nil for an unset temporary.
func (lv *LocalVariables) Get(id int32) Term { return lv.terms[lv.slot(id)] }

// Set binds id to t and marks the slot updated.
func (lv *LocalVariables) Set(id int32, t Term) {
	s := lv.slot(id)
	lv.terms[s] = t
	lv.updated[s] = true
}

// IsUpdated returns true if id was written in the current block.
func (lv *LocalVariables) IsUpdated(id int32) bool {
	return lv.updated[lv.slot(id)]
}

// ClearUpdated resets the per-block updated bits.
func (lv *LocalVariables) ClearUpdated() {
	for i := range lv.updated {
		lv.updated[i] = false
	}
}

// ResetTemps unsets every temporary slot.
func (lv *LocalVariables) ResetTemps() {
	for i := lv.regs; i < len(lv.terms); i++ {
		lv.terms[i] = nil
	}
}

// NumRegisters returns the register count.
func (lv *LocalVariables) NumRegisters() int { return lv.regs }

// Clone returns a value copy sharing no slices with lv.
func (lv *LocalVariables) Clone() LocalVariables {
	c := *lv
	c.terms = append([]Term(nil), lv.terms...)
	c.updated = append([]bool(nil), lv.updated...)
	return c
}

// Equal returns true if both mappings bind every slot to the same
// canonical term.
func (lv *LocalVariables) Equal(o *LocalVariables) bool {
	if len(lv.terms) != len(o.terms) {
		return false
	}
	for i := range lv.terms {
		if lv.terms[i] != o.terms[i] {
			return false
		}
	}
	return true
}

// eachRegister calls f for every register slot.
func (lv *LocalVariables) eachRegister(f func(id int32, t Term)) {
	for i := 0; i < lv.regs; i++ {
		f(int32(i), lv.terms[i])
	}
}
