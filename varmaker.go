package pathfinder

// VarMaker allocates the opaque unknowns (Top terms) of one CFG. Every
// Top it hands out is globally unique; Import merges a callee maker
// into the caller, renumbering the callee tops so the two scopes never
// collide.
type VarMaker struct {
	dag  *DAG
	tops []*TopTerm
}

// NewVarMaker returns a maker allocating from d.
func NewVarMaker(d *DAG) *VarMaker {
	return &VarMaker{dag: d}
}

// New returns a fresh opaque unknown.
func (vm *VarMaker) New() *TopTerm {
	t := vm.dag.top()
	vm.tops = append(vm.tops, t)
	return t
}

// Len returns the number of tops allocated so far.
func (vm *VarMaker) Len() int { return len(vm.tops) }

// Import merges another maker's tops into vm, allocating a fresh top
// for each. The returned map gives the renumbering to apply to states
// built against other.
func (vm *VarMaker) Import(other *VarMaker) map[Term]Term {
	if other == nil || len(other.tops) == 0 {
		return nil
	}
	m := make(map[Term]Term, len(other.tops))
	for _, t := range other.tops {
		m[t] = vm.New()
	}
	return m
}

// Minimize drops tops no longer referenced by the used set. It only
// shrinks the maker's own registry when clean is set; the DAG keeps the
// interned terms either way.
func (vm *VarMaker) Minimize(used map[*TopTerm]struct{}, clean bool) {
	if !clean {
		return
	}
	kept := vm.tops[:0]
	for _, t := range vm.tops {
		if _, ok := used[t]; ok {
			kept = append(kept, t)
		}
	}
	vm.tops = kept
}
