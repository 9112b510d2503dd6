package pathfinder

// InitialState is the read-only view of the initial data-flow state
// supplied by the upstream toolchain: the memory cells whose contents
// are known from the binary (read-only data sections, initialized
// globals).
type InitialState struct {
	mem map[Constant]int32
}

// NewInitialState returns an empty initial state.
func NewInitialState() *InitialState {
	return &InitialState{mem: make(map[Constant]int32)}
}

// Set records the initialized read-only cell at the absolute address.
func (s *InitialState) Set(addr int32, value int32) {
	s.mem[Cst(addr)] = value
}

// Lookup returns the constant value of the read-only cell at addr.
// Only absolute addresses can hit.
func (s *InitialState) Lookup(addr Constant) (int32, bool) {
	if s == nil || !addr.IsAbsolute() {
		return 0, false
	}
	v, ok := s.mem[addr]
	return v, ok
}

// Cells calls f for every known cell.
func (s *InitialState) Cells(f func(addr Constant, value int32)) {
	if s == nil {
		return
	}
	for addr, v := range s.mem {
		f(addr, v)
	}
}
