package resolve

// Stats accumulates the resolver's counters. Each method-analysis
// goroutine gets its own Stats; Add combines them commutatively after
// the parallel phase.
type Stats struct {
	MethodRefsResolved            int
	FieldRefsResolved             int
	InvokeVirtualRefined          int
	InvokeInterfaceReplaced       int
	InvokeSuperRemoved            int
	RtypeSpecializationCandidates int
}

// Add returns the field-wise sum of s and o, leaving both unchanged, so callers can chain
// `total = total.Add(perMethod)` in a reduce loop.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		MethodRefsResolved:            s.MethodRefsResolved + o.MethodRefsResolved,
		FieldRefsResolved:             s.FieldRefsResolved + o.FieldRefsResolved,
		InvokeVirtualRefined:          s.InvokeVirtualRefined + o.InvokeVirtualRefined,
		InvokeInterfaceReplaced:       s.InvokeInterfaceReplaced + o.InvokeInterfaceReplaced,
		InvokeSuperRemoved:            s.InvokeSuperRemoved + o.InvokeSuperRemoved,
		RtypeSpecializationCandidates: s.RtypeSpecializationCandidates + o.RtypeSpecializationCandidates,
	}
}
