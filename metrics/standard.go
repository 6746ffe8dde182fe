package metrics

// Metric names recorded by the zkVM executor.
const (
	NameInstructions    = "zkvm.instructions"
	NameECalls          = "zkvm.ecalls"
	NameSyscalls        = "zkvm.syscalls"
	NameSegments        = "zkvm.segments"
	NamePageFaultReads  = "zkvm.page_faults.reads"
	NamePageFaultWrites = "zkvm.page_faults.writes"
	NameCyclesTotal     = "zkvm.cycles.total"
	NameSegmentCycles   = "zkvm.segment.cycles"
	NameSegmentCloseUs  = "zkvm.segment.close_us"
)

// ExecutorMetrics groups the executor's metrics as registered in one
// registry.
type ExecutorMetrics struct {
	// Instructions counts decoded and applied instructions.
	Instructions *Counter
	// ECalls counts ecall dispatches of any kind.
	ECalls *Counter
	// Syscalls counts SOFTWARE ecalls that reached a host handler.
	Syscalls *Counter
	// Segments counts closed segments.
	Segments *Counter
	// PageFaultReads counts pages paged in, summed over segments.
	PageFaultReads *Counter
	// PageFaultWrites counts pages paged out, summed over segments.
	PageFaultWrites *Counter
	// CyclesTotal tracks cycles charged over the whole session.
	CyclesTotal *Gauge
	// SegmentCycles records the cycle total of each closed segment.
	SegmentCycles *Histogram
	// SegmentCloseTime records segment close latency in microseconds,
	// which is dominated by image hashing when image IDs are computed.
	SegmentCloseTime *Histogram
}

// NewExecutorMetrics registers (or looks up) the executor metrics in r. A
// nil r uses DefaultRegistry.
func NewExecutorMetrics(r *Registry) *ExecutorMetrics {
	if r == nil {
		r = DefaultRegistry
	}
	return &ExecutorMetrics{
		Instructions:     r.Counter(NameInstructions),
		ECalls:           r.Counter(NameECalls),
		Syscalls:         r.Counter(NameSyscalls),
		Segments:         r.Counter(NameSegments),
		PageFaultReads:   r.Counter(NamePageFaultReads),
		PageFaultWrites:  r.Counter(NamePageFaultWrites),
		CyclesTotal:      r.Gauge(NameCyclesTotal),
		SegmentCycles:    r.Histogram(NameSegmentCycles),
		SegmentCloseTime: r.Histogram(NameSegmentCloseUs),
	}
}
