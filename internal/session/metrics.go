package session

// Metrics is the record emitted once per processed block.
type Metrics struct {
	FrameIndex uint64  `json:"frame"`
	ErrorRMS   float64 `json:"error_rms"`
}

// Reporter receives metrics on the loop goroutine, synchronously after each
// block's update. A slow Report delays the next block's I/O; implementations
// that must not stall the loop have to queue internally.
type Reporter interface {
	Report(Metrics)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(Metrics)

func (f ReporterFunc) Report(m Metrics) { f(m) }

// Discard drops every record.
var Discard Reporter = ReporterFunc(func(Metrics) {})

// Tee fans a record out to each reporter in order.
func Tee(reporters ...Reporter) Reporter {
	switch len(reporters) {
	case 0:
		return Discard
	case 1:
		return reporters[0]
	}
	return ReporterFunc(func(m Metrics) {
		for _, r := range reporters {
			r.Report(m)
		}
	})
}
