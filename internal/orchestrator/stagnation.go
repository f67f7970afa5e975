package orchestrator

// DefaultStagnationThreshold is how many consecutive no-progress sessions
// are tolerated before the run aborts.
const DefaultStagnationThreshold = 5

// StagnationDetector is the sole circuit breaker against looping forever on
// permanently unprocessable items. It watches only the work set size: the
// session runner guarantees a session ends early on failure, so an unchanged
// size across a whole session reliably means the first attempted item failed
// immediately.
type StagnationDetector struct {
	lastSize  int
	stagnant  int
	threshold int
}

// NewStagnationDetector primes the detector with the initial work set size.
// threshold <= 0 selects the default.
func NewStagnationDetector(initialSize, threshold int) *StagnationDetector {
	if threshold <= 0 {
		threshold = DefaultStagnationThreshold
	}
	return &StagnationDetector{
		lastSize:  initialSize,
		threshold: threshold,
	}
}

// Observe records the work set size after a completed session and reports
// whether the run should abort. The streak resets whenever the size changes.
func (d *StagnationDetector) Observe(size int) bool {
	if size == d.lastSize {
		d.stagnant++
	} else {
		d.stagnant = 0
		d.lastSize = size
	}
	return d.stagnant >= d.threshold
}

// Stagnant returns the current no-progress streak length.
func (d *StagnationDetector) Stagnant() int {
	return d.stagnant
}

// Threshold returns the configured abort threshold.
func (d *StagnationDetector) Threshold() int {
	return d.threshold
}
