// Package failuredetector implements a phi-accrual failure detector: a
// per-peer sliding window of inter-arrival samples that produces a
// continuous suspicion score instead of a boolean up/down verdict.
package failuredetector

import (
	"math"
	"sync"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/metrics"
)

// Distribution selects the tail model used to convert elapsed time into a
// phi score.
type Distribution int

const (
	// Exponential models inter-arrival times as memoryless; phi is elapsed
	// scaled by the sample mean.
	Exponential Distribution = iota
	// Normal models inter-arrival times as Gaussian; phi is derived from
	// the standard normal tail (CDF).
	Normal
)

// Config carries the tunables for a Detector.
type Config struct {
	WindowSize      int
	MinimumSamples  int
	Distribution    Distribution
	ConvictThreshold float64
}

// DefaultConfig returns the window size, minimum sample count, distribution
// and convict threshold used unless overridden by configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:       100,
		MinimumSamples:   8,
		Distribution:     Exponential,
		ConvictThreshold: 8,
	}
}

type window struct {
	mu       sync.Mutex
	samples  []int64 // ring buffer of inter-arrival nanosecond deltas
	next     int
	filled   bool
	lastSeen int64 // last arrival, ns; meaningful only when hasSeen is true
	hasSeen  bool  // false until the first Report
}

// Detector tracks a per-peer sliding window of inter-arrival samples and
// derives a phi suspicion score from it. Never blocks, never panics: a peer
// with no samples reports phi 0.
type Detector struct {
	cfg Config

	mu      sync.RWMutex
	windows map[string]*window
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.MinimumSamples <= 0 {
		cfg.MinimumSamples = DefaultConfig().MinimumSamples
	}
	if cfg.ConvictThreshold <= 0 {
		cfg.ConvictThreshold = DefaultConfig().ConvictThreshold
	}
	return &Detector{cfg: cfg, windows: make(map[string]*window)}
}

// ConvictThreshold returns the configured phi threshold.
func (d *Detector) ConvictThreshold() float64 { return d.cfg.ConvictThreshold }

func (d *Detector) windowFor(peerId string) *window {
	d.mu.RLock()
	w, ok := d.windows[peerId]
	d.mu.RUnlock()
	if ok {
		return w
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.windows[peerId]; ok {
		return w
	}
	w = &window{samples: make([]int64, d.cfg.WindowSize)}
	d.windows[peerId] = w
	return w
}

// Report appends an inter-arrival sample for peerId if a prior arrival is
// known, evicting the oldest sample when the window is full, then updates
// the last-seen timestamp.
func (d *Detector) Report(peerId string, nowNs int64) {
	w := d.windowFor(peerId)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasSeen {
		delta := nowNs - w.lastSeen
		if delta < 0 {
			delta = 0
		}
		w.samples[w.next] = delta
		w.next = (w.next + 1) % len(w.samples)
		if w.next == 0 {
			w.filled = true
		}
		metrics.RecordArrival()
	}
	w.lastSeen = nowNs
	w.hasSeen = true
}

// Observed reports whether peerId has ever been reported. Phi returns 0 for
// both "never observed" and "observed but healthy", so a caller that needs
// to tell the two apart (StateRefresher, before ever elevating a peer to UP)
// must check this first.
func (d *Detector) Observed(peerId string) bool {
	w := d.windowFor(peerId)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasSeen
}

// Remove drops all state tracked for peerId (e.g. once it is permanently
// retired). Not required for correctness of the convergence properties.
func (d *Detector) Remove(peerId string) {
	d.mu.Lock()
	delete(d.windows, peerId)
	d.mu.Unlock()
}

// Phi computes the suspicion score for peerId at nowNs. Returns 0 if the
// peer is unknown or has fewer than MinimumSamples observations — "cannot
// yet convict".
func (d *Detector) Phi(peerId string, nowNs int64) float64 {
	w := d.windowFor(peerId)
	w.mu.Lock()
	n := len(w.samples)
	if !w.filled {
		n = w.next
	}
	if n < d.cfg.MinimumSamples || !w.hasSeen {
		w.mu.Unlock()
		return 0
	}
	mean, variance := meanVariance(w.samples, n)
	elapsed := float64(nowNs - w.lastSeen)
	w.mu.Unlock()

	if elapsed < 0 {
		elapsed = 0
	}

	var phi float64
	switch d.cfg.Distribution {
	case Normal:
		phi = normalPhi(elapsed, mean, variance)
	default:
		phi = exponentialPhi(elapsed, mean)
	}
	metrics.ObservePhi(phi)
	return phi
}

func meanVariance(samples []int64, n int) (mean, variance float64) {
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(samples[i])
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var sq float64
	for i := 0; i < n; i++ {
		d := float64(samples[i]) - mean
		sq += d * d
	}
	variance = sq / float64(n-1)
	return mean, variance
}

// exponentialPhi treats inter-arrival times as memoryless: P(elapsed >= x)
// = exp(-x/mean), so phi = -log10(P) = elapsed / (mean * ln 10).
func exponentialPhi(elapsed, mean float64) float64 {
	if mean <= 0 {
		mean = 1
	}
	return elapsed / (mean * math.Ln10)
}

// normalPhi treats inter-arrival times as Gaussian and derives phi from the
// standard normal survival function.
func normalPhi(elapsed, mean, variance float64) float64 {
	stddev := math.Sqrt(variance)
	if stddev <= 0 {
		stddev = 1
	}
	z := (elapsed - mean) / stddev
	p := 1 - standardNormalCDF(z)
	if p <= 0 {
		p = math.SmallestNonzeroFloat64
	}
	return -math.Log10(p)
}

// standardNormalCDF returns P(Z <= z) for the standard normal distribution
// using the error function identity.
func standardNormalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
