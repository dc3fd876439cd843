package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Operation health as reported by the latency snapshot.
const (
	HealthOK      = "ok"
	HealthSlow    = "slow"
	HealthFailing = "failing"
)

// failingErrorRate is the windowed error rate at which an operation is
// reported as failing.
const failingErrorRate = 0.05

type OperationStats struct {
	Operation string `json:"operation"`
	Samples   int    `json:"samples"`
	Total     int64  `json:"total"`

	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`

	Errors        int          `json:"errors"`
	ErrorRate     float64      `json:"error_rate"`
	TotalErrors   int64        `json:"total_errors"`
	LastErrorCode string       `json:"last_error_code,omitempty"`
	ErrorCodes    []ErrorCount `json:"error_codes,omitempty"`

	Health string `json:"health"`
}

type ErrorCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Operations  []OperationStats `json:"operations"`
	Indicators  []Indicator      `json:"indicators,omitempty"`
}

// latencyWindow keeps the last maxSamples outcomes per operation. An outcome
// with an empty code is a success.
type latencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*outcomeRing
	indicators map[string]int
}

type outcome struct {
	ms   float64
	code string
}

type outcomeRing struct {
	samples []outcome
	next    int
	filled  bool

	last        outcome
	lastErrCode string
	total       int64
	totalErrors int64
}

func (r *outcomeRing) window() []outcome {
	if r.filled {
		return r.samples
	}
	return r.samples[:r.next]
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latencyWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*outcomeRing),
		indicators: make(map[string]int),
	}
}

// Observe records one completed operation. code is empty on success and a
// stable error code otherwise.
func (w *latencyWindow) Observe(op string, ms float64, code string) {
	if op == "" || ms < 0 {
		return
	}
	code = strings.TrimSpace(code)
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.ops[op]
	if !ok {
		ring = &outcomeRing{samples: make([]outcome, w.maxSamples)}
		w.ops[op] = ring
	}
	o := outcome{ms: ms, code: code}
	ring.samples[ring.next] = o
	ring.last = o
	ring.total++
	if code != "" {
		ring.totalErrors++
		ring.lastErrCode = code
	}
	ring.next++
	if ring.next >= len(ring.samples) {
		ring.next = 0
		ring.filled = true
	}
}

func (w *latencyWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.ops))
	for op := range w.ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	ops := make([]OperationStats, 0, len(keys))
	for _, op := range keys {
		ring := w.ops[op]
		window := ring.window()
		if len(window) == 0 {
			continue
		}
		ops = append(ops, summarizeOutcomes(op, ring, window))
	}

	names := make([]string, 0, len(w.indicators))
	for name, count := range w.indicators {
		if count > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	indicators := make([]Indicator, 0, len(names))
	for _, name := range names {
		indicators = append(indicators, Indicator{Name: name, Count: w.indicators[name]})
	}

	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Operations:  ops,
		Indicators:  indicators,
	}
}

// summarizeOutcomes builds one operation's stats. Percentiles cover
// successful samples; a window with no successes falls back to every sample.
func summarizeOutcomes(op string, ring *outcomeRing, window []outcome) OperationStats {
	codes := make(map[string]int)
	ok := make([]float64, 0, len(window))
	all := make([]float64, 0, len(window))
	for _, o := range window {
		all = append(all, o.ms)
		if o.code != "" {
			codes[o.code]++
			continue
		}
		ok = append(ok, o.ms)
	}
	latencies := ok
	if len(latencies) == 0 {
		latencies = all
	}
	sort.Float64s(latencies)

	sum := 0.0
	for _, v := range latencies {
		sum += v
	}
	errCount := len(window) - len(ok)

	stats := OperationStats{
		Operation:     op,
		Samples:       len(window),
		Total:         ring.total,
		LastMS:        round2(ring.last.ms),
		AvgMS:         round2(sum / float64(len(latencies))),
		P50MS:         round2(quantile(latencies, 0.50)),
		P95MS:         round2(quantile(latencies, 0.95)),
		P99MS:         round2(quantile(latencies, 0.99)),
		TargetP95MS:   operationTargetP95MS(op),
		Errors:        errCount,
		ErrorRate:     round4(float64(errCount) / float64(len(window))),
		TotalErrors:   ring.totalErrors,
		LastErrorCode: ring.lastErrCode,
		ErrorCodes:    rankErrorCodes(codes),
	}
	if stats.TargetP95MS > 0 {
		for _, v := range latencies {
			if v > stats.TargetP95MS {
				stats.OverTarget++
			}
		}
	}
	stats.Health = operationHealth(stats)
	return stats
}

func operationHealth(s OperationStats) string {
	switch {
	case s.ErrorRate >= failingErrorRate:
		return HealthFailing
	case s.TargetP95MS > 0 && s.P95MS > s.TargetP95MS:
		return HealthSlow
	default:
		return HealthOK
	}
}

// rankErrorCodes orders codes by count, most frequent first.
func rankErrorCodes(codes map[string]int) []ErrorCount {
	if len(codes) == 0 {
		return nil
	}
	out := make([]ErrorCount, 0, len(codes))
	for code, n := range codes {
		out = append(out, ErrorCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// operationTargetP95MS is the latency budget per operation. Chat operations
// share their collection counterpart's budget.
func operationTargetP95MS(op string) float64 {
	switch strings.TrimPrefix(op, "chat_") {
	case "create", "toggle_pin", "delete", "fetch_messages":
		return 150
	case "fetch":
		return 300
	case "assistant_reply":
		return 4000
	case "send":
		return 4500
	case "assistant_summary", "finish":
		return 8000
	default:
		return 0
	}
}
