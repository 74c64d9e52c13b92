// Package selection ranks providers for a generation request. The engine is
// a pure scoring function over capability declarations, breaker state, and
// performance statistics; it performs no I/O, so it can be tested with
// synthetic snapshots.
package selection

import (
	"fmt"
	"sort"
	"time"

	"github.com/gilco1973/videobroker/internal/provider"
)

// Preference is what the caller wants optimized.
type Preference string

const (
	// PreferQuality is the default: quality tier match dominates.
	PreferQuality Preference = "quality"
	// PreferSpeed shifts weight from quality to latency.
	PreferSpeed Preference = "speed"
	// PreferCost shifts weight from quality to cost.
	PreferCost Preference = "cost"
)

// preferenceShift is how much weight a non-default preference moves out of
// the quality component.
const preferenceShift = 0.15

// latencyBaseline normalizes average latency into a 0..1 score; a provider
// averaging the baseline scores 0.5.
const latencyBaseline = 2 * time.Second

// Weights control the scoring mix. They are configuration, not constants:
// the right mix is deployment-specific.
type Weights struct {
	Quality     float64 `json:"quality"`
	Reliability float64 `json:"reliability"`
	Latency     float64 `json:"latency"`
	Cost        float64 `json:"cost"`
}

// DefaultWeights returns the standard scoring mix.
func DefaultWeights() Weights {
	return Weights{
		Quality:     0.30,
		Reliability: 0.35,
		Latency:     0.20,
		Cost:        0.15,
	}
}

// forPreference adjusts the mix for the caller's stated preference.
func (w Weights) forPreference(p Preference) Weights {
	shift := preferenceShift
	if w.Quality < shift {
		shift = w.Quality
	}
	switch p {
	case PreferSpeed:
		w.Quality -= shift
		w.Latency += shift
	case PreferCost:
		w.Quality -= shift
		w.Cost += shift
	}
	return w
}

// Stats is the read-only view of the performance tracker the engine scores
// against.
type Stats interface {
	SuccessRate(providerID string) float64
	AvgLatency(providerID string) time.Duration
}

// GateFunc reports whether a provider may receive traffic. Wired to the
// circuit breaker set; it must not consume half-open trial slots, it only
// observes state.
type GateFunc func(providerID string) bool

// Criteria is one selection request.
type Criteria struct {
	// Requirements are the hard constraints derived from the request.
	Requirements provider.Requirements
	// Preference selects the scoring mix.
	Preference Preference
	// Urgent applies the speed shift when no explicit preference is set.
	Urgent bool
	// Retry marks a re-selection after a failed attempt.
	Retry bool
	// Exclude lists provider ids already tried in this attempt.
	Exclude []string
}

// Candidate is one provider's score breakdown, kept for the audit trail.
type Candidate struct {
	Provider    string  `json:"provider"`
	Score       float64 `json:"score"`
	Quality     float64 `json:"quality"`
	Reliability float64 `json:"reliability"`
	Latency     float64 `json:"latency"`
	Cost        float64 `json:"cost"`
	Priority    int     `json:"priority"`
}

// Rejection records why a provider was filtered out before scoring.
type Rejection struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// Filter rejection reasons.
const (
	ReasonBreakerOpen  = "breaker_open"
	ReasonCannotHandle = "cannot_handle"
	ReasonExcluded     = "already_tried"
)

// Decision is the outcome of one selection.
type Decision struct {
	// Adapter is the chosen provider.
	Adapter provider.Adapter
	// Ranked lists all scored candidates, best first.
	Ranked []Candidate
	// Rejected lists providers filtered out and why.
	Rejected []Rejection
}

// Engine ranks and picks providers.
type Engine struct {
	registry *provider.Registry
	stats    Stats
	gate     GateFunc
	weights  Weights
}

// NewEngine creates a selection engine. A nil gate admits every provider.
func NewEngine(registry *provider.Registry, stats Stats, gate GateFunc, weights Weights) *Engine {
	if gate == nil {
		gate = func(string) bool { return true }
	}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Engine{
		registry: registry,
		stats:    stats,
		gate:     gate,
		weights:  weights,
	}
}

// Select filters and ranks the registered providers and returns the best
// match. Returns a provider_unavailable error when nothing survives
// filtering.
func (e *Engine) Select(c Criteria) (Decision, error) {
	excluded := make(map[string]bool, len(c.Exclude))
	for _, id := range c.Exclude {
		excluded[id] = true
	}

	pref := c.Preference
	if pref == "" || pref == PreferQuality {
		if c.Urgent {
			pref = PreferSpeed
		} else {
			pref = PreferQuality
		}
	}
	weights := e.weights.forPreference(pref)

	var decision Decision
	var survivors []provider.Adapter
	for _, a := range e.registry.All() {
		id := a.ID()
		switch {
		case excluded[id]:
			decision.Rejected = append(decision.Rejected, Rejection{Provider: id, Reason: ReasonExcluded})
		case !e.gate(id):
			decision.Rejected = append(decision.Rejected, Rejection{Provider: id, Reason: ReasonBreakerOpen})
		case !a.CanHandle(c.Requirements):
			decision.Rejected = append(decision.Rejected, Rejection{Provider: id, Reason: ReasonCannotHandle})
		default:
			survivors = append(survivors, a)
		}
	}

	if len(survivors) == 0 {
		return decision, provider.NewError("selection", provider.CodeUnavailable,
			fmt.Sprintf("no provider can serve this request (%d filtered)", len(decision.Rejected)), nil)
	}

	minCost := minPositiveCost(survivors, c.Requirements)
	byID := make(map[string]provider.Adapter, len(survivors))
	for _, a := range survivors {
		byID[a.ID()] = a
		decision.Ranked = append(decision.Ranked, e.score(a, c.Requirements, weights, minCost))
	}

	sort.Slice(decision.Ranked, func(i, j int) bool {
		a, b := decision.Ranked[i], decision.Ranked[j]
		if diff := a.Score - b.Score; diff > 1e-9 || diff < -1e-9 {
			return a.Score > b.Score
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Provider < b.Provider
	})

	decision.Adapter = byID[decision.Ranked[0].Provider]
	return decision, nil
}

// score computes one candidate's weighted score breakdown.
func (e *Engine) score(a provider.Adapter, req provider.Requirements, w Weights, minCost float64) Candidate {
	caps := a.Capabilities()

	c := Candidate{
		Provider:    a.ID(),
		Quality:     qualityScore(caps.Quality, req.Quality),
		Reliability: e.stats.SuccessRate(a.ID()),
		Latency:     latencyScore(e.stats.AvgLatency(a.ID())),
		Cost:        costScore(a.EstimateCost(req), minCost),
		Priority:    caps.Priority,
	}
	c.Score = w.Quality*c.Quality +
		w.Reliability*c.Reliability +
		w.Latency*c.Latency +
		w.Cost*c.Cost
	return c
}

// qualityScore rates how closely a provider's declared tier matches the
// requested one. Exact match scores 1.0; each tier of distance costs 0.3.
func qualityScore(declared, requested provider.QualityTier) float64 {
	diff := declared.Rank() - requested.Rank()
	if diff < 0 {
		diff = -diff
	}
	score := 1 - 0.3*float64(diff)
	if score < 0 {
		return 0
	}
	return score
}

// latencyScore inverts average latency into 0..1. No history scores 1.0.
func latencyScore(avg time.Duration) float64 {
	if avg <= 0 {
		return 1
	}
	return float64(latencyBaseline) / float64(latencyBaseline+avg)
}

// costScore rates a candidate's estimate relative to the cheapest survivor.
func costScore(cost, minCost float64) float64 {
	if cost <= 0 || minCost <= 0 {
		return 1
	}
	return minCost / cost
}

// minPositiveCost finds the cheapest positive estimate among survivors.
func minPositiveCost(survivors []provider.Adapter, req provider.Requirements) float64 {
	min := 0.0
	for _, a := range survivors {
		cost := a.EstimateCost(req)
		if cost <= 0 {
			continue
		}
		if min == 0 || cost < min {
			min = cost
		}
	}
	return min
}
