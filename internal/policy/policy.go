package policy

import (
	"crawlmeter/internal/detect"
	"crawlmeter/internal/signature"
)

// Action is the enforcement decision for one request.
type Action string

const (
	ActionBlock     Action = "block"
	ActionChallenge Action = "challenge"
	ActionRateLimit Action = "rate_limit"
	ActionMonitor   Action = "monitor"
)

// Thresholds are the confidence band boundaries.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds returns the reference band boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.9, Medium: 0.7}
}

type band int

const (
	bandLow band = iota
	bandMedium
	bandHigh
)

// rule is one row of the decision table. Empty priority or type matches any.
type rule struct {
	band     band
	priority signature.Priority
	typ      signature.Type
	action   Action
}

// table is evaluated top to bottom, first match wins. Premium identities in
// the high band are rate-limited rather than blocked: a paying crawler is a
// revenue source.
var table = []rule{
	{bandHigh, signature.PriorityHigh, signature.TypePremium, ActionRateLimit},
	{bandHigh, signature.PriorityHigh, "", ActionBlock},
	{bandHigh, signature.PriorityMedium, "", ActionChallenge},
	{bandHigh, signature.PriorityLow, "", ActionRateLimit},
	{bandMedium, signature.PriorityHigh, "", ActionChallenge},
	{bandMedium, "", "", ActionRateLimit},
	{bandLow, "", "", ActionMonitor},
}

// Decide maps a detection result to an enforcement action. It is a pure
// function of (confidence, priority, type); no side state.
func Decide(res detect.Result, th Thresholds) Action {
	if !res.IsBot {
		return ActionMonitor
	}

	// Known-good crawlers are never blocked regardless of confidence.
	if res.Signature.Type == signature.TypeVerified {
		return ActionMonitor
	}

	b := bandLow
	switch {
	case res.Confidence >= th.High:
		b = bandHigh
	case res.Confidence >= th.Medium:
		b = bandMedium
	}

	for _, r := range table {
		if r.band != b {
			continue
		}
		if r.priority != "" && r.priority != res.Signature.Priority {
			continue
		}
		if r.typ != "" && r.typ != res.Signature.Type {
			continue
		}
		return r.action
	}
	return ActionMonitor
}
