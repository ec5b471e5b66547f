package detect

import (
	"sort"

	"crawlmeter/internal/signature"
)

// Detection method names, one per layer.
const (
	MethodSignature = "signature_match"
	MethodHeader    = "header_fingerprint"
	MethodIPRange   = "ip_range"
	MethodBehavior  = "behavior"
	MethodEdge      = "edge_signal"
)

// Verdict is one layer's judgment about a request.
type Verdict struct {
	Method     string
	Confidence float64
	Signature  signature.Signature
	Evidence   string
}

// Result fuses the layer verdicts for one request. The policy and revenue
// paths both consume it; it is never persisted.
type Result struct {
	IsBot      bool
	Signature  signature.Signature
	Confidence float64
	Verdicts   []Verdict
	Signal     Signal
}

// AggregateOptions tune the corroboration boost.
type AggregateOptions struct {
	Boost float64 // added per corroborating verdict beyond the first
	Max   float64 // ceiling on the total boost
	Cap   float64 // absolute confidence ceiling, below 1.0
}

// DefaultAggregateOptions returns the reference boost values.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{Boost: 0.05, Max: 0.1, Cap: 0.99}
}

// Aggregate merges zero or more verdicts into one Result. The strongest
// verdict supplies the identity; every extra corroborating layer adds a
// small diminishing boost. The output is independent of input order:
// verdicts are sorted by confidence, ties broken by method name.
func Aggregate(sig Signal, verdicts []Verdict, opts AggregateOptions) Result {
	if len(verdicts) == 0 {
		return Result{IsBot: false, Signal: sig}
	}

	sorted := make([]Verdict, len(verdicts))
	copy(sorted, verdicts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		return sorted[i].Method < sorted[j].Method
	})

	top := sorted[0]
	boost := opts.Boost * float64(len(sorted)-1)
	if boost > opts.Max {
		boost = opts.Max
	}
	confidence := top.Confidence + boost
	if confidence > opts.Cap {
		confidence = opts.Cap
	}

	return Result{
		IsBot:      true,
		Signature:  top.Signature,
		Confidence: confidence,
		Verdicts:   sorted,
		Signal:     sig,
	}
}
