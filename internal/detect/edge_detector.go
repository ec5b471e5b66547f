package detect

import (
	"context"
	"fmt"

	"crawlmeter/internal/config"
	"crawlmeter/internal/signature"
)

// EdgeSignalDetector translates a bot verdict supplied by the edge network
// into a layer verdict. When the request carries no edge block the detector
// abstains; a missing external signal must never hurt the pipeline.
type EdgeSignalDetector struct {
	cfg config.DetectionConfig
}

// NewEdgeSignalDetector builds the external-signal layer.
func NewEdgeSignalDetector(cfg config.DetectionConfig) *EdgeSignalDetector {
	return &EdgeSignalDetector{cfg: cfg}
}

// Name identifies the layer.
func (d *EdgeSignalDetector) Name() string { return MethodEdge }

// Detect maps the strongest available edge signal to a confidence.
func (d *EdgeSignalDetector) Detect(_ context.Context, sig Signal) (Verdict, bool) {
	edge := sig.Edge
	if edge == nil {
		return Verdict{}, false
	}

	ident := signature.Unknown()
	if edge.Verified {
		ident = signature.Signature{
			Name:     "edge-verified-bot",
			Company:  edge.Source,
			Priority: signature.PriorityHigh,
			Type:     signature.TypeVerified,
		}
	}

	if edge.BotFlag {
		confidence := d.cfg.EdgeFlagConfidence
		if edge.Verified {
			confidence = d.cfg.EdgeVerifiedConfidence
		}
		return Verdict{
			Method:     MethodEdge,
			Confidence: confidence,
			Signature:  ident,
			Evidence:   fmt.Sprintf("edge network %q flagged the request as a bot", edge.Source),
		}, true
	}

	if edge.HasBotScore {
		score := clampScore(edge.BotScore)
		if score >= d.cfg.EdgeScoreThreshold {
			return Verdict{
				Method:     MethodEdge,
				Confidence: score / 100,
				Signature:  ident,
				Evidence:   fmt.Sprintf("edge bot score %.0f/100", score),
			}, true
		}
	}

	if edge.HasThreat && clampScore(edge.ThreatScore) > d.cfg.EdgeThreatThreshold {
		return Verdict{
			Method:     MethodEdge,
			Confidence: d.cfg.EdgeThreatConfidence,
			Signature:  signature.Suspicious(),
			Evidence:   fmt.Sprintf("edge threat score %.0f/100", clampScore(edge.ThreatScore)),
		}, true
	}

	return Verdict{}, false
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
