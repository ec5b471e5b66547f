package detect

import (
	"context"
	"fmt"
	"strings"

	"crawlmeter/internal/config"
	"crawlmeter/internal/signature"
)

// SignatureDetector matches the user-agent against the signature catalog,
// falling back to the generic automation keyword list.
type SignatureDetector struct {
	catalog *signature.Catalog
	cfg     config.DetectionConfig
}

// NewSignatureDetector builds the user-agent layer.
func NewSignatureDetector(catalog *signature.Catalog, cfg config.DetectionConfig) *SignatureDetector {
	return &SignatureDetector{catalog: catalog, cfg: cfg}
}

// Name identifies the layer.
func (d *SignatureDetector) Name() string { return MethodSignature }

// Detect reports a verdict when the user-agent identifies a known bot, a
// generic automation tool, or hides itself entirely.
func (d *SignatureDetector) Detect(_ context.Context, sig Signal) (Verdict, bool) {
	ua := strings.TrimSpace(sig.UserAgent)
	if ua == "" {
		// Browsers always send a user-agent; its absence is a signal.
		return Verdict{
			Method:     MethodSignature,
			Confidence: d.cfg.EmptyUAConfidence,
			Signature:  signature.Suspicious(),
			Evidence:   "empty user-agent",
		}, true
	}

	if match, ok := d.catalog.MatchUserAgent(ua); ok {
		return Verdict{
			Method:     MethodSignature,
			Confidence: d.cfg.SignatureConfidence,
			Signature:  match,
			Evidence:   fmt.Sprintf("user-agent matched signature %s (%s)", match.Name, match.Company),
		}, true
	}

	if keyword, ok := d.catalog.MatchKeyword(ua); ok {
		return Verdict{
			Method:     MethodSignature,
			Confidence: d.cfg.GenericConfidence,
			Signature:  signature.Unknown(),
			Evidence:   fmt.Sprintf("user-agent contains automation keyword %q", keyword),
		}, true
	}

	return Verdict{}, false
}
