package detect

import (
	"context"
	"fmt"
	"strings"

	"crawlmeter/internal/config"
	"crawlmeter/internal/signature"
)

// canonicalOrder is the header sequence a mainstream browser sends. Order
// similarity is the fraction of positional matches over the compared prefix.
var canonicalOrder = []string{
	"Host",
	"Connection",
	"Cache-Control",
	"Upgrade-Insecure-Requests",
	"User-Agent",
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"Cookie",
	"Referer",
}

var browserHeaders = []string{"Accept", "Accept-Language", "Accept-Encoding"}

var proxyChainHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-IP",
	"Via",
	"Forwarded",
	"X-ProxyUser-IP",
}

var automationHeaders = []string{
	"X-Scrapy-Version",
	"X-Crawlera-Client",
	"X-Splash-Version",
	"X-Automation",
	"X-Headless",
	"X-Puppeteer",
}

// HeaderDetector fingerprints the header set: missing canonical browser
// headers, stacked proxy chains, automation tool headers, and header order
// that does not look like any mainstream browser.
type HeaderDetector struct {
	cfg config.DetectionConfig
}

// NewHeaderDetector builds the header fingerprint layer.
func NewHeaderDetector(cfg config.DetectionConfig) *HeaderDetector {
	return &HeaderDetector{cfg: cfg}
}

// Name identifies the layer.
func (d *HeaderDetector) Name() string { return MethodHeader }

// Detect reports a verdict when one or more fingerprint checks trigger.
func (d *HeaderDetector) Detect(_ context.Context, sig Signal) (Verdict, bool) {
	var findings []string

	missing := 0
	for _, name := range browserHeaders {
		if v, ok := sig.Get(name); !ok || strings.TrimSpace(v) == "" {
			missing++
		}
	}
	if missing >= 2 {
		findings = append(findings, fmt.Sprintf("%d of %d canonical browser headers missing", missing, len(browserHeaders)))
	}

	proxies := 0
	for _, name := range proxyChainHeaders {
		if _, ok := sig.Get(name); ok {
			proxies++
		}
	}
	if proxies >= 3 {
		findings = append(findings, fmt.Sprintf("%d proxy-chain headers present", proxies))
	}

	for _, name := range automationHeaders {
		if _, ok := sig.Get(name); ok {
			findings = append(findings, fmt.Sprintf("automation header %s present", name))
			break
		}
	}

	if len(sig.Headers) > 0 {
		similarity := orderSimilarity(sig.Headers, canonicalOrder)
		if similarity < d.cfg.OrderSimilarityFloor {
			findings = append(findings, fmt.Sprintf("header order similarity %.2f below %.2f", similarity, d.cfg.OrderSimilarityFloor))
		}
	}

	if len(findings) == 0 {
		return Verdict{}, false
	}

	confidence := d.cfg.HeaderConfidence + 0.05*float64(len(findings)-1)
	if confidence > 0.85 {
		confidence = 0.85
	}

	return Verdict{
		Method:     MethodHeader,
		Confidence: confidence,
		Signature:  signature.Suspicious(),
		Evidence:   strings.Join(findings, "; "),
	}, true
}

// orderSimilarity compares the observed header prefix against the reference
// sequence position by position, skipping reference headers the client did
// not send at all.
func orderSimilarity(headers []Header, reference []string) float64 {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(h.Name)] = true
	}

	expected := make([]string, 0, len(reference))
	for _, name := range reference {
		if present[strings.ToLower(name)] {
			expected = append(expected, strings.ToLower(name))
		}
	}

	compared := len(expected)
	if compared > len(headers) {
		compared = len(headers)
	}
	if compared == 0 {
		return 0
	}

	matches := 0
	for i := 0; i < compared; i++ {
		if strings.ToLower(headers[i].Name) == expected[i] {
			matches++
		}
	}
	return float64(matches) / float64(compared)
}
