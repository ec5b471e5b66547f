package detect

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"crawlmeter/internal/config"
	"crawlmeter/internal/signature"
)

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		DetectorTimeout:        50 * time.Millisecond,
		ConfidenceCap:          0.99,
		CorroborationBoost:     0.05,
		CorroborationMax:       0.1,
		SignatureConfidence:    0.95,
		GenericConfidence:      0.6,
		EmptyUAConfidence:      0.7,
		HeaderConfidence:       0.65,
		IPRangeConfidence:      0.9,
		CloudConfidence:        0.3,
		OrderSimilarityFloor:   0.6,
		EdgeVerifiedConfidence: 0.95,
		EdgeFlagConfidence:     0.85,
		EdgeScoreThreshold:     66,
		EdgeThreatThreshold:    50,
		EdgeThreatConfidence:   0.6,
	}
}

func testCatalog(t *testing.T) *signature.Catalog {
	t.Helper()
	catalog, err := signature.NewCatalog(signature.Defaults(), signature.GenericKeywords())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return catalog
}

func TestSignatureDetectorKnownBot(t *testing.T) {
	d := NewSignatureDetector(testCatalog(t), testDetectionConfig())

	v, ok := d.Detect(context.Background(), Signal{UserAgent: "Mozilla/5.0 (compatible; GPTBot/1.0)"})
	if !ok {
		t.Fatal("expected a verdict for GPTBot")
	}
	if v.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", v.Confidence)
	}
	if v.Signature.Name != "GPTBot" {
		t.Fatalf("identity = %s", v.Signature.Name)
	}
}

func TestSignatureDetectorEmptyUserAgent(t *testing.T) {
	d := NewSignatureDetector(testCatalog(t), testDetectionConfig())

	v, ok := d.Detect(context.Background(), Signal{UserAgent: "   "})
	if !ok {
		t.Fatal("empty user-agent should produce a verdict")
	}
	if v.Confidence != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", v.Confidence)
	}
	if v.Signature.Type != signature.TypeSuspicious {
		t.Fatalf("type = %s, want suspicious", v.Signature.Type)
	}
}

func TestSignatureDetectorGenericKeyword(t *testing.T) {
	d := NewSignatureDetector(testCatalog(t), testDetectionConfig())

	v, ok := d.Detect(context.Background(), Signal{UserAgent: "curl/8.4.0"})
	if !ok {
		t.Fatal("curl should match the generic keyword list")
	}
	if v.Confidence != 0.6 {
		t.Fatalf("confidence = %v, want 0.6", v.Confidence)
	}
	if v.Signature.Name != "unknown-bot" {
		t.Fatalf("identity = %s, want unknown-bot", v.Signature.Name)
	}
}

func TestSignatureDetectorBrowserAbstains(t *testing.T) {
	d := NewSignatureDetector(testCatalog(t), testDetectionConfig())

	ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
	if _, ok := d.Detect(context.Background(), Signal{UserAgent: ua}); ok {
		t.Fatal("browser user-agent should not produce a verdict")
	}
}

func browserSignal() Signal {
	return Signal{
		Headers: []Header{
			{Name: "Host", Value: "example.com"},
			{Name: "Connection", Value: "keep-alive"},
			{Name: "User-Agent", Value: "Mozilla/5.0"},
			{Name: "Accept", Value: "text/html"},
			{Name: "Accept-Encoding", Value: "gzip"},
			{Name: "Accept-Language", Value: "en-US"},
		},
	}
}

func TestHeaderDetectorBrowserAbstains(t *testing.T) {
	d := NewHeaderDetector(testDetectionConfig())
	if v, ok := d.Detect(context.Background(), browserSignal()); ok {
		t.Fatalf("browser-shaped headers should abstain, got %q", v.Evidence)
	}
}

func TestHeaderDetectorMissingBrowserHeaders(t *testing.T) {
	d := NewHeaderDetector(testDetectionConfig())

	sig := Signal{Headers: []Header{
		{Name: "Host", Value: "example.com"},
		{Name: "User-Agent", Value: "Mozilla/5.0"},
	}}
	v, ok := d.Detect(context.Background(), sig)
	if !ok {
		t.Fatal("missing Accept headers should trigger a verdict")
	}
	if v.Confidence != 0.65 {
		t.Fatalf("confidence = %v, want base 0.65 for a single finding", v.Confidence)
	}
}

func TestHeaderDetectorAutomationHeader(t *testing.T) {
	d := NewHeaderDetector(testDetectionConfig())

	sig := browserSignal()
	sig.Headers = append(sig.Headers, Header{Name: "X-Scrapy-Version", Value: "2.11"})
	v, ok := d.Detect(context.Background(), sig)
	if !ok {
		t.Fatal("automation header should trigger a verdict")
	}
	if v.Confidence != 0.65 {
		t.Fatalf("confidence = %v", v.Confidence)
	}
}

func TestHeaderDetectorStackedFindings(t *testing.T) {
	d := NewHeaderDetector(testDetectionConfig())

	sig := Signal{Headers: []Header{
		{Name: "X-Forwarded-For", Value: "1.2.3.4"},
		{Name: "X-Real-IP", Value: "1.2.3.4"},
		{Name: "Via", Value: "proxy"},
		{Name: "X-Headless", Value: "true"},
	}}
	v, ok := d.Detect(context.Background(), sig)
	if !ok {
		t.Fatal("expected a verdict")
	}
	// Missing browser headers, proxy chain, and automation header stack up.
	if v.Confidence <= 0.65 {
		t.Fatalf("confidence = %v, want above the single-finding base", v.Confidence)
	}
	if v.Confidence > 0.85 {
		t.Fatalf("confidence = %v, want at most 0.85", v.Confidence)
	}
}

func TestOrderSimilarity(t *testing.T) {
	// Canonical prefix in order: full similarity.
	if got := orderSimilarity(browserSignal().Headers, canonicalOrder); got != 1 {
		t.Fatalf("similarity = %v, want 1 for canonical order", got)
	}

	scrambled := []Header{
		{Name: "Accept-Language", Value: "en"},
		{Name: "Host", Value: "example.com"},
		{Name: "Accept", Value: "*/*"},
		{Name: "User-Agent", Value: "x"},
		{Name: "Connection", Value: "close"},
		{Name: "Accept-Encoding", Value: "gzip"},
	}
	if got := orderSimilarity(scrambled, canonicalOrder); got >= 0.6 {
		t.Fatalf("similarity = %v, want below 0.6 for scrambled order", got)
	}
}

func TestIPRangeDetectorSignatureNetwork(t *testing.T) {
	d := NewIPRangeDetector(testCatalog(t), testDetectionConfig())

	sig := Signal{ClientIP: netip.MustParseAddr("20.15.241.7")}
	v, ok := d.Detect(context.Background(), sig)
	if !ok {
		t.Fatal("GPTBot published range should match")
	}
	if v.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9", v.Confidence)
	}
	if v.Signature.Name != "GPTBot" {
		t.Fatalf("identity = %s", v.Signature.Name)
	}
}

func TestIPRangeDetectorCloudOrigin(t *testing.T) {
	d := NewIPRangeDetector(testCatalog(t), testDetectionConfig())

	sig := Signal{ClientIP: netip.MustParseAddr("3.120.14.9")}
	v, ok := d.Detect(context.Background(), sig)
	if !ok {
		t.Fatal("AWS range should match as cloud origin")
	}
	if v.Confidence != 0.3 {
		t.Fatalf("confidence = %v, want weak 0.3", v.Confidence)
	}
}

func TestIPRangeDetectorResidentialAbstains(t *testing.T) {
	d := NewIPRangeDetector(testCatalog(t), testDetectionConfig())

	sig := Signal{ClientIP: netip.MustParseAddr("203.0.113.55")}
	if _, ok := d.Detect(context.Background(), sig); ok {
		t.Fatal("unlisted address should abstain")
	}

	if _, ok := d.Detect(context.Background(), Signal{}); ok {
		t.Fatal("invalid address should abstain")
	}
}

func TestEdgeDetectorAbstainsWithoutEdgeBlock(t *testing.T) {
	d := NewEdgeSignalDetector(testDetectionConfig())
	if _, ok := d.Detect(context.Background(), Signal{}); ok {
		t.Fatal("no edge block should mean no verdict")
	}
}

func TestEdgeDetectorFlagAndVerification(t *testing.T) {
	d := NewEdgeSignalDetector(testDetectionConfig())

	v, ok := d.Detect(context.Background(), Signal{Edge: &EdgeSignal{Source: "cdn", BotFlag: true}})
	if !ok || v.Confidence != 0.85 {
		t.Fatalf("flagged: ok=%v confidence=%v, want 0.85", ok, v.Confidence)
	}

	v, ok = d.Detect(context.Background(), Signal{Edge: &EdgeSignal{Source: "cdn", BotFlag: true, Verified: true}})
	if !ok || v.Confidence != 0.95 {
		t.Fatalf("verified: ok=%v confidence=%v, want 0.95", ok, v.Confidence)
	}
	if v.Signature.Type != signature.TypeVerified {
		t.Fatalf("type = %s, want verified", v.Signature.Type)
	}
}

func TestEdgeDetectorBotScore(t *testing.T) {
	d := NewEdgeSignalDetector(testDetectionConfig())

	v, ok := d.Detect(context.Background(), Signal{Edge: &EdgeSignal{BotScore: 80, HasBotScore: true}})
	if !ok || v.Confidence != 0.8 {
		t.Fatalf("score 80: ok=%v confidence=%v, want 0.8", ok, v.Confidence)
	}

	if _, ok := d.Detect(context.Background(), Signal{Edge: &EdgeSignal{BotScore: 40, HasBotScore: true}}); ok {
		t.Fatal("score below threshold should abstain")
	}

	// Scores outside 0-100 clamp rather than inflate confidence.
	v, ok = d.Detect(context.Background(), Signal{Edge: &EdgeSignal{BotScore: 250, HasBotScore: true}})
	if !ok || v.Confidence != 1.0 {
		t.Fatalf("clamped score: ok=%v confidence=%v, want 1.0", ok, v.Confidence)
	}
}

func TestEdgeDetectorThreatScore(t *testing.T) {
	d := NewEdgeSignalDetector(testDetectionConfig())

	v, ok := d.Detect(context.Background(), Signal{Edge: &EdgeSignal{ThreatScore: 70, HasThreat: true}})
	if !ok || v.Confidence != 0.6 {
		t.Fatalf("threat: ok=%v confidence=%v, want 0.6", ok, v.Confidence)
	}

	if _, ok := d.Detect(context.Background(), Signal{Edge: &EdgeSignal{ThreatScore: 30, HasThreat: true}}); ok {
		t.Fatal("threat below threshold should abstain")
	}
}
