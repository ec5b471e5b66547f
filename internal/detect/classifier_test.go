package detect

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crawlmeter/internal/signature"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	return NewClassifier(testCatalog(t), testDetectionConfig(), testBehaviorConfig(), zerolog.Nop())
}

func TestClassifyKnownBotCorroborated(t *testing.T) {
	c := testClassifier(t)

	sig := ExtractSignal(RawRequest{
		SiteID:     "site-1",
		RemoteAddr: "20.15.241.7:443",
		Headers: []Header{
			{Name: "User-Agent", Value: "Mozilla/5.0 (compatible; GPTBot/1.0; +https://openai.com/gptbot)"},
		},
		URL:       "/articles/1",
		Timestamp: time.Now().UTC(),
	})

	res := c.Classify(context.Background(), sig)
	if !res.IsBot {
		t.Fatal("GPTBot from its published range must classify as bot")
	}
	if res.Signature.Name != "GPTBot" {
		t.Fatalf("identity = %s", res.Signature.Name)
	}
	// Signature layer at 0.95 plus at least one corroborating layer, cap 0.99.
	if res.Confidence < 0.95 || res.Confidence > 0.99 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
	if len(res.Verdicts) < 2 {
		t.Fatalf("verdicts = %d, want signature and ip_range at least", len(res.Verdicts))
	}
}

func TestClassifyCleanBrowserRequest(t *testing.T) {
	c := testClassifier(t)

	sig := ExtractSignal(RawRequest{
		SiteID:     "site-1",
		RemoteAddr: "203.0.113.55:50000",
		Headers: []Header{
			{Name: "Host", Value: "example.com"},
			{Name: "Connection", Value: "keep-alive"},
			{Name: "User-Agent", Value: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"},
			{Name: "Accept", Value: "text/html,application/xhtml+xml"},
			{Name: "Accept-Encoding", Value: "gzip, deflate, br"},
			{Name: "Accept-Language", Value: "en-US,en;q=0.9"},
			{Name: "Referer", Value: "https://news.example.com/"},
		},
		URL:       "/articles/1",
		Timestamp: time.Now().UTC(),
	})

	res := c.Classify(context.Background(), sig)
	if res.IsBot {
		t.Fatalf("clean browser request classified as bot: %+v", res.Verdicts)
	}
}

type slowDetector struct {
	delay time.Duration
}

func (d *slowDetector) Name() string { return "slow" }

func (d *slowDetector) Detect(ctx context.Context, _ Signal) (Verdict, bool) {
	select {
	case <-time.After(d.delay):
		return Verdict{Method: "slow", Confidence: 0.9, Signature: signature.Unknown()}, true
	case <-ctx.Done():
		return Verdict{}, false
	}
}

type fixedDetector struct {
	verdict Verdict
}

func (d *fixedDetector) Name() string { return d.verdict.Method }

func (d *fixedDetector) Detect(context.Context, Signal) (Verdict, bool) {
	return d.verdict, true
}

func TestClassifySlowLayerDoesNotBlock(t *testing.T) {
	c := &Classifier{
		detectors: []Detector{
			&fixedDetector{verdict: Verdict{Method: MethodSignature, Confidence: 0.95, Signature: signature.Signature{Name: "GPTBot"}}},
			&slowDetector{delay: 5 * time.Second},
		},
		timeout: 30 * time.Millisecond,
		aggOpts: DefaultAggregateOptions(),
		logger:  zerolog.Nop(),
	}

	start := time.Now()
	res := c.Classify(context.Background(), Signal{})
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("classification took %s, the slow layer blocked the join", elapsed)
	}
	if !res.IsBot || res.Signature.Name != "GPTBot" {
		t.Fatalf("fast layer's verdict lost: %+v", res)
	}
	// The slow layer contributed nothing, so no corroboration boost.
	if res.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", res.Confidence)
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	c := testClassifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Classify(ctx, Signal{UserAgent: "GPTBot/1.0"})
	// With the context already gone the result may be empty, but the call
	// must return promptly and not panic.
	_ = res
}
