package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crawlmeter/internal/config"
	"crawlmeter/internal/detect"
	"crawlmeter/internal/notify"
	"crawlmeter/internal/policy"
	"crawlmeter/internal/revenue"
	"crawlmeter/internal/signature"
)

func testEngine(t *testing.T, notifier notify.Notifier, nt config.NotifyConfig) *Engine {
	t.Helper()

	catalog, err := signature.NewCatalog(signature.Defaults(), signature.GenericKeywords())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	det := config.DetectionConfig{
		DetectorTimeout:      50 * time.Millisecond,
		ConfidenceCap:        0.99,
		CorroborationBoost:   0.05,
		CorroborationMax:     0.1,
		SignatureConfidence:  0.95,
		GenericConfidence:    0.6,
		EmptyUAConfidence:    0.7,
		HeaderConfidence:     0.65,
		IPRangeConfidence:    0.9,
		CloudConfidence:      0.3,
		OrderSimilarityFloor: 0.6,
	}
	beh := config.BehaviorConfig{
		Window:             time.Hour,
		MaxRequestsPerHour: 50,
		SequentialRatio:    0.6,
		NoRefererRatio:     0.8,
		BaseConfidence:     0.4,
		PerSignalBoost:     0.2,
		MaxConfidence:      0.9,
	}
	classifier := detect.NewClassifier(catalog, det, beh, zerolog.Nop())

	// No visit store: billing runs in its degraded local-dedup mode, which
	// is exactly what a unit test wants.
	calculator, err := revenue.NewCalculator(config.RevenueConfig{
		DefaultRate:    0.001,
		Currency:       "USD",
		DedupWindow:    60 * time.Second,
		DedupCacheSize: 1024,
	}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("build calculator: %v", err)
	}

	pol := config.PolicyConfig{HighThreshold: 0.9, MediumThreshold: 0.7}
	return New(classifier, pol, calculator, nt, notifier, zerolog.Nop())
}

func gptbotRequest(path string) detect.RawRequest {
	return detect.RawRequest{
		SiteID:     "site-1",
		OwnerID:    "owner-1",
		RemoteAddr: "20.15.241.7:443",
		Headers: []detect.Header{
			{Name: "User-Agent", Value: "Mozilla/5.0 (compatible; GPTBot/1.0; +https://openai.com/gptbot)"},
		},
		URL:       path,
		Method:    "GET",
		Timestamp: time.Now().UTC(),
	}
}

func TestProcessKnownBotIsBilled(t *testing.T) {
	eng := testEngine(t, nil, config.NotifyConfig{})

	outcome := eng.Process(context.Background(), gptbotRequest("/articles/1"))

	if !outcome.Result.IsBot {
		t.Fatal("GPTBot must classify as bot")
	}
	if outcome.Result.Signature.Name != "GPTBot" {
		t.Fatalf("identity = %s", outcome.Result.Signature.Name)
	}
	if outcome.Action != policy.ActionRateLimit {
		t.Fatalf("action = %s, want rate_limit for a premium identity", outcome.Action)
	}
	if outcome.Visit == nil {
		t.Fatal("bot detection must produce a visit record")
	}
	if !outcome.Visit.IsBillable {
		t.Fatal("first visit must be billable")
	}
	if outcome.Visit.Revenue.StringFixed(4) != "0.0020" {
		t.Fatalf("revenue = %s, want the GPTBot rate 0.0020", outcome.Visit.Revenue.StringFixed(4))
	}
}

func TestProcessDuplicateVisitNotBilled(t *testing.T) {
	eng := testEngine(t, nil, config.NotifyConfig{})

	first := eng.Process(context.Background(), gptbotRequest("/articles/1"))
	second := eng.Process(context.Background(), gptbotRequest("/articles/1"))

	if first.Visit == nil || second.Visit == nil {
		t.Fatal("both detections must produce visit records")
	}
	if !first.Visit.IsBillable {
		t.Fatal("first visit must bill")
	}
	if second.Visit.IsBillable {
		t.Fatal("duplicate inside the dedup window must not bill")
	}
	if second.Visit.Revenue.StringFixed(4) != "0.0000" {
		t.Fatalf("duplicate revenue = %s", second.Visit.Revenue.StringFixed(4))
	}
}

func TestProcessCleanRequestMonitored(t *testing.T) {
	eng := testEngine(t, nil, config.NotifyConfig{})

	raw := detect.RawRequest{
		SiteID:     "site-1",
		RemoteAddr: "203.0.113.55:50000",
		Headers: []detect.Header{
			{Name: "Host", Value: "example.com"},
			{Name: "Connection", Value: "keep-alive"},
			{Name: "User-Agent", Value: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"},
			{Name: "Accept", Value: "text/html"},
			{Name: "Accept-Encoding", Value: "gzip"},
			{Name: "Accept-Language", Value: "en-US"},
			{Name: "Referer", Value: "https://news.example.com/"},
		},
		URL:       "/articles/1",
		Timestamp: time.Now().UTC(),
	}

	outcome := eng.Process(context.Background(), raw)
	if outcome.Result.IsBot {
		t.Fatalf("clean request classified as bot: %+v", outcome.Result.Verdicts)
	}
	if outcome.Action != policy.ActionMonitor {
		t.Fatalf("action = %s, want monitor", outcome.Action)
	}
	if outcome.Visit != nil {
		t.Fatal("non-bot request must not produce a visit record")
	}
}

type chanNotifier struct {
	events chan notify.Event
}

func (n *chanNotifier) Notify(_ context.Context, event notify.Event) error {
	n.events <- event
	return nil
}

func TestProcessBurstEvent(t *testing.T) {
	notifier := &chanNotifier{events: make(chan notify.Event, 1)}
	eng := testEngine(t, notifier, config.NotifyConfig{
		BurstThreshold: 3,
		BurstWindow:    time.Minute,
	})

	for i := 0; i < 5; i++ {
		eng.Process(context.Background(), gptbotRequest(fmt.Sprintf("/articles/%d", i)))
	}

	select {
	case event := <-notifier.events:
		if event.Kind != notify.KindDetectionBurst {
			t.Fatalf("kind = %s, want detection_burst", event.Kind)
		}
		if event.SiteID != "site-1" {
			t.Fatalf("site = %s", event.SiteID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected one burst event within the window")
	}

	// Only one event per window even though detections kept coming.
	select {
	case event := <-notifier.events:
		t.Fatalf("unexpected second event %+v inside the same window", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProcessAbandonedContextSkipsBilling(t *testing.T) {
	eng := testEngine(t, nil, config.NotifyConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := eng.Process(ctx, gptbotRequest("/articles/1"))
	if outcome.Visit != nil {
		t.Fatal("an abandoned request must not be billed")
	}
}
