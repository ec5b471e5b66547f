package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crawlmeter/internal/config"
	"crawlmeter/internal/detect"
	"crawlmeter/internal/notify"
	"crawlmeter/internal/policy"
	"crawlmeter/internal/revenue"
	"crawlmeter/internal/storage"
)

// Outcome is everything the serving collaborator gets back for one request.
type Outcome struct {
	Result detect.Result
	Action policy.Action
	Visit  *storage.VisitRecord
}

// Engine is the per-request facade: extract, classify, decide, bill. It is
// safe for concurrent use; any internal failure degrades to a monitor-only
// outcome rather than surfacing to the end client.
type Engine struct {
	classifier *detect.Classifier
	thresholds policy.Thresholds
	calculator *revenue.Calculator
	notifier   notify.Notifier
	logger     zerolog.Logger

	burstThreshold int
	burstWindow    time.Duration
	burstMu        sync.Mutex
	burstStart     time.Time
	burstCount     int
}

// New constructs the engine.
func New(classifier *detect.Classifier, pol config.PolicyConfig, calculator *revenue.Calculator, nt config.NotifyConfig, notifier notify.Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		classifier:     classifier,
		thresholds:     policy.Thresholds{High: pol.HighThreshold, Medium: pol.MediumThreshold},
		calculator:     calculator,
		notifier:       notifier,
		logger:         logger.With().Str("component", "engine").Logger(),
		burstThreshold: nt.BurstThreshold,
		burstWindow:    nt.BurstWindow,
	}
}

// Process classifies one request and, for bot detections, attributes
// revenue and records the visit.
func (e *Engine) Process(ctx context.Context, raw detect.RawRequest) Outcome {
	sig := detect.ExtractSignal(raw)
	result := e.classifier.Classify(ctx, sig)
	action := policy.Decide(result, e.thresholds)

	outcome := Outcome{Result: result, Action: action}
	if !result.IsBot {
		return outcome
	}

	e.logger.Debug().
		Str("site", sig.SiteID).
		Str("bot", result.Signature.Name).
		Float64("confidence", result.Confidence).
		Str("action", string(action)).
		Msg("bot detected")

	if ctx.Err() != nil {
		// The caller abandoned the request; never persist a partial result.
		return outcome
	}

	if e.calculator != nil {
		visit, err := e.calculator.Bill(ctx, result)
		if err != nil {
			e.logger.Error().Err(err).Str("site", sig.SiteID).Msg("billing failed for detection")
		} else {
			outcome.Visit = &visit
		}
	}

	e.trackBurst(sig.SiteID, sig.Timestamp)
	return outcome
}

// Behavior exposes the behavioral window for the eviction loop.
func (e *Engine) Behavior() *detect.BehaviorDetector {
	return e.classifier.Behavior()
}

// trackBurst counts detections inside a rolling window and emits one
// detection_burst event per window when the threshold trips.
func (e *Engine) trackBurst(siteID string, at time.Time) {
	if e.notifier == nil || e.burstThreshold <= 0 || e.burstWindow <= 0 {
		return
	}

	e.burstMu.Lock()
	if at.Sub(e.burstStart) > e.burstWindow {
		e.burstStart = at
		e.burstCount = 0
	}
	e.burstCount++
	fire := e.burstCount == e.burstThreshold
	count := e.burstCount
	e.burstMu.Unlock()

	if !fire {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		event := notify.Event{
			Kind:   notify.KindDetectionBurst,
			SiteID: siteID,
			Detail: "detection rate exceeded threshold",
			At:     at,
		}
		if err := e.notifier.Notify(ctx, event); err != nil {
			e.logger.Error().Err(err).Int("count", count).Msg("failed to deliver burst event")
		}
	}()
}
