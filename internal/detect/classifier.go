package detect

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crawlmeter/internal/config"
	"crawlmeter/internal/signature"
)

// Detector is one independent detection layer. Detect returns false to
// abstain. Implementations must be safe for concurrent use and observe ctx.
type Detector interface {
	Name() string
	Detect(ctx context.Context, sig Signal) (Verdict, bool)
}

// Classifier fans a request out to every layer in parallel and joins the
// verdicts into one Result. A layer that exceeds its time budget simply
// contributes nothing; classification is advisory and must not block the
// request on a slow layer.
type Classifier struct {
	detectors []Detector
	behavior  *BehaviorDetector
	timeout   time.Duration
	aggOpts   AggregateOptions
	logger    zerolog.Logger
}

// NewClassifier wires the five standard layers against the given catalog.
func NewClassifier(catalog *signature.Catalog, det config.DetectionConfig, beh config.BehaviorConfig, logger zerolog.Logger) *Classifier {
	behavior := NewBehaviorDetector(beh)
	return &Classifier{
		detectors: []Detector{
			NewSignatureDetector(catalog, det),
			NewHeaderDetector(det),
			NewIPRangeDetector(catalog, det),
			behavior,
			NewEdgeSignalDetector(det),
		},
		behavior: behavior,
		timeout:  det.DetectorTimeout,
		aggOpts: AggregateOptions{
			Boost: det.CorroborationBoost,
			Max:   det.CorroborationMax,
			Cap:   det.ConfidenceCap,
		},
		logger: logger.With().Str("component", "classifier").Logger(),
	}
}

// Behavior exposes the behavioral layer so the caller can run its eviction
// sweep.
func (c *Classifier) Behavior() *BehaviorDetector { return c.behavior }

// Classify runs every layer concurrently and aggregates whatever verdicts
// arrive within the per-detector budget. Cancellation of ctx abandons the
// join; partial verdicts collected so far are still aggregated but nothing
// is persisted here.
func (c *Classifier) Classify(ctx context.Context, sig Signal) Result {
	type outcome struct {
		name    string
		verdict Verdict
		ok      bool
	}

	results := make(chan outcome, len(c.detectors))
	for _, det := range c.detectors {
		go func(det Detector) {
			dctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			v, ok := det.Detect(dctx, sig)
			results <- outcome{name: det.Name(), verdict: v, ok: ok}
		}(det)
	}

	deadline := time.NewTimer(c.timeout + 5*time.Millisecond)
	defer deadline.Stop()

	verdicts := make([]Verdict, 0, len(c.detectors))
	received := 0

collect:
	for received < len(c.detectors) {
		select {
		case out := <-results:
			received++
			if out.ok {
				verdicts = append(verdicts, out.verdict)
			}
		case <-deadline.C:
			c.logger.Warn().
				Int("missing", len(c.detectors)-received).
				Dur("budget", c.timeout).
				Msg("detector join degraded: layers timed out")
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	return Aggregate(sig, verdicts, c.aggOpts)
}
