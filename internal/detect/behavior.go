package detect

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"crawlmeter/internal/config"
	"crawlmeter/internal/signature"
)

type windowEntry struct {
	at         time.Time
	url        string
	hasReferer bool
}

type ipWindow struct {
	mu      sync.Mutex
	entries []windowEntry
}

// BehaviorDetector keeps a short rolling window of recent requests per IP
// and flags machine-like access patterns. It is the only layer with shared
// mutable state; the window table is a sharded concurrent map with
// time-bounded eviction.
type BehaviorDetector struct {
	cfg     config.BehaviorConfig
	windows *xsync.Map[netip.Addr, *ipWindow]
}

// NewBehaviorDetector builds the behavioral layer.
func NewBehaviorDetector(cfg config.BehaviorConfig) *BehaviorDetector {
	return &BehaviorDetector{
		cfg:     cfg,
		windows: xsync.NewMap[netip.Addr, *ipWindow](),
	}
}

// Name identifies the layer.
func (d *BehaviorDetector) Name() string { return MethodBehavior }

// Detect records the request in the IP's window and evaluates the
// sub-signals over whatever history remains inside the window.
func (d *BehaviorDetector) Detect(_ context.Context, sig Signal) (Verdict, bool) {
	if !sig.ClientIP.IsValid() {
		return Verdict{}, false
	}

	w, _ := d.windows.LoadOrStore(sig.ClientIP, &ipWindow{})

	w.mu.Lock()
	cutoff := sig.Timestamp.Add(-d.cfg.Window)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = append(kept, windowEntry{
		at:         sig.Timestamp,
		url:        sig.URL,
		hasReferer: sig.Referer != "",
	})
	entries := make([]windowEntry, len(w.entries))
	copy(entries, w.entries)
	w.mu.Unlock()

	var findings []string

	if len(entries) > d.cfg.MaxRequestsPerHour {
		findings = append(findings, fmt.Sprintf("%d requests inside %s window", len(entries), d.cfg.Window))
	}
	if machinePaced(entries) {
		findings = append(findings, "low-variance request timing")
	}
	if ratio, ok := sequentialRatio(entries); ok && ratio >= d.cfg.SequentialRatio {
		findings = append(findings, fmt.Sprintf("sequential id traversal in %.0f%% of steps", ratio*100))
	}
	if len(entries) >= 10 {
		noRef := 0
		for _, e := range entries {
			if !e.hasReferer {
				noRef++
			}
		}
		if ratio := float64(noRef) / float64(len(entries)); ratio > d.cfg.NoRefererRatio {
			findings = append(findings, fmt.Sprintf("%.0f%% of requests without referrer", ratio*100))
		}
	}

	if len(findings) == 0 {
		return Verdict{}, false
	}

	confidence := d.cfg.BaseConfidence + d.cfg.PerSignalBoost*float64(len(findings)-1)
	if confidence > d.cfg.MaxConfidence {
		confidence = d.cfg.MaxConfidence
	}

	return Verdict{
		Method:     MethodBehavior,
		Confidence: confidence,
		Signature:  signature.Unknown(),
		Evidence:   strings.Join(findings, "; "),
	}, true
}

// Evict drops window entries older than the analysis window and removes
// empty IPs, bounding table growth.
func (d *BehaviorDetector) Evict(now time.Time) {
	cutoff := now.Add(-d.cfg.Window)
	d.windows.Range(func(addr netip.Addr, w *ipWindow) bool {
		w.mu.Lock()
		kept := w.entries[:0]
		for _, e := range w.entries {
			if e.at.After(cutoff) {
				kept = append(kept, e)
			}
		}
		w.entries = kept
		empty := len(w.entries) == 0
		w.mu.Unlock()
		if empty {
			d.windows.Delete(addr)
		}
		return true
	})
}

// RunEviction sweeps the window table until ctx is cancelled.
func (d *BehaviorDetector) RunEviction(ctx context.Context) {
	interval := d.cfg.EvictInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Evict(now)
		}
	}
}

// machinePaced reports near-constant inter-request gaps. Humans do not click
// on a metronome; a coefficient of variation under 15% over six or more
// requests is machine pacing.
func machinePaced(entries []windowEntry) bool {
	if len(entries) < 6 {
		return false
	}
	gaps := make([]float64, 0, len(entries)-1)
	for i := 1; i < len(entries); i++ {
		gaps = append(gaps, entries[i].at.Sub(entries[i-1].at).Seconds())
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean <= 0 {
		return false
	}

	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))

	return math.Sqrt(variance)/mean < 0.15
}

var trailingID = regexp.MustCompile(`(\d+)/?$`)

// sequentialRatio measures how many consecutive request pairs step a
// trailing numeric path id by exactly one, in either direction.
func sequentialRatio(entries []windowEntry) (float64, bool) {
	if len(entries) < 5 {
		return 0, false
	}

	steps := 0
	for i := 1; i < len(entries); i++ {
		prev, okPrev := trailingInt(entries[i-1].url)
		cur, okCur := trailingInt(entries[i].url)
		if okPrev && okCur {
			if diff := cur - prev; diff == 1 || diff == -1 {
				steps++
			}
		}
	}
	return float64(steps) / float64(len(entries)-1), true
}

func trailingInt(url string) (int64, bool) {
	if idx := strings.IndexAny(url, "?#"); idx != -1 {
		url = url[:idx]
	}
	m := trailingID.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
