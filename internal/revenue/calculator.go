package revenue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crawlmeter/internal/config"
	"crawlmeter/internal/detect"
	"crawlmeter/internal/geoip"
	"crawlmeter/internal/storage"
)

// currencyPlaces is the fixed currency precision for visit amounts.
const currencyPlaces = 4

// Calculator prices billable detections. The visit store decides
// billability atomically; when it is unreachable the calculator degrades to
// a bounded local cache so the request path never blocks, and flags the
// record for reconciliation.
type Calculator struct {
	cfg         config.RevenueConfig
	visits      storage.VisitStore
	countries   geoip.CountryResolver
	logger      zerolog.Logger
	defaultRate decimal.Decimal
	siteRates   map[string]decimal.Decimal
	premium     map[string]bool
	recent      otter.Cache[string, time.Time]
}

// NewCalculator builds a calculator from config.
func NewCalculator(cfg config.RevenueConfig, visits storage.VisitStore, countries geoip.CountryResolver, logger zerolog.Logger) (*Calculator, error) {
	siteRates := make(map[string]decimal.Decimal, len(cfg.SiteRates))
	for site, rate := range cfg.SiteRates {
		if rate < 0 {
			return nil, fmt.Errorf("site %q: rate cannot be negative", site)
		}
		siteRates[site] = decimal.NewFromFloat(rate)
	}

	premium := make(map[string]bool, len(cfg.PremiumCountries))
	for _, country := range cfg.PremiumCountries {
		premium[strings.ToUpper(country)] = true
	}

	capacity := cfg.DedupCacheSize
	if capacity <= 0 {
		capacity = 65536
	}
	recent, err := otter.MustBuilder[string, time.Time](capacity).
		Cost(func(_ string, _ time.Time) uint32 { return 1 }).
		WithTTL(cfg.DedupWindow).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build dedup cache: %w", err)
	}

	return &Calculator{
		cfg:         cfg,
		visits:      visits,
		countries:   countries,
		logger:      logger.With().Str("component", "revenue").Logger(),
		defaultRate: decimal.NewFromFloat(cfg.DefaultRate),
		siteRates:   siteRates,
		premium:     premium,
		recent:      recent,
	}, nil
}

// Bill prices the detection and writes a visit record, billable or not. The
// returned record reflects what was (or would have been) persisted.
func (c *Calculator) Bill(ctx context.Context, res detect.Result) (storage.VisitRecord, error) {
	if !res.IsBot {
		return storage.VisitRecord{}, fmt.Errorf("revenue: result is not a bot detection")
	}

	sig := res.Signal
	amount := c.Amount(res)

	visit := storage.VisitRecord{
		SiteID:     sig.SiteID,
		OwnerID:    sig.OwnerID,
		BotName:    res.Signature.Name,
		BotCompany: res.Signature.Company,
		IP:         ipString(sig),
		URL:        sig.URL,
		Revenue:    amount,
		OccurredAt: sig.Timestamp,
	}

	if c.visits != nil {
		stored, err := c.visits.InsertVisit(ctx, visit, c.cfg.DedupWindow)
		if err == nil {
			return stored, nil
		}
		c.logger.Warn().Err(err).
			Str("site", visit.SiteID).
			Msg("visit store unavailable; degrading to local dedup")
	}

	return c.billDegraded(visit), nil
}

// billDegraded applies the dedup window against the local cache only. The
// record is flagged so reconciliation can find it later.
func (c *Calculator) billDegraded(visit storage.VisitRecord) storage.VisitRecord {
	visit.DedupDegraded = true
	key := visit.SiteID + "|" + visit.IP + "|" + visit.URL

	if last, ok := c.recent.Get(key); ok && visit.OccurredAt.Sub(last) < c.cfg.DedupWindow {
		visit.IsBillable = false
		visit.Revenue = decimal.Zero.Round(currencyPlaces)
		return visit
	}

	c.recent.Set(key, visit.OccurredAt)
	visit.IsBillable = true
	return visit
}

// Amount computes the rounded visit price: resolved base rate times every
// enabled multiplier, round half-up at the currency precision.
func (c *Calculator) Amount(res detect.Result) decimal.Decimal {
	rate := c.resolveRate(res)

	for _, m := range c.multipliers(res.Signal) {
		rate = rate.Mul(m)
	}

	amount := rate.Round(currencyPlaces)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// resolveRate picks the site override, then the identity rate, then the
// global default. Explicitly-configured rates win even at zero: a site or
// verified crawler priced at 0 is free, not defaulted.
func (c *Calculator) resolveRate(res detect.Result) decimal.Decimal {
	if rate, ok := c.siteRates[res.Signal.SiteID]; ok {
		return rate
	}
	if res.Signature.HasRate {
		return res.Signature.Rate
	}
	return c.defaultRate
}

func (c *Calculator) multipliers(sig detect.Signal) []decimal.Decimal {
	var out []decimal.Decimal

	if c.cfg.PeakEnabled && inPeakHours(sig.Timestamp.UTC().Hour(), c.cfg.PeakStartHour, c.cfg.PeakEndHour) {
		out = append(out, decimal.NewFromFloat(c.cfg.PeakMultiplier))
	}

	if c.cfg.GeoEnabled && c.countries != nil && sig.ClientIP.IsValid() {
		if country := c.countries.Country(sig.ClientIP); country != "" && c.premium[strings.ToUpper(country)] {
			out = append(out, decimal.NewFromFloat(c.cfg.GeoMultiplier))
		}
	}

	if c.cfg.ContentEnabled && sig.ContentClass != "" {
		if m, ok := c.cfg.ContentMultipliers[strings.ToLower(sig.ContentClass)]; ok {
			out = append(out, decimal.NewFromFloat(m))
		}
	}

	return out
}

// inPeakHours handles ranges that wrap midnight.
func inPeakHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func ipString(sig detect.Signal) string {
	if !sig.ClientIP.IsValid() {
		return ""
	}
	return sig.ClientIP.String()
}
