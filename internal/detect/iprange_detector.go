package detect

import (
	"context"
	"fmt"
	"net/netip"

	"crawlmeter/internal/config"
	"crawlmeter/internal/signature"
)

// cloudPrefixes covers well-known cloud provider address space. Cloud origin
// alone is weak evidence: plenty of legitimate traffic traverses the same
// ranges, so matches here score low.
var cloudPrefixes = func() []netip.Prefix {
	cidrs := []string{
		// AWS
		"3.0.0.0/8",
		"13.32.0.0/12",
		"18.128.0.0/9",
		"52.0.0.0/10",
		"54.64.0.0/11",
		// GCP
		"34.64.0.0/10",
		"35.184.0.0/13",
		"104.154.0.0/15",
		// Azure
		"20.33.0.0/16",
		"20.34.0.0/15",
		"20.36.0.0/14",
		"40.64.0.0/10",
		"52.224.0.0/11",
		// DigitalOcean
		"134.209.0.0/16",
		"159.65.0.0/16",
		"167.99.0.0/16",
		// Hetzner
		"95.216.0.0/15",
		"135.181.0.0/16",
		// OVH
		"51.68.0.0/14",
		"145.239.0.0/16",
	}
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefixes = append(prefixes, netip.MustParsePrefix(cidr))
	}
	return prefixes
}()

// IPRangeDetector matches the resolved client IP against signature network
// ranges and, separately, against cloud provider address space.
type IPRangeDetector struct {
	catalog *signature.Catalog
	cfg     config.DetectionConfig
}

// NewIPRangeDetector builds the IP layer.
func NewIPRangeDetector(catalog *signature.Catalog, cfg config.DetectionConfig) *IPRangeDetector {
	return &IPRangeDetector{catalog: catalog, cfg: cfg}
}

// Name identifies the layer.
func (d *IPRangeDetector) Name() string { return MethodIPRange }

// Detect reports a high-confidence verdict on a signature range match and a
// low-confidence one for generic cloud origin.
func (d *IPRangeDetector) Detect(_ context.Context, sig Signal) (Verdict, bool) {
	addr := sig.ClientIP
	if !addr.IsValid() {
		return Verdict{}, false
	}

	if match, ok := d.catalog.MatchIP(addr); ok {
		return Verdict{
			Method:     MethodIPRange,
			Confidence: d.cfg.IPRangeConfidence,
			Signature:  match,
			Evidence:   fmt.Sprintf("address %s inside %s published range", addr, match.Name),
		}, true
	}

	for _, prefix := range cloudPrefixes {
		if prefix.Contains(addr) {
			return Verdict{
				Method:     MethodIPRange,
				Confidence: d.cfg.CloudConfidence,
				Signature:  signature.Unknown(),
				Evidence:   fmt.Sprintf("address %s inside cloud provider range %s", addr, prefix),
			}, true
		}
	}

	return Verdict{}, false
}
