package signature

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Priority is a coarse tier of how aggressively to act on a bot once detected.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Type classifies a bot identity for policy and billing purposes.
type Type string

const (
	TypePremium    Type = "premium"
	TypeStandard   Type = "standard"
	TypeGeneric    Type = "generic"
	TypeVerified   Type = "verified"
	TypeSuspicious Type = "suspicious"
)

// Signature is one known-bot identity record. HasRate distinguishes an
// explicit per-visit rate, including zero for crawlers configured as free,
// from an absent one that falls back to the global default.
type Signature struct {
	Name     string
	Company  string
	Patterns []string
	Regex    []string
	Networks []string
	Rate     decimal.Decimal
	HasRate  bool
	Priority Priority
	Type     Type
}

// signatureYAML is the on-disk form. The rate travels as a string because
// the YAML decoder cannot populate a decimal directly.
type signatureYAML struct {
	Name     string   `yaml:"name"`
	Company  string   `yaml:"company"`
	Patterns []string `yaml:"patterns"`
	Regex    []string `yaml:"regex"`
	Networks []string `yaml:"networks"`
	Rate     string   `yaml:"rate"`
	Priority Priority `yaml:"priority"`
	Type     Type     `yaml:"type"`
}

// UnmarshalYAML decodes a catalog file entry.
func (s *Signature) UnmarshalYAML(value *yaml.Node) error {
	var raw signatureYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*s = Signature{
		Name:     raw.Name,
		Company:  raw.Company,
		Patterns: raw.Patterns,
		Regex:    raw.Regex,
		Networks: raw.Networks,
		Priority: raw.Priority,
		Type:     raw.Type,
	}
	if raw.Rate != "" {
		rate, err := decimal.NewFromString(raw.Rate)
		if err != nil {
			return fmt.Errorf("signature %q: parse rate %q: %w", raw.Name, raw.Rate, err)
		}
		s.Rate = rate
		s.HasRate = true
	}
	return nil
}

// Validate checks enum membership and the rate invariant.
func (s Signature) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("signature name is required")
	}
	if s.Rate.IsNegative() {
		return fmt.Errorf("signature %q: rate cannot be negative", s.Name)
	}
	switch s.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("signature %q: unknown priority %q", s.Name, s.Priority)
	}
	switch s.Type {
	case TypePremium, TypeStandard, TypeGeneric, TypeVerified, TypeSuspicious:
	default:
		return fmt.Errorf("signature %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// compiled is the match-ready form of a Signature.
type compiled struct {
	sig      Signature
	patterns []string // pre-lowercased for fast substring matching
	regexps  []*regexp.Regexp
	prefixes []netip.Prefix
}

func compile(sig Signature) (compiled, error) {
	if err := sig.Validate(); err != nil {
		return compiled{}, err
	}

	c := compiled{sig: sig}
	for _, p := range sig.Patterns {
		c.patterns = append(c.patterns, strings.ToLower(p))
	}
	for _, expr := range sig.Regex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return compiled{}, fmt.Errorf("signature %q: compile regex %q: %w", sig.Name, expr, err)
		}
		c.regexps = append(c.regexps, re)
	}
	for _, cidr := range sig.Networks {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return compiled{}, fmt.Errorf("signature %q: parse network %q: %w", sig.Name, cidr, err)
		}
		c.prefixes = append(c.prefixes, prefix)
	}
	return c, nil
}

func (c compiled) matchesUA(uaLower string) bool {
	for _, p := range c.patterns {
		if strings.Contains(uaLower, p) {
			return true
		}
	}
	for _, re := range c.regexps {
		if re.MatchString(uaLower) {
			return true
		}
	}
	return false
}

func (c compiled) matchesIP(addr netip.Addr) bool {
	for _, prefix := range c.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
