package geoip

import (
	"net/netip"
	"testing"
)

func TestStaticResolvesEntries(t *testing.T) {
	r := Static{
		Entries: map[string]string{"198.51.100.7": "US"},
		Default: "DE",
	}

	if got := r.Country(netip.MustParseAddr("198.51.100.7")); got != "US" {
		t.Fatalf("Country = %q, want US", got)
	}
	if got := r.Country(netip.MustParseAddr("203.0.113.1")); got != "DE" {
		t.Fatalf("Country = %q, want default DE", got)
	}
}

func TestStaticEmptyDefault(t *testing.T) {
	var r Static
	if got := r.Country(netip.MustParseAddr("203.0.113.1")); got != "" {
		t.Fatalf("Country = %q, want empty", got)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
