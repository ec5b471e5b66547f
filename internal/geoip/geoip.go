package geoip

import (
	"fmt"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
)

// CountryResolver maps a client address to an ISO 3166-1 alpha-2 country
// code, or "" when unknown. Used by the premium-geography multiplier.
type CountryResolver interface {
	Country(addr netip.Addr) string
	Close() error
}

// MaxMindResolver resolves countries from an mmdb database file.
type MaxMindResolver struct {
	reader *maxminddb.Reader
}

// Open loads the mmdb file at path.
func Open(path string) (*MaxMindResolver, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mmdb %s: %w", path, err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

// Country looks up the country code for addr.
func (r *MaxMindResolver) Country(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := r.reader.Lookup(addr.AsSlice(), &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the database handle.
func (r *MaxMindResolver) Close() error {
	return r.reader.Close()
}

// Static is a fixed-answer resolver for tests and for deployments without a
// geo database.
type Static struct {
	Entries map[string]string // addr string -> country code
	Default string
}

// Country returns the configured entry for addr, or the default.
func (s Static) Country(addr netip.Addr) string {
	if s.Entries != nil {
		if code, ok := s.Entries[addr.String()]; ok {
			return code
		}
	}
	return s.Default
}

// Close is a no-op.
func (Static) Close() error { return nil }

var _ CountryResolver = (*MaxMindResolver)(nil)
var _ CountryResolver = Static{}
