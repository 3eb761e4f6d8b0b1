// Package geo enriches click events with a country code. Lookup failures
// are non-fatal: the click path records a blank country and moves on.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Provider resolves an IP address to an ISO country code.
type Provider interface {
	Country(ip string) string
	Close() error
}

// MaxMindProvider implements Provider using a MaxMind GeoLite2 database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindProvider opens the GeoIP database at dbPath.
func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Country returns the ISO country code for ip, or "" when the address is
// invalid or unknown.
func (m *MaxMindProvider) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	record, err := m.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

// Close closes the GeoIP database.
func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
