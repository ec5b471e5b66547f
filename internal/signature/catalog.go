package signature

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is the hot-reloadable set of known-bot signatures. Lookups take a
// read lock only; Replace swaps the whole compiled set so in-flight requests
// keep a consistent view.
type Catalog struct {
	mu       sync.RWMutex
	entries  []compiled
	keywords []string
}

// NewCatalog compiles the given signatures into a catalog. The generic
// keyword list is used as a fallback when no signature matches.
func NewCatalog(sigs []Signature, keywords []string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(sigs, keywords); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace atomically swaps in a new signature set. Invalid input leaves the
// current set untouched.
func (c *Catalog) Replace(sigs []Signature, keywords []string) error {
	entries := make([]compiled, 0, len(sigs))
	for _, sig := range sigs {
		entry, err := compile(sig)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	if keywords == nil {
		keywords = GenericKeywords()
	}
	lower := make([]string, len(keywords))
	for i, k := range keywords {
		lower[i] = strings.ToLower(k)
	}

	c.mu.Lock()
	c.entries = entries
	c.keywords = lower
	c.mu.Unlock()
	return nil
}

// MatchUserAgent returns the first signature whose patterns match the
// user-agent, case-insensitively.
func (c *Catalog) MatchUserAgent(ua string) (Signature, bool) {
	uaLower := strings.ToLower(ua)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range c.entries {
		if entry.matchesUA(uaLower) {
			return entry.sig, true
		}
	}
	return Signature{}, false
}

// MatchKeyword checks the generic automation keyword list and reports the
// keyword that hit.
func (c *Catalog) MatchKeyword(ua string) (string, bool) {
	uaLower := strings.ToLower(ua)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.keywords {
		if strings.Contains(uaLower, k) {
			return k, true
		}
	}
	return "", false
}

// MatchIP returns the first signature with a network range containing addr.
func (c *Catalog) MatchIP(addr netip.Addr) (Signature, bool) {
	if !addr.IsValid() {
		return Signature{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range c.entries {
		if entry.matchesIP(addr) {
			return entry.sig, true
		}
	}
	return Signature{}, false
}

// Len reports the number of loaded signatures.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

type catalogFile struct {
	Signatures []Signature `yaml:"signatures"`
	Keywords   []string    `yaml:"keywords"`
}

// LoadFile reads a YAML catalog file and swaps it into c.
func (c *Catalog) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Signatures) == 0 {
		return fmt.Errorf("catalog %s contains no signatures", path)
	}

	return c.Replace(file.Signatures, file.Keywords)
}

// Open builds a catalog from path, or the built-in defaults when path is "".
func Open(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(Defaults(), GenericKeywords())
	}
	c := &Catalog{}
	if err := c.LoadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}
