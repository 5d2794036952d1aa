// Package rdap implements the registration-data lookup path: a TLD registry
// that routes a domain name to its RDAP base URL (seeded statically, extended
// at runtime from the IANA bootstrap file) and an HTTP client that fetches and
// parses RDAP domain responses.
package rdap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// seedEndpoints covers the TLDs that dominate real-world import payloads, so
// a cold process can route most names without waiting for the bootstrap fetch.
var seedEndpoints = map[string]string{
	"com":  "https://rdap.verisign.com/com/v1",
	"net":  "https://rdap.verisign.com/net/v1",
	"org":  "https://rdap.publicinterestregistry.org/rdap",
	"info": "https://rdap.identitydigital.services/rdap",
	"io":   "https://rdap.identitydigital.services/rdap",
	"dev":  "https://www.registry.google/rdap",
	"app":  "https://www.registry.google/rdap",
	"xyz":  "https://rdap.centralnic.com/xyz",
	"me":   "https://rdap.nic.me",
	"eu":   "https://rdap.eu.org",
}

// Registry maps TLDs to RDAP base URLs. The map is process-local: it starts
// from the static seed table and is extended once from the IANA bootstrap
// file on the first miss. TLDs absent from the bootstrap file (no RDAP
// service) are cached negatively for the process lifetime.
type Registry struct {
	bootstrapURL string
	httpClient   *http.Client
	log          *zap.Logger

	mu           sync.RWMutex
	endpoints    map[string]string
	missing      map[string]struct{}
	bootstrapped bool
}

// NewRegistry returns a Registry seeded with the static endpoint table.
// bootstrapURL is typically the IANA dns.json service list.
func NewRegistry(bootstrapURL string, log *zap.Logger) *Registry {
	endpoints := make(map[string]string, len(seedEndpoints))
	for tld, base := range seedEndpoints {
		endpoints[tld] = base
	}
	return &Registry{
		bootstrapURL: bootstrapURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		log:          log,
		endpoints:    endpoints,
		missing:      make(map[string]struct{}),
	}
}

// EndpointFor resolves a cleaned domain name to its RDAP base URL. Returns
// false when the name's TLD has no known RDAP service. After the one-shot
// bootstrap has run, this is a pure map lookup with no I/O.
func (r *Registry) EndpointFor(ctx context.Context, name string) (string, bool) {
	tld := tldOf(name)
	if tld == "" {
		return "", false
	}

	r.mu.RLock()
	base, ok := r.endpoints[tld]
	_, miss := r.missing[tld]
	bootstrapped := r.bootstrapped
	r.mu.RUnlock()

	if ok {
		return base, true
	}
	if miss || bootstrapped {
		return "", false
	}

	r.bootstrap(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if base, ok := r.endpoints[tld]; ok {
		return base, true
	}
	r.missing[tld] = struct{}{}
	return "", false
}

// bootstrapFile is the IANA service list: each entry pairs a list of TLDs
// with a list of base URLs.
type bootstrapFile struct {
	Services [][2][]string `json:"services"`
}

// bootstrap fetches the IANA service list and merges it into the endpoint
// map. It runs at most once per process; a failed fetch is not retried (the
// seed table keeps the common TLDs routable, everything else falls back to
// WHOIS).
func (r *Registry) bootstrap(ctx context.Context) {
	r.mu.Lock()
	if r.bootstrapped {
		r.mu.Unlock()
		return
	}
	r.bootstrapped = true
	r.mu.Unlock()

	merged, err := r.fetchBootstrap(ctx)
	if err != nil {
		r.log.Warn("rdap bootstrap fetch failed, relying on seed table",
			zap.String("url", r.bootstrapURL),
			zap.Error(err))
		return
	}

	r.mu.Lock()
	for tld, base := range merged {
		if _, ok := r.endpoints[tld]; !ok {
			r.endpoints[tld] = base
		}
	}
	count := len(r.endpoints)
	r.mu.Unlock()

	r.log.Info("rdap bootstrap merged", zap.Int("tlds", count))
}

func (r *Registry) fetchBootstrap(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.bootstrapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var file bootstrapFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("parse service list: %w", err)
	}

	merged := make(map[string]string)
	for _, svc := range file.Services {
		tlds, urls := svc[0], svc[1]
		base := pickBootstrapURL(urls)
		if base == "" {
			continue
		}
		for _, tld := range tlds {
			merged[strings.ToLower(tld)] = base
		}
	}
	return merged, nil
}

// pickBootstrapURL prefers the first https URL; IANA lists some registries
// with a plain-http mirror first.
func pickBootstrapURL(urls []string) string {
	for _, u := range urls {
		if strings.HasPrefix(u, "https://") {
			return strings.TrimSuffix(u, "/")
		}
	}
	if len(urls) > 0 {
		return strings.TrimSuffix(urls[0], "/")
	}
	return ""
}

// tldOf returns the lowercased last dot-label of a name, or "" when the name
// has no dot or ends with one.
func tldOf(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}
