package lookup

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/metrics"
	"github.com/piowaw/domainalert/internal/rdap"
	"github.com/piowaw/domainalert/internal/whois"
)

// Resolver routes a name to its RDAP base URL.
type Resolver interface {
	EndpointFor(ctx context.Context, name string) (string, bool)
}

// RDAPClient fetches one RDAP domain object.
type RDAPClient interface {
	Domain(ctx context.Context, base, name string) (*rdap.DomainResponse, error)
}

// WHOISClient performs one port-43 query.
type WHOISClient interface {
	Lookup(ctx context.Context, name string) (*whois.Record, error)
}

// Config assembles a single-window engine.
type Config struct {
	Resolver Resolver
	RDAP     RDAPClient
	WHOIS    WHOISClient

	// Concurrency bounds the rolling window of in-flight RDAP requests.
	Concurrency int
	// FallbackCap bounds the number of WHOIS queries per batch. Names over
	// the cap receive a synthesized miss; WHOIS is sequential and a batch
	// must not stall behind hundreds of 5s socket timeouts.
	FallbackCap int

	Logger *zap.Logger
}

type windowEngine struct {
	resolver    Resolver
	rdap        RDAPClient
	whois       WHOISClient
	concurrency int
	fallbackCap int
	log         *zap.Logger
}

// New returns an Engine running one rolling window of cfg.Concurrency
// concurrent RDAP requests.
func New(cfg Config) Engine {
	return &windowEngine{
		resolver:    cfg.Resolver,
		rdap:        cfg.RDAP,
		whois:       cfg.WHOIS,
		concurrency: cfg.Concurrency,
		fallbackCap: cfg.FallbackCap,
		log:         cfg.Logger,
	}
}

func (e *windowEngine) LookupBatch(ctx context.Context, names []string) map[string]Result {
	results := make(map[string]Result, len(names))
	seen := make(map[string]struct{}, len(names))

	// Dedup first: K occurrences of a name collapse to one lookup and one
	// map entry. Invalid names short-circuit with no registration state.
	var pending []string
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if !strings.Contains(name, ".") {
			results[name] = Result{Name: name, Err: ErrInvalidName}
			metrics.LookupResults.WithLabelValues("invalid", metrics.OutcomeError).Inc()
			continue
		}
		pending = append(pending, name)
	}

	// Rolling window: a semaphore admits at most `concurrency` in-flight
	// requests; the batch returns only after every request has terminated.
	// Names without an RDAP endpoint or whose RDAP attempt gave no usable
	// answer accumulate on the fallback list.
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fallback []string
	)
	sem := make(chan struct{}, e.concurrency)

	for _, name := range pending {
		base, ok := e.resolver.EndpointFor(ctx, name)
		if !ok {
			// In-flight goroutines also append to fallback on RDAP failure.
			mu.Lock()
			fallback = append(fallback, name)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name, base string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dr, err := e.rdap.Domain(ctx, base, name)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				results[name] = Result{
					Name:       name,
					Registered: true,
					ExpiryDate: dr.ExpiryDate(),
					Registrar:  dr.Registrar(),
					Source:     SourceRDAP,
				}
			case errors.Is(err, rdap.ErrNotRegistered):
				results[name] = Result{Name: name, Source: SourceRDAP}
			default:
				// Server errors, timeouts, malformed bodies: retry over
				// WHOIS after the window drains.
				fallback = append(fallback, name)
			}
		}(name, base)
	}
	wg.Wait()

	e.runFallback(ctx, fallback, results)

	for _, r := range results {
		recordResult(r)
	}
	return results
}

// runFallback resolves the fallback-marked names sequentially over WHOIS.
// At most fallbackCap queries are issued; everything beyond, and every TLD
// with no WHOIS server, gets a synthesized miss.
func (e *windowEngine) runFallback(ctx context.Context, names []string, results map[string]Result) {
	queried := 0
	for _, name := range names {
		if queried >= e.fallbackCap {
			results[name] = Result{Name: name, Source: SourceSynthesizedMiss}
			continue
		}

		rec, err := e.whois.Lookup(ctx, name)
		switch {
		case errors.Is(err, whois.ErrNoServer):
			// No query was made; the name is unroutable on both paths.
			results[name] = Result{Name: name, Source: SourceSynthesizedMiss}
			continue
		case err == nil:
			results[name] = Result{
				Name:       name,
				Registered: rec.Registered,
				ExpiryDate: rec.ExpiryDate,
				Registrar:  rec.Registrar,
				Source:     SourceWHOIS,
			}
		default:
			// Network or parse failure: report the miss with the error
			// attached so the caller counts it without trusting the state.
			results[name] = Result{Name: name, Source: SourceWHOIS, Err: err}
			e.log.Debug("whois fallback failed",
				zap.String("name", name),
				zap.Error(err))
		}
		queried++
	}
}

func recordResult(r Result) {
	source := string(r.Source)
	if r.Err != nil {
		if errors.Is(r.Err, ErrInvalidName) {
			return // already recorded at intake
		}
		metrics.LookupResults.WithLabelValues(source, metrics.OutcomeError).Inc()
		return
	}
	outcome := metrics.OutcomeAvailable
	if r.Registered {
		outcome = metrics.OutcomeRegistered
	}
	metrics.LookupResults.WithLabelValues(source, outcome).Inc()
}
