// Package lookup implements the registration lookup engine: a rolling window
// of concurrent RDAP requests with a bounded sequential WHOIS fallback. The
// engine is pure network-in, results-out — it never touches persistence.
package lookup

import (
	"context"
	"errors"
	"time"
)

// Source records which path produced a result.
type Source string

const (
	// SourceRDAP: the registry's RDAP server answered authoritatively.
	SourceRDAP Source = "rdap"
	// SourceWHOIS: the port-43 fallback answered.
	SourceWHOIS Source = "whois"
	// SourceSynthesizedMiss: no lookup was performed (no WHOIS server for
	// the TLD, or the per-batch fallback cap was exceeded). The result
	// under-approximates to unregistered and must not be treated as an
	// authoritative state transition.
	SourceSynthesizedMiss Source = "synthesized-miss"
)

// ErrInvalidName marks input that is not a plausible domain name (no dot).
// Such results carry no registration state.
var ErrInvalidName = errors.New("lookup: invalid name")

// Result is the outcome of one name's lookup.
type Result struct {
	Name       string
	Registered bool
	ExpiryDate *time.Time
	Registrar  string
	Source     Source
	Err        error
}

// Authoritative reports whether the result reflects an actual registry
// answer, as opposed to a synthesized miss or a failed lookup.
func (r Result) Authoritative() bool {
	return r.Err == nil && r.Source != SourceSynthesizedMiss
}

// Engine resolves a batch of names to registration state. The returned map
// has exactly one entry per unique input name; duplicate inputs collapse to
// one lookup. The call returns only when every outstanding request for the
// batch has terminated.
type Engine interface {
	LookupBatch(ctx context.Context, names []string) map[string]Result
}
