package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/rdap"
	"github.com/piowaw/domainalert/internal/whois"
)

// fakeResolver routes every TLD in its map, everything else is unroutable.
type fakeResolver struct {
	routes map[string]string
}

func (f *fakeResolver) EndpointFor(_ context.Context, name string) (string, bool) {
	for tld, base := range f.routes {
		if len(name) > len(tld) && name[len(name)-len(tld)-1:] == "."+tld {
			return base, true
		}
	}
	return "", false
}

// fakeRDAP answers from a canned response map; missing names get 404.
type fakeRDAP struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]*rdap.DomainResponse
	fail      map[string]error
	inflight  atomic.Int32
	maxSeen   atomic.Int32
	delay     time.Duration
}

func (f *fakeRDAP) Domain(_ context.Context, _, name string) (*rdap.DomainResponse, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
	f.mu.Unlock()

	if err, ok := f.fail[name]; ok {
		return nil, err
	}
	if dr, ok := f.responses[name]; ok {
		return dr, nil
	}
	return nil, rdap.ErrNotRegistered
}

// fakeWHOIS answers from a canned record map; missing names get ErrNoServer.
type fakeWHOIS struct {
	mu      sync.Mutex
	queried []string
	records map[string]*whois.Record
	fail    map[string]error
}

func (f *fakeWHOIS) Lookup(_ context.Context, name string) (*whois.Record, error) {
	if err, ok := f.fail[name]; ok {
		if !errors.Is(err, whois.ErrNoServer) {
			f.mu.Lock()
			f.queried = append(f.queried, name)
			f.mu.Unlock()
		}
		return nil, err
	}
	rec, ok := f.records[name]
	if !ok {
		return nil, whois.ErrNoServer
	}
	f.mu.Lock()
	f.queried = append(f.queried, name)
	f.mu.Unlock()
	return rec, nil
}

func newTestEngine(resolver Resolver, r RDAPClient, w WHOISClient, concurrency, fallbackCap int) Engine {
	return New(Config{
		Resolver:    resolver,
		RDAP:        r,
		WHOIS:       w,
		Concurrency: concurrency,
		FallbackCap: fallbackCap,
		Logger:      zap.NewNop(),
	})
}

func registeredResponse(expiry string) *rdap.DomainResponse {
	return &rdap.DomainResponse{
		Events: []rdap.Event{{EventAction: "expiration", EventDate: expiry}},
	}
}

func TestLookupBatchClassifiesSources(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{"com": "https://rdap.example"}}
	rdapClient := &fakeRDAP{
		responses: map[string]*rdap.DomainResponse{
			"example.com": registeredResponse("2026-08-14T04:00:00Z"),
		},
	}
	whoisClient := &fakeWHOIS{}

	e := newTestEngine(resolver, rdapClient, whoisClient, 10, 20)
	got := e.LookupBatch(context.Background(), []string{"example.com", "free.com", "foo", "bar.test"})

	if len(got) != 4 {
		t.Fatalf("results = %d entries, want 4", len(got))
	}

	reg := got["example.com"]
	if !reg.Registered || reg.Source != SourceRDAP {
		t.Errorf("example.com = %+v, want registered via rdap", reg)
	}
	want := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	if reg.ExpiryDate == nil || !reg.ExpiryDate.Equal(want) {
		t.Errorf("example.com expiry = %v, want %v", reg.ExpiryDate, want)
	}

	free := got["free.com"]
	if free.Registered || free.Source != SourceRDAP || free.Err != nil {
		t.Errorf("free.com = %+v, want authoritative rdap miss", free)
	}

	invalid := got["foo"]
	if !errors.Is(invalid.Err, ErrInvalidName) {
		t.Errorf("foo err = %v, want ErrInvalidName", invalid.Err)
	}

	// No RDAP route, no WHOIS server: synthesized miss without error.
	synth := got["bar.test"]
	if synth.Source != SourceSynthesizedMiss || synth.Err != nil || synth.Registered {
		t.Errorf("bar.test = %+v, want clean synthesized miss", synth)
	}
	if synth.Authoritative() {
		t.Error("synthesized miss must not be authoritative")
	}
}

func TestLookupBatchCollapsesDuplicates(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{"com": "https://rdap.example"}}
	rdapClient := &fakeRDAP{
		responses: map[string]*rdap.DomainResponse{"dup.com": registeredResponse("2027-01-01")},
	}

	e := newTestEngine(resolver, rdapClient, &fakeWHOIS{}, 10, 20)
	got := e.LookupBatch(context.Background(), []string{"dup.com", "dup.com", "dup.com"})

	if len(got) != 1 {
		t.Fatalf("results = %d entries, want 1", len(got))
	}
	if rdapClient.calls["dup.com"] != 1 {
		t.Errorf("rdap calls for dup.com = %d, want 1", rdapClient.calls["dup.com"])
	}
}

func TestLookupBatchFallsBackOnRDAPFailure(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{"com": "https://rdap.example"}}
	expiry := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	rdapClient := &fakeRDAP{
		fail: map[string]error{"flaky.com": fmt.Errorf("rdap: unexpected status 502")},
	}
	whoisClient := &fakeWHOIS{
		records: map[string]*whois.Record{
			"flaky.com": {Registered: true, ExpiryDate: &expiry, Registrar: "Fallback Registrar"},
		},
	}

	e := newTestEngine(resolver, rdapClient, whoisClient, 10, 20)
	got := e.LookupBatch(context.Background(), []string{"flaky.com"})

	r := got["flaky.com"]
	if !r.Registered || r.Source != SourceWHOIS {
		t.Fatalf("flaky.com = %+v, want registered via whois", r)
	}
	if r.Registrar != "Fallback Registrar" {
		t.Errorf("registrar = %q", r.Registrar)
	}
}

func TestLookupBatchWHOISErrorsAreNotAuthoritative(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{}}
	whoisClient := &fakeWHOIS{
		fail: map[string]error{
			"down.pl": fmt.Errorf("%w: dial: connection refused", whois.ErrNetwork),
		},
	}

	e := newTestEngine(resolver, &fakeRDAP{}, whoisClient, 10, 20)
	got := e.LookupBatch(context.Background(), []string{"down.pl"})

	r := got["down.pl"]
	if r.Err == nil {
		t.Fatal("network failure must surface on the result")
	}
	if r.Authoritative() {
		t.Error("a failed lookup must not be authoritative")
	}
	if r.Registered {
		t.Error("a failed lookup must not report registered")
	}
}

func TestLookupBatchFallbackCap(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{}} // everything unroutable
	records := make(map[string]*whois.Record)
	var names []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("name%d.pl", i)
		names = append(names, name)
		records[name] = &whois.Record{Registered: true}
	}
	whoisClient := &fakeWHOIS{records: records}

	e := newTestEngine(resolver, &fakeRDAP{}, whoisClient, 10, 2)
	got := e.LookupBatch(context.Background(), names)

	if len(whoisClient.queried) != 2 {
		t.Errorf("whois queries = %d, want cap of 2", len(whoisClient.queried))
	}
	synthesized := 0
	for _, r := range got {
		if r.Source == SourceSynthesizedMiss {
			synthesized++
			if r.Err != nil {
				t.Errorf("capped name %s carries error %v, want none", r.Name, r.Err)
			}
		}
	}
	if synthesized != 3 {
		t.Errorf("synthesized misses = %d, want 3", synthesized)
	}
}

func TestLookupBatchNoServerDoesNotConsumeCap(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{}}
	whoisClient := &fakeWHOIS{
		records: map[string]*whois.Record{"real.pl": {Registered: true}},
	}

	// Three unroutable TLDs ahead of the one real name; cap of 1 must still
	// reach it because ErrNoServer names never hit the wire.
	e := newTestEngine(resolver, &fakeRDAP{}, whoisClient, 10, 1)
	got := e.LookupBatch(context.Background(), []string{"a.test", "b.test", "c.test", "real.pl"})

	if r := got["real.pl"]; !r.Registered || r.Source != SourceWHOIS {
		t.Errorf("real.pl = %+v, want registered via whois", r)
	}
}

func TestLookupBatchBoundsConcurrency(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{"com": "https://rdap.example"}}
	rdapClient := &fakeRDAP{delay: 5 * time.Millisecond}

	var names []string
	for i := 0; i < 30; i++ {
		names = append(names, fmt.Sprintf("n%d.com", i))
	}

	e := newTestEngine(resolver, rdapClient, &fakeWHOIS{}, 4, 0)
	e.LookupBatch(context.Background(), names)

	if max := rdapClient.maxSeen.Load(); max > 4 {
		t.Errorf("max in-flight rdap requests = %d, want <= 4", max)
	}
}

func TestShardedMergesAllResults(t *testing.T) {
	resolver := &fakeResolver{routes: map[string]string{"com": "https://rdap.example"}}

	var shards []Engine
	for i := 0; i < 3; i++ {
		shards = append(shards, newTestEngine(resolver, &fakeRDAP{}, &fakeWHOIS{}, 5, 5))
	}
	e := NewSharded(shards)

	var names []string
	for i := 0; i < 50; i++ {
		names = append(names, fmt.Sprintf("shard%d.com", i))
	}
	got := e.LookupBatch(context.Background(), names)

	if len(got) != 50 {
		t.Fatalf("merged results = %d, want 50", len(got))
	}
	for _, name := range names {
		r, ok := got[name]
		if !ok {
			t.Fatalf("missing result for %s", name)
		}
		if r.Source != SourceRDAP {
			t.Errorf("%s source = %q, want rdap", name, r.Source)
		}
	}
}

func TestNewShardedSingleShardPassthrough(t *testing.T) {
	inner := newTestEngine(&fakeResolver{}, &fakeRDAP{}, &fakeWHOIS{}, 1, 1)
	if got := NewSharded([]Engine{inner}); got != inner {
		t.Error("single shard should be returned unchanged")
	}
}
