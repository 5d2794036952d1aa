package rdap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

const comResponse = `{
	"ldhName": "EXAMPLE.COM",
	"status": ["client delete prohibited"],
	"events": [
		{"eventAction": "registration", "eventDate": "1995-08-14T04:00:00Z"},
		{"eventAction": "expiration", "eventDate": "2026-08-14T04:00:00Z"}
	],
	"entities": [
		{
			"roles": ["registrar"],
			"handle": "376",
			"vcardArray": ["vcard", [
				["version", {}, "text", "4.0"],
				["fn", {}, "text", "Example Registrar LLC"]
			]]
		}
	]
}`

func TestDomainParsesRegisteredResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/domain/example.com" {
			t.Errorf("path = %q, want /domain/example.com", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/rdap+json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/rdap+json")
		w.Write([]byte(comResponse))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop())
	dr, err := c.Domain(context.Background(), srv.URL, "example.com")
	if err != nil {
		t.Fatalf("Domain() = %v", err)
	}

	expiry := dr.ExpiryDate()
	if expiry == nil {
		t.Fatal("expiry = nil, want 2026-08-14")
	}
	want := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	if !expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v (calendar date, midnight UTC)", expiry, want)
	}

	if got := dr.Registrar(); got != "Example Registrar LLC" {
		t.Errorf("registrar = %q, want vCard fn", got)
	}
}

func TestDomainNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorCode": 404}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop())
	_, err := c.Domain(context.Background(), srv.URL, "free-name.com")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Domain() = %v, want ErrNotRegistered", err)
	}
}

func TestDomainMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>rate limited</html>`))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop())
	_, err := c.Domain(context.Background(), srv.URL, "example.com")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Domain() = %v, want ErrMalformed", err)
	}
}

func TestDomainServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop())
	_, err := c.Domain(context.Background(), srv.URL, "example.com")
	if err == nil || errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Domain() = %v, want a fallback-routing error", err)
	}
}

func TestRegistrarFallsBackToHandle(t *testing.T) {
	dr := &DomainResponse{
		Entities: []Entity{
			{Roles: []string{"technical"}, Handle: "tech-1"},
			{Roles: []string{"registrar"}, Handle: "registrar-42"},
		},
	}
	if got := dr.Registrar(); got != "registrar-42" {
		t.Errorf("registrar = %q, want handle fallback", got)
	}
}

func TestExpiryDateAbsent(t *testing.T) {
	dr := &DomainResponse{
		Events: []Event{{EventAction: "registration", EventDate: "2020-01-01T00:00:00Z"}},
	}
	if got := dr.ExpiryDate(); got != nil {
		t.Errorf("expiry = %v, want nil when no expiration event", got)
	}
}

func TestParseEventDateLayouts(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{"2026-08-14T04:00:00Z", true, time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)},
		{"2026-08-14", true, time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)},
		{"14-Aug-2026", false, time.Time{}},
		{"", false, time.Time{}},
	}
	for _, tc := range cases {
		got, ok := parseEventDate(tc.in)
		if ok != tc.ok {
			t.Errorf("parseEventDate(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("parseEventDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
