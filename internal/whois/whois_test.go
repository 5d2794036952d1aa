package whois

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeServer answers every connection with a fixed response after reading the
// query line, mimicking a registry WHOIS host.
func fakeServer(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 256)
				c.Read(buf)
				io.WriteString(c, response)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestLookupHostRegisteredName(t *testing.T) {
	addr := fakeServer(t, ""+
		"Domain Name: EXAMPLE.COM\r\n"+
		"Registry Expiry Date: 2026-08-14T04:00:00Z\r\n"+
		"Registrar: Example Registrar LLC\r\n")

	c := NewClient(zap.NewNop())
	rec, err := c.LookupHost(context.Background(), "example.com", addr)
	if err != nil {
		t.Fatalf("LookupHost() = %v", err)
	}
	if !rec.Registered {
		t.Error("Registered = false, want true")
	}
	want := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	if rec.ExpiryDate == nil || !rec.ExpiryDate.Equal(want) {
		t.Errorf("ExpiryDate = %v, want %v", rec.ExpiryDate, want)
	}
	if rec.Registrar != "Example Registrar LLC" {
		t.Errorf("Registrar = %q", rec.Registrar)
	}
}

func TestLookupHostNoMatch(t *testing.T) {
	addr := fakeServer(t, "No match for domain \"FREE-NAME.COM\".\r\n")

	c := NewClient(zap.NewNop())
	rec, err := c.LookupHost(context.Background(), "free-name.com", addr)
	if err != nil {
		t.Fatalf("LookupHost() = %v", err)
	}
	if rec.Registered {
		t.Error("Registered = true for a no-match response")
	}
	if rec.ExpiryDate != nil {
		t.Errorf("ExpiryDate = %v, want nil", rec.ExpiryDate)
	}
}

func TestLookupHostUnparseable(t *testing.T) {
	addr := fakeServer(t, "% rate limit exceeded, try again later\r\n")

	c := NewClient(zap.NewNop())
	rec, err := c.LookupHost(context.Background(), "example.com", addr)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("LookupHost() err = %v, want ErrParse", err)
	}
	if rec == nil || rec.Registered {
		t.Error("an unparseable response must report unregistered")
	}
}

func TestLookupHostNetworkError(t *testing.T) {
	// A listener that is immediately closed guarantees a refused connection.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient(zap.NewNop())
	_, err = c.LookupHost(context.Background(), "example.com", addr)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("LookupHost() = %v, want ErrNetwork", err)
	}
}

func TestLookupUnknownTLD(t *testing.T) {
	c := NewClient(zap.NewNop())
	_, err := c.Lookup(context.Background(), "bar.test")
	if !errors.Is(err, ErrNoServer) {
		t.Fatalf("Lookup() = %v, want ErrNoServer", err)
	}
}

func TestServerFor(t *testing.T) {
	cases := []struct {
		name string
		host string
		ok   bool
	}{
		{"example.com", "whois.verisign-grs.com", true},
		{"Example.ORG", "whois.pir.org", true},
		{"bar.test", "", false},
		{"nodot", "", false},
	}
	for _, tc := range cases {
		host, ok := ServerFor(tc.name)
		if host != tc.host || ok != tc.ok {
			t.Errorf("ServerFor(%q) = %q, %v; want %q, %v", tc.name, host, ok, tc.host, tc.ok)
		}
	}
}

func TestParseResponseDateFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"Expiration Date: 2026-08-14", time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)},
		{"expires: 14-Aug-2026", time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)},
		{"paid-till: 2027-03-01T21:00:00Z", time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"Expiry date:  2026.11.30", time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		rec, err := parseResponse(tc.raw)
		if err != nil {
			t.Errorf("parseResponse(%q) = %v", tc.raw, err)
			continue
		}
		if !rec.Registered {
			t.Errorf("parseResponse(%q): Registered = false", tc.raw)
		}
		if rec.ExpiryDate == nil || !rec.ExpiryDate.Equal(tc.want) {
			t.Errorf("parseResponse(%q) expiry = %v, want %v", tc.raw, rec.ExpiryDate, tc.want)
		}
	}
}

func TestParseResponseRegistrarOnly(t *testing.T) {
	rec, err := parseResponse("Registrar: Gandi SAS\nSome-other-field: x\n")
	if err != nil {
		t.Fatalf("parseResponse() = %v", err)
	}
	if !rec.Registered || rec.Registrar != "Gandi SAS" {
		t.Errorf("rec = %+v, want registered with registrar", rec)
	}
	if rec.ExpiryDate != nil {
		t.Errorf("expiry = %v, want nil", rec.ExpiryDate)
	}
}

func TestParseResponseSentinelWinsOverFields(t *testing.T) {
	// Some registries echo the query inside a disclaimer; the not-found
	// sentinel must dominate.
	rec, err := parseResponse("NOT FOUND\n>>> Last update of whois database: 2026-08-26 <<<\n")
	if err != nil {
		t.Fatalf("parseResponse() = %v", err)
	}
	if rec.Registered {
		t.Error("Registered = true despite NOT FOUND sentinel")
	}
}
