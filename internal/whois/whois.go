// Package whois implements the port-43 fallback used when a name cannot be
// resolved over RDAP: ccTLD registries without RDAP service, RDAP outages, and
// malformed RDAP bodies all land here. Responses are free-form text, so the
// parse is an ordered set of tolerant regular expressions.
package whois

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	queryTimeout = 5 * time.Second
	maxResponse  = 256 << 10
)

// ErrNoServer is returned when the name's TLD has no known WHOIS server.
// The caller synthesizes a miss instead of counting this as a lookup error.
var ErrNoServer = errors.New("whois: no server for tld")

// ErrNetwork is returned for socket-level failures: dial, write, or read.
var ErrNetwork = errors.New("whois: network error")

// ErrParse is returned when the response carries neither a known not-found
// sentinel nor any extractable field. The accompanying Record reports the
// name as unregistered; the caller decides whether to trust it.
var ErrParse = errors.New("whois: unparseable response")

// servers maps TLDs to their registry WHOIS hosts. TLDs outside this table
// get no fallback — guessing hosts for arbitrary TLDs turns reserved names
// into slow dial timeouts.
var servers = map[string]string{
	"com":  "whois.verisign-grs.com",
	"net":  "whois.verisign-grs.com",
	"org":  "whois.pir.org",
	"info": "whois.nic.info",
	"biz":  "whois.nic.biz",
	"io":   "whois.nic.io",
	"co":   "whois.nic.co",
	"me":   "whois.nic.me",
	"us":   "whois.nic.us",
	"dev":  "whois.nic.google",
	"app":  "whois.nic.google",
	"xyz":  "whois.nic.xyz",
	"uk":   "whois.nic.uk",
	"de":   "whois.denic.de",
	"nl":   "whois.domain-registry.nl",
	"fr":   "whois.nic.fr",
	"pl":   "whois.dns.pl",
	"eu":   "whois.eu",
	"ru":   "whois.tcinet.ru",
	"ch":   "whois.nic.ch",
	"it":   "whois.nic.it",
	"ca":   "whois.cira.ca",
	"au":   "whois.auda.org.au",
	"jp":   "whois.jprs.jp",
	"br":   "whois.registro.br",
}

// Record is the parsed outcome of one WHOIS query.
type Record struct {
	Registered bool
	ExpiryDate *time.Time
	Registrar  string
}

// ServerFor returns the WHOIS host for a name's TLD.
func ServerFor(name string) (string, bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return "", false
	}
	host, ok := servers[strings.ToLower(name[idx+1:])]
	return host, ok
}

// Client performs WHOIS queries over TCP port 43.
type Client struct {
	dialer *net.Dialer
	log    *zap.Logger
}

// NewClient returns a Client with the pipeline's 5s query deadline.
func NewClient(log *zap.Logger) *Client {
	return &Client{
		dialer: &net.Dialer{Timeout: queryTimeout},
		log:    log,
	}
}

// Lookup queries the registry WHOIS server for the name's TLD.
// Returns ErrNoServer when the TLD is not in the server table.
func (c *Client) Lookup(ctx context.Context, name string) (*Record, error) {
	host, ok := ServerFor(name)
	if !ok {
		return nil, ErrNoServer
	}
	return c.LookupHost(ctx, name, net.JoinHostPort(host, "43"))
}

// LookupHost queries a specific server address: write the query line, read
// until the server closes the connection, parse. The whole exchange shares
// one deadline.
func (c *Client) LookupHost(ctx context.Context, name, addr string) (*Record, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(queryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %v", ErrNetwork, err)
	}

	if _, err := conn.Write([]byte(name + "\r\n")); err != nil {
		return nil, fmt.Errorf("%w: write query: %v", ErrNetwork, err)
	}

	raw, err := io.ReadAll(io.LimitReader(conn, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	rec, err := parseResponse(string(raw))
	if err != nil {
		c.log.Debug("whois response yielded no fields",
			zap.String("name", name),
			zap.String("server", addr))
	}
	return rec, err
}
