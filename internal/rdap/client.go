package rdap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	connectTimeout = 3 * time.Second
	totalTimeout   = 5 * time.Second
	maxRedirects   = 5
	maxBodyBytes   = 1 << 20
)

// ErrNotRegistered is returned when the registry answers 404: the name has no
// registration object.
var ErrNotRegistered = errors.New("rdap: domain not registered")

// ErrMalformed is returned when a 200 response body is not parseable RDAP.
var ErrMalformed = errors.New("rdap: malformed response")

// DomainResponse is the subset of an RDAP domain object the pipeline reads:
// expiration event and registrar entity. Everything else in the (often large)
// response is discarded at decode time.
type DomainResponse struct {
	LDHName  string   `json:"ldhName"`
	Status   []string `json:"status"`
	Events   []Event  `json:"events"`
	Entities []Entity `json:"entities"`
}

// Event is one lifecycle event of the registration.
type Event struct {
	EventAction string `json:"eventAction"`
	EventDate   string `json:"eventDate"`
}

// Entity is one party associated with the registration. The vCard payload is
// kept raw; only the fn property is ever extracted.
type Entity struct {
	Roles      []string        `json:"roles"`
	Handle     string          `json:"handle"`
	VCardArray json.RawMessage `json:"vcardArray"`
	Entities   []Entity        `json:"entities"`
}

// Client fetches RDAP domain objects. Timeouts are hard: 3s to connect, 5s
// total, at most 5 redirects. Safe for concurrent use; the lookup engine
// issues hundreds of requests through one Client.
type Client struct {
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient returns a Client with the pipeline's timeout profile.
func NewClient(log *zap.Logger) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   totalTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("rdap: stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		log: log,
	}
}

// Domain fetches the RDAP object for name from the given base URL.
// Returns ErrNotRegistered on 404 and ErrMalformed on an unparseable 200
// body; any other error means the server gave no usable answer and the
// caller should fall back to WHOIS.
func (c *Client) Domain(ctx context.Context, base, name string) (*DomainResponse, error) {
	endpoint := fmt.Sprintf("%s/domain/%s", base, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("rdap: build request: %w", err)
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rdap: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("rdap: read body: %w", err)
		}
		var dr DomainResponse
		if err := json.Unmarshal(body, &dr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &dr, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotRegistered

	default:
		return nil, fmt.Errorf("rdap: unexpected status %d from %s", resp.StatusCode, base)
	}
}

// ExpiryDate returns the date of the first expiration event, or nil when the
// registry published none. The time component is dropped: expiry is a
// calendar date.
func (dr *DomainResponse) ExpiryDate() *time.Time {
	for _, ev := range dr.Events {
		if ev.EventAction != "expiration" {
			continue
		}
		if t, ok := parseEventDate(ev.EventDate); ok {
			return &t
		}
	}
	return nil
}

// Registrar returns the display name of the first registrar entity,
// preferring the vCard fn property over the handle. Empty when the response
// names no registrar.
func (dr *DomainResponse) Registrar() string {
	for _, ent := range dr.Entities {
		if !hasRole(ent.Roles, "registrar") {
			continue
		}
		if fn := vcardFN(ent.VCardArray); fn != "" {
			return fn
		}
		if ent.Handle != "" {
			return ent.Handle
		}
	}
	return ""
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// parseEventDate accepts RFC 3339 timestamps and bare dates, normalizing to
// midnight UTC of the calendar date.
func parseEventDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// vcardFN extracts the fn property from a jCard array:
// ["vcard", [["version",{},"text","4.0"], ["fn",{},"text","Registrar Inc"]]].
func vcardFN(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var card []any
	if err := json.Unmarshal(raw, &card); err != nil || len(card) < 2 {
		return ""
	}
	props, ok := card[1].([]any)
	if !ok {
		return ""
	}
	for _, p := range props {
		fields, ok := p.([]any)
		if !ok || len(fields) < 4 {
			continue
		}
		name, _ := fields[0].(string)
		if name != "fn" {
			continue
		}
		if value, ok := fields[3].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
