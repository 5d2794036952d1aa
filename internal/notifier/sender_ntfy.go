package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ntfySender pushes a short plain-text message to an ntfy topic. ntfy's
// publish API is a bare POST of the body to <server>/<topic>; the Title
// header sets the notification title on subscribed devices.
type ntfySender struct {
	client *http.Client
	server string
	topic  string
}

func newNtfySender(server, topic string) *ntfySender {
	return &ntfySender{
		client: &http.Client{Timeout: 10 * time.Second},
		server: strings.TrimSuffix(server, "/"),
		topic:  topic,
	}
}

// Send publishes one message. Returns ErrNotConfigured when no server or
// topic is set, and ErrSendFailed on transport errors or non-2xx responses.
func (s *ntfySender) Send(ctx context.Context, title, body string) error {
	if s.server == "" || s.topic == "" {
		return ErrNotConfigured
	}

	endpoint := s.server + "/" + s.topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build ntfy request: %s", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	req.Header.Set("Tags", "globe_with_meridians")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ntfy request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: ntfy returned status %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}
