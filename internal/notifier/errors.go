package notifier

import "errors"

// ErrNotConfigured is returned by a sender whose channel has no
// configuration; the send is skipped silently by the dispatch loop.
var ErrNotConfigured = errors.New("notifier: channel not configured")

// ErrSendFailed wraps transport-level delivery failures. Deliveries are
// best-effort: failures are logged and counted, never propagated to the
// pipeline.
var ErrSendFailed = errors.New("notifier: send failed")
