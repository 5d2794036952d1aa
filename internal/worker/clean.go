package worker

import (
	"errors"
	"strings"
)

// ErrInvalidName rejects input that cannot be a domain name. Invalid names
// count toward the job's error total and are never looked up.
var ErrInvalidName = errors.New("worker: invalid domain name")

// CleanName normalizes a raw, user-supplied name string. Imports accept
// copy-pasted browser URLs, so the scheme, a leading "www." and a trailing
// slash are stripped before validation. A name without a dot is rejected.
func CleanName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "https://")
	name = strings.TrimPrefix(name, "www.")
	name = strings.TrimSuffix(name, "/")

	if name == "" || !strings.Contains(name, ".") {
		return "", ErrInvalidName
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return "", ErrInvalidName
	}
	return name, nil
}
