package db

import (
	"encoding/json"
	"fmt"
)

// Job payloads are a tagged variant: the Job.Kind column discriminates which
// shape the opaque Payload blob decodes to. The blob is written once at job
// creation and never mutated — workers address it by half-open index ranges
// handed out by the claim transaction.

// ImportPayload carries the raw, user-supplied name strings of an import job.
// Names are cleaned by the worker at processing time, not at creation, so the
// stored payload preserves exactly what the user submitted.
type ImportPayload struct {
	Names []string `json:"names"`
}

// CheckPayload carries the domain IDs of a whois_check job.
type CheckPayload struct {
	IDs []int64 `json:"ids"`
}

// EncodeImportPayload serializes an import payload.
func EncodeImportPayload(names []string) ([]byte, error) {
	data, err := json.Marshal(ImportPayload{Names: names})
	if err != nil {
		return nil, fmt.Errorf("payload: encode import: %w", err)
	}
	return data, nil
}

// EncodeCheckPayload serializes a whois_check payload.
func EncodeCheckPayload(ids []int64) ([]byte, error) {
	data, err := json.Marshal(CheckPayload{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("payload: encode check: %w", err)
	}
	return data, nil
}

// DecodeImportPayload deserializes the payload of an import job.
func DecodeImportPayload(data []byte) (*ImportPayload, error) {
	var p ImportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("payload: decode import: %w", err)
	}
	return &p, nil
}

// DecodeCheckPayload deserializes the payload of a whois_check job.
func DecodeCheckPayload(data []byte) (*CheckPayload, error) {
	var p CheckPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("payload: decode check: %w", err)
	}
	return &p, nil
}

// PayloadLen returns the number of items a payload holds for the given kind,
// used to fix Job.Total at creation. Unknown kinds are rejected here so a job
// can never be created with a payload the workers cannot interpret.
func PayloadLen(kind string, data []byte) (int, error) {
	switch kind {
	case JobKindImport:
		p, err := DecodeImportPayload(data)
		if err != nil {
			return 0, err
		}
		return len(p.Names), nil
	case JobKindWhoisCheck:
		p, err := DecodeCheckPayload(data)
		if err != nil {
			return 0, err
		}
		return len(p.IDs), nil
	default:
		return 0, fmt.Errorf("payload: unknown job kind %q", kind)
	}
}
