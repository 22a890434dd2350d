package model

import "time"

// AccessRecord is the request-level audit row, one per identify request.
type AccessRecord struct {
	RequestID       string      `json:"request_id"`
	At              time.Time   `json:"ts"`
	Route           string      `json:"route"`
	Decision        Decision    `json:"decision"`
	Identity        *Identity   `json:"identity,omitempty"`
	Candidates      []Candidate `json:"candidates"`
	TimingMS        float64     `json:"timing_ms"`
	StatusCode      int         `json:"status_code"`
	BackendsQueried int         `json:"backends_queried"`
	BackendTimeouts int         `json:"backend_timeouts"`
	BackendErrors   int         `json:"backend_errors"`
	QAUsed          bool        `json:"qa_used"`
	ImageSHA256     string      `json:"image_sha256,omitempty"`
	ImageBytes      int         `json:"image_bytes,omitempty"`
}
