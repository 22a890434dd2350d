package model

import "time"

// ReplyStatus tags the resolution of one backend call.
type ReplyStatus string

const (
	ReplySuccess ReplyStatus = "success"
	ReplyError   ReplyStatus = "error"
	ReplyTimeout ReplyStatus = "timeout"
)

// VerifyResult is the parsed payload of a successful verify call. Score is
// a pointer so a reply missing the field can be told apart from a zero.
type VerifyResult struct {
	Score        *float64 `json:"score"`
	IsMatch      bool     `json:"is_me"`
	Label        string   `json:"name"`
	ModelVersion string   `json:"model_version"`
}

// Outcome is the resolution of one dispatched backend call. Reply is
// non-nil only when Status is ReplySuccess and the body parsed.
type Outcome struct {
	Backend    string        `json:"backend"`
	Endpoint   string        `json:"endpoint"`
	Status     ReplyStatus   `json:"status"`
	Reply      *VerifyResult `json:"reply,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Err        string        `json:"error,omitempty"`
	Latency    time.Duration `json:"-"`
}

// ServiceType distinguishes the two outbound collaborator kinds in
// telemetry and audit rows.
type ServiceType string

const (
	ServiceVerify ServiceType = "verify"
	ServiceQA     ServiceType = "qa"
)

// CallOutcome is the telemetry event emitted once per outbound call.
type CallOutcome struct {
	RequestID  string      `json:"request_id"`
	At         time.Time   `json:"ts"`
	Service    ServiceType `json:"service_type"`
	Backend    string      `json:"service_name"`
	Endpoint   string      `json:"endpoint"`
	LatencyMS  float64     `json:"latency_ms"`
	StatusCode int         `json:"status_code,omitempty"`
	TimedOut   bool        `json:"timeout"`
	Err        string      `json:"error,omitempty"`
}

// FusionOutcome is the telemetry event emitted once per fusion run, after
// the decision is made. Candidates carries the full ranked list.
type FusionOutcome struct {
	RequestID  string      `json:"request_id"`
	At         time.Time   `json:"ts"`
	Decision   Decision    `json:"decision"`
	Identity   *Identity   `json:"identity,omitempty"`
	Candidates []Candidate `json:"candidates"`
	TimingMS   float64     `json:"timing_ms"`
}
