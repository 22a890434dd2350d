package model

// Decision classifies the outcome of one fusion run.
type Decision string

const (
	DecisionIdentified Decision = "identified"
	DecisionAmbiguous  Decision = "ambiguous"
	DecisionUnknown    Decision = "unknown"
)

// Candidate is a named confidence score produced by normalizing one
// backend's valid reply. Scores are always within [0,1]; replies outside
// that range never become candidates.
type Candidate struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Identity is the resolved positive identification. It is present on a
// result exactly when the decision is DecisionIdentified.
type Identity struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}
