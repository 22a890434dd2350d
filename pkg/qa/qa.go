// Package qa provides clients for the question-answering collaborator.
// Answers ride along with identity decisions but never influence them; a
// failed or missing answer is not an error for the request.
package qa

import "context"

// Citation points at a source document backing part of an answer.
type Citation struct {
	Doc     string `json:"doc"`
	Page    string `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Answer is a free-text answer with its supporting citations.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// Service answers free-text questions.
type Service interface {
	// Ask returns an answer for the question, correlated by requestID.
	Ask(ctx context.Context, question, requestID string) (*Answer, error)
	// Health reports whether the service is reachable.
	Health(ctx context.Context) bool
}
