package fusion

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/idfuse/internal/model"
)

// NormalizeCounts tallies what happened to each dispatch outcome on its way
// into (or out of) the candidate set.
type NormalizeCounts struct {
	Valid    int `json:"valid"`
	Errors   int `json:"errors"`
	Timeouts int `json:"timeouts"`
	Invalid  int `json:"invalid"`
}

// Normalize converts dispatch outcomes into the uniform candidate shape.
// A reply is valid only when the call succeeded, the payload parsed, and it
// carried a score within [0,1]; everything else is dropped from the
// candidate set but counted. Candidate names come from the backend's own
// reported label when present, falling back to the roster name.
func Normalize(outcomes []model.Outcome) ([]model.Candidate, NormalizeCounts) {
	var counts NormalizeCounts
	candidates := make([]model.Candidate, 0, len(outcomes))

	for _, o := range outcomes {
		switch o.Status {
		case model.ReplyTimeout:
			counts.Timeouts++
			continue
		case model.ReplyError:
			counts.Errors++
			continue
		}

		if o.Reply == nil || o.Reply.Score == nil {
			counts.Invalid++
			continue
		}
		score := *o.Reply.Score
		if score < 0 || score > 1 {
			// Out-of-range scores are invalid replies, not clamped.
			counts.Invalid++
			continue
		}

		counts.Valid++
		candidates = append(candidates, model.Candidate{
			Name:  candidateName(o),
			Score: score,
		})
	}

	return candidates, counts
}

func candidateName(o model.Outcome) string {
	label := strings.TrimSpace(o.Reply.Label)
	if label == "" {
		return o.Backend
	}
	return norm.NFC.String(label)
}
