package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/idfuse/internal/model"
)

func score(v float64) *float64 { return &v }

func TestNormalizeValidReplies(t *testing.T) {
	outcomes := []model.Outcome{
		{Backend: "alice-svc", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.9), Label: "Alice Muñoz"}},
		{Backend: "bob-svc", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.4)}},
	}

	cands, counts := Normalize(outcomes)
	require.Len(t, cands, 2)
	assert.Equal(t, "Alice Muñoz", cands[0].Name)
	assert.Equal(t, 0.9, cands[0].Score)
	assert.Equal(t, "bob-svc", cands[1].Name, "falls back to roster name without a label")
	assert.Equal(t, NormalizeCounts{Valid: 2}, counts)
}

func TestNormalizeDropsFailures(t *testing.T) {
	outcomes := []model.Outcome{
		{Backend: "a", Status: model.ReplyTimeout},
		{Backend: "b", Status: model.ReplyError, Err: "status 500"},
		{Backend: "c", Status: model.ReplySuccess, Reply: nil},
		{Backend: "d", Status: model.ReplySuccess, Reply: &model.VerifyResult{}},
		{Backend: "e", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.7)}},
	}

	cands, counts := Normalize(outcomes)
	require.Len(t, cands, 1)
	assert.Equal(t, "e", cands[0].Name)
	assert.Equal(t, NormalizeCounts{Valid: 1, Errors: 1, Timeouts: 1, Invalid: 2}, counts)
}

func TestNormalizeRejectsOutOfRangeScores(t *testing.T) {
	outcomes := []model.Outcome{
		{Backend: "a", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(1.3)}},
		{Backend: "b", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(-0.1)}},
		{Backend: "c", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(1.0)}},
		{Backend: "d", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.0)}},
	}

	cands, counts := Normalize(outcomes)
	require.Len(t, cands, 2, "boundary scores are valid, out-of-range are not")
	assert.Equal(t, 2, counts.Invalid)
}

func TestNormalizeLabelNFC(t *testing.T) {
	// Decomposed "é" (e + combining acute) must normalize to the composed form.
	decomposed := "Jose\u0301"
	outcomes := []model.Outcome{
		{Backend: "a", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.8), Label: decomposed}},
		{Backend: "b", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.8), Label: "  "}},
	}

	cands, _ := Normalize(outcomes)
	require.Len(t, cands, 2)
	assert.Equal(t, norm.NFC.String(decomposed), cands[0].Name)
	assert.Equal(t, "José", cands[0].Name)
	assert.Equal(t, "b", cands[1].Name, "whitespace-only label falls back")
}

func TestNormalizePreservesOutcomeOrder(t *testing.T) {
	outcomes := []model.Outcome{
		{Backend: "first", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.1)}},
		{Backend: "second", Status: model.ReplySuccess, Reply: &model.VerifyResult{Score: score(0.9)}},
	}

	cands, _ := Normalize(outcomes)
	require.Len(t, cands, 2)
	assert.Equal(t, "first", cands[0].Name, "normalizer does not rank; fusion does")
}
