package dispatch

import (
	"context"

	"github.com/sells-group/idfuse/internal/model"
	"github.com/sells-group/idfuse/pkg/verifier"
)

// verifierClient adapts the pkg/verifier client to the dispatcher's
// transport interface.
type verifierClient struct {
	c verifier.Client
}

// NewVerifierClient wraps a verifier.Client for use by the Dispatcher.
func NewVerifierClient(c verifier.Client) Client {
	return verifierClient{c: c}
}

func (v verifierClient) Verify(ctx context.Context, endpointURL string, image []byte) (*model.VerifyResult, int, error) {
	res, statusCode, err := v.c.Verify(ctx, endpointURL, image)
	if err != nil {
		return nil, statusCode, err
	}
	return &model.VerifyResult{
		Score:        res.Score,
		IsMatch:      res.IsMatch,
		Label:        res.Name,
		ModelVersion: res.ModelVersion,
	}, statusCode, nil
}
