package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyParsesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "img.jpg", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score": 0.87, "is_me": true, "name": "Alice", "model_version": "v3"}`))
	}))
	defer srv.Close()

	c := NewClient()
	res, code, err := c.Verify(context.Background(), srv.URL, []byte("fake-jpeg"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, res.Score)
	assert.Equal(t, 0.87, *res.Score)
	assert.True(t, res.IsMatch)
	assert.Equal(t, "Alice", res.Name)
	assert.Equal(t, "v3", res.ModelVersion)
}

func TestVerifyMissingScoreField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"is_me": false}`))
	}))
	defer srv.Close()

	c := NewClient()
	res, _, err := c.Verify(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Score, "absent score stays nil, not zero")
}

func TestVerifyNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no face found", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient()
	_, code, err := c.Verify(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, err.Error(), "422")
}

func TestVerifyMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient()
	_, code, err := c.Verify(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusOK, code)
}

func TestVerifyContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := c.Verify(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerifyRateLimit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.Write([]byte(`{"score": 0.5}`))
	}))
	defer srv.Close()

	// 20 rps, burst 1: three calls need ~100ms spacing after the first.
	c := NewClient(WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := c.Verify(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, hits)
}
