package qa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskParsesAnswerAndCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "req-7", r.Header.Get("X-Request-ID"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is the policy?", req["message"])
		assert.Equal(t, float64(5), req["k"])

		w.Write([]byte(`{
			"success": true,
			"result": {
				"answer": "The policy says no.",
				"sources": [
					{"title": "Handbook", "page": 12},
					{"title": "", "page": null}
				]
			}
		}`))
	}))
	defer srv.Close()

	svc := NewClient(srv.URL)
	answer, err := svc.Ask(context.Background(), "what is the policy?", "req-7")
	require.NoError(t, err)
	assert.Equal(t, "The policy says no.", answer.Text)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "Handbook", answer.Citations[0].Doc)
	assert.Equal(t, "12", answer.Citations[0].Page)
	assert.Equal(t, "Unknown Document", answer.Citations[1].Doc)
	assert.Empty(t, answer.Citations[1].Page)
}

func TestAskServiceReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success": false, "error": "no documents indexed"}`))
	}))
	defer srv.Close()

	svc := NewClient(srv.URL)
	_, err := svc.Ask(context.Background(), "anything", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents indexed")
}

func TestAskRetriesTransientStatus(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success": true, "result": {"answer": "ok"}}`))
	}))
	defer srv.Close()

	svc := NewClient(srv.URL)
	answer, err := svc.Ask(context.Background(), "q", "r")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer.Text)
	assert.Equal(t, 3, attempts)
}

func TestAskEmptyQuestion(t *testing.T) {
	svc := NewClient("http://unused.local")
	_, err := svc.Ask(context.Background(), "   ", "r")
	assert.Error(t, err)
}

func TestHealthDirectRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	svc := NewClient(srv.URL)
	assert.True(t, svc.Health(context.Background()))
}

func TestHealthChatProbeFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"success": true, "result": {"answer": "pong"}}`))
	}))
	defer srv.Close()

	svc := NewClient(srv.URL)
	assert.True(t, svc.Health(context.Background()))
}

func TestHealthDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "dead", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewClient(srv.URL)
	assert.False(t, svc.Health(context.Background()))
}
