package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcOracle func(ctx context.Context, prompt string) (string, error)

func (f funcOracle) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "hola", req.Prompt)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: `{"message":"hi","action":"show_initial_menu","data":{}}`})
	}))
	defer srv.Close()

	out, err := NewOllamaClient(srv.URL+"/", "llama3").Generate(context.Background(), "hola")
	require.NoError(t, err)
	assert.Contains(t, out, "show_initial_menu")
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'x' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "x").Generate(context.Background(), "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestBoundedTimesOut(t *testing.T) {
	slow := funcOracle(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := NewBounded(slow, "test", 20*time.Millisecond, nil).Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBoundedWrapsTransportErrors(t *testing.T) {
	broken := funcOracle(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	})
	_, err := NewBounded(broken, "test", time.Second, nil).Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrTimeout)
}
