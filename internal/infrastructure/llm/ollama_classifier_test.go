package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeOllama serves /api/chat with the reply produced by respond
func fakeOllama(t *testing.T, respond func(req chatRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status, content := respond(req)
		if status != http.StatusOK {
			http.Error(w, content, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: content},
			Done:    true,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClassifier(t *testing.T, srv *httptest.Server) *OllamaClassifier {
	return NewOllamaClassifier(OllamaConfig{Endpoint: srv.URL + "/", Model: "test-model", Timeout: 5 * time.Second}, zaptest.NewLogger(t))
}

func TestOllamaClassifier_Classify(t *testing.T) {
	var seen chatRequest
	srv := fakeOllama(t, func(req chatRequest) (int, string) {
		seen = req
		return http.StatusOK, "Sure! ```json\n" + `{"compliance_type":"mandatory","category":"Technical","priority":"high",` +
			`"risk":"yes","keywords":["support"],"confidence":"85%"}` + "\n```"
	})
	c := newTestClassifier(t, srv)

	got, err := c.Classify(context.Background(), "The contractor shall provide support.")
	require.NoError(t, err)

	assert.Equal(t, compliance.ComplianceTypeMandatory, got.ComplianceType)
	assert.Equal(t, "Technical", got.Category)
	assert.Equal(t, compliance.PriorityHigh, got.Priority)
	assert.True(t, got.Risk)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
	assert.Equal(t, []string{"support"}, got.Keywords)
	assert.Equal(t, "ollama:test-model", got.Source)

	assert.Equal(t, "test-model", seen.Model)
	assert.Equal(t, "json", seen.Format)
	assert.False(t, seen.Stream)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Contains(t, seen.Messages[1].Content, "The contractor shall provide support.")
}

func TestOllamaClassifier_ClassifyBatch(t *testing.T) {
	calls := 0
	srv := fakeOllama(t, func(req chatRequest) (int, string) {
		calls++
		assert.Contains(t, req.Messages[1].Content, "1. First shall.")
		assert.Contains(t, req.Messages[1].Content, "2. Second must.")
		return http.StatusOK, `{"results":[` +
			`{"compliance_type":"mandatory","priority":"high","confidence":0.9},` +
			`{"compliance_type":"recommended","priority":"low","confidence":0.4}]}`
	})
	c := newTestClassifier(t, srv)

	got, err := c.ClassifyBatch(context.Background(), []string{"First shall.", "Second\nmust."})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, compliance.ComplianceTypeMandatory, got[0].ComplianceType)
	assert.Equal(t, compliance.ComplianceTypeRecommended, got[1].ComplianceType)

	empty, err := c.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 1, calls)
}

func TestOllamaClassifier_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		content   string
		batch     bool
		transient bool
	}{
		{"server error is transient", http.StatusServiceUnavailable, "loading model", false, true},
		{"rate limit is transient", http.StatusTooManyRequests, "slow down", false, true},
		{"missing model is permanent", http.StatusNotFound, `model "x" not found`, false, false},
		{"bad request is permanent", http.StatusBadRequest, "bad", false, false},
		{"non JSON reply is transient", http.StatusOK, "I cannot classify this.", false, true},
		{"short batch is transient", http.StatusOK, `{"results":[{"compliance_type":"mandatory"}]}`, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeOllama(t, func(chatRequest) (int, string) { return tt.status, tt.content })
			c := newTestClassifier(t, srv)

			var err error
			if tt.batch {
				_, err = c.ClassifyBatch(context.Background(), []string{"a shall", "b must"})
			} else {
				_, err = c.Classify(context.Background(), "a shall")
			}
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.Is(err, compliance.ErrClassifierUnavailable), err.Error())
			// only replies that arrived can be malformed
			assert.Equal(t, tt.status == http.StatusOK, errors.Is(err, compliance.ErrMalformedClassification))
			if tt.status != http.StatusOK {
				assert.True(t, IsStatus(err, tt.status))
			}
		})
	}
}

func TestOllamaClassifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOllamaClassifier(OllamaConfig{Endpoint: url}, nil)
	_, err := c.Classify(context.Background(), "a shall")
	require.Error(t, err)
	assert.ErrorIs(t, err, compliance.ErrClassifierUnavailable)
	assert.True(t, strings.HasPrefix(c.Name(), "ollama:"))
}

func TestOllamaClassifier_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewOllamaClassifier(OllamaConfig{Endpoint: srv.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Classify(ctx, "a shall")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, compliance.ErrClassifierUnavailable)
}
