// Package llm provides the classification backends: a local Ollama model and
// a deterministic rule-based classifier.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"go.uber.org/zap"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llama3.1"
	maxErrorBody          = 2048
)

// OllamaConfig configures the Ollama classifier
type OllamaConfig struct {
	Endpoint string
	Model    string
	// Timeout bounds one HTTP exchange. The orchestrator sets its own per-call deadline too.
	Timeout time.Duration
}

// OllamaClassifier classifies requirements with a model served by Ollama's
// /api/chat endpoint in JSON mode.
type OllamaClassifier struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *zap.Logger
}

// NewOllamaClassifier creates a classifier. Empty endpoint and model fall back
// to the local defaults.
func NewOllamaClassifier(cfg OllamaConfig, logger *zap.Logger) *OllamaClassifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOllamaEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClassifier{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.Named("ollama"),
	}
}

// Name returns the backend name
func (c *OllamaClassifier) Name() string {
	return "ollama:" + c.model
}

// Classify classifies one requirement text
func (c *OllamaClassifier) Classify(ctx context.Context, text string) (compliance.ClassificationResult, error) {
	content, err := c.chat(ctx, singlePrompt(text))
	if err != nil {
		return compliance.ClassificationResult{}, err
	}
	parsed, err := decodeSingle(content)
	if err != nil {
		return compliance.ClassificationResult{}, malformed(err)
	}
	return parsed.toResult(c.Name()), nil
}

// ClassifyBatch classifies several texts with one model call
func (c *OllamaClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]compliance.ClassificationResult, error) {
	if len(texts) == 0 {
		return []compliance.ClassificationResult{}, nil
	}
	if len(texts) == 1 {
		r, err := c.Classify(ctx, texts[0])
		if err != nil {
			return nil, err
		}
		return []compliance.ClassificationResult{r}, nil
	}

	content, err := c.chat(ctx, batchPrompt(texts))
	if err != nil {
		return nil, err
	}
	parsed, err := decodeBatch(content, len(texts))
	if err != nil {
		return nil, malformed(err)
	}

	out := make([]compliance.ClassificationResult, len(parsed))
	for i, p := range parsed {
		out[i] = p.toResult(c.Name())
	}
	return out, nil
}

// chat sends one non-streaming chat request and returns the reply content
func (c *OllamaClassifier) chat(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Format:  "json",
		Stream:  false,
		Options: chatOptions{Temperature: 0},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w: %w", compliance.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		if statusErr.Transient() {
			return "", fmt.Errorf("%w: %w", compliance.ErrClassifierUnavailable, statusErr)
		}
		return "", statusErr
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w: %w", compliance.ErrClassifierUnavailable, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: ollama: %s", compliance.ErrClassifierUnavailable, out.Error)
	}

	c.logger.Debug("Ollama chat completed",
		zap.String("model", c.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("eval_count", out.EvalCount),
	)
	return out.Message.Content, nil
}

// malformed marks an unusable model reply. Models answer differently on a
// second try, so it is also transient.
func malformed(err error) error {
	return fmt.Errorf("%w: %w: %w", compliance.ErrClassifierUnavailable, compliance.ErrMalformedClassification, err)
}

// StatusError is a non-200 reply from Ollama
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying may succeed
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
}

// IsStatus reports whether err carries an Ollama reply with the given status
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Format   string        `json:"format,omitempty"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message   chatMessage `json:"message"`
	Done      bool        `json:"done"`
	EvalCount int         `json:"eval_count"`
	Error     string      `json:"error"`
}

var _ compliance.BatchClassifier = (*OllamaClassifier)(nil)
