package llm

import (
	"fmt"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewClassifier builds the classifier selected by cfg.Provider
func NewClassifier(cfg config.ClassifierConfig, logger *zap.Logger) (compliance.Classifier, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaClassifier(OllamaConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
		}, logger), nil
	case "rules":
		return NewRulesClassifier(), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
}
