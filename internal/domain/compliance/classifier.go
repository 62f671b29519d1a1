package compliance

import "context"

// Classifier assigns a compliance classification to one requirement text.
// Implementations are network or model backed and may be slow or down;
// transient failures should wrap ErrClassifierUnavailable.
type Classifier interface {
	Classify(ctx context.Context, text string) (ClassificationResult, error)
	// Name identifies the backend, recorded as the requirement's ClassifiedBy
	Name() string
}

// BatchClassifier is implemented by classifiers that can classify several
// texts in one call. The result slice must match texts index by index.
type BatchClassifier interface {
	Classifier
	ClassifyBatch(ctx context.Context, texts []string) ([]ClassificationResult, error)
}
