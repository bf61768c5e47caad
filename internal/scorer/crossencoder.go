//go:build cgo
// +build cgo

package scorer

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/ruiji/internal/embedding"
)

// CrossEncoderScorer runs a sequence-pair classification model (e.g. ms-marco-MiniLM-L-6-v2)
// that reads query and candidate together and emits a single relevance logit.
type CrossEncoderScorer struct {
	session             *ort.AdvancedSession
	tokenizer           embedding.Tokenizer
	maxTokens           int
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	logitsTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewCrossEncoderScorer loads the model at modelPath.
func NewCrossEncoderScorer(modelPath string, maxTokens int) (*CrossEncoderScorer, error) {
	if err := embedding.InitONNXRuntime(); err != nil {
		return nil, err
	}
	tokenizer := &embedding.SimpleTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tokenizer.TokenizePair("", "", maxTokens)
	shape := ort.NewShape(1, int64(len(inputIDs)))

	var tensors []interface{ Destroy() error }
	cleanup := func() {
		for _, t := range tensors {
			_ = t.Destroy()
		}
	}
	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	tensors = append(tensors, inputIDsTensor)
	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	tensors = append(tensors, attentionMaskTensor)
	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	tensors = append(tensors, tokenTypeIDsTensor)
	logitsTensor, err := ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create logits tensor: %w", err)
	}
	tensors = append(tensors, logitsTensor)

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		[]ort.ArbitraryTensor{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{logitsTensor},
		nil,
	)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &CrossEncoderScorer{
		session:             session,
		tokenizer:           tokenizer,
		maxTokens:           len(inputIDs),
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		tokenTypeIDsTensor:  tokenTypeIDsTensor,
		logitsTensor:        logitsTensor,
	}, nil
}

// Name returns the scorer identifier.
func (s *CrossEncoderScorer) Name() string {
	return "cross-encoder"
}

// Score returns the model logit for (query, candidate).
func (s *CrossEncoderScorer) Score(ctx context.Context, query, candidate string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0, unavailable(ctx, fmt.Errorf("scorer closed"))
	}
	inputIDs, attentionMask, tokenTypeIDs := s.tokenizer.TokenizePair(query, candidate, s.maxTokens)
	copy(s.inputIDsTensor.GetData(), inputIDs)
	copy(s.attentionMaskTensor.GetData(), attentionMask)
	copy(s.tokenTypeIDsTensor.GetData(), tokenTypeIDs)
	if err := s.session.Run(); err != nil {
		return 0, unavailable(ctx, fmt.Errorf("inference failed: %w", err))
	}
	return float64(s.logitsTensor.GetData()[0]), nil
}

// Close destroys the session and tensors.
func (s *CrossEncoderScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	for _, t := range []interface{ Destroy() error }{s.inputIDsTensor, s.attentionMaskTensor, s.tokenTypeIDsTensor, s.logitsTensor} {
		_ = t.Destroy()
	}
	return err
}
