//go:build !cgo
// +build !cgo

package scorer

import (
	"context"
	"errors"
)

// CrossEncoderScorer stub type when built without CGO (see crossencoder.go).
type CrossEncoderScorer struct{}

var errNoCGO = errors.New("cross-encoder scorer requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// NewCrossEncoderScorer returns an error when built without CGO.
func NewCrossEncoderScorer(_ string, _ int) (*CrossEncoderScorer, error) {
	return nil, errNoCGO
}

func (s *CrossEncoderScorer) Name() string { return "cross-encoder" }

func (s *CrossEncoderScorer) Score(context.Context, string, string) (float64, error) {
	return 0, errNoCGO
}

func (s *CrossEncoderScorer) Close() error { return nil }
