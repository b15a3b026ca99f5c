// Package recognition scores presented biometric features against
// enrolled templates.  Feature extraction happens outside this process;
// only embeddings and sensor slot numbers arrive here.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

var ErrInvalidFeatures = errors.New("recognition: invalid features")

// DefaultFaceThreshold is the minimum cosine similarity for a face match,
// equivalent to a cosine distance of 0.30.
const DefaultFaceThreshold = 0.70

// DefaultFingerprintThreshold accepts any enrolled slot.
const DefaultFingerprintThreshold = 0.5

// Features is one presentation.  Face scorers read Embedding; the
// fingerprint scorer reads Slot.
type Features struct {
	Embedding []float32
	Slot      *int
}

// Match is the best-scoring template.  TemplateID is empty when nothing
// is enrolled.
type Match struct {
	Score      float64
	TemplateID string
	Label      string
}

// CosineScorer matches face embeddings by cosine similarity, clamped to
// [0, 1].
type CosineScorer struct {
	logger *log.Logger
}

func NewCosineScorer(logger *log.Logger) *CosineScorer {
	return &CosineScorer{logger: logger}
}

func (s *CosineScorer) Score(ctx context.Context, f Features, enrolled []store.TemplateRecord) (Match, error) {
	if err := checkEmbedding(f.Embedding); err != nil {
		return Match{}, err
	}

	var best Match
	for _, t := range enrolled {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}
		emb, err := DecodeFace(t.Blob)
		if err != nil {
			s.logger.Printf("recognition: skipping template id=%s: %v", t.ID, err)
			continue
		}
		if len(emb) != len(f.Embedding) {
			s.logger.Printf("recognition: skipping template id=%s dim=%d want=%d", t.ID, len(emb), len(f.Embedding))
			continue
		}
		if sim := clamp01(Cosine(f.Embedding, emb)); best.TemplateID == "" || sim > best.Score {
			best = Match{Score: sim, TemplateID: t.ID, Label: t.Label}
		}
	}
	return best, nil
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// SlotScorer trusts the sensor's on-device match: a reported slot scores
// 1.0 when it is enrolled here and 0.0 otherwise.
type SlotScorer struct{}

func NewSlotScorer() SlotScorer { return SlotScorer{} }

func (SlotScorer) Score(_ context.Context, f Features, enrolled []store.TemplateRecord) (Match, error) {
	if f.Slot == nil || *f.Slot < 0 {
		return Match{}, fmt.Errorf("%w: missing slot", ErrInvalidFeatures)
	}
	for _, t := range enrolled {
		slot, err := DecodeFingerprint(t.Blob)
		if err != nil {
			continue
		}
		if slot == *f.Slot {
			return Match{Score: 1, TemplateID: t.ID, Label: t.Label}, nil
		}
	}
	return Match{}, nil
}
