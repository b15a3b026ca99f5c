package recognition

import (
	"context"
	"io"
	"log"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

func enrollFace(t *testing.T, id, label string, emb []float32) store.TemplateRecord {
	t.Helper()
	blob, err := EncodeFace(emb)
	require.NoError(t, err)
	return store.TemplateRecord{ID: id, Kind: store.TemplateFace, Label: label, Blob: blob}
}

func TestCodec_FaceRoundTrip(t *testing.T) {
	emb := []float32{0.1, -0.2, 0.3}
	blob, err := EncodeFace(emb)
	require.NoError(t, err)

	got, err := DecodeFace(blob)
	require.NoError(t, err)
	assert.Equal(t, emb, got)
}

func TestCodec_RejectsBadInput(t *testing.T) {
	_, err := EncodeFace(nil)
	assert.ErrorIs(t, err, ErrInvalidFeatures)
	_, err = EncodeFace([]float32{float32(math.NaN())})
	assert.ErrorIs(t, err, ErrInvalidFeatures)

	_, err = DecodeFace([]byte{0xff})
	assert.ErrorIs(t, err, ErrBadTemplate)

	blob, err := EncodeFingerprint(4)
	require.NoError(t, err)
	_, err = DecodeFace(blob)
	assert.ErrorIs(t, err, ErrBadTemplate)
}

func TestCosineScorer_PicksBestMatch(t *testing.T) {
	s := NewCosineScorer(log.New(io.Discard, "", 0))
	enrolled := []store.TemplateRecord{
		enrollFace(t, "a", "alice", []float32{1, 0, 0}),
		enrollFace(t, "b", "bob", []float32{0, 1, 0}),
		enrollFace(t, "c", "short", []float32{1, 0}),
	}

	m, err := s.Score(context.Background(), Features{Embedding: []float32{0.1, 0.9, 0}}, enrolled)
	require.NoError(t, err)
	assert.Equal(t, "b", m.TemplateID)
	assert.Equal(t, "bob", m.Label)
	assert.InDelta(t, 0.9939, m.Score, 1e-3)
}

func TestCosineScorer_OppositeVectorsClampToZero(t *testing.T) {
	s := NewCosineScorer(log.New(io.Discard, "", 0))
	enrolled := []store.TemplateRecord{enrollFace(t, "a", "", []float32{1, 0})}

	m, err := s.Score(context.Background(), Features{Embedding: []float32{-1, 0}}, enrolled)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Score)
}

func TestCosineScorer_InvalidFeatures(t *testing.T) {
	s := NewCosineScorer(log.New(io.Discard, "", 0))
	_, err := s.Score(context.Background(), Features{}, nil)
	assert.ErrorIs(t, err, ErrInvalidFeatures)
}

func TestCosineScorer_NothingEnrolled(t *testing.T) {
	s := NewCosineScorer(log.New(io.Discard, "", 0))
	m, err := s.Score(context.Background(), Features{Embedding: []float32{1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, Match{}, m)
}

func TestSlotScorer(t *testing.T) {
	blob, err := EncodeFingerprint(3)
	require.NoError(t, err)
	enrolled := []store.TemplateRecord{{ID: "fp", Kind: store.TemplateFingerprint, Label: "alice", Blob: blob}}

	three, seven := 3, 7
	m, err := NewSlotScorer().Score(context.Background(), Features{Slot: &three}, enrolled)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Score)
	assert.Equal(t, "fp", m.TemplateID)

	m, err = NewSlotScorer().Score(context.Background(), Features{Slot: &seven}, enrolled)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Score)

	_, err = NewSlotScorer().Score(context.Background(), Features{}, enrolled)
	assert.ErrorIs(t, err, ErrInvalidFeatures)
}
