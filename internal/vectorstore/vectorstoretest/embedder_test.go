package vectorstoretest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestBagEmbedder(t *testing.T) {
	e := NewBagEmbedder(0)
	assert.Equal(t, DefaultDim, e.Dimension())

	vecs, err := e.Embed(context.Background(), []string{
		"Quantum computing is remarkable.",
		"quantum COMPUTING, remarkable!",
		"The sky is blue.",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	for _, v := range vecs {
		assert.Len(t, v, DefaultDim)
		assert.InDelta(t, 1.0, math.Sqrt(dot(v, v)), 1e-5)
	}
	assert.InDelta(t, 1.0, dot(vecs[0], vecs[1]), 1e-5, "case and punctuation are ignored")
	assert.Less(t, dot(vecs[0], vecs[2]), 0.5)

	assert.Equal(t, 1, e.Calls())
	assert.Equal(t, 4, e.Texts())
}

func TestBagEmbedder_Error(t *testing.T) {
	e := NewBagEmbedder(8)
	e.Err = errors.New("boom")

	_, err := e.Embed(context.Background(), []string{"x"})
	assert.EqualError(t, err, "boom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Err = nil
	_, err = e.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"sky", "blue"}, Tokens("The sky is blue."))
	assert.Equal(t, []string{"signed", "1776"}, Tokens("was signed in 1776"))
	assert.Empty(t, Tokens("  ...  "))
}
