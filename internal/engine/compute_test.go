package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatflow-io/chatflow/internal/model"
)

func TestComputeLinear(t *testing.T) {
	total, err := Compute(model.ComputeLinear, 150, "4")
	require.NoError(t, err)
	assert.Equal(t, 600.0, total)

	total, err = Compute(model.ComputeLinear, 150, "  7 ")
	require.NoError(t, err)
	assert.Equal(t, 1050.0, total)

	_, err = Compute(model.ComputeLinear, 150, "cuatro")
	assert.Error(t, err)
}

func TestComputeArea(t *testing.T) {
	total, err := Compute(model.ComputeArea, 10, "3x4")
	require.NoError(t, err)
	assert.Equal(t, 120.0, total)

	total, err = Compute(model.ComputeArea, 10, "3 x 4")
	require.NoError(t, err)
	assert.Equal(t, 120.0, total)

	_, err = Compute(model.ComputeArea, 10, "3x4x5")
	assert.Error(t, err)

	_, err = Compute(model.ComputeArea, 10, "axb")
	assert.Error(t, err)
}

func TestComputeUnknownKind(t *testing.T) {
	_, err := Compute(model.ComputeKind("volume"), 1, "2")
	assert.Error(t, err)
}
