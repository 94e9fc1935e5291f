package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleIsWildcard(t *testing.T) {
	assert.True(t, (&Rule{Pattern: "*"}).IsWildcard())
	assert.True(t, (&Rule{Pattern: " * "}).IsWildcard())
	assert.False(t, (&Rule{Pattern: "hola"}).IsWildcard())
}

func TestCascadeSteps(t *testing.T) {
	r := &Rule{NextStep: "Paso_A, paso_b ,,paso_c"}
	assert.Equal(t, []string{"paso_a", "paso_b", "paso_c"}, r.CascadeSteps())

	assert.Nil(t, (&Rule{}).CascadeSteps())
	assert.Equal(t, []string{"solo"}, (&Rule{NextStep: "solo"}).CascadeSteps())
}

func TestParseListSpecBareArray(t *testing.T) {
	spec, err := ParseListSpec(`[{"title":"Sec","rows":[{"id":"a","title":"A"}]}]`)
	require.NoError(t, err)
	require.Len(t, spec.Sections, 1)
	assert.Equal(t, "a", spec.Sections[0].Rows[0].ID)
}

func TestParseListSpecObject(t *testing.T) {
	spec, err := ParseListSpec(`{"header":"H","sections":[{"rows":[{"id":"x","title":"X"}]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "H", spec.Header)
	require.Len(t, spec.Sections, 1)
}

func TestOptionStep(t *testing.T) {
	list := &Rule{Options: `[{"rows":[{"id":"op1","title":"Uno","step":"Paso_Dos"},{"id":"op2","title":"Dos"}]}]`}
	assert.Equal(t, "paso_dos", list.OptionStep("op1"))
	assert.Equal(t, "", list.OptionStep("op2"))
	assert.Equal(t, "", list.OptionStep("missing"))

	buttons := &Rule{Options: `[{"id":"b1","title":"Sí","step":"confirmar"}]`}
	assert.Equal(t, "confirmar", buttons.OptionStep("b1"))

	assert.Equal(t, "", (&Rule{}).OptionStep("op1"))
}
