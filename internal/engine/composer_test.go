package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatflow-io/chatflow/internal/model"
)

func TestComposeText(t *testing.T) {
	rule := &model.Rule{ID: 1, Kind: model.ResponseText}
	payloads, err := Compose(rule, "Hola")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, model.ResponseText, payloads[0].Kind)
	assert.Equal(t, "Hola", payloads[0].Body)
	require.NotNil(t, payloads[0].RuleID)
	assert.Equal(t, int64(1), *payloads[0].RuleID)
}

func TestComposeButtons(t *testing.T) {
	rule := &model.Rule{
		ID: 2, Kind: model.ResponseButton,
		Options: `[{"id":"si","title":"Sí"},{"id":"no","title":"No"}]`,
	}
	payloads, err := Compose(rule, "¿Confirmas?")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.Len(t, payloads[0].Buttons, 2)
}

func TestComposeButtonsMissingTitle(t *testing.T) {
	rule := &model.Rule{ID: 3, Kind: model.ResponseButton, Options: `[{"id":"si"}]`}
	_, err := Compose(rule, "x")
	assert.Error(t, err)
}

func TestComposeListFillsDefaults(t *testing.T) {
	rule := &model.Rule{
		ID: 4, Kind: model.ResponseList,
		Options: `[{"rows":[{"id":"a","title":"A"}]}]`,
	}
	payloads, err := Compose(rule, "Elige")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.NotNil(t, payloads[0].List)
	assert.Equal(t, "Menú", payloads[0].List.Header)
	assert.Equal(t, "Selecciona una opción", payloads[0].List.Footer)
	assert.Equal(t, "Ver opciones", payloads[0].List.Button)
}

func TestComposeListRejectsEmptySections(t *testing.T) {
	rule := &model.Rule{ID: 5, Kind: model.ResponseList, Options: `{"sections":[]}`}
	_, err := Compose(rule, "x")
	assert.Error(t, err)
}

func TestComposeMediaOnePayloadPerFile(t *testing.T) {
	rule := &model.Rule{
		ID: 6, Kind: model.ResponseMedia,
		MediaURLs: []string{"https://cdn.example/a.jpg", "https://cdn.example/b.jpg"},
		MediaKind: "image",
	}
	payloads, err := Compose(rule, "Catálogo")
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "Catálogo", payloads[0].Body, "caption rides on the first file")
	assert.Equal(t, "", payloads[1].Body)
	assert.Equal(t, "https://cdn.example/b.jpg", payloads[1].MediaURL)
}

func TestComposeOrFallbackDegradesToText(t *testing.T) {
	rule := &model.Rule{ID: 7, Kind: model.ResponseList, Options: `not-json`}
	payloads := composeOrFallback(rule, "Texto plano")
	require.Len(t, payloads, 1)
	assert.Equal(t, model.ResponseText, payloads[0].Kind)
	assert.Equal(t, "Texto plano", payloads[0].Body)
}

func TestComposeOrFallbackEmptyBodySilent(t *testing.T) {
	rule := &model.Rule{ID: 8, Kind: model.ResponseList, Options: `not-json`}
	assert.Nil(t, composeOrFallback(rule, ""))
}
