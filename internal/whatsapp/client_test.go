package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/pkg/logger"
)

func testClient() *Client {
	return New("token", "12345", 5*time.Second, logger.NewNop())
}

func TestRenderText(t *testing.T) {
	body, err := testClient().render("5215550001", model.OutboundPayload{
		Kind: model.ResponseText, Body: "Hola",
	})
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", body["messaging_product"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, map[string]any{"body": "Hola"}, body["text"])
}

func TestRenderButtonsStripStepOverrides(t *testing.T) {
	body, err := testClient().render("5215550001", model.OutboundPayload{
		Kind: model.ResponseButton, Body: "¿Confirmas?",
		Buttons: []model.Button{{ID: "si", Title: "Sí", Step: "confirmado"}},
	})
	require.NoError(t, err)

	interactive := body["interactive"].(map[string]any)
	buttons := interactive["action"].(map[string]any)["buttons"].([]map[string]any)
	require.Len(t, buttons, 1)
	reply := buttons[0]["reply"].(map[string]any)
	assert.Equal(t, "si", reply["id"])
	_, hasStep := reply["step"]
	assert.False(t, hasStep, "step overrides never reach the provider")
}

func TestRenderList(t *testing.T) {
	body, err := testClient().render("5215550001", model.OutboundPayload{
		Kind: model.ResponseList, Body: "Elige",
		List: &model.ListSpec{
			Header: "Menú", Footer: "Selecciona una opción", Button: "Ver opciones",
			Sections: []model.ListSection{{
				Title: "Servicios",
				Rows:  []model.ListRow{{ID: "op1", Title: "Cotizar", Description: "Precio estimado"}},
			}},
		},
	})
	require.NoError(t, err)

	interactive := body["interactive"].(map[string]any)
	assert.Equal(t, "list", interactive["type"])
	action := interactive["action"].(map[string]any)
	assert.Equal(t, "Ver opciones", action["button"])
}

func TestRenderListWithoutSpecFails(t *testing.T) {
	_, err := testClient().render("5215550001", model.OutboundPayload{Kind: model.ResponseList})
	assert.Error(t, err)
}

func TestRenderMediaCaption(t *testing.T) {
	body, err := testClient().render("5215550001", model.OutboundPayload{
		Kind: model.ResponseMedia, MediaKind: "image",
		MediaURL: "https://cdn.example/a.jpg", Body: "Catálogo",
	})
	require.NoError(t, err)
	assert.Equal(t, "image", body["type"])
	media := body["image"].(map[string]any)
	assert.Equal(t, "https://cdn.example/a.jpg", media["link"])
	assert.Equal(t, "Catálogo", media["caption"])

	body, err = testClient().render("5215550001", model.OutboundPayload{
		Kind: model.ResponseMedia, MediaKind: "document", MediaURL: "https://cdn.example/c.pdf",
	})
	require.NoError(t, err)
	_, hasCaption := body["document"].(map[string]any)["caption"]
	assert.False(t, hasCaption)
}
