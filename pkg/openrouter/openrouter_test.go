package openrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	openaisdk "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientWithoutKey(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewClient(Config{Model: "m"}))
}

func TestNewClientSendsAttributionHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"r1","object":"chat.completion","created":1,"model":"m",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:  srv.URL + "/",
		APIKey:   " key ",
		SiteURL:  "https://atlas.example",
		SiteName: "Atlas",
	})
	require.NotNil(t, client)

	resp, err := client.Chat.Completions.New(context.Background(), openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel("m"),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, "Bearer key", got.Get("Authorization"))
	assert.Equal(t, "https://atlas.example", got.Get("HTTP-Referer"))
	assert.Equal(t, "Atlas", got.Get("X-Title"))
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := (&Config{Model: "m"}).New(context.Background())
	require.ErrorIs(t, err, ErrMissingCredentials)
}
