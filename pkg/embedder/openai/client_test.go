package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaultsToAdaV2(t *testing.T) {
	client, err := NewClient(&Config{APIKey: "test-key"})
	require.NoError(t, err)

	assert.Equal(t, openai.AdaEmbeddingV2, client.model)
	assert.Equal(t, 1536, client.Dimensions())
}

func TestNewClientResolvesKnownModelName(t *testing.T) {
	client, err := NewClient(&Config{
		APIKey: "test-key",
		Model:  "text-embedding-ada-002",
	})
	require.NoError(t, err)

	assert.Equal(t, openai.AdaEmbeddingV2, client.model)
}

func TestNewClientRejectsUnknownModelName(t *testing.T) {
	_, err := NewClient(&Config{
		APIKey: "test-key",
		Model:  "text-embedding-3-small",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding model")
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{})
	require.Error(t, err)
}
