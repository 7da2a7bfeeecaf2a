package embeddings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citeline/config"
)

func TestNewUnknownProvider(t *testing.T) {
	cfg := config.Config{}
	cfg.Embeddings.Provider = "mainframe"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	cfg := config.Config{}
	cfg.Embeddings.Provider = config.ProviderOpenAI
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestOpenAIEmbedderCarriesTimeout(t *testing.T) {
	e := NewOpenAIEmbedder(Options{
		Model:        "text-embedding-3-small",
		Dimension:    1536,
		Timeout:      15 * time.Second,
		OpenAIAPIKey: "test-key",
	})

	impl, ok := e.(*openAIEmbedder)
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, impl.timeout)
	assert.Equal(t, 1536, e.Dimension())
}

func TestOllamaEmbedderTimeoutAndHost(t *testing.T) {
	e := NewOllamaEmbedder(Options{
		Model:      "nomic-embed-text",
		OllamaHost: "http://ollama:11434/",
		Timeout:    20 * time.Second,
	})

	impl, ok := e.(*ollamaEmbedder)
	require.True(t, ok)
	assert.Equal(t, "http://ollama:11434", impl.host)
	assert.Equal(t, 20*time.Second, impl.client.Timeout)
}

func TestOllamaEmbedderDefaultTimeout(t *testing.T) {
	e := NewOllamaEmbedder(Options{Model: "nomic-embed-text"})

	impl, ok := e.(*ollamaEmbedder)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:11434", impl.host)
	assert.Equal(t, 60*time.Second, impl.client.Timeout)
}
