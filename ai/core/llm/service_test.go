package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := NewService(&Config{APIKey: "test-key"})
	require.Error(t, err)
}

func TestNewServiceDefaults(t *testing.T) {
	svc, err := NewService(&Config{
		Model:  "test-model",
		APIKey: "test-key",
	})
	require.NoError(t, err)
	require.NotNil(t, svc)
	assert.Equal(t, "test-model", svc.Model())

	impl, ok := svc.(*service)
	require.True(t, ok)
	assert.Equal(t, 1024, impl.maxTokens)
	assert.Equal(t, float32(0.8), impl.temperature)
	assert.Equal(t, 120, impl.timeout)
}

func TestNewServiceCustomBaseURL(t *testing.T) {
	svc, err := NewService(&Config{
		Model:   "llama3.1",
		BaseURL: "http://localhost:11434/v1",
	})
	require.NoError(t, err)

	impl := svc.(*service)
	assert.Equal(t, "http://localhost:11434/v1", impl.baseURL)
}

func TestFormatMessages(t *testing.T) {
	history := []Message{
		UserMessage("hello"),
		AssistantMessage("hi there"),
	}
	messages := FormatMessages("you are a companion", "how are you?", history)

	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "you are a companion", messages[0].Content)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "assistant", messages[2].Role)
	assert.Equal(t, "user", messages[3].Role)
	assert.Equal(t, "how are you?", messages[3].Content)
}

func TestFormatMessagesWithoutSystemPrompt(t *testing.T) {
	messages := FormatMessages("", "hello", nil)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
}

func TestConvertMessagesUnknownRole(t *testing.T) {
	converted := convertMessages([]Message{{Role: "tool", Content: "x"}})
	require.Len(t, converted, 1)
	assert.Equal(t, "user", converted[0].Role)
}
