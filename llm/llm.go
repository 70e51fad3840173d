package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"sqlchart/config"
)

// NewChatModel builds the chat model the pipeline synthesizers share. Any
// OpenAI-compatible endpoint works; BaseURL points it at a proxy or a local
// server when set.
func NewChatModel(ctx context.Context, cfg config.Config) (model.ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured: set api_key in the config file or SQLCHART_API_KEY")
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.ModelName,
		Timeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %v", err)
	}
	return chatModel, nil
}
