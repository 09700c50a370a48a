package qianfan

import (
	"slices"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/config"
)

// OptionsFromConfig converts the configured chat section into default
// options. Fields missing from the config stay unset.
func OptionsFromConfig(cfg config.ChatConfig) domain.ChatOptions {
	opts := domain.ChatOptions{
		Model:                        cfg.Model,
		Temperature:                  cfg.Temperature,
		TopP:                         cfg.TopP,
		MaxTokens:                    cfg.MaxTokens,
		FrequencyPenalty:             cfg.FrequencyPenalty,
		PresencePenalty:              cfg.PresencePenalty,
		StopSequences:                slices.Clone(cfg.Stop),
		ResponseFormat:               cfg.ResponseFormat,
		ToolChoice:                   domain.ToolChoice(cfg.ToolChoice),
		InternalToolExecutionEnabled: cfg.InternalToolExecution,
	}
	return opts.Clone()
}
