package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/config"
	"github.com/moturi311/securechat/backend/internal/model/chat"
	"github.com/moturi311/securechat/backend/internal/model/persona"
)

// FallbackReply is returned whenever generation fails for any reason.
// Callers never see an error from GenerateReply.
const FallbackReply = "Sorry, I'm having trouble responding right now. Please try again later."

// historyLimit bounds the transcript included in the system prompt.
const historyLimit = 5

// HistorySource supplies recent decrypted conversation context.
type HistorySource interface {
	RecentMessages(ctx context.Context, nameA, nameB string, limit int) ([]chat.Message, error)
}

// Service generates seller replies in a configured persona.
type Service struct {
	chain    compose.Runnable[map[string]any, *schema.Message]
	personas persona.Store
	history  HistorySource
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewService builds the generation chain from the configured model.
func NewService(ctx context.Context, personas persona.Store, history HistorySource, cfg config.AIConfig, logger zerolog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile reply chain: %w", err)
	}

	return &Service{
		chain:    runnable,
		personas: personas,
		history:  history,
		timeout:  cfg.ReplyTimeout,
		logger:   logger,
	}, nil
}

// GenerateReply produces the seller's answer to an incoming buyer message.
// An unknown seller falls back to the generic persona; a failed or empty
// generation falls back to FallbackReply. The external call is bounded by
// the configured timeout.
func (s *Service) GenerateReply(ctx context.Context, message, sellerName, buyerName string) string {
	p, ok := s.personas.FindByID(sellerName)
	if !ok {
		p = persona.Default()
	}

	transcript, err := s.history.RecentMessages(ctx, buyerName, sellerName, historyLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("seller", sellerName).Msg("reply context unavailable, continuing without history")
		transcript = nil
	}

	input := map[string]any{
		"system": BuildSystemPrompt(p, buyerName, transcript),
		"query":  message,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.chain.Invoke(callCtx, input)
	if err != nil {
		s.logger.Warn().Err(err).Str("seller", sellerName).Msg("reply generation failed")
		return FallbackReply
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		s.logger.Warn().Str("seller", sellerName).Msg("reply generation returned empty content")
		return FallbackReply
	}

	s.logger.Debug().Str("seller", sellerName).Int("length", len(response.Content)).Msg("reply generated")
	return response.Content
}
