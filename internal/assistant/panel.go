package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/novacast/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	AnalyzeFallback = "Failed to analyze screen content. Please check if your API key is correctly set in the environment variables."
	ChatFallback    = "I'm having trouble connecting to the AI engine. Please verify your internet connection and API key configuration."
)

// Model is what the panel needs from a model client.
type Model interface {
	AnalyzeFrame(ctx context.Context, image []byte, prompt string) (string, error)
	Chat(ctx context.Context, message string) (string, error)
	Reset()
}

// Panel keeps the visible transcript and turns failures into fallback replies.
type Panel struct {
	model Model
	now   func() time.Time

	mu       sync.Mutex
	messages []domain.ChatMessage
}

// NewPanel with a nil model answers every request with a fallback.
func NewPanel(m Model) *Panel {
	return &Panel{model: m, now: time.Now}
}

// Analyze adds the model's reading of a frame to the transcript.
func (p *Panel) Analyze(ctx context.Context, image []byte) domain.ChatMessage {
	text, err := "", ErrNoAPIKey
	if p.model != nil {
		text, err = p.model.AnalyzeFrame(ctx, image, AnalyzePrompt)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "assistant").Msg("analysis failed")
		text = AnalyzeFallback
	}
	return p.append(domain.ChatRoleModel, text)
}

// Chat records the user's message and the model's reply.
func (p *Panel) Chat(ctx context.Context, message string) domain.ChatMessage {
	p.append(domain.ChatRoleUser, message)
	text, err := "", ErrNoAPIKey
	if p.model != nil {
		text, err = p.model.Chat(ctx, message)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "assistant").Msg("chat failed")
		text = ChatFallback
	}
	return p.append(domain.ChatRoleModel, text)
}

func (p *Panel) Messages() []domain.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatMessage(nil), p.messages...)
}

// Reset clears the transcript and starts a new conversation.
func (p *Panel) Reset() {
	if p.model != nil {
		p.model.Reset()
	}
	p.mu.Lock()
	p.messages = nil
	p.mu.Unlock()
}

func (p *Panel) append(role domain.ChatRole, text string) domain.ChatMessage {
	msg := domain.ChatMessage{Role: role, Text: text, Timestamp: p.now()}
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	return msg
}
