// Package assistant talks to the hosted generative model behind the AI panel.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"
)

const (
	DefaultModel = "gemini-3-flash-preview"
	// AnalyzePrompt is what the panel asks about a captured frame.
	AnalyzePrompt = "Analyze clarity for a Mac-to-Android stream."
)

const SystemInstruction = `You are the NovaCast Clarity Engine AI. Your primary role is to help users optimize their Mac-to-Android mirroring experience.
Focus on:
1. High-resolution scaling: Explain how macOS HiDPI works and why 'Retina' scaling is important.
2. Clarity: Suggest disabling "Font Smoothing" on macOS or adjusting resolution to 1440p (Retina) for best results.
3. Low Latency: Recommend Wi-Fi 6 5GHz or USB 3.0+ cables.
4. Color Accuracy: Discuss P3 vs sRGB profiles.
Be professional, technical, and helpful. Use terms like 'pixel-perfect', 'bitrate optimization', and 'sub-pixel rendering'.`

var (
	ErrNoAPIKey   = errors.New("assistant: no API key configured")
	ErrNotImage   = errors.New("assistant: frame is not an image")
	ErrEmptyReply = errors.New("assistant: empty model reply")
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string // empty uses the public Gemini endpoint

	// SystemInstruction steers chat turns; frame analysis runs without it.
	SystemInstruction string
	HTTPClient        *http.Client
}

// Client wraps the Gemini API. Chat keeps one running conversation.
type Client struct {
	gc         *genai.Client
	model      string
	chatConfig *genai.GenerateContentConfig

	mu   sync.Mutex
	chat *genai.Chat
}

// NewClient never fails for an empty APIKey; calls then return ErrNoAPIKey.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = SystemInstruction
	}
	c := &Client{
		model: cfg.Model,
		chatConfig: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser),
		},
	}
	if cfg.APIKey == "" {
		return c, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	c.gc = gc
	return c, nil
}

// AnalyzeFrame sends one captured frame with a prompt. Single turn, no history.
func (c *Client) AnalyzeFrame(ctx context.Context, image []byte, prompt string) (string, error) {
	mime := mimetype.Detect(image)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mime.String())
	}
	if c.gc == nil {
		return "", ErrNoAPIKey
	}
	if prompt == "" {
		prompt = AnalyzePrompt
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mime.String()),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	resp, err := c.gc.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return replyText(resp)
}

// Chat sends message in the running conversation.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	if c.gc == nil {
		return "", ErrNoAPIKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat == nil {
		chat, err := c.gc.Chats.Create(ctx, c.model, c.chatConfig, nil)
		if err != nil {
			return "", fmt.Errorf("create chat: %w", err)
		}
		c.chat = chat
	}
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return replyText(resp)
}

// Reset starts a fresh conversation on the next Chat.
func (c *Client) Reset() {
	c.mu.Lock()
	c.chat = nil
	c.mu.Unlock()
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
