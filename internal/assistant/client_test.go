package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dkeye/novacast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngFrame = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// wireContent mirrors the generateContent JSON the SDK sends.
type wireContent struct {
	Role  string `json:"role"`
	Parts []struct {
		Text       string `json:"text"`
		InlineData *struct {
			MimeType string `json:"mimeType"`
			Data     string `json:"data"`
		} `json:"inlineData"`
	} `json:"parts"`
}

type wireRequest struct {
	Contents          []wireContent `json:"contents"`
	SystemInstruction *wireContent  `json:"systemInstruction"`
}

type fakeGemini struct {
	mu       sync.Mutex
	requests []wireRequest
	paths    []string
	keys     []string
	reply    string
	status   int
}

func (f *fakeGemini) handler(w http.ResponseWriter, r *http.Request) {
	var req wireRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.paths = append(f.paths, r.URL.Path)
	f.keys = append(f.keys, r.Header.Get("x-goog-api-key"))
	status, reply := f.status, f.reply
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": reply}}},
		}},
	})
}

func newTestClient(t *testing.T, f *fakeGemini, key string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), Config{APIKey: key, BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return c
}

func TestAnalyzeFrameRequestShape(t *testing.T) {
	f := &fakeGemini{reply: "Looks crisp."}
	c := newTestClient(t, f, "k-123")

	text, err := c.AnalyzeFrame(context.Background(), pngFrame, "")
	require.NoError(t, err)
	assert.Equal(t, "Looks crisp.", text)

	require.Len(t, f.requests, 1)
	assert.Equal(t, "/v1beta/models/"+DefaultModel+":generateContent", f.paths[0])
	assert.Equal(t, "k-123", f.keys[0])

	req := f.requests[0]
	assert.Nil(t, req.SystemInstruction)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "user", req.Contents[0].Role)
	parts := req.Contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngFrame), parts[0].InlineData.Data)
	assert.Equal(t, AnalyzePrompt, parts[1].Text)
}

func TestAnalyzeFrameRejectsNonImage(t *testing.T) {
	f := &fakeGemini{reply: "x"}
	c := newTestClient(t, f, "k")
	_, err := c.AnalyzeFrame(context.Background(), []byte("plain text"), "p")
	assert.ErrorIs(t, err, ErrNotImage)
	assert.Empty(t, f.requests)
}

func TestNoAPIKey(t *testing.T) {
	f := &fakeGemini{reply: "x"}
	c := newTestClient(t, f, "")
	_, err := c.Chat(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoAPIKey)
	_, err = c.AnalyzeFrame(context.Background(), pngFrame, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.Empty(t, f.requests)
}

func TestEmptyReply(t *testing.T) {
	f := &fakeGemini{reply: ""}
	c := newTestClient(t, f, "k")
	_, err := c.Chat(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestChatKeepsHistory(t *testing.T) {
	f := &fakeGemini{reply: "Use 1440p."}
	c := newTestClient(t, f, "k")

	_, err := c.Chat(context.Background(), "How do I sharpen text?")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "And latency?")
	require.NoError(t, err)

	require.Len(t, f.requests, 2)
	require.NotNil(t, f.requests[0].SystemInstruction)
	assert.Equal(t, SystemInstruction, f.requests[0].SystemInstruction.Parts[0].Text)
	second := f.requests[1].Contents
	require.Len(t, second, 3)
	assert.Equal(t, "user", second[0].Role)
	assert.Equal(t, "model", second[1].Role)
	assert.Equal(t, "Use 1440p.", second[1].Parts[0].Text)
	assert.Equal(t, "And latency?", second[2].Parts[0].Text)

	c.Reset()
	_, err = c.Chat(context.Background(), "again")
	require.NoError(t, err)
	assert.Len(t, f.requests[2].Contents, 1)
}

func TestAPIErrorPropagates(t *testing.T) {
	f := &fakeGemini{status: http.StatusForbidden}
	c := newTestClient(t, f, "bad")
	_, err := c.Chat(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PERMISSION_DENIED")
}

type stubModel struct {
	text string
	err  error
}

func (m stubModel) AnalyzeFrame(context.Context, []byte, string) (string, error) { return m.text, m.err }
func (m stubModel) Chat(context.Context, string) (string, error) { return m.text, m.err }
func (m stubModel) Reset() {}

func TestPanelFallbacks(t *testing.T) {
	p := NewPanel(stubModel{err: errors.New("down")})

	msg := p.Analyze(context.Background(), pngFrame)
	assert.Equal(t, AnalyzeFallback, msg.Text)
	assert.Equal(t, domain.ChatRoleModel, msg.Role)

	msg = p.Chat(context.Background(), "hello")
	assert.Equal(t, ChatFallback, msg.Text)

	msgs := p.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.ChatRoleUser, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Text)
}

func TestPanelSuccess(t *testing.T) {
	p := NewPanel(stubModel{text: "ok"})
	assert.Equal(t, "ok", p.Chat(context.Background(), "q").Text)
	assert.Len(t, p.Messages(), 2)

	p.Reset()
	assert.Empty(t, p.Messages())
}

func TestPanelWithoutModel(t *testing.T) {
	p := NewPanel(nil)
	assert.Equal(t, ChatFallback, p.Chat(context.Background(), "q").Text)
	assert.Equal(t, AnalyzeFallback, p.Analyze(context.Background(), pngFrame).Text)
	p.Reset()
	assert.Empty(t, p.Messages())
}
