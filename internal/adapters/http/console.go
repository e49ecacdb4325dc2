package http

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/dkeye/novacast/internal/config"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxFrameBytes = 8 << 20

// ConsoleBackend is the endpoint the console reports on.
type ConsoleBackend interface {
	Snapshot() domain.Snapshot
	Analyze(ctx context.Context, image []byte) domain.ChatMessage
	Chat(ctx context.Context, message string) domain.ChatMessage
	Messages() []domain.ChatMessage
	ResetChat()

	Tracks() []domain.TrackInfo
	MuteSink(name string, muted bool) int
	DetachSink(name string) int
	Record(path string) (int, error)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type recordRequest struct {
	Path string `json:"path" binding:"required"`
}

// SetupConsoleRouter serves status, metrics and the assistant panel of one endpoint.
func SetupConsoleRouter(cfg *config.Config, backend ConsoleBackend) *gin.Engine {
	r := newEngine(cfg)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, backend.Snapshot())
	})

	// POST /api/assistant/analyze: multipart "frame" or a raw image body.
	api.POST("/assistant/analyze", func(c *gin.Context) {
		image, err := readFrame(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(image) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty frame"})
			return
		}
		c.JSON(http.StatusOK, backend.Analyze(c.Request.Context(), image))
	})

	api.POST("/assistant/chat", func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
			return
		}
		c.JSON(http.StatusOK, backend.Chat(c.Request.Context(), req.Message))
	})

	api.GET("/assistant/messages", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"messages": backend.Messages()})
	})

	api.DELETE("/assistant/messages", func(c *gin.Context) {
		backend.ResetChat()
		c.Status(http.StatusNoContent)
	})

	api.GET("/tracks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tracks": backend.Tracks()})
	})

	// PUT /api/sinks/:name {"muted": bool}: pause or resume a sink on every track.
	api.PUT("/sinks/:name", func(c *gin.Context) {
		var req muteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "muted required"})
			return
		}
		n := backend.MuteSink(c.Param("name"), *req.Muted)
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such sink"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tracks": n})
	})

	api.DELETE("/sinks/:name", func(c *gin.Context) {
		n := backend.DetachSink(c.Param("name"))
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such sink"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tracks": n})
	})

	api.POST("/record", func(c *gin.Context) {
		var req recordRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Path) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path required"})
			return
		}
		n, err := backend.Record(req.Path)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "tracks": n})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tracks": n})
	})

	log.Info().Str("module", "adapters.http").Msg("console router setup")
	return r
}

func readFrame(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFrameBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("frame")
		if err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return io.ReadAll(c.Request.Body)
}
