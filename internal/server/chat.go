package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"vibe-trader/internal/domain"
	"vibe-trader/internal/usecase"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	Message        string                   `json:"message"`
	ConversationID string                   `json:"conversationId"`
	Decision       *usecase.DecisionSummary `json:"decision,omitempty"`
	Purchase       *domain.TradeRecord      `json:"purchase,omitempty"`
	TokenPreview   *domain.TokenPreview     `json:"tokenPreview,omitempty"`
	RateLimit      *rateLimitInfo           `json:"rateLimit,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// streamFrame is one server-sent event of a streamed chat turn.
type streamFrame struct {
	Type           string                   `json:"type"`
	ConversationID string                   `json:"conversationId,omitempty"`
	TokenPreview   *domain.TokenPreview     `json:"tokenPreview,omitempty"`
	Content        string                   `json:"content,omitempty"`
	Decision       *usecase.DecisionSummary `json:"decision,omitempty"`
	RateLimit      *rateLimitInfo           `json:"rateLimit,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: string(usecase.ErrorInvalidInput)})
		return
	}

	out, err := s.deps.Chat.Chat(c.Request.Context(), usecase.ChatInput{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Identity:       identityOf(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse{
		Message:        out.Message,
		ConversationID: out.ConversationID,
		Decision:       out.Decision,
		Purchase:       out.Purchase,
		TokenPreview:   out.TokenPreview,
		RateLimit:      rateLimitOf(c),
	})
}

func (s *Server) handleChatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: string(usecase.ErrorInvalidInput)})
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	out, err := s.deps.Chat.ChatStream(ctx, usecase.ChatInput{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Identity:       identityOf(c),
	}, func(ev usecase.StreamEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeFrame(c, streamFrame{
			Type:           string(ev.Type),
			ConversationID: ev.ConversationID,
			TokenPreview:   ev.TokenPreview,
			Content:        ev.Content,
			Decision:       ev.Decision,
		})
	})
	if err != nil {
		s.logError(c, err)
		_ = writeFrame(c, streamFrame{Type: "error", Error: usecase.PublicMessage(err)})
		return
	}
	_ = writeFrame(c, streamFrame{Type: "done", ConversationID: out.ConversationID, RateLimit: rateLimitOf(c)})
}

func writeFrame(c *gin.Context, f streamFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("server: encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", b); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	s.logError(c, err)
	body := errorResponse{Error: usecase.PublicMessage(err), Code: string(usecase.ErrorInternal)}
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		body.Code = string(ucErr.Code)
	}
	c.JSON(usecase.HTTPStatus(err), body)
}

func (s *Server) logError(c *gin.Context, err error) {
	status := usecase.HTTPStatus(err)
	log := s.logger.With("path", c.Request.URL.Path, "identity", identityOf(c).ID, "status", status)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		return
	}
	log.Info("request rejected", "err", err)
}
