package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hermes-chat-api/pkg/models"
	"hermes-chat-api/pkg/services"
)

// ChatHandler serves the chat surface over HTTP and WebSocket.
type ChatHandler struct {
	pipeline *services.Pipeline
	history  *services.HistoryService
	upgrader websocket.Upgrader
}

// NewChatHandler creates the chat handler.
func NewChatHandler(pipeline *services.Pipeline, history *services.HistoryService) *ChatHandler {
	return &ChatHandler{
		pipeline: pipeline,
		history:  history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORSはルーター側で制御するためここでは許可する
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleChat runs one query through the pipeline and returns the payload.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	sessionID := h.history.EnsureSession(req.SessionID)
	history := h.history.Get(sessionID)

	payload := h.pipeline.Process(c.Request.Context(), req.Message, history)
	payload.SessionID = sessionID

	h.history.Append(sessionID, req.Message, payload.Intent, payload.Result.Summary)
	c.JSON(http.StatusOK, payload)
}

// HandleWebSocket upgrades the connection and answers text frames with
// ResponsePayload JSON. Each connection gets its own session.
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocketへのアップグレードに失敗: %v", err)
		return
	}
	defer conn.Close()

	sessionID := h.history.EnsureSession("")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Client disconnected: %v", err)
			return
		}
		query := string(message)
		if query == "" {
			continue
		}

		payload := h.pipeline.Process(c.Request.Context(), query, h.history.Get(sessionID))
		payload.SessionID = sessionID
		h.history.Append(sessionID, query, payload.Intent, payload.Result.Summary)

		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("WebSocketへの書き込みに失敗: %v", err)
			return
		}
	}
}
