package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mkowalczyk/sheethub/internal/auth"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
)

// TokenVerifier mirrors the HTTP middleware's dependency: the same
// bearer token authenticates the websocket handshake.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

var upgrader = websocket.Upgrader{
	// browser clients connect from the SPA origin; auth happens via token
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type Handler struct {
	hub   *Hub
	jwt   TokenVerifier
	users UserReader
}

func NewHandler(hub *Hub, jwt TokenVerifier, users UserReader) *Handler {
	return &Handler{hub: hub, jwt: jwt, users: users}
}

// Serve upgrades an authenticated request to a websocket subscription.
// Token comes from ?token= or the Authorization header; a token whose
// user no longer exists is rejected before any subscription happens.
func (h *Handler) Serve(ctx *gin.Context) {
	raw := ctx.Query("token")

	if raw == "" {
		header := ctx.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		}
	}

	if raw == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "unauthorized",
				"message": "Missing token",
			},
		})
		return
	}

	claims, err := h.jwt.VerifyAccessToken(raw)

	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "unauthorized",
				"message": "Invalid or expired token",
			},
		})
		return
	}

	if _, err := h.users.GetByID(ctx.Request.Context(), claims.UserID); err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "unauthorized",
				"message": "Unknown user",
			},
		})
		return
	}

	// optional topic filter: ?character=<id>&character=<id>
	topics := make(map[string]struct{})
	for _, id := range ctx.QueryArray("character") {
		if id != "" {
			topics[id] = struct{}{}
		}
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)

	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	c := &client{
		conn:   conn,
		userID: claims.UserID,
		topics: topics,
		send:   make(chan Event, sendQueueSize),
	}

	h.hub.register(c)

	go c.writePump()
	c.readPump(h.hub)
}
