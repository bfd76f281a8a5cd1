package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/repo/postgres"
)

type PlayerLister interface {
	ListPlayers(ctx context.Context) ([]user.PlayerRef, error)
}

// UsersHandler serves the player roster GMs use when assigning
// character ownership.
type UsersHandler struct {
	users PlayerLister
	log   *slog.Logger
}

func NewUsersHandler(users PlayerLister, log *slog.Logger) *UsersHandler {
	return &UsersHandler{users: users, log: log}
}

func (h *UsersHandler) ListPlayers(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	var players []user.PlayerRef
	var err error

	err = postgres.RetryRead(cctx, func() error {
		players, err = h.users.ListPlayers(cctx)
		return err
	})

	if err != nil {
		h.log.Error("listing players failed", "err", err)
		RespondInternal(ctx, "Could not fetch players")
		return
	}

	ctx.JSON(http.StatusOK, players)
}
