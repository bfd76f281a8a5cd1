package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mkowalczyk/sheethub/internal/auth"
	"github.com/mkowalczyk/sheethub/internal/config"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/http/middlewares"
	"github.com/mkowalczyk/sheethub/internal/notifications"
	"github.com/mkowalczyk/sheethub/internal/repo/postgres"
	"github.com/mkowalczyk/sheethub/internal/security"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
}

type UserWriter interface {
	Create(ctx context.Context, u user.User) (user.User, error)
}

type PasswordResetStore interface {
	SetResetToken(ctx context.Context, userID, token string, expiry time.Time) error
	GetByResetToken(ctx context.Context, token string) (user.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

type AuthHandler struct {
	users      UserReader
	userWriter UserWriter
	resets     PasswordResetStore
	jwt        *auth.Manager
	notifier   notifications.Notifier
	cfg        config.Config
	log        *slog.Logger
}

func NewAuthHandler(users UserReader, userWriter UserWriter, resets PasswordResetStore, jwtManager *auth.Manager, notifier notifications.Notifier, cfg config.Config, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:      users,
		userWriter: userWriter,
		resets:     resets,
		jwt:        jwtManager,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=PLAYER GM"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=8"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	now := time.Now().UTC()

	u, err := h.userWriter.Create(cctx, user.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	if err != nil {
		if errors.Is(err, postgres.ErrEmailAlreadyUsed) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	token, err := h.jwt.GenerateAccessToken(u.ID, u.Email, u.Role)

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"user":  u,
		"token": token,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}
	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	token, err := h.jwt.GenerateAccessToken(foundUser.ID, foundUser.Email, foundUser.Role)

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    foundUser,
		"token":   token,
	})
}

func (h *AuthHandler) Me(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.users.GetByID(cctx, userID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not fetch user")
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// generic response regardless of account existence, so the endpoint
// cannot be used to enumerate emails
const forgotPasswordMessage = "If an account exists with this email, you will receive password reset instructions."

func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		ctx.JSON(http.StatusOK, gin.H{"message": forgotPasswordMessage})
		return
	}

	token, err := security.NewResetToken()

	if err != nil {
		RespondInternal(ctx, "Could not process password reset")
		return
	}

	expiry := time.Now().UTC().Add(time.Duration(h.cfg.ResetTokenTTLMinutes) * time.Minute)

	if err := h.resets.SetResetToken(cctx, foundUser.ID, token, expiry); err != nil {
		RespondInternal(ctx, "Could not process password reset")
		return
	}

	resetURL := h.cfg.ClientURL + "/reset-password/" + token

	err = h.notifier.SendPasswordReset(cctx, notifications.SendPasswordResetInput{
		Email:    foundUser.Email,
		Name:     foundUser.Name,
		ResetURL: resetURL,
	})

	if err != nil {
		// the token is already stored; log and keep the generic response
		h.log.Error("password reset mail failed", "err", err, "user_id", foundUser.ID)
	}

	ctx.JSON(http.StatusOK, gin.H{"message": forgotPasswordMessage})
}

func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	token := ctx.Param("token")

	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	foundUser, err := h.resets.GetByResetToken(cctx, token)

	if err != nil {
		RespondBadRequest(ctx, "invalid_reset_token", "Password reset link is invalid or has expired.", nil)
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	if err := h.resets.UpdatePassword(cctx, foundUser.ID, hash); err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Password has been changed successfully."})
}
