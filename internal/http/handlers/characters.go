package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/mkowalczyk/sheethub/internal/access"
	"github.com/mkowalczyk/sheethub/internal/cache"
	"github.com/mkowalczyk/sheethub/internal/domain/character"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/http/middlewares"
	"github.com/mkowalczyk/sheethub/internal/realtime"
	"github.com/mkowalczyk/sheethub/internal/repo/postgres"
	"github.com/mkowalczyk/sheethub/internal/utils"
)

type CharacterStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, c character.Character) (character.Character, error)
	GetByID(ctx context.Context, id string) (character.Character, error)
	GetWithPlayer(ctx context.Context, id string) (character.Character, *user.PlayerRef, error)
	ListByPlayer(ctx context.Context, playerID string) ([]character.Summary, error)
	ListAll(ctx context.Context) ([]character.Summary, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, id string, playerID *string, doc character.StateDoc) (character.Character, error)
	RestoreTx(ctx context.Context, tx pgx.Tx, id string, doc character.StateDoc) (character.Character, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id string) error
}

type VersionStore interface {
	RecordInitialTx(ctx context.Context, tx pgx.Tx, v character.Version) error
	OverwriteLatestTx(ctx context.Context, tx pgx.Tx, characterID string, doc character.StateDoc) error
	AppendRestoreTx(ctx context.Context, tx pgx.Tx, v character.Version) error
	ListByCharacter(ctx context.Context, characterID string) ([]character.Version, error)
	GetByID(ctx context.Context, characterID, versionID string) (character.Version, error)
	DeleteAllTx(ctx context.Context, tx pgx.Tx, characterID string) error
}

// PlayerValidator resolves owner ids named in submitted documents.
type PlayerValidator interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type CharactersHandler struct {
	chars    CharacterStore
	versions VersionStore
	players  PlayerValidator
	cache    *cache.Cache
	bus      realtime.Broadcaster
	log      *slog.Logger
}

func NewCharactersHandler(chars CharacterStore, versions VersionStore, players PlayerValidator, listCache *cache.Cache, bus realtime.Broadcaster, log *slog.Logger) *CharactersHandler {
	return &CharactersHandler{
		chars:    chars,
		versions: versions,
		players:  players,
		cache:    listCache,
		bus:      bus,
		log:      log,
	}
}

func actorFromContext(ctx *gin.Context) (access.Actor, bool) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok || userID == "" {
		return access.Actor{}, false
	}

	role, _ := middlewares.RoleFromContext(ctx)

	return access.Actor{ID: userID, Role: role}, true
}

// validateDoc applies the submission rules shared by create and update.
func validateDoc(doc character.StateDoc) error {
	if doc.Name() == "" {
		return character.ErrMissingName
	}

	if !utils.ValidAvatarSize(doc.Avatar(), utils.MaxAvatarBytes) {
		return character.ErrAvatarTooLarge
	}

	return nil
}

// respondDocError translates the document sentinels into their API
// error codes.
func respondDocError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, character.ErrMissingName):
		RespondBadRequest(ctx, "invalid_request", "Character name is required", nil)
	case errors.Is(err, character.ErrAvatarTooLarge):
		RespondBadRequest(ctx, "avatar_too_large", "Avatar image must be smaller than 1MB", nil)
	case errors.Is(err, character.ErrInvalidPlayer):
		RespondBadRequest(ctx, "invalid_player", "Assigned player does not exist or is not a player account", nil)
	default:
		RespondInternal(ctx, "Could not save character")
	}
}

// ListAll is the GM roster: every character plus its owner. Players are
// refused outright; their dashboard goes through ListMine.
func (h *CharactersHandler) ListAll(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	if !access.CanListAll(actor) {
		RespondForbidden(ctx, "Access denied. Insufficient permissions.")
		return
	}

	key := utils.BuildAllCharactersCacheKey()

	if cached, hit := h.cache.Get(key); hit {
		if list, ok := cached.([]character.Summary); ok {
			ctx.JSON(http.StatusOK, list)
			return
		}
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	var list []character.Summary
	var err error

	err = postgres.RetryRead(cctx, func() error {
		list, err = h.chars.ListAll(cctx)
		return err
	})

	if err != nil {
		h.log.Error("listing characters failed", "err", err, "user_id", actor.ID)
		RespondInternal(ctx, "Could not fetch characters")
		return
	}

	h.cache.Set(key, list)

	ctx.JSON(http.StatusOK, list)
}

// ListMine returns the caller's own summaries. GMs get their personally
// owned characters here too; the full roster stays on ListAll.
func (h *CharactersHandler) ListMine(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	key := utils.BuildPlayerCharactersCacheKey(actor.ID)

	if cached, hit := h.cache.Get(key); hit {
		if list, ok := cached.([]character.Summary); ok {
			ctx.JSON(http.StatusOK, list)
			return
		}
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	var list []character.Summary
	var err error

	err = postgres.RetryRead(cctx, func() error {
		list, err = h.chars.ListByPlayer(cctx, actor.ID)
		return err
	})

	if err != nil {
		h.log.Error("listing own characters failed", "err", err, "user_id", actor.ID)
		RespondInternal(ctx, "Could not fetch characters")
		return
	}

	h.cache.Set(key, list)

	ctx.JSON(http.StatusOK, list)
}

// Get returns the full current sheet. Unknown ids 404 before any
// ownership check so probing cannot distinguish "missing" from
// "someone else's".
func (h *CharactersHandler) Get(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Character not found")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	var c character.Character
	var player *user.PlayerRef
	var err error

	err = postgres.RetryRead(cctx, func() error {
		c, player, err = h.chars.GetWithPlayer(cctx, id)
		return err
	})

	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			RespondNotFound(ctx, "Character not found")
			return
		}
		RespondInternal(ctx, "Could not fetch character")
		return
	}

	if !access.CanAccess(actor, c.PlayerID) {
		RespondForbidden(ctx, "You do not have access to this character")
		return
	}

	ctx.JSON(http.StatusOK, sheetResponse(c, player))
}

// sheetResponse flattens the stored document and stamps identity and
// ownership on top, which is the shape the sheet editor consumes.
func sheetResponse(c character.Character, player *user.PlayerRef) map[string]any {
	out := make(map[string]any, len(c.Data)+4)

	for k, v := range c.Data {
		out[k] = v
	}

	out["id"] = c.ID
	out["createdAt"] = c.CreatedAt
	out["updatedAt"] = c.UpdatedAt
	out["player"] = player

	return out
}

func (h *CharactersHandler) Create(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var doc character.StateDoc

	if err := ctx.ShouldBindJSON(&doc); err != nil {
		RespondBadRequest(ctx, "invalid_request", "Request body must be a JSON object", nil)
		return
	}

	if err := validateDoc(doc); err != nil {
		respondDocError(ctx, err)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	owner := access.ForcedOwner(actor, doc.PlayerID())

	if err := h.resolveOwner(cctx, doc, owner); err != nil {
		respondDocError(ctx, err)
		return
	}

	c := character.New(owner, doc)

	tx, err := h.chars.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not create character")
		return
	}

	defer tx.Rollback(cctx)

	if _, err := h.chars.CreateTx(cctx, tx, c); err != nil {
		RespondInternal(ctx, "Could not create character")
		return
	}

	if err := h.versions.RecordInitialTx(cctx, tx, character.NewVersion(c.ID, doc, nil)); err != nil {
		RespondInternal(ctx, "Could not create character")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not create character")
		return
	}

	h.invalidateLists(owner)

	ctx.JSON(http.StatusCreated, c)
}

// resolveOwner confirms the owner named on a document actually exists
// and is a player account, and normalizes the document to match.
func (h *CharactersHandler) resolveOwner(ctx context.Context, doc character.StateDoc, owner *string) error {
	if owner == nil {
		delete(doc, "playerId")
		return nil
	}

	u, err := h.players.GetByID(ctx, *owner)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return character.ErrInvalidPlayer
		}
		return err
	}

	if u.Role != user.RolePlayer {
		return character.ErrInvalidPlayer
	}

	doc["playerId"] = *owner

	return nil
}

func (h *CharactersHandler) Update(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Character not found")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	existing, err := h.chars.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			RespondNotFound(ctx, "Character not found")
			return
		}
		RespondInternal(ctx, "Could not fetch character")
		return
	}

	if !access.CanAccess(actor, existing.PlayerID) {
		RespondForbidden(ctx, "You do not have access to this character")
		return
	}

	var doc character.StateDoc

	if err := ctx.ShouldBindJSON(&doc); err != nil {
		RespondBadRequest(ctx, "invalid_request", "Request body must be a JSON object", nil)
		return
	}

	if err := validateDoc(doc); err != nil {
		respondDocError(ctx, err)
		return
	}

	owner := access.ForcedOwner(actor, doc.PlayerID())

	if err := h.resolveOwner(cctx, doc, owner); err != nil {
		respondDocError(ctx, err)
		return
	}

	// Row update and ledger overwrite commit together: a save must
	// never leave current state and the newest version disagreeing.
	tx, err := h.chars.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not update character")
		return
	}

	defer tx.Rollback(cctx)

	updated, err := h.chars.UpdateTx(cctx, tx, id, owner, doc)

	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			RespondNotFound(ctx, "Character not found")
			return
		}
		RespondInternal(ctx, "Could not update character")
		return
	}

	if err := h.versions.OverwriteLatestTx(cctx, tx, id, doc); err != nil {
		h.log.Error("updating latest version failed", "err", err, "character_id", id)
		RespondInternal(ctx, "Could not update character")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not update character")
		return
	}

	h.invalidateLists(existing.PlayerID, owner)
	h.publish(ctx.Request.Context(), updated)

	ctx.JSON(http.StatusOK, updated)
}

func (h *CharactersHandler) Delete(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Character not found")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	existing, err := h.chars.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			RespondNotFound(ctx, "Character not found")
			return
		}
		RespondInternal(ctx, "Could not fetch character")
		return
	}

	if !access.CanAccess(actor, existing.PlayerID) {
		RespondForbidden(ctx, "You do not have access to this character")
		return
	}

	tx, err := h.chars.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not delete character")
		return
	}

	defer tx.Rollback(cctx)

	// versions first, the FK forbids the other order
	if err := h.versions.DeleteAllTx(cctx, tx, id); err != nil {
		RespondInternal(ctx, "Could not delete character")
		return
	}

	if err := h.chars.DeleteTx(cctx, tx, id); err != nil {
		if errors.Is(err, character.ErrNotFound) {
			RespondNotFound(ctx, "Character not found")
			return
		}
		RespondInternal(ctx, "Could not delete character")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not delete character")
		return
	}

	h.invalidateLists(existing.PlayerID)

	email, _ := middlewares.EmailFromContext(ctx)
	h.log.Info("character deleted", "character_id", id, "name", existing.Name, "by", email)

	ctx.JSON(http.StatusOK, gin.H{"message": "Character deleted successfully"})
}

func (h *CharactersHandler) ListVersions(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Character not found")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	c, err := h.chars.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			RespondNotFound(ctx, "Character not found")
			return
		}
		RespondInternal(ctx, "Could not fetch character")
		return
	}

	if !access.CanAccess(actor, c.PlayerID) {
		RespondForbidden(ctx, "You do not have access to this character")
		return
	}

	var versions []character.Version

	err = postgres.RetryRead(cctx, func() error {
		versions, err = h.versions.ListByCharacter(cctx, id)
		return err
	})

	if err != nil {
		RespondInternal(ctx, "Could not fetch versions")
		return
	}

	ctx.JSON(http.StatusOK, versions)
}

// Restore rewrites current state from a past ledger entry and appends a
// new entry stamped with where the data came from.
func (h *CharactersHandler) Restore(ctx *gin.Context) {
	actor, ok := actorFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	id := ctx.Param("id")
	versionID := ctx.Param("versionId")

	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Character not found")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	existing, err := h.chars.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			RespondNotFound(ctx, "Character not found")
			return
		}
		RespondInternal(ctx, "Could not fetch character")
		return
	}

	if !access.CanAccess(actor, existing.PlayerID) {
		RespondForbidden(ctx, "You do not have access to this character")
		return
	}

	if !utils.IsUUID(versionID) {
		RespondNotFound(ctx, "Version not found")
		return
	}

	version, err := h.versions.GetByID(cctx, id, versionID)

	if err != nil {
		if errors.Is(err, character.ErrVersionNotFound) {
			RespondNotFound(ctx, "Version not found")
			return
		}
		RespondInternal(ctx, "Could not fetch version")
		return
	}

	tx, err := h.chars.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not restore character")
		return
	}

	defer tx.Rollback(cctx)

	restored, err := h.chars.RestoreTx(cctx, tx, id, version.Data)

	if err != nil {
		RespondInternal(ctx, "Could not restore character")
		return
	}

	note := character.RestoreNote(version.CreatedAt)

	if err := h.versions.AppendRestoreTx(cctx, tx, character.NewVersion(id, version.Data, &note)); err != nil {
		RespondInternal(ctx, "Could not restore character")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not restore character")
		return
	}

	h.invalidateLists(existing.PlayerID)
	h.publish(ctx.Request.Context(), restored)

	email, _ := middlewares.EmailFromContext(ctx)
	h.log.Info("character restored", "character_id", id, "version_id", versionID, "by", email)

	ctx.JSON(http.StatusOK, restored)
}

// invalidateLists drops the GM roster plus each named owner's list.
func (h *CharactersHandler) invalidateLists(owners ...*string) {
	keys := []string{utils.BuildAllCharactersCacheKey()}

	for _, o := range owners {
		if o != nil {
			keys = append(keys, utils.BuildPlayerCharactersCacheKey(*o))
		}
	}

	h.cache.Invalidate(keys...)
}

func (h *CharactersHandler) publish(ctx context.Context, c character.Character) {
	if h.bus == nil {
		return
	}

	if err := h.bus.Publish(ctx, realtime.CharacterUpdated(c)); err != nil {
		h.log.Warn("realtime publish failed", "err", err, "character_id", c.ID)
	}
}
