package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mkowalczyk/sheethub/internal/cache"
	"github.com/mkowalczyk/sheethub/internal/domain/character"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/utils"
)

type charFixture struct {
	handler  *CharactersHandler
	chars    *fakeCharStore
	versions *fakeVersionStore
	users    *fakeUserStore
	bus      *fakeBus
	cache    *cache.Cache
}

func newCharFixture() *charFixture {
	chars := newFakeCharStore()
	versions := newFakeVersionStore()
	users := newFakeUserStore()
	bus := &fakeBus{}
	listCache := cache.New(time.Minute)

	return &charFixture{
		handler:  NewCharactersHandler(chars, versions, users, listCache, bus, testLogger()),
		chars:    chars,
		versions: versions,
		users:    users,
		bus:      bus,
		cache:    listCache,
	}
}

func (f *charFixture) addPlayer(id, name string) {
	f.users.users[id] = user.User{ID: id, Name: name, Role: user.RolePlayer}
}

func (f *charFixture) addCharacter(ownerID *string, doc character.StateDoc) character.Character {
	c := character.New(ownerID, doc)
	f.chars.chars[c.ID] = c
	f.versions.versions[c.ID] = []character.Version{character.NewVersion(c.ID, doc, nil)}
	return c
}

func idParam(id string) gin.Params {
	return gin.Params{{Key: "id", Value: id}}
}

func TestCreateForcesPlayerOwnership(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	otherID := uuid.NewString()
	f.addPlayer(playerID, "Alice")
	f.addPlayer(otherID, "Bob")

	doc := character.StateDoc{"name": "Harvey Walters", "playerId": otherID}

	ctx, w := newTestCtx(t, http.MethodPost, "/api/characters", doc, nil, playerID, user.RolePlayer)
	f.handler.Create(ctx)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(f.chars.created) != 1 {
		t.Fatalf("created %d characters, want 1", len(f.chars.created))
	}

	got := f.chars.created[0]

	if got.PlayerID == nil || *got.PlayerID != playerID {
		t.Errorf("owner = %v, want the submitting player %s", got.PlayerID, playerID)
	}

	if len(f.versions.initials) != 1 {
		t.Fatalf("recorded %d initial versions, want 1", len(f.versions.initials))
	}
	if f.versions.initials[0].Notes != nil {
		t.Error("initial version must carry no note")
	}

	if !f.chars.tx.committed {
		t.Error("create transaction should have been committed")
	}
}

func TestCreateGMAssignsFreely(t *testing.T) {
	f := newCharFixture()
	gmID := uuid.NewString()
	playerID := uuid.NewString()
	f.addPlayer(playerID, "Alice")

	doc := character.StateDoc{"name": "Professor Grady", "playerId": playerID}

	ctx, w := newTestCtx(t, http.MethodPost, "/api/characters", doc, nil, gmID, user.RoleGM)
	f.handler.Create(ctx)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got := f.chars.created[0]

	if got.PlayerID == nil || *got.PlayerID != playerID {
		t.Errorf("owner = %v, want %s", got.PlayerID, playerID)
	}
}

func TestCreateRejectsUnknownPlayer(t *testing.T) {
	f := newCharFixture()
	gmID := uuid.NewString()

	doc := character.StateDoc{"name": "Orphan", "playerId": uuid.NewString()}

	ctx, w := newTestCtx(t, http.MethodPost, "/api/characters", doc, nil, gmID, user.RoleGM)
	f.handler.Create(ctx)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := errorCode(t, w); code != "invalid_player" {
		t.Errorf("code = %q, want invalid_player", code)
	}
	if len(f.chars.created) != 0 {
		t.Error("nothing should have been written")
	}
}

func TestCreateRejectsOversizedAvatar(t *testing.T) {
	f := newCharFixture()
	gmID := uuid.NewString()

	huge := base64.StdEncoding.EncodeToString(make([]byte, utils.MaxAvatarBytes+1))
	doc := character.StateDoc{"name": "Big Head", "avatar": "data:image/png;base64," + huge}

	ctx, w := newTestCtx(t, http.MethodPost, "/api/characters", doc, nil, gmID, user.RoleGM)
	f.handler.Create(ctx)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := errorCode(t, w); code != "avatar_too_large" {
		t.Errorf("code = %q, want avatar_too_large", code)
	}
	if len(f.chars.created) != 0 {
		t.Error("oversized avatar must not be persisted")
	}
}

func TestCreateRequiresName(t *testing.T) {
	f := newCharFixture()

	ctx, w := newTestCtx(t, http.MethodPost, "/api/characters", character.StateDoc{"occupation": "Antiquarian"}, nil, uuid.NewString(), user.RoleGM)
	f.handler.Create(ctx)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUpdateOverwritesLatestVersion(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	f.addPlayer(playerID, "Alice")
	c := f.addCharacter(&playerID, character.StateDoc{"name": "Harvey", "hp": float64(10)})

	before := len(f.versions.versions[c.ID])

	doc := character.StateDoc{"name": "Harvey", "hp": float64(7)}

	ctx, w := newTestCtx(t, http.MethodPut, "/api/characters/"+c.ID, doc, idParam(c.ID), playerID, user.RolePlayer)
	f.handler.Update(ctx)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// a save rewrites the newest entry; the ledger never grows
	if len(f.versions.overwrites) != 1 {
		t.Fatalf("overwrites = %d, want 1", len(f.versions.overwrites))
	}
	if len(f.versions.appends) != 0 {
		t.Fatalf("appends = %d, want 0", len(f.versions.appends))
	}
	if after := len(f.versions.versions[c.ID]); after != before {
		t.Errorf("ledger grew from %d to %d entries on an ordinary save", before, after)
	}

	if len(f.bus.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.bus.events))
	}
	if f.bus.events[0].CharacterID != c.ID {
		t.Errorf("event for %s, want %s", f.bus.events[0].CharacterID, c.ID)
	}
}

func TestUpdateFailsWhenLedgerWriteFails(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	f.addPlayer(playerID, "Alice")
	c := f.addCharacter(&playerID, character.StateDoc{"name": "Harvey", "hp": float64(10)})

	f.versions.overwriteErr = errors.New("ledger write lost connection")

	doc := character.StateDoc{"name": "Harvey", "hp": float64(7)}

	ctx, w := newTestCtx(t, http.MethodPut, "/api/characters/"+c.ID, doc, idParam(c.ID), playerID, user.RolePlayer)
	f.handler.Update(ctx)

	// the save must not report success while the ledger disagrees
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if f.chars.tx.committed {
		t.Error("transaction must not commit when the ledger write fails")
	}
	if !f.chars.tx.rolledBack {
		t.Error("transaction should have been rolled back")
	}
	if len(f.bus.events) != 0 {
		t.Error("no event should be published for a failed save")
	}
}

func TestUpdateForeignCharacterForbidden(t *testing.T) {
	f := newCharFixture()
	aliceID := uuid.NewString()
	bobID := uuid.NewString()
	f.addPlayer(aliceID, "Alice")
	f.addPlayer(bobID, "Bob")
	c := f.addCharacter(&aliceID, character.StateDoc{"name": "Harvey"})

	ctx, w := newTestCtx(t, http.MethodPut, "/api/characters/"+c.ID, character.StateDoc{"name": "Hijacked"}, idParam(c.ID), bobID, user.RolePlayer)
	f.handler.Update(ctx)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if len(f.chars.updated) != 0 {
		t.Error("nothing should have been written")
	}
	if len(f.bus.events) != 0 {
		t.Error("no event should have been published")
	}
}

func TestMissingCharacterIsNotFoundBeforeAccessCheck(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	f.addPlayer(playerID, "Alice")

	unknown := uuid.NewString()

	ctx, w := newTestCtx(t, http.MethodPut, "/api/characters/"+unknown, character.StateDoc{"name": "Ghost"}, idParam(unknown), playerID, user.RolePlayer)
	f.handler.Update(ctx)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetOwnCharacterIncludesPlayer(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	f.addPlayer(playerID, "Alice")
	c := f.addCharacter(&playerID, character.StateDoc{"name": "Harvey", "occupation": "Journalist"})
	f.chars.players[c.ID] = &user.PlayerRef{ID: playerID, Name: "Alice"}

	ctx, w := newTestCtx(t, http.MethodGet, "/api/characters/"+c.ID, nil, idParam(c.ID), playerID, user.RolePlayer)
	f.handler.Get(ctx)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)

	if body["id"] != c.ID {
		t.Errorf("id = %v, want %s", body["id"], c.ID)
	}
	if body["name"] != "Harvey" {
		t.Errorf("name = %v, want Harvey", body["name"])
	}

	player, ok := body["player"].(map[string]any)
	if !ok {
		t.Fatalf("player missing from response: %s", w.Body.String())
	}
	if player["name"] != "Alice" {
		t.Errorf("player name = %v, want Alice", player["name"])
	}
}

func TestGetForeignCharacterForbidden(t *testing.T) {
	f := newCharFixture()
	aliceID := uuid.NewString()
	bobID := uuid.NewString()
	c := f.addCharacter(&aliceID, character.StateDoc{"name": "Harvey"})

	ctx, w := newTestCtx(t, http.MethodGet, "/api/characters/"+c.ID, nil, idParam(c.ID), bobID, user.RolePlayer)
	f.handler.Get(ctx)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestGetMalformedIDIsNotFound(t *testing.T) {
	f := newCharFixture()

	ctx, w := newTestCtx(t, http.MethodGet, "/api/characters/nope", nil, idParam("nope"), uuid.NewString(), user.RoleGM)
	f.handler.Get(ctx)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListAllIsGMOnly(t *testing.T) {
	f := newCharFixture()
	gmID := uuid.NewString()
	playerID := uuid.NewString()

	f.chars.all = []character.Summary{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	ctx, w := newTestCtx(t, http.MethodGet, "/api/characters", nil, nil, gmID, user.RoleGM)
	f.handler.ListAll(ctx)

	if w.Code != http.StatusOK {
		t.Fatalf("gm status = %d", w.Code)
	}

	var gmList []character.Summary
	mustUnmarshal(t, w, &gmList)

	if len(gmList) != 3 {
		t.Errorf("gm sees %d characters, want 3", len(gmList))
	}

	// the full roster is off limits to players
	ctx, w = newTestCtx(t, http.MethodGet, "/api/characters", nil, nil, playerID, user.RolePlayer)
	f.handler.ListAll(ctx)

	if w.Code != http.StatusForbidden {
		t.Fatalf("player status = %d, want 403", w.Code)
	}
}

func TestListMineReturnsOwnSummaries(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	otherID := uuid.NewString()

	f.chars.mine[playerID] = []character.Summary{{ID: "a", Name: "Harvey"}}
	f.chars.mine[otherID] = []character.Summary{{ID: "b"}, {ID: "c"}}

	ctx, w := newTestCtx(t, http.MethodGet, "/api/characters/player", nil, nil, playerID, user.RolePlayer)
	f.handler.ListMine(ctx)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var list []character.Summary
	mustUnmarshal(t, w, &list)

	if len(list) != 1 {
		t.Fatalf("player sees %d characters, want 1", len(list))
	}
	if list[0].Name != "Harvey" {
		t.Errorf("name = %q, want Harvey", list[0].Name)
	}
}

func TestListServesFromCacheUntilInvalidated(t *testing.T) {
	f := newCharFixture()
	gmID := uuid.NewString()

	f.chars.all = []character.Summary{{ID: "a"}}

	ctx, _ := newTestCtx(t, http.MethodGet, "/api/characters", nil, nil, gmID, user.RoleGM)
	f.handler.ListAll(ctx)

	// stale data should now come from the cache
	f.chars.all = []character.Summary{{ID: "a"}, {ID: "b"}}

	ctx, w := newTestCtx(t, http.MethodGet, "/api/characters", nil, nil, gmID, user.RoleGM)
	f.handler.ListAll(ctx)

	var list []character.Summary
	mustUnmarshal(t, w, &list)

	if len(list) != 1 {
		t.Fatalf("expected cached single-entry list, got %d entries", len(list))
	}

	f.cache.Invalidate(utils.BuildAllCharactersCacheKey())

	ctx, w = newTestCtx(t, http.MethodGet, "/api/characters", nil, nil, gmID, user.RoleGM)
	f.handler.ListAll(ctx)

	mustUnmarshal(t, w, &list)

	if len(list) != 2 {
		t.Fatalf("expected fresh list after invalidation, got %d entries", len(list))
	}
}

func TestDeleteRemovesLedgerFirst(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	c := f.addCharacter(&playerID, character.StateDoc{"name": "Harvey"})

	ctx, w := newTestCtx(t, http.MethodDelete, "/api/characters/"+c.ID, nil, idParam(c.ID), playerID, user.RolePlayer)
	f.handler.Delete(ctx)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(f.versions.cleared) != 1 || f.versions.cleared[0] != c.ID {
		t.Error("version ledger was not cleared")
	}
	if len(f.chars.deleted) != 1 {
		t.Error("character row was not deleted")
	}
	if !f.chars.tx.committed {
		t.Error("delete transaction should have been committed")
	}
}

func TestListVersions(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	c := f.addCharacter(&playerID, character.StateDoc{"name": "Harvey"})

	ctx, w := newTestCtx(t, http.MethodGet, "/api/characters/"+c.ID+"/versions", nil, idParam(c.ID), playerID, user.RolePlayer)
	f.handler.ListVersions(ctx)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var versions []character.Version
	mustUnmarshal(t, w, &versions)

	if len(versions) != 1 {
		t.Fatalf("got %d versions, want 1", len(versions))
	}
}

func TestRestoreAppendsProvenanceNote(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	c := f.addCharacter(&playerID, character.StateDoc{"name": "Harvey", "hp": float64(10)})

	baseline := f.versions.versions[c.ID][0]

	// overwrite current state so the restore actually changes something
	f.chars.chars[c.ID] = character.Character{
		ID:       c.ID,
		Name:     "Harvey",
		PlayerID: &playerID,
		Data:     character.StateDoc{"name": "Harvey", "hp": float64(2)},
	}

	params := gin.Params{
		{Key: "id", Value: c.ID},
		{Key: "versionId", Value: baseline.ID},
	}

	ctx, w := newTestCtx(t, http.MethodPost, "/api/characters/"+c.ID+"/versions/"+baseline.ID+"/restore", nil, params, playerID, user.RolePlayer)
	f.handler.Restore(ctx)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(f.versions.appends) != 1 {
		t.Fatalf("appends = %d, want 1", len(f.versions.appends))
	}

	appended := f.versions.appends[0]

	if appended.Notes == nil {
		t.Fatal("restore entry must carry a provenance note")
	}

	want := character.RestoreNote(baseline.CreatedAt)

	if *appended.Notes != want {
		t.Errorf("note = %q, want %q", *appended.Notes, want)
	}

	// current state rolled back to the baseline document
	if hp := f.chars.chars[c.ID].Data["hp"]; hp != float64(10) {
		t.Errorf("hp = %v, want 10 after restore", hp)
	}

	if len(f.bus.events) != 1 {
		t.Errorf("published %d events, want 1", len(f.bus.events))
	}
	if !f.chars.tx.committed {
		t.Error("restore transaction should have been committed")
	}
}

func TestRestoreUnknownVersionIsNotFound(t *testing.T) {
	f := newCharFixture()
	playerID := uuid.NewString()
	c := f.addCharacter(&playerID, character.StateDoc{"name": "Harvey"})

	bogus := uuid.NewString()
	params := gin.Params{
		{Key: "id", Value: c.ID},
		{Key: "versionId", Value: bogus},
	}

	ctx, w := newTestCtx(t, http.MethodPost, "/api/characters/"+c.ID+"/versions/"+bogus+"/restore", nil, params, playerID, user.RolePlayer)
	f.handler.Restore(ctx)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if len(f.versions.appends) != 0 {
		t.Error("nothing should have been appended")
	}
}
