package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkowalczyk/sheethub/internal/domain/character"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/http/middlewares"
	"github.com/mkowalczyk/sheethub/internal/realtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTx satisfies pgx.Tx for handlers that orchestrate transactions.
// Only Commit and Rollback matter; the query methods are never reached
// because the fake stores ignore the tx they are handed.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }

func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakeCharStore struct {
	chars   map[string]character.Character
	players map[string]*user.PlayerRef

	all  []character.Summary
	mine map[string][]character.Summary

	tx      *fakeTx
	created []character.Character
	updated []character.Character
	deleted []string
}

func newFakeCharStore() *fakeCharStore {
	return &fakeCharStore{
		chars:   make(map[string]character.Character),
		players: make(map[string]*user.PlayerRef),
		mine:    make(map[string][]character.Summary),
		tx:      &fakeTx{},
	}
}

func (s *fakeCharStore) BeginTx(ctx context.Context) (pgx.Tx, error) { return s.tx, nil }

func (s *fakeCharStore) CreateTx(ctx context.Context, tx pgx.Tx, c character.Character) (character.Character, error) {
	s.chars[c.ID] = c
	s.created = append(s.created, c)
	return c, nil
}

func (s *fakeCharStore) GetByID(ctx context.Context, id string) (character.Character, error) {
	c, ok := s.chars[id]
	if !ok {
		return character.Character{}, character.ErrNotFound
	}
	return c, nil
}

func (s *fakeCharStore) GetWithPlayer(ctx context.Context, id string) (character.Character, *user.PlayerRef, error) {
	c, ok := s.chars[id]
	if !ok {
		return character.Character{}, nil, character.ErrNotFound
	}
	return c, s.players[id], nil
}

func (s *fakeCharStore) ListByPlayer(ctx context.Context, playerID string) ([]character.Summary, error) {
	return s.mine[playerID], nil
}

func (s *fakeCharStore) ListAll(ctx context.Context) ([]character.Summary, error) {
	return s.all, nil
}

func (s *fakeCharStore) UpdateTx(ctx context.Context, tx pgx.Tx, id string, playerID *string, doc character.StateDoc) (character.Character, error) {
	c, ok := s.chars[id]
	if !ok {
		return character.Character{}, character.ErrNotFound
	}

	c.Name = doc.Name()
	c.PlayerID = playerID
	c.Data = doc
	s.chars[id] = c
	s.updated = append(s.updated, c)
	return c, nil
}

func (s *fakeCharStore) RestoreTx(ctx context.Context, tx pgx.Tx, id string, doc character.StateDoc) (character.Character, error) {
	c, ok := s.chars[id]
	if !ok {
		return character.Character{}, character.ErrNotFound
	}

	c.Name = doc.Name()
	c.Data = doc
	s.chars[id] = c
	return c, nil
}

func (s *fakeCharStore) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	if _, ok := s.chars[id]; !ok {
		return character.ErrNotFound
	}
	delete(s.chars, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeVersionStore struct {
	versions map[string][]character.Version

	initials   []character.Version
	overwrites []character.StateDoc
	appends    []character.Version
	cleared    []string

	overwriteErr error
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{versions: make(map[string][]character.Version)}
}

func (s *fakeVersionStore) RecordInitialTx(ctx context.Context, tx pgx.Tx, v character.Version) error {
	s.initials = append(s.initials, v)
	s.versions[v.CharacterID] = append(s.versions[v.CharacterID], v)
	return nil
}

func (s *fakeVersionStore) OverwriteLatestTx(ctx context.Context, tx pgx.Tx, characterID string, doc character.StateDoc) error {
	if s.overwriteErr != nil {
		return s.overwriteErr
	}

	s.overwrites = append(s.overwrites, doc)

	if list := s.versions[characterID]; len(list) > 0 {
		list[len(list)-1].Data = doc
	}
	return nil
}

func (s *fakeVersionStore) AppendRestoreTx(ctx context.Context, tx pgx.Tx, v character.Version) error {
	s.appends = append(s.appends, v)
	s.versions[v.CharacterID] = append(s.versions[v.CharacterID], v)
	return nil
}

func (s *fakeVersionStore) ListByCharacter(ctx context.Context, characterID string) ([]character.Version, error) {
	return s.versions[characterID], nil
}

func (s *fakeVersionStore) GetByID(ctx context.Context, characterID, versionID string) (character.Version, error) {
	for _, v := range s.versions[characterID] {
		if v.ID == versionID {
			return v, nil
		}
	}
	return character.Version{}, character.ErrVersionNotFound
}

func (s *fakeVersionStore) DeleteAllTx(ctx context.Context, tx pgx.Tx, characterID string) error {
	s.cleared = append(s.cleared, characterID)
	delete(s.versions, characterID)
	return nil
}

type fakeUserStore struct {
	users map[string]user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]user.User)}
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

type fakeBus struct {
	events []realtime.Event
}

func (b *fakeBus) Publish(ctx context.Context, ev realtime.Event) error {
	b.events = append(b.events, ev)
	return nil
}

// newTestCtx assembles a gin context the way the router would hand one
// to a handler, identity already stamped.
func newTestCtx(t *testing.T, method, path string, body any, params gin.Params, userID, role string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)

	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	ctx.Request = req
	ctx.Params = params

	if userID != "" {
		middlewares.SetIdentity(ctx, userID, userID+"@example.com", role)
	}

	return ctx, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any

	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}

	return out
}

func mustUnmarshal(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()

	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	body := decodeBody(t, w)

	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response %q has no error object", w.Body.String())
	}

	code, _ := errObj["code"].(string)
	return code
}
