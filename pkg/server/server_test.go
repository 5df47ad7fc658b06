package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vglenn/cardroom/pkg/audit"
	"github.com/vglenn/cardroom/pkg/poker"
	"github.com/vglenn/cardroom/pkg/rng"
	"github.com/vglenn/cardroom/pkg/session"
	"github.com/vglenn/cardroom/pkg/table"
	"github.com/vglenn/cardroom/pkg/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	src, err := rng.NewSystem()
	require.NoError(t, err)
	sink, err := audit.NewFSStore(t.TempDir(), slog.Disabled)
	require.NoError(t, err)
	writer := audit.NewWriter(sink, slog.Disabled)
	ledger, err := wallet.NewSQLite(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		writer.Close()
		ledger.Close()
		sink.Close()
	})

	s := New(Deps{
		Dealer: rng.NewDealer(src, writer, slog.Disabled),
		Audit:  writer,
		Sink:   sink,
		Backup: sink,
		Ledger: ledger,
		Tokens: NewHMACVerifier([]byte("test-secret")),
		Log:    slog.Disabled,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	return s
}

func seedTable(t *testing.T, s *Server, id string) *table.Actor {
	t.Helper()
	return s.CreateTable(table.Config{
		ID: id,
		Rules: poker.TableRules{
			SmallBlind: 5,
			BigBlind:   10,
			MaxSeats:   6,
			TimeBank:   30 * time.Second,
			Grace:      30 * time.Second,
		},
	}, nil)
}

func fund(t *testing.T, s *Server, playerID string, amount int64) {
	t.Helper()
	require.NoError(t, s.deps.Ledger.Deposit(context.Background(), playerID, amount, "seed"))
}

func joinEnvelope(tableID string, buyIn int64, key string) session.Envelope {
	payload, _ := json.Marshal(session.JoinTablePayload{TableID: tableID, BuyIn: buyIn, Seat: -1})
	return session.Envelope{Type: session.TypeJoinTable, ID: "c1", IdempotencyKey: key, Payload: payload}
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier([]byte("s3cret"))
	token := v.Mint("alice", time.Minute)

	playerID, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "alice", playerID)

	_, err = v.Verify(token + "x")
	require.ErrorIs(t, err, session.ErrSessionExpired)

	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = v.Verify(token)
	require.ErrorIs(t, err, session.ErrSessionExpired, "stale tokens must be rejected")
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "cardroom_tables_active")
}

func TestWSUpgradeRequiresToken(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "session_expired")
}

func TestCreateAndListTables(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body, _ := json.Marshal(createTableRequest{ID: "cash-1", SmallBlind: 5, BigBlind: 10, MaxSeats: 6})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tables", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	// Duplicate ids are refused.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tables", bytes.NewReader(body)))
	require.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tables", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Tables []tableSummary `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Tables, 1)
	require.Equal(t, "cash-1", listing.Tables[0].ID)
	require.Equal(t, int64(10), listing.Tables[0].BigBlind)
}

func TestJoinAndLeaveThroughActor(t *testing.T) {
	s := newTestServer(t)
	seedTable(t, s, "tbl-1")
	fund(t, s, "alice", 1000)

	client := session.NewClient(s.hub, nil, "alice", slog.Disabled)
	data, err := s.execute(client, joinEnvelope("tbl-1", 500, "k1"))
	require.NoError(t, err)

	var view table.TableView
	require.NoError(t, json.Unmarshal(data, &view))
	require.Equal(t, "tbl-1", view.TableID)
	require.Len(t, view.Players, 1)
	require.Equal(t, int64(500), view.Players[0].Chips)

	// Joining again on a fresh session is a reconnect, not a second
	// buy-in.
	again := session.NewClient(s.hub, nil, "alice", slog.Disabled)
	data, err = s.execute(again, joinEnvelope("tbl-1", 500, "k2"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &view))
	require.Len(t, view.Players, 1, "reconnect must not seat the player twice")

	leavePayload, _ := json.Marshal(session.LeaveTablePayload{TableID: "tbl-1"})
	_, err = s.execute(client, session.Envelope{Type: session.TypeLeaveTable, Payload: leavePayload})
	require.NoError(t, err)

	bal, err := s.deps.Ledger.Balance(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal, "an untouched stack cashes out in full")
}

func TestJoinUnknownTable(t *testing.T) {
	s := newTestServer(t)
	client := session.NewClient(s.hub, nil, "alice", slog.Disabled)

	_, err := s.execute(client, joinEnvelope("nowhere", 500, "k1"))
	require.Error(t, err)
	require.True(t, poker.IsCode(err, poker.CodeTableClosed))
}

func TestActionOutsideHandRejected(t *testing.T) {
	s := newTestServer(t)
	seedTable(t, s, "tbl-1")
	fund(t, s, "alice", 1000)

	client := session.NewClient(s.hub, nil, "alice", slog.Disabled)
	_, err := s.execute(client, joinEnvelope("tbl-1", 500, "k1"))
	require.NoError(t, err)

	payload, _ := json.Marshal(session.PlayerActionPayload{TableID: "tbl-1", Action: "check"})
	_, err = s.execute(client, session.Envelope{Type: session.TypePlayerAction, Payload: payload})
	require.Error(t, err, "no hand is running with one player seated")

	payload, _ = json.Marshal(session.PlayerActionPayload{TableID: "tbl-1", Action: "shove"})
	_, err = s.execute(client, session.Envelope{Type: session.TypePlayerAction, Payload: payload})
	require.True(t, poker.IsCode(err, poker.CodeUnknownType))
}

func TestIdempotentJoinReplay(t *testing.T) {
	s := newTestServer(t)
	seedTable(t, s, "tbl-1")
	fund(t, s, "alice", 1000)

	client := session.NewClient(s.hub, nil, "alice", slog.Disabled)
	env := joinEnvelope("tbl-1", 500, "same-key")
	exec := func(e session.Envelope) ([]byte, error) { return s.execute(client, e) }

	first, err := s.pipeline.Handle(client.SessionID, env, false, exec)
	require.NoError(t, err)
	replay, err := s.pipeline.Handle(client.SessionID, env, false, exec)
	require.NoError(t, err)
	require.Equal(t, first, replay, "a retried command replays the cached bytes")

	bal, err := s.deps.Ledger.Balance(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(500), bal, "the buy-in must be reserved exactly once")
}

func TestTournamentEndpoints(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	fund(t, s, "p1", 1000)
	fund(t, s, "p2", 1000)

	body, _ := json.Marshal(createTournamentRequest{ID: "mtt-1", BuyIn: 100, StartingChips: 5000})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tournaments", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	for _, pid := range []string{"p1", "p2"} {
		reg, _ := json.Marshal(map[string]string{"player_id": pid})
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tournaments/mtt-1/register", bytes.NewReader(reg)))
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Double registration surfaces the game error code.
	reg, _ := json.Marshal(map[string]string{"player_id": "p1"})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tournaments/mtt-1/register", bytes.NewReader(reg)))
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "duplicate_registration")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tournaments/mtt-1/start", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tournaments/mtt-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "in_progress")
}

func TestAuditQueryEndpoint(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	s.deps.Audit.Append(audit.Record{TableID: "tbl-1", Type: audit.TypeHandEvent, Payload: json.RawMessage(`{"kind":"test"}`)})
	s.deps.Audit.Flush()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tables/tbl-1/audit", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Records []audit.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	require.Equal(t, audit.TypeHandEvent, resp.Records[0].Type)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tables/tbl-1/audit?from=notatime", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
