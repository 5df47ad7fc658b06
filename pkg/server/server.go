// Package server wires the process together: the table registry, the
// WebSocket edge, the gin HTTP surface and the Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vglenn/cardroom/pkg/audit"
	"github.com/vglenn/cardroom/pkg/poker"
	"github.com/vglenn/cardroom/pkg/rng"
	"github.com/vglenn/cardroom/pkg/session"
	"github.com/vglenn/cardroom/pkg/table"
	"github.com/vglenn/cardroom/pkg/tourney"
	"github.com/vglenn/cardroom/pkg/wallet"
)

// requestTimeout bounds one command round trip through a table actor.
const requestTimeout = 5 * time.Second

// Deps are the server's collaborators, built in cmd/cardroomd.
type Deps struct {
	Dealer  *rng.Dealer
	Audit   *audit.Writer
	Sink    audit.Sink
	Backup  table.BackupWriter
	Ledger  wallet.Ledger
	Tokens  session.TokenVerifier
	Metrics *Metrics
	Log     slog.Logger
}

// Server owns the table registry and the client edge. It implements
// session.Handler for inbound commands and table.Broadcaster for
// outbound events.
type Server struct {
	deps     Deps
	log      slog.Logger
	hub      *session.Hub
	pipeline *session.Pipeline
	metrics  *Metrics
	upgrader websocket.Upgrader

	runCtx context.Context

	mu       sync.Mutex
	tables   map[string]*table.Actor
	configs  map[string]table.Config
	tourneys map[string]*tourney.Coordinator
	joined   map[string]map[string]bool // sessionID -> table ids
}

// New creates the server. Call Start before serving traffic.
func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	return &Server{
		deps:     deps,
		log:      deps.Log,
		hub:      session.NewHub(deps.Log),
		pipeline: session.NewPipeline(session.NewDedupe(0), session.NewCoalescer(0, 0)),
		metrics:  deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		tables:   make(map[string]*table.Actor),
		configs:  make(map[string]table.Config),
		tourneys: make(map[string]*tourney.Coordinator),
		joined:   make(map[string]map[string]bool),
	}
}

// Start pins the lifecycle context that table actors run under.
func (s *Server) Start(ctx context.Context) {
	s.runCtx = ctx
}

// Shutdown closes every session; table actors stop with the Start context.
func (s *Server) Shutdown(ctx context.Context) {
	s.hub.Shutdown(ctx)
	s.deps.Audit.Flush()
}

// CreateTable registers and starts a table actor.
func (s *Server) CreateTable(cfg table.Config, observer table.Observer) *table.Actor {
	a := table.New(cfg, table.Deps{
		Dealer:      s.deps.Dealer,
		Audit:       s.deps.Audit,
		Backup:      s.deps.Backup,
		Wallet:      s.deps.Ledger,
		Broadcaster: s,
		Observer:    observer,
		Log:         s.log,
	})
	s.mu.Lock()
	s.tables[cfg.ID] = a
	s.configs[cfg.ID] = cfg
	s.mu.Unlock()
	s.metrics.ActiveTables.Inc()

	go func() {
		a.Run(s.runCtx)
		s.mu.Lock()
		delete(s.tables, cfg.ID)
		delete(s.configs, cfg.ID)
		s.mu.Unlock()
		s.metrics.ActiveTables.Dec()
	}()
	s.log.Infof("table %s created (blinds %d/%d)", cfg.ID, cfg.Rules.SmallBlind, cfg.Rules.BigBlind)
	return a
}

// CreateTournament registers a coordinator whose tables spawn through the
// server registry.
func (s *Server) CreateTournament(cfg tourney.Config) *tourney.Coordinator {
	var co *tourney.Coordinator
	factory := func(id string, rules poker.TableRules) tourney.TableRef {
		return s.CreateTable(table.Config{ID: id, Rules: rules, Tournament: true}, co)
	}
	co = tourney.NewCoordinator(cfg, s.deps.Ledger, factory, s.log)
	s.mu.Lock()
	s.tourneys[cfg.ID] = co
	s.mu.Unlock()
	go co.Run(s.runCtx)
	s.log.Infof("tournament %s created (buy-in %d)", cfg.ID, cfg.BuyIn)
	return co
}

func (s *Server) lookupTable(id string) *table.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[id]
}

func (s *Server) lookupTournament(id string) *tourney.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tourneys[id]
}

// BroadcastTable implements table.Broadcaster.
func (s *Server) BroadcastTable(tableID string, env session.Envelope) {
	switch env.Type {
	case session.TypeHandStarted:
		s.metrics.HandsStarted.Inc()
	case session.TypeHandCompleted:
		s.metrics.HandsCompleted.Inc()
	}
	s.hub.BroadcastTable(tableID, env)
}

// SendToPlayer implements table.Broadcaster, fanning out to every live
// session of the player.
func (s *Server) SendToPlayer(playerID string, env session.Envelope) {
	for _, c := range s.hub.ClientsForPlayer(playerID) {
		s.hub.Send(c, env)
	}
}

// HandleEnvelope implements session.Handler: commands run through the
// idempotency and coalescing pipeline, then route to the table actor.
func (s *Server) HandleEnvelope(ctx context.Context, c *session.Client, env session.Envelope) {
	s.metrics.Commands.WithLabelValues(env.Type).Inc()

	data, err := s.pipeline.Handle(c.SessionID, env, c.Bypass, func(e session.Envelope) ([]byte, error) {
		return s.execute(c, e)
	})
	if err != nil {
		gerr, ok := err.(*poker.GameError)
		if !ok {
			gerr = poker.NewGameError(poker.CodeTableClosed, "table unavailable")
		}
		s.metrics.CommandErrors.WithLabelValues(string(gerr.Code)).Inc()
		s.hub.Send(c, session.ErrorEnvelope(env.ID, gerr))
		return
	}
	s.hub.Send(c, session.Envelope{
		Type:          session.TypeStateUpdate,
		CorrelationID: env.ID,
		Payload:       data,
	})
}

func (s *Server) execute(c *session.Client, env session.Envelope) ([]byte, error) {
	switch env.Type {
	case session.TypeJoinTable:
		return s.execJoin(c, env)
	case session.TypeLeaveTable:
		return s.execLeave(c, env)
	case session.TypePlayerAction:
		return s.execAction(c, env)
	case session.TypeChat:
		return s.execChat(c, env)
	}
	return nil, poker.NewGameError(poker.CodeUnknownType, "unknown message type %q", env.Type)
}

func (s *Server) execJoin(c *session.Client, env session.Envelope) ([]byte, error) {
	var p session.JoinTablePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, poker.NewGameError(poker.CodeUnknownType, "malformed join_table payload")
	}
	a := s.lookupTable(p.TableID)
	if a == nil {
		return nil, poker.NewGameError(poker.CodeTableClosed, "table %s does not exist", p.TableID)
	}

	// A player already seated is reconnecting: rebind the session and
	// replay the snapshot instead of buying in again.
	snap, err := request(a, func(reply chan table.Result) table.Message {
		return table.QuerySnapshot{PlayerID: c.PlayerID, Reply: reply}
	})
	if err == nil {
		var view table.TableView
		if json.Unmarshal(snap, &view) == nil {
			for _, pv := range view.Players {
				if pv.PlayerID == c.PlayerID {
					s.attach(c, a, p.TableID)
					return snap, nil
				}
			}
		}
	}

	data, err := request(a, func(reply chan table.Result) table.Message {
		return table.CmdJoin{PlayerID: c.PlayerID, Name: c.PlayerID, Seat: p.Seat, BuyIn: p.BuyIn, Reply: reply}
	})
	if err != nil {
		return nil, err
	}
	s.attach(c, a, p.TableID)
	return data, nil
}

func (s *Server) attach(c *session.Client, a *table.Actor, tableID string) {
	s.hub.Subscribe(c, tableID)
	a.Send(table.SessionBind{PlayerID: c.PlayerID})
	s.mu.Lock()
	if s.joined[c.SessionID] == nil {
		s.joined[c.SessionID] = make(map[string]bool)
	}
	s.joined[c.SessionID][tableID] = true
	s.mu.Unlock()
}

func (s *Server) execLeave(c *session.Client, env session.Envelope) ([]byte, error) {
	var p session.LeaveTablePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, poker.NewGameError(poker.CodeUnknownType, "malformed leave_table payload")
	}
	a := s.lookupTable(p.TableID)
	if a == nil {
		return nil, poker.NewGameError(poker.CodeTableClosed, "table %s does not exist", p.TableID)
	}
	data, err := request(a, func(reply chan table.Result) table.Message {
		return table.CmdLeave{PlayerID: c.PlayerID, Reply: reply}
	})
	if err != nil {
		return nil, err
	}
	s.hub.Unsubscribe(c, p.TableID)
	s.mu.Lock()
	delete(s.joined[c.SessionID], p.TableID)
	s.mu.Unlock()
	return data, nil
}

var actionKinds = map[string]poker.ActionKind{
	"fold":   poker.ActionFold,
	"check":  poker.ActionCheck,
	"call":   poker.ActionCall,
	"bet":    poker.ActionBet,
	"raise":  poker.ActionRaise,
	"all_in": poker.ActionAllIn,
}

func (s *Server) execAction(c *session.Client, env session.Envelope) ([]byte, error) {
	var p session.PlayerActionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, poker.NewGameError(poker.CodeUnknownType, "malformed player_action payload")
	}
	a := s.lookupTable(p.TableID)
	if a == nil {
		return nil, poker.NewGameError(poker.CodeTableClosed, "table %s does not exist", p.TableID)
	}

	// Seat state changes ride the same command as betting actions.
	switch p.Action {
	case "sit_out":
		return request(a, func(reply chan table.Result) table.Message {
			return table.CmdSitOut{PlayerID: c.PlayerID, Reply: reply}
		})
	case "sit_in":
		return request(a, func(reply chan table.Result) table.Message {
			return table.CmdSitIn{PlayerID: c.PlayerID, Reply: reply}
		})
	}

	kind, ok := actionKinds[p.Action]
	if !ok {
		return nil, poker.NewGameError(poker.CodeUnknownType, "unknown action %q", p.Action)
	}
	return request(a, func(reply chan table.Result) table.Message {
		return table.CmdAction{PlayerID: c.PlayerID, Action: poker.Action{Kind: kind, Amount: p.Amount}, Reply: reply}
	})
}

func (s *Server) execChat(c *session.Client, env session.Envelope) ([]byte, error) {
	var p session.ChatPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, poker.NewGameError(poker.CodeUnknownType, "malformed chat payload")
	}
	a := s.lookupTable(p.TableID)
	if a == nil {
		return nil, poker.NewGameError(poker.CodeTableClosed, "table %s does not exist", p.TableID)
	}
	if !a.Send(table.CmdChat{PlayerID: c.PlayerID, Text: p.Text}) {
		return nil, poker.NewGameError(poker.CodeRateLimited, "table %s is busy", p.TableID)
	}
	return json.Marshal(map[string]bool{"delivered": true})
}

// request sends a replying command and waits for the result.
func request(a *table.Actor, build func(chan table.Result) table.Message) ([]byte, error) {
	reply := make(chan table.Result, 1)
	if !a.Send(build(reply)) {
		return nil, poker.NewGameError(poker.CodeRateLimited, "table %s is busy", a.ID())
	}
	select {
	case res := <-reply:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Payload, nil
	case <-time.After(requestTimeout):
		return nil, poker.NewGameError(poker.CodeTableClosed, "table %s did not respond", a.ID())
	}
}

// Router builds the gin HTTP surface.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	r.GET("/ws", s.handleWS)

	r.GET("/tables", s.handleListTables)
	r.POST("/tables", s.handleCreateTable)
	r.GET("/tables/:id/audit", s.handleAuditQuery)

	r.POST("/tournaments", s.handleCreateTournament)
	r.POST("/tournaments/:id/register", s.handleTournamentRegister)
	r.POST("/tournaments/:id/start", s.handleTournamentStart)
	r.POST("/tournaments/:id/break", s.handleTournamentBreak)
	r.POST("/tournaments/:id/announce", s.handleTournamentAnnounce)
	r.GET("/tournaments/:id", s.handleTournamentStatus)
	return r
}

func (s *Server) handleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			token = auth[len(prefix):]
		}
	}
	playerID, err := s.deps.Tokens.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": poker.CodeSessionExpired, "message": "invalid or expired token"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debugf("ws upgrade for %s: %v", playerID, err)
		return
	}

	client := session.NewClient(s.hub, conn, playerID, s.log)
	client.Bypass = c.GetHeader(session.BypassHeader) != ""
	s.hub.Register(client)
	s.metrics.SessionsTotal.Inc()
	s.metrics.SessionsConnected.Inc()

	ack, _ := json.Marshal(gin.H{"session_id": client.SessionID, "player_id": playerID})
	client.SendEnvelope(session.Envelope{Type: session.TypeConnectionAck, Payload: ack})

	client.Run(c.Request.Context(), s)

	s.metrics.SessionsConnected.Dec()
	s.mu.Lock()
	tables := s.joined[client.SessionID]
	delete(s.joined, client.SessionID)
	s.mu.Unlock()
	for tableID := range tables {
		if a := s.lookupTable(tableID); a != nil {
			a.Send(table.SessionUnbind{PlayerID: playerID})
		}
	}
}

type tableSummary struct {
	ID         string `json:"id"`
	SmallBlind int64  `json:"small_blind"`
	BigBlind   int64  `json:"big_blind"`
	MaxSeats   int    `json:"max_seats"`
	Tournament bool   `json:"tournament"`
}

func (s *Server) handleListTables(c *gin.Context) {
	s.mu.Lock()
	out := make([]tableSummary, 0, len(s.configs))
	for id, cfg := range s.configs {
		out = append(out, tableSummary{
			ID:         id,
			SmallBlind: cfg.Rules.SmallBlind,
			BigBlind:   cfg.Rules.BigBlind,
			MaxSeats:   cfg.Rules.MaxSeats,
			Tournament: cfg.Tournament,
		})
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"tables": out})
}

type createTableRequest struct {
	ID         string `json:"id" binding:"required"`
	SmallBlind int64  `json:"small_blind" binding:"required"`
	BigBlind   int64  `json:"big_blind" binding:"required"`
	MinBuyIn   int64  `json:"min_buy_in"`
	MaxBuyIn   int64  `json:"max_buy_in"`
	MaxSeats   int    `json:"max_seats"`
}

func (s *Server) handleCreateTable(c *gin.Context) {
	var req createTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxSeats <= 0 {
		req.MaxSeats = 9
	}
	if s.lookupTable(req.ID) != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "table id already in use"})
		return
	}
	s.CreateTable(table.Config{
		ID: req.ID,
		Rules: poker.TableRules{
			SmallBlind: req.SmallBlind,
			BigBlind:   req.BigBlind,
			MinBuyIn:   req.MinBuyIn,
			MaxBuyIn:   req.MaxBuyIn,
			MaxSeats:   req.MaxSeats,
			TimeBank:   30 * time.Second,
			Grace:      30 * time.Second,
		},
	}, nil)
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (s *Server) handleAuditQuery(c *gin.Context) {
	tableID := c.Param("id")
	from, err := parseTimeParam(c.Query("from"), time.Now().Add(-24*time.Hour))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
		return
	}
	to, err := parseTimeParam(c.Query("to"), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
		return
	}
	records, err := s.deps.Sink.Query(c.Request.Context(), tableID, from, to)
	if err != nil {
		s.log.Errorf("audit query for %s: %v", tableID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"table_id": tableID, "records": records})
}

func parseTimeParam(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

type createTournamentRequest struct {
	ID            string `json:"id" binding:"required"`
	Name          string `json:"name"`
	BuyIn         int64  `json:"buy_in" binding:"required"`
	StartingChips int64  `json:"starting_chips" binding:"required"`
	SeatsPerTable int    `json:"seats_per_table"`
	MaxPlayers    int    `json:"max_players"`
	LevelMinutes  int    `json:"level_minutes"`
}

func (s *Server) handleCreateTournament(c *gin.Context) {
	var req createTournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.lookupTournament(req.ID) != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "tournament id already in use"})
		return
	}
	if req.LevelMinutes <= 0 {
		req.LevelMinutes = 10
	}
	levels := make([]tourney.Level, 0, 8)
	sb := int64(25)
	for i := 0; i < 8; i++ {
		levels = append(levels, tourney.Level{
			SmallBlind: sb,
			BigBlind:   sb * 2,
			Duration:   time.Duration(req.LevelMinutes) * time.Minute,
		})
		sb *= 2
	}
	s.CreateTournament(tourney.Config{
		ID:            req.ID,
		Name:          req.Name,
		BuyIn:         req.BuyIn,
		StartingChips: req.StartingChips,
		SeatsPerTable: req.SeatsPerTable,
		MaxPlayers:    req.MaxPlayers,
		Levels:        levels,
		LateRegLevels: 2,
	})
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (s *Server) handleTournamentRegister(c *gin.Context) {
	co := s.lookupTournament(c.Param("id"))
	if co == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tournament"})
		return
	}
	var req struct {
		PlayerID string `json:"player_id" binding:"required"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if gerr := co.Register(c.Request.Context(), req.PlayerID, req.Name); gerr != nil {
		c.JSON(http.StatusConflict, gin.H{"code": gerr.Code, "message": gerr.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": true})
}

func (s *Server) handleTournamentStart(c *gin.Context) {
	co := s.lookupTournament(c.Param("id"))
	if co == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tournament"})
		return
	}
	if gerr := co.Start(c.Request.Context()); gerr != nil {
		c.JSON(http.StatusConflict, gin.H{"code": gerr.Code, "message": gerr.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true})
}

func (s *Server) handleTournamentBreak(c *gin.Context) {
	co := s.lookupTournament(c.Param("id"))
	if co == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tournament"})
		return
	}
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Seconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a positive seconds field is required"})
		return
	}
	if gerr := co.Break(time.Duration(req.Seconds) * time.Second); gerr != nil {
		c.JSON(http.StatusConflict, gin.H{"code": gerr.Code, "message": gerr.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleTournamentAnnounce(c *gin.Context) {
	co := s.lookupTournament(c.Param("id"))
	if co == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tournament"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a text field is required"})
		return
	}
	co.Announce(req.Text)
	c.JSON(http.StatusOK, gin.H{"announced": true})
}

func (s *Server) handleTournamentStatus(c *gin.Context) {
	co := s.lookupTournament(c.Param("id"))
	if co == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tournament"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": co.Status(), "standings": co.Standings()})
}
