// Roshambo room coordinator
//
// Two players share a 6-character room code and play best-of-N
// rock/paper/scissors over a single websocket connection each.
//
// Features:
// - One websocket endpoint; every command carries its target room code
// - Rooms are created lazily on first join and removed when the last member leaves
// - Both choices in hand resolve the round; a short settle delay lets clients
//   display the result before the next round opens
// - First player to ceil(N/2) round wins takes the match; scores then reset so
//   the same room can host a rematch
// - Disconnects are funneled into the same departure path as an explicit leave
// - Players identified by cookie (playerID), so a dropped connection can rejoin
// - Room chat relayed verbatim to all members
// - Random 6-char room codes via crypto/rand, with server-side collision check
// - Idle rooms auto-reaped after a configurable timeout
// - In-browser QR link to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type      string `json:"type"`                // "join_room", "start_game", "player_choice", "chat_message", "leave_room"
	Username  string `json:"username,omitempty"`  // join_room / player_choice / chat_message
	RoomCode  string `json:"roomCode,omitempty"`  // all commands
	Choice    string `json:"choice,omitempty"`    // player_choice
	Text      string `json:"text,omitempty"`      // chat_message
	MaxRounds int    `json:"maxRounds,omitempty"` // start_game
}

// PlayerJoinedMessage is the full membership/score snapshot, broadcast on
// every join so clients can re-derive the player 1 / player 2 layout.
type PlayerJoinedMessage struct {
	Type    string         `json:"type"` // "player_joined"
	Players []string       `json:"players"`
	Scores  map[string]int `json:"scores"`
}

type GameStartedMessage struct {
	Type      string `json:"type"` // "game_started"
	MaxRounds int    `json:"maxRounds"`
}

// ChoiceMadeMessage names the submitter but withholds the move, so the
// opponent's UI can show a waiting indicator without spoiling the round.
type ChoiceMadeMessage struct {
	Type     string `json:"type"` // "choice_made"
	Username string `json:"username"`
}

type PlayerResult struct {
	Username string `json:"username"`
	Choice   Move   `json:"choice"`
}

type RoundResultMessage struct {
	Type         string         `json:"type"` // "round_result"
	Players      []PlayerResult `json:"players"`
	Winner       string         `json:"winner"` // display name, or "Draw"
	Scores       map[string]int `json:"scores"`
	CurrentRound int            `json:"currentRound"`
	MaxRounds    int            `json:"maxRounds"`
}

type NextRoundMessage struct {
	Type         string         `json:"type"` // "next_round"
	Scores       map[string]int `json:"scores"`
	CurrentRound int            `json:"currentRound"`
	MaxRounds    int            `json:"maxRounds"`
}

type GameOverMessage struct {
	Type   string `json:"type"` // "game_over"
	Winner string `json:"winner"`
}

type PlayerLeftMessage struct {
	Type     string `json:"type"` // "player_left"
	Username string `json:"username"`
}

// ChatMessage relays username and text verbatim; escaping is the client's
// concern and the payload is never interpreted server-side.
type ChatMessage struct {
	Type     string `json:"type"` // "chat_message"
	Username string `json:"username"`
	Text     string `json:"text"`
}

// GameErrorMessage is sent to the originating connection only, never broadcast.
type GameErrorMessage struct {
	Type    string `json:"type"` // "game_error"
	Message string `json:"message"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string // player identity (cookie)

	// room and name form the gateway's reverse index from a connection to
	// its membership; written only under the gateway mutex.
	room string
	name string
}

type inbound struct {
	client *Client
	msg    ClientMessage
}

// Gateway owns the room registry and dispatches every inbound command
// through a single run loop, so per-room state never sees two commands at
// once. The mutex additionally covers the settle timers and the reaper.
type Gateway struct {
	cfg *Config

	register   chan *Client
	unregister chan *Client
	commands   chan inbound

	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]*Room
}

func newGateway(cfg *Config) *Gateway {
	gw := &Gateway{
		cfg:        cfg,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan inbound),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]*Room),
	}
	if cfg.sessionTimeout > 0 {
		go gw.reaperLoop()
	}
	return gw
}

func (gw *Gateway) run() {
	for {
		select {
		case c := <-gw.register:
			gw.mu.Lock()
			gw.clients[c] = true
			gw.mu.Unlock()

		case c := <-gw.unregister:
			gw.handleDisconnect(c)

		case in := <-gw.commands:
			switch in.msg.Type {
			case "join_room":
				gw.handleJoin(in)
			case "start_game":
				gw.handleStart(in)
			case "player_choice":
				gw.handleChoice(in)
			case "chat_message":
				gw.handleChat(in)
			case "leave_room":
				gw.handleLeave(in)
			}
		}
	}
}

func normalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// rejectLocked sends a game_error to a single connection.
func (gw *Gateway) rejectLocked(c *Client, text string) {
	select {
	case c.send <- GameErrorMessage{
		Type:    "game_error",
		Message: text,
	}:
	default:
	}
}

// handleJoin processes "join_room" commands. Joining an unknown code creates
// the room; rejoining with the same player identity is a membership no-op
// that still re-broadcasts the snapshot so the new connection resyncs.
func (gw *Gateway) handleJoin(in inbound) {
	msg := in.msg
	c := in.client

	name := strings.TrimSpace(msg.Username)
	code := normalizeRoomCode(msg.RoomCode)
	if name == "" || code == "" || c.id == "" {
		return
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()

	// A connection holds at most one membership.
	if c.room != "" && c.room != code {
		gw.departLocked(c)
	}

	rm := gw.rooms[code]
	if rm == nil {
		rm = newRoom(code)
		gw.rooms[code] = rm
		logf(gw.cfg, "GAMES: Created room %s", code)
	}
	rm.lastActive = time.Now()

	if existing := rm.memberLocked(c.id); existing != nil {
		if existing != c {
			// Reconnect: swap the new connection into the old slot,
			// keeping the display name the scores are keyed by.
			for i, m := range rm.members {
				if m == existing {
					rm.members[i] = c
					break
				}
			}
			c.name = existing.name
			existing.room, existing.name = "", ""
		}
		c.room = code
		rm.broadcastLocked(rm.snapshotLocked())
		return
	}

	if len(rm.members) >= maxRoomMembers {
		gw.rejectLocked(c, "Room "+code+" is full.")
		return
	}

	c.room = code
	c.name = name
	rm.members = append(rm.members, c)
	if _, ok := rm.scores[name]; !ok {
		rm.scores[name] = 0
	}

	logf(gw.cfg, "GAMES: Player %q joined %s", name, code)

	rm.broadcastLocked(rm.snapshotLocked())
}

// handleStart processes "start_game" commands.
func (gw *Gateway) handleStart(in inbound) {
	msg := in.msg
	c := in.client

	code := normalizeRoomCode(msg.RoomCode)

	gw.mu.Lock()
	defer gw.mu.Unlock()

	rm := gw.rooms[code]
	if rm == nil {
		gw.rejectLocked(c, "Room "+code+" does not exist.")
		return
	}
	rm.lastActive = time.Now()

	if len(rm.members) < maxRoomMembers {
		gw.rejectLocked(c, "Two players are needed to start.")
		return
	}
	if rm.active {
		gw.rejectLocked(c, "A match is already in progress.")
		return
	}

	rm.startLocked(msg.MaxRounds)

	logf(gw.cfg, "GAMES: Match started in %s (best of %d)", code, rm.maxRounds)

	rm.broadcastLocked(GameStartedMessage{
		Type:      "game_started",
		MaxRounds: rm.maxRounds,
	})
}

// handleChoice processes "player_choice" commands. Submissions outside an
// active round degrade to no-ops or rejections; they never fault the room.
func (gw *Gateway) handleChoice(in inbound) {
	msg := in.msg
	c := in.client

	code := normalizeRoomCode(msg.RoomCode)

	gw.mu.Lock()
	defer gw.mu.Unlock()

	rm := gw.rooms[code]
	if rm == nil {
		gw.rejectLocked(c, "Room "+code+" does not exist.")
		return
	}
	rm.lastActive = time.Now()

	if c.room != code || c.name == "" {
		return
	}
	if !rm.active {
		return
	}
	if rm.settling {
		gw.rejectLocked(c, "Round already settled, wait for the next round.")
		return
	}

	move, ok := ParseMove(msg.Choice)
	if !ok {
		gw.rejectLocked(c, "Invalid choice: "+msg.Choice)
		return
	}

	// Duplicate submissions for the same round are absorbed.
	if !rm.recordChoiceLocked(c.name, move) {
		return
	}

	rm.broadcastLocked(ChoiceMadeMessage{
		Type:     "choice_made",
		Username: c.name,
	})

	if len(rm.pending) == maxRoomMembers {
		gw.settleRoundLocked(rm)
	}
}

// settleRoundLocked resolves the round now that both choices are in, then
// either ends the match or schedules the next round after the settle delay.
func (gw *Gateway) settleRoundLocked(rm *Room) {
	rm.currentRound++

	players := make([]PlayerResult, 0, maxRoomMembers)
	for _, m := range rm.members {
		if move, ok := rm.pending[m.name]; ok {
			players = append(players, PlayerResult{
				Username: m.name,
				Choice:   move,
			})
		}
	}
	if len(players) != 2 {
		return
	}

	winner := drawWinner
	switch resolve(players[0].Choice, players[1].Choice) {
	case FirstWins:
		winner = players[0].Username
	case SecondWins:
		winner = players[1].Username
	}
	if winner != drawWinner {
		rm.scores[winner]++
	}

	logf(gw.cfg, "GAMES: Round %d in %s: %s vs %s, winner %q",
		rm.currentRound, rm.code, players[0].Choice, players[1].Choice, winner)

	rm.broadcastLocked(RoundResultMessage{
		Type:         "round_result",
		Players:      players,
		Winner:       winner,
		Scores:       rm.scoresCopyLocked(),
		CurrentRound: rm.currentRound,
		MaxRounds:    rm.maxRounds,
	})

	if matchWinner := rm.matchWinnerLocked(); matchWinner != "" {
		logf(gw.cfg, "GAMES: Player %q won the match in %s", matchWinner, rm.code)

		rm.broadcastLocked(GameOverMessage{
			Type:   "game_over",
			Winner: matchWinner,
		})
		rm.resetMatchLocked()
		return
	}

	rm.settling = true
	code := rm.code
	rm.settleTimer = time.AfterFunc(gw.cfg.settleDelay, func() {
		gw.advanceRound(code, rm)
	})
}

// advanceRound is the settle timer callback. The registry is rechecked by
// identity in case the room was destroyed, or destroyed and recreated under
// the same code, while the timer was pending.
func (gw *Gateway) advanceRound(code string, rm *Room) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	current, ok := gw.rooms[code]
	if !ok || current != rm {
		return
	}
	if !rm.active || !rm.settling {
		return
	}

	rm.settling = false
	rm.settleTimer = nil
	rm.pending = make(map[string]Move)

	rm.broadcastLocked(NextRoundMessage{
		Type:         "next_round",
		Scores:       rm.scoresCopyLocked(),
		CurrentRound: rm.currentRound,
		MaxRounds:    rm.maxRounds,
	})
}

// handleChat relays a chat line to every member of the room, sender
// included, with the text passed through byte for byte.
func (gw *Gateway) handleChat(in inbound) {
	msg := in.msg
	c := in.client

	code := normalizeRoomCode(msg.RoomCode)

	gw.mu.Lock()
	defer gw.mu.Unlock()

	rm := gw.rooms[code]
	if rm == nil {
		gw.rejectLocked(c, "Room "+code+" does not exist.")
		return
	}
	rm.lastActive = time.Now()

	// Attribute to the connection's registered name when it has one, the
	// same way player_choice does; the wire field is a fallback only.
	name := msg.Username
	if c.room == code && c.name != "" {
		name = c.name
	}

	rm.broadcastLocked(ChatMessage{
		Type:     "chat_message",
		Username: name,
		Text:     msg.Text,
	})
}

// handleLeave processes explicit "leave_room" commands.
func (gw *Gateway) handleLeave(in inbound) {
	c := in.client
	code := normalizeRoomCode(in.msg.RoomCode)

	gw.mu.Lock()
	defer gw.mu.Unlock()

	if c.room == "" || c.room != code {
		return
	}
	gw.departLocked(c)
}

// handleDisconnect synthesizes the same departure handling as an explicit
// leave for whatever room the dropped connection belonged to.
func (gw *Gateway) handleDisconnect(c *Client) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.clients[c] {
		delete(gw.clients, c)
		close(c.send)
	}
	if c.room != "" {
		gw.departLocked(c)
	}
}

// departLocked removes a client from its room. Dropping below two members
// abandons any active match with no winner; dropping to zero destroys the
// room, cancelling the settle timer first.
func (gw *Gateway) departLocked(c *Client) {
	code, name := c.room, c.name
	c.room, c.name = "", ""

	rm := gw.rooms[code]
	if rm == nil {
		return
	}
	if !rm.dropLocked(c) {
		return
	}
	rm.lastActive = time.Now()

	logf(gw.cfg, "GAMES: Player %q left %s", name, code)

	if len(rm.members) == 0 {
		rm.cancelSettleLocked()
		delete(gw.rooms, code)
		logf(gw.cfg, "GAMES: Removed empty room %s", code)
		return
	}

	if rm.active && len(rm.members) < maxRoomMembers {
		rm.abandonLocked()
	}

	rm.broadcastLocked(PlayerLeftMessage{
		Type:     "player_left",
		Username: name,
	})
}

// newRoomCode generates a crypto-random room code and ensures it doesn't
// collide with a live room.
func (gw *Gateway) newRoomCode() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 6)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		gw.mu.RLock()
		_, exists := gw.rooms[code]
		gw.mu.RUnlock()

		if !exists {
			return code
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than the
// session timeout, as a backstop behind delete-on-empty.
func (gw *Gateway) reaperLoop() {
	ticker := time.NewTicker(gw.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gw.cfg.sessionTimeout)

		gw.mu.Lock()
		for code, rm := range gw.rooms {
			if !rm.lastActive.Before(cutoff) {
				continue
			}

			rm.cancelSettleLocked()
			for _, m := range rm.members {
				// Close only the transport here. The run loop may still
				// hold queued commands from this client, so its send
				// channel stays open until the read pump funnels through
				// handleDisconnect, the sole closer of send.
				if m.conn != nil {
					_ = m.conn.Close()
				}
				m.room, m.name = "", ""
			}
			rm.members = nil
			delete(gw.rooms, code)

			logf(gw.cfg, "GAMES: Reaped idle room %s (age %s)", code, time.Since(rm.createdAt).Round(time.Second))
		}
		gw.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "roshambo_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// WebSocket handler; room membership comes later, from join_room commands.
func serveWS(cfg *Config, gw *Gateway) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   playerID,
		}

		gw.register <- client

		go client.writePump()
		client.readPump(gw)
	}
}

func (c *Client) readPump(gw *Gateway) {
	defer func() {
		gw.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join_room", "start_game", "player_choice", "chat_message", "leave_room":
			gw.commands <- inbound{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /room/:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/game.html")
		if err != nil {
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(data)
	}
}

// redirectNewRoom handles GET /new by generating a fresh collision-checked
// room code and redirecting to /room/:code.
func redirectNewRoom(cfg *Config, gw *Gateway) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		code := gw.newRoomCode()
		logf(cfg, "GAMES: Allocated room code %s", code)
		http.Redirect(w, r, cfg.prefix+"/room/"+code, http.StatusTemporaryRedirect)
	}
}

// registerGame sets up routes so that:
//   - /new             → redirects to a fresh random room
//   - /room/:code      → HTML client
//   - /room/:code/qr   → PNG QR code for that room URL
//   - /ws              → the shared websocket endpoint
func registerGame(cfg *Config, mux *httprouter.Router) {
	gw := newGateway(cfg)
	go gw.run()

	mux.GET(cfg.prefix+"/new", redirectNewRoom(cfg, gw))

	mux.GET(cfg.prefix+"/room/:code", serveRoomPage(cfg))

	mux.GET(cfg.prefix+"/room/:code/qr", qrHandler)

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, gw))
}
