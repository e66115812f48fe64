// Murmle Arena
//
// Each space is a bounded 2-D grid populated with placed elements. Clients
// hold a WebSocket, join one space with a signed token, and move their avatar
// one orthogonal cell at a time; the server validates every step against the
// space geometry and fans accepted changes out to everyone else in the room.
//
// Features:
// - One WebSocket endpoint: /ws; the space is chosen by the join message
// - Envelopes are {type, payload} JSON both ways
// - join → space-joined ack (spawn cell + current occupants), user-join to the rest
// - movement → validated server-side; rejected moves echo the authoritative
//   position back to the mover only
// - Disconnects (graceful or not) run one cleanup path: registry removal plus
//   a user-left broadcast; the same user can rejoin immediately
// - Per-room locking: rooms never contend with each other
// - In-browser QR sharing of a space URL, backed by go-qrcode

package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// TokenVerifier is the identity capability the arena consumes.
type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

// Messages coming from clients
type inEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	SpaceID string `json:"spaceId"`
	Token   string `json:"token"`
}

type movementPayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Messages sent to clients
type outEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Sent to the joiner only, acknowledging admission.
type spaceJoinedPayload struct {
	UserID string        `json:"userId"`
	Spawn  Position      `json:"spawn"`
	Users  []PresentUser `json:"users"`
}

// Sent to everyone else in the room when a user arrives or moves.
type userEventPayload struct {
	UserID string `json:"userId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

type userLeftPayload struct {
	UserID string `json:"userId"`
}

// Sent to the mover only, carrying the unchanged authoritative position.
type movementRejectedPayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// arenaConn is one connection's state machine: idle until a successful join,
// active until the transport closes. The read loop is the only goroutine that
// drives it, so a client's own messages are processed in arrival order.
type arenaConn struct {
	cfg      *Config
	registry *Registry
	verifier TokenVerifier
	conn     *client

	userID  string
	spaceID string
	pos     Position
	space   *Space
	joined  bool
}

func serveArena(cfg *Config, registry *Registry, verifier TokenVerifier) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errorf("ARENA: upgrade error: %v", err)
			return
		}

		c := newClient(ws, cfg.sendQueue)
		go c.writePump()

		a := &arenaConn{
			cfg:      cfg,
			registry: registry,
			verifier: verifier,
			conn:     c,
		}
		a.readLoop()
	}
}

// readLoop processes inbound envelopes sequentially until the transport
// fails, then runs the unconditional cleanup path.
func (a *arenaConn) readLoop() {
	defer a.leave()

	for {
		var env inEnvelope
		if err := a.conn.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case "join":
			a.handleJoin(env.Payload)
		case "movement":
			a.handleMovement(env.Payload)
		default:
			a.sendError(codeProtocolViolation, "unknown message type: "+env.Type)
		}
	}
}

// leave releases the session no matter how the connection ended. Safe to run
// after a registry-side disconnect already removed the session: Remove is
// idempotent and a second user-left is never emitted.
func (a *arenaConn) leave() {
	a.conn.shutdown()
	if !a.joined {
		return
	}
	a.joined = false

	departed := outEnvelope{Type: "user-left", Payload: userLeftPayload{UserID: a.userID}}
	if a.registry.Remove(a.userID, departed) {
		logf(a.cfg, "ARENA: %s left space %s", a.userID, a.spaceID)
	}
}

func (a *arenaConn) handleJoin(raw json.RawMessage) {
	if a.joined {
		a.sendError(codeProtocolViolation, "already joined a space")
		return
	}

	var req joinPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.SpaceID == "" || req.Token == "" {
		a.sendError(codeProtocolViolation, "join requires spaceId and token")
		return
	}

	userID, err := a.verifier.VerifyToken(req.Token)
	if err != nil {
		a.sendError(codeUnauthorized, "token rejected")
		return
	}

	// The ack and the user-join fan-out are enqueued by Admit under the room
	// lock: messages broadcast after admission can never precede the ack in
	// the joiner's queue, and the ack's occupant snapshot can never lag a
	// movement delivered to the joiner.
	sess, _, err := a.registry.Admit(req.SpaceID, userID, a.conn, func(sess *Session, others []PresentUser) (any, any) {
		ack := outEnvelope{Type: "space-joined", Payload: spaceJoinedPayload{
			UserID: userID,
			Spawn:  sess.Pos,
			Users:  others,
		}}
		announce := outEnvelope{Type: "user-join", Payload: userEventPayload{
			UserID: userID,
			X:      sess.Pos.X,
			Y:      sess.Pos.Y,
		}}
		return ack, announce
	})
	if err != nil {
		a.sendError(wireCode(err), err.Error())
		if err == ErrDuplicateSession {
			a.conn.shutdown()
		}
		return
	}

	a.userID = userID
	a.spaceID = req.SpaceID
	a.pos = sess.Pos
	a.space = sess.space
	a.joined = true

	logf(a.cfg, "ARENA: %s joined space %s at (%d,%d)", userID, req.SpaceID, sess.Pos.X, sess.Pos.Y)
}

func (a *arenaConn) handleMovement(raw json.RawMessage) {
	if !a.joined {
		a.sendError(codeProtocolViolation, "movement before join")
		return
	}

	var req movementPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		a.sendError(codeProtocolViolation, "malformed movement payload")
		return
	}

	proposed := Position{X: req.X, Y: req.Y}
	if err := validateMove(a.pos, proposed, a.space); err != nil {
		a.conn.enqueue(outEnvelope{Type: "movement-rejected", Payload: movementRejectedPayload{
			X: a.pos.X,
			Y: a.pos.Y,
		}})
		return
	}

	announce := outEnvelope{Type: "movement", Payload: userEventPayload{
		UserID: a.userID,
		X:      proposed.X,
		Y:      proposed.Y,
	}}
	if err := a.registry.UpdatePosition(a.userID, proposed, announce); err != nil {
		// Lost a race with a disconnect; the read loop is about to exit.
		return
	}
	a.pos = proposed
}

func (a *arenaConn) sendError(code, message string) {
	a.conn.enqueue(outEnvelope{Type: "error", Payload: errorPayload{Code: code, Message: message}})
}

// QR handler: generates a PNG QR code for a space's URL using go-qrcode, so a
// session can be shared by pointing a phone at the screen.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	spaceID := ps.ByName("spaceId")
	if spaceID == "" {
		http.Error(w, "missing space id", http.StatusBadRequest)
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

	// We are at /.../:spaceId/qr; strip trailing "/qr" to get the space URL.
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

// registerArena sets up the realtime endpoints:
//   - /ws                        → WebSocket entry; space chosen by join message
//   - /api/v1/space/:spaceId/qr  → PNG QR code for sharing a space URL
func registerArena(cfg *Config, mux *httprouter.Router, registry *Registry, verifier TokenVerifier) {
	mux.GET(cfg.prefix+"/ws", serveArena(cfg, registry, verifier))
	mux.GET(cfg.prefix+"/api/v1/space/:spaceId/qr", qrHandler)
}
