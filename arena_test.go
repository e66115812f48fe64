package main

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArenaServer(t *testing.T) (string, *AuthService, *Catalog) {
	t.Helper()

	cfg := testConfig()
	auth := newAuthService(cfg.jwtSecret, cfg.tokenTTL)
	catalog := newCatalog()
	registry := newRegistry(catalog)

	mux := httprouter.New()
	registerArena(cfg, mux, registry, auth)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws", auth, catalog
}

// seedSpace registers a space with 1x1 static elements at the given cells.
func seedSpace(c *Catalog, id string, width, height int, statics ...Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &spaceRecord{ID: id, Name: id, Width: width, Height: height}
	for i, p := range statics {
		elementID := fmt.Sprintf("%s-static-%d", id, i)
		c.elements[elementID] = &Element{ID: elementID, Width: 1, Height: 1, Static: true}
		rec.Elements = append(rec.Elements, PlacedElement{
			ID:        fmt.Sprintf("%s-placed-%d", id, i),
			ElementID: elementID,
			X:         p.X,
			Y:         p.Y,
		})
	}
	c.spaces[id] = rec
}

func makeUser(t *testing.T, auth *AuthService, username string) (string, string) {
	t.Helper()
	userID, err := auth.Signup(username, "pw", RoleUser)
	require.NoError(t, err)
	token, err := auth.Signin(username, "pw")
	require.NoError(t, err)
	return userID, token
}

func dialArena(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(outEnvelope{Type: msgType, Payload: payload}))
}

func recv(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env inEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env.Type, env.Payload
}

func recvAs[T any](t *testing.T, conn *websocket.Conn, wantType string) T {
	t.Helper()
	msgType, payload := recv(t, conn)
	require.Equal(t, wantType, msgType)
	var decoded T
	require.NoError(t, json.Unmarshal(payload, &decoded))
	return decoded
}

func join(t *testing.T, conn *websocket.Conn, spaceID, token string) spaceJoinedPayload {
	t.Helper()
	send(t, conn, "join", joinPayload{SpaceID: spaceID, Token: token})
	return recvAs[spaceJoinedPayload](t, conn, "space-joined")
}

func TestJoinHandshake(t *testing.T) {
	wsURL, auth, catalog := newArenaServer(t)
	seedSpace(catalog, "meeting-room", 100, 200, Position{X: 20, Y: 20}, Position{X: 18, Y: 20})

	user1ID, token1 := makeUser(t, auth, "shyam")
	user2ID, token2 := makeUser(t, auth, "asha")

	ws1 := dialArena(t, wsURL)
	ack1 := join(t, ws1, "meeting-room", token1)
	assert.Equal(t, user1ID, ack1.UserID)
	assert.Empty(t, ack1.Users, "first joiner sees an empty room")

	ws2 := dialArena(t, wsURL)
	ack2 := join(t, ws2, "meeting-room", token2)
	assert.Equal(t, user2ID, ack2.UserID)
	require.Len(t, ack2.Users, 1, "second joiner sees the first")
	assert.Equal(t, PresentUser{UserID: user1ID, X: ack1.Spawn.X, Y: ack1.Spawn.Y}, ack2.Users[0])

	arrival := recvAs[userEventPayload](t, ws1, "user-join")
	assert.Equal(t, user2ID, arrival.UserID)
	assert.Equal(t, ack2.Spawn.X, arrival.X)
	assert.Equal(t, ack2.Spawn.Y, arrival.Y)
}

func TestMovementOverWebSocket(t *testing.T) {
	wsURL, auth, catalog := newArenaServer(t)
	seedSpace(catalog, "meeting-room", 100, 200)

	user1ID, token1 := makeUser(t, auth, "shyam")
	_, token2 := makeUser(t, auth, "asha")

	ws1 := dialArena(t, wsURL)
	ack1 := join(t, ws1, "meeting-room", token1)
	userX, userY := ack1.Spawn.X, ack1.Spawn.Y

	ws2 := dialArena(t, wsURL)
	join(t, ws2, "meeting-room", token2)
	recvAs[userEventPayload](t, ws1, "user-join")

	// Far outside the boundary.
	send(t, ws1, "movement", movementPayload{X: 12345, Y: 10000})
	rejected := recvAs[movementRejectedPayload](t, ws1, "movement-rejected")
	assert.Equal(t, userX, rejected.X)
	assert.Equal(t, userY, rejected.Y)

	// Two cells in one step, on either axis.
	send(t, ws1, "movement", movementPayload{X: userX + 2, Y: userY})
	rejected = recvAs[movementRejectedPayload](t, ws1, "movement-rejected")
	assert.Equal(t, userX, rejected.X)
	assert.Equal(t, userY, rejected.Y)

	send(t, ws1, "movement", movementPayload{X: userX, Y: userY + 2})
	rejected = recvAs[movementRejectedPayload](t, ws1, "movement-rejected")
	assert.Equal(t, userX, rejected.X)
	assert.Equal(t, userY, rejected.Y)

	// One orthogonal step: broadcast to the other member, never echoed back.
	send(t, ws1, "movement", movementPayload{X: userX + 1, Y: userY})
	moved := recvAs[userEventPayload](t, ws2, "movement")
	assert.Equal(t, user1ID, moved.UserID)
	assert.Equal(t, userX+1, moved.X)
	assert.Equal(t, userY, moved.Y)

	// The mover's next inbound message is the rejection of the following
	// step, not an echo of the accepted one.
	send(t, ws1, "movement", movementPayload{X: userX + 3, Y: userY})
	rejected = recvAs[movementRejectedPayload](t, ws1, "movement-rejected")
	assert.Equal(t, userX+1, rejected.X, "authoritative position advanced by the accepted step")
}

func TestMovementBlockedByStaticElement(t *testing.T) {
	wsURL, auth, catalog := newArenaServer(t)
	seedSpace(catalog, "walled", 10, 10, Position{X: 1, Y: 0})

	_, token := makeUser(t, auth, "shyam")

	ws := dialArena(t, wsURL)
	ack := join(t, ws, "walled", token)
	require.Equal(t, Position{X: 0, Y: 0}, ack.Spawn)

	send(t, ws, "movement", movementPayload{X: 1, Y: 0})
	rejected := recvAs[movementRejectedPayload](t, ws, "movement-rejected")
	assert.Equal(t, 0, rejected.X)
	assert.Equal(t, 0, rejected.Y)
}

func TestLeaveBroadcastAndRejoin(t *testing.T) {
	wsURL, auth, catalog := newArenaServer(t)
	seedSpace(catalog, "meeting-room", 100, 200)

	user1ID, token1 := makeUser(t, auth, "shyam")
	_, token2 := makeUser(t, auth, "asha")

	ws1 := dialArena(t, wsURL)
	join(t, ws1, "meeting-room", token1)

	ws2 := dialArena(t, wsURL)
	join(t, ws2, "meeting-room", token2)
	recvAs[userEventPayload](t, ws1, "user-join")

	require.NoError(t, ws1.Close())

	left := recvAs[userLeftPayload](t, ws2, "user-left")
	assert.Equal(t, user1ID, left.UserID)

	// No leftover session: the departed identifier can rejoin at once.
	ws1 = dialArena(t, wsURL)
	ack := join(t, ws1, "meeting-room", token1)
	assert.Equal(t, user1ID, ack.UserID)
	require.Len(t, ack.Users, 1)
}

func TestJoinFailures(t *testing.T) {
	wsURL, auth, catalog := newArenaServer(t)
	seedSpace(catalog, "meeting-room", 100, 200)

	_, token := makeUser(t, auth, "shyam")

	t.Run("bad token", func(t *testing.T) {
		ws := dialArena(t, wsURL)
		send(t, ws, "join", joinPayload{SpaceID: "meeting-room", Token: "garbage"})
		failure := recvAs[errorPayload](t, ws, "error")
		assert.Equal(t, codeUnauthorized, failure.Code)

		// The connection stayed idle and usable: a proper join still works.
		ack := join(t, ws, "meeting-room", token)
		assert.Empty(t, ack.Users)
	})

	t.Run("unknown space", func(t *testing.T) {
		ws := dialArena(t, wsURL)
		send(t, ws, "join", joinPayload{SpaceID: "atlantis", Token: token})
		failure := recvAs[errorPayload](t, ws, "error")
		assert.Equal(t, codeSpaceNotFound, failure.Code)
	})

	t.Run("duplicate session", func(t *testing.T) {
		ws1 := dialArena(t, wsURL)
		join(t, ws1, "meeting-room", token)

		ws2 := dialArena(t, wsURL)
		send(t, ws2, "join", joinPayload{SpaceID: "meeting-room", Token: token})
		failure := recvAs[errorPayload](t, ws2, "error")
		assert.Equal(t, codeDuplicateSession, failure.Code)
	})

	t.Run("full space", func(t *testing.T) {
		seedSpace(catalog, "closet", 1, 1)
		_, occupant := makeUser(t, auth, "ravi")
		_, latecomer := makeUser(t, auth, "mira")

		ws1 := dialArena(t, wsURL)
		join(t, ws1, "closet", occupant)

		ws2 := dialArena(t, wsURL)
		send(t, ws2, "join", joinPayload{SpaceID: "closet", Token: latecomer})
		failure := recvAs[errorPayload](t, ws2, "error")
		assert.Equal(t, codeSpaceFull, failure.Code)

		// The refused connection stays idle; another space still admits it.
		seedSpace(catalog, "annex", 5, 5)
		ack := join(t, ws2, "annex", latecomer)
		assert.Empty(t, ack.Users)
	})
}

func TestProtocolViolations(t *testing.T) {
	wsURL, auth, catalog := newArenaServer(t)
	seedSpace(catalog, "meeting-room", 100, 200)

	_, token := makeUser(t, auth, "shyam")

	ws := dialArena(t, wsURL)

	// Movement before join.
	send(t, ws, "movement", movementPayload{X: 1, Y: 0})
	failure := recvAs[errorPayload](t, ws, "error")
	assert.Equal(t, codeProtocolViolation, failure.Code)

	// Unknown type.
	send(t, ws, "teleport", movementPayload{X: 1, Y: 0})
	failure = recvAs[errorPayload](t, ws, "error")
	assert.Equal(t, codeProtocolViolation, failure.Code)

	// Second join while active.
	join(t, ws, "meeting-room", token)
	send(t, ws, "join", joinPayload{SpaceID: "meeting-room", Token: token})
	failure = recvAs[errorPayload](t, ws, "error")
	assert.Equal(t, codeProtocolViolation, failure.Code)

	// Still active afterwards: movement keeps working.
	send(t, ws, "movement", movementPayload{X: 12345, Y: 10000})
	_, payload := recv(t, ws)
	var rejected movementRejectedPayload
	require.NoError(t, json.Unmarshal(payload, &rejected))
}
