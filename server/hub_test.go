package main

import (
	"encoding/json"
	"testing"
	"time"
)

func authorizedSession(sid, user string) *Session {
	s := newTestSession(sid)
	s.state = sessionAuthorized
	s.peer = &Peer{ID: sid, User: user, Online: true, Name: user, extra: map[string]any{}}
	return s
}

// recvBytes pops one delivered message off the session's send channel.
func recvBytes(t *testing.T, s *Session) map[string]any {
	t.Helper()
	select {
	case msg := <-s.send:
		raw, ok := msg.([]byte)
		if !ok {
			t.Fatalf("expected serialized message, got %T", msg)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("delivered message is not JSON: %v", err)
		}
		return m
	case <-time.After(50 * time.Millisecond):
		t.Fatal("no message delivered")
		return nil
	}
}

func assertNoDelivery(t *testing.T, s *Session) {
	t.Helper()
	select {
	case msg := <-s.send:
		t.Fatalf("unexpected delivery: %v", msg)
	default:
	}
}

// popRoute drains a single pending route request and delivers it.
func popRoute(t *testing.T, h *Hub) {
	t.Helper()
	select {
	case req := <-h.route:
		h.deliver(req)
	case <-time.After(50 * time.Millisecond):
		t.Fatal("no route request pending")
	}
}

func TestRouteDirect(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")
	bob := authorizedSession("77", "bob")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "alice|1", "to": "bob|77", "data": "hello"}})

	// The sender gets its ack regardless of delivery.
	if resp := (<-alice.send).(*ServerComMessage); resp.Status != 200 {
		t.Errorf("ack status = %d, want 200", resp.Status)
	}

	popRoute(t, h)
	m := recvBytes(t, bob)
	if m["data"] != "hello" || m["from"] != "alice|1" {
		t.Errorf("delivered message wrong: %+v", m)
	}
	assertNoDelivery(t, alice)
}

func TestRouteUserRoom(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")
	bob1 := authorizedSession("2", "bob")
	bob2 := authorizedSession("3", "bob")
	h.joinRoom(bob1, "bob")
	h.joinRoom(bob2, "bob")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "alice|1", "to": "bob", "data": "hi"}})
	<-alice.send // ack

	popRoute(t, h)
	recvBytes(t, bob1)
	recvBytes(t, bob2)
	assertNoDelivery(t, alice)
}

func TestRouteExcludesSender(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	// Two connections of the same user share the user room.
	bob1 := authorizedSession("2", "bob")
	bob2 := authorizedSession("3", "bob")
	h.joinRoom(bob1, "bob")
	h.joinRoom(bob2, "bob")

	bob1.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "bob|2", "to": "bob", "data": "note to self"}})
	<-bob1.send // ack

	popRoute(t, h)
	recvBytes(t, bob2)
	assertNoDelivery(t, bob1)
}

func TestRouteRoomListSingleCopy(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")
	carol := authorizedSession("4", "carol")
	h.joinRoom(carol, "r1")
	h.joinRoom(carol, "r2")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "alice|1", "to": []any{"r1", "r2"}, "data": "fan"}})
	<-alice.send

	popRoute(t, h)
	recvBytes(t, carol)
	// Membership in both target rooms still yields one copy.
	assertNoDelivery(t, carol)
}

func TestRouteGlobalDefault(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")
	bob := authorizedSession("2", "bob")
	carol := authorizedSession("3", "carol")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "alice|1", "data": "to everyone"}})
	<-alice.send

	popRoute(t, h)
	recvBytes(t, bob)
	recvBytes(t, carol)
	assertNoDelivery(t, alice)
}

func TestRouteGroupDefault(t *testing.T) {
	setupTestGlobals()
	globals.codec = groupCodec{}
	h := globals.hub
	alice := authorizedSession("1", "alice")
	alice.peer.Group = "media"
	bob := authorizedSession("2", "bob")
	bob.peer.Group = "media"
	h.joinRoom(alice, "group-media")
	h.joinRoom(bob, "group-media")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "alice@media/1", "data": "group cast"}})
	<-alice.send

	popRoute(t, h)
	recvBytes(t, bob)
	assertNoDelivery(t, alice)
}

func TestRouteSenderScope(t *testing.T) {
	setupTestGlobals()
	globals.dynamicRooms = true
	h := globals.hub
	alice := authorizedSession("1", "alice")
	bob := authorizedSession("2", "bob")
	h.joinRoom(alice, "alice") // own user room, excluded from default scope
	h.joinRoom(alice, "lobby")
	h.joinRoom(bob, "lobby")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "alice|1", "data": "room cast"}})
	<-alice.send

	popRoute(t, h)
	recvBytes(t, bob)
	assertNoDelivery(t, alice)
}

func TestRouteDropsMissingFrom(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{"data": "anon"}})

	// Ack reports request validity, not delivery.
	if resp := (<-alice.send).(*ServerComMessage); resp.Status != 200 {
		t.Errorf("ack status = %d, want 200", resp.Status)
	}
	if len(h.route) != 0 {
		t.Error("message without from must be dropped, not routed")
	}
}

func TestRouteUnroutableDropped(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")

	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "alice|1", "to": 42, "data": "numeric to"}})
	<-alice.send

	if len(h.route) != 0 {
		t.Error("unroutable message must be dropped")
	}
}

func TestFromIsServerPopulated(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")
	bob := authorizedSession("77", "bob")

	// Spoofed from address is replaced with the server-side one.
	alice.dispatch(&ClientComMessage{Id: "m1", Message: map[string]any{
		"from": "mallory|99", "to": "bob|77", "data": "x"}})
	<-alice.send

	popRoute(t, h)
	m := recvBytes(t, bob)
	if m["from"] != "alice|1" {
		t.Errorf("from = %v, want the server-built address", m["from"])
	}
}

func TestOfflinePresenceExactlyOnce(t *testing.T) {
	setupTestGlobals()
	h := globals.hub
	alice := authorizedSession("1", "alice")
	bob := authorizedSession("2", "bob")

	alice.cleanUp()
	alice.cleanUp()

	if pending := len(h.route); pending != 1 {
		t.Fatalf("offline presence routed %d times, want exactly once", pending)
	}
	popRoute(t, h)
	m := recvBytes(t, bob)
	if m["type"] != "presence" {
		t.Errorf("type = %v, want presence", m["type"])
	}
	data := m["data"].(map[string]any)
	if data["online"] != false {
		t.Errorf("presence online = %v, want false", data["online"])
	}
	if globals.sessionStore.Get("1") != nil {
		t.Error("session must be deregistered after cleanUp")
	}
}

func TestDynamicJoinLeave(t *testing.T) {
	setupTestGlobals()
	globals.dynamicRooms = true
	h := globals.hub
	go h.run()
	defer func() {
		done := make(chan bool)
		h.shutdown <- done
		<-done
	}()

	alice := authorizedSession("1", "alice")
	alice.dispatch(&ClientComMessage{Id: "j1", Join: "lobby"})
	if resp := (<-alice.send).(*ServerComMessage); resp.Status != 200 {
		t.Errorf("join status = %d, want 200", resp.Status)
	}

	alice.dispatch(&ClientComMessage{Id: "l1", Leave: "lobby"})
	if resp := (<-alice.send).(*ServerComMessage); resp.Status != 200 {
		t.Errorf("leave status = %d, want 200", resp.Status)
	}

	// Leaving a room the session is not in fails.
	alice.dispatch(&ClientComMessage{Id: "l2", Leave: "lobby"})
	if resp := (<-alice.send).(*ServerComMessage); resp.Status != 404 {
		t.Errorf("repeat leave status = %d, want 404", resp.Status)
	}
}
