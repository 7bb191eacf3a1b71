/******************************************************************************
 *
 *  Description :
 *
 *    Handling of client connections. Each session walks a fixed path:
 *    connected -> awaiting announce -> authorized or rejected -> disconnected.
 *    Everything a session owns (peer, timers) lives and dies with it.
 *
 *****************************************************************************/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/symple/relay/server/logs"
	"github.com/symple/relay/server/store"
)

// Session states.
const (
	sessionConnected = iota
	sessionAwaitingAnnounce
	sessionAuthorized
	sessionRejected
	sessionDisconnected
)

const (
	// A failed announce may be retried once while the announce timer is
	// still pending; the next failure disconnects.
	maxAnnounceAttempts = 2

	// Cap on a single session-store round trip.
	storeCallTimeout = 5 * time.Second
)

// Session is a single live connection. A session may never be authorized;
// it gets a peer only after a successful announce.
type Session struct {
	// Session ID, doubles as the peer's connection id.
	sid string

	// Websocket connection.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Guards state, peer, authFailures and the timers.
	lock sync.Mutex

	// Current handshake state.
	state int

	// Identity attached on successful announce. Nil before that.
	peer *Peer

	// Failed announce attempts so far.
	authFailures int

	// Fires if no announce arrives in time. Stopped on success.
	announceTimer *time.Timer

	// Closing this stops the TTL-refresh loop. Nil if refresh is off.
	touchDone chan struct{}

	// Outbound messages, buffered. Either *ServerComMessage or []byte.
	send chan any

	// Channel for shutting down the session, buffer 1.
	stop chan any

	// Makes the disconnect path run at most once.
	cleanOnce sync.Once
}

// queueOut attempts to send a message to the session; if the send buffer is
// full, timeout is 50 usec.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}
	select {
	case s.send <- msg:
	case <-time.After(time.Microsecond * 50):
		logs.Error.Println("s.queueOut: timeout", s.sid)
		return false
	}
	return true
}

// queueOutBytes sends an already serialized message.
func (s *Session) queueOutBytes(data []byte) bool {
	if s == nil {
		return true
	}
	select {
	case s.send <- data:
	case <-time.After(time.Microsecond * 50):
		logs.Error.Println("s.queueOutBytes: timeout", s.sid)
		return false
	}
	return true
}

func (s *Session) serialize(msg any) []byte {
	if data, ok := msg.([]byte); ok {
		return data
	}
	out, _ := json.Marshal(msg)
	return out
}

// disconnect asks the write loop to terminate the connection.
func (s *Session) disconnect() {
	select {
	case s.stop <- nil:
	default:
	}
}

// scheduleAnnounceTimeout arms the announce-or-disconnect timer. Called once,
// right after the connection is accepted.
func (s *Session) scheduleAnnounceTimeout(d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.state = sessionAwaitingAnnounce
	s.announceTimer = time.AfterFunc(d, func() {
		s.lock.Lock()
		expired := s.state == sessionAwaitingAnnounce
		if expired {
			s.state = sessionRejected
		}
		s.lock.Unlock()

		if expired {
			logs.Info.Println("session: failed to announce", s.sid)
			s.disconnect()
		}
	})
}

// Message received, convert bytes to ClientComMessage and dispatch.
func (s *Session) dispatchRaw(raw []byte) {
	var msg ClientComMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logs.Warning.Println("s.dispatch: malformed packet", s.sid, err)
		s.queueOut(ErrMalformed("", "Malformed request"))
		return
	}
	s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) {
	switch {
	case msg.Announce != nil:
		s.announce(msg)

	case msg.Message != nil:
		if !s.authorized() {
			s.queueOut(ErrAuthFailed(msg.Id, "Not authorized"))
			return
		}
		s.relay(msg)

	case msg.Join != "":
		if !s.authorized() {
			s.queueOut(ErrAuthFailed(msg.Id, "Not authorized"))
			return
		}
		if !globals.dynamicRooms {
			s.queueOut(ErrNotFound(msg.Id, "Cannot join room: dynamic rooms are disabled"))
			return
		}
		globals.hub.join <- &roomReq{sess: s, room: msg.Join, pktId: msg.Id, ack: true}

	case msg.Leave != "":
		if !s.authorized() {
			s.queueOut(ErrAuthFailed(msg.Id, "Not authorized"))
			return
		}
		if !globals.dynamicRooms {
			s.queueOut(ErrNotFound(msg.Id, "Cannot leave room: dynamic rooms are disabled"))
			return
		}
		globals.hub.leave <- &roomReq{sess: s, room: msg.Leave, pktId: msg.Id, ack: true}

	default:
		logs.Warning.Println("s.dispatch: unknown message", s.sid)
		s.queueOut(ErrMalformed(msg.Id, "Unknown request"))
	}
}

func (s *Session) authorized() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state == sessionAuthorized
}

// announce authorizes the connection. First success wins: repeat announces on
// an authorized session return the current peer snapshot and change nothing.
func (s *Session) announce(msg *ClientComMessage) {
	s.lock.Lock()
	if s.state == sessionAuthorized {
		snapshot := s.peer.asMap(nil)
		name := s.peer.Name
		s.lock.Unlock()
		s.queueOut(NoErrParams(msg.Id, "Welcome "+name, snapshot))
		return
	}
	if s.state != sessionAwaitingAnnounce {
		s.lock.Unlock()
		return
	}
	s.lock.Unlock()

	req := msg.Announce
	var rec *store.Record

	if globals.authRequired {
		user := jstring(req, peerFieldUser)
		token := jstring(req, peerFieldToken)
		if user == "" || token == "" {
			s.announceFailed(msg, ErrMalformed(msg.Id, "Missing user or token param"))
			return
		}

		logs.Info.Println("session: authenticating", s.sid, user)
		ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
		var err error
		rec, err = globals.sessions.Get(ctx, user, token)
		cancel()
		if err != nil {
			logs.Info.Println("session: authentication failed", s.sid, err)
			s.announceFailed(msg, ErrAuthFailed(msg.Id, "Authentication failed"))
			return
		}
	} else if jstring(req, peerFieldUser) == "" {
		s.announceFailed(msg, ErrMalformed(msg.Id, "Missing user param"))
		return
	}

	p := newPeer(req, rec, s.sid, s.remoteAddr)
	if !globals.codec.validPeer(p) {
		logs.Info.Println("session: invalid peer session", s.sid)
		s.announceFailed(msg, ErrAuthFailed(msg.Id, "Invalid peer session"))
		return
	}

	s.lock.Lock()
	if s.state != sessionAwaitingAnnounce {
		// Disconnected while the store lookup was in flight.
		s.lock.Unlock()
		return
	}
	s.state = sessionAuthorized
	s.peer = p
	if s.announceTimer != nil {
		s.announceTimer.Stop()
	}
	if globals.authRequired && globals.sessionTTL > 0 {
		s.touchDone = make(chan struct{})
		go s.touchLoop(p.User, jstring(req, peerFieldToken), s.touchDone)
	}
	s.lock.Unlock()

	for _, room := range globals.codec.rooms(p) {
		if room != "" {
			globals.hub.join <- &roomReq{sess: s, room: room}
		}
	}

	logs.Info.Println("session: authorized", s.sid, p.User)
	s.queueOut(NoErrParams(msg.Id, "Welcome "+p.Name, p.asMap(nil)))
}

func (s *Session) announceFailed(msg *ClientComMessage, resp *ServerComMessage) {
	s.lock.Lock()
	s.authFailures++
	fatal := s.authFailures >= maxAnnounceAttempts
	if fatal {
		s.state = sessionRejected
	}
	s.lock.Unlock()

	s.queueOut(resp)
	if fatal {
		s.disconnect()
	}
}

// touchLoop refreshes the session record ahead of its expiry for as long as
// the connection is alive. A refresh miss is logged, not fatal.
func (s *Session) touchLoop(user, token string, done <-chan struct{}) {
	ttl := globals.sessionTTL
	ticker := time.NewTicker(ttl * 4 / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
			err := globals.sessions.Touch(ctx, user, token, ttl)
			cancel()
			if err != nil {
				logs.Warning.Println("session: touch failed", s.sid, err)
			}
		case <-done:
			return
		}
	}
}

// relay routes one application message. The ack confirms the request was
// structurally accepted; delivery is best-effort and never reported.
func (s *Session) relay(msg *ClientComMessage) {
	m := msg.Message
	statsInc("IncomingMessagesTotal", 1)

	s.queueOut(NoErr(msg.Id, "Message received"))

	if jstring(m, msgType) == typePresence {
		// Presence payloads are rebuilt from server-side peer state.
		m = s.peer.presence(m, globals.codec)
	} else if jstring(m, msgFrom) == "" {
		logs.Warning.Println("session: dropping message without sender", s.sid)
		statsInc("DroppedMessagesTotal", 1)
		return
	} else {
		// The from address is authoritative, not client-supplied.
		m[msgFrom] = globals.codec.build(s.peer)
	}

	req, err := s.resolveRoute(m)
	if err != nil {
		logs.Warning.Println("session: cannot route message", s.sid, err)
		statsInc("DroppedMessagesTotal", 1)
		return
	}
	globals.hub.route <- req
}

var errUnroutable = errors.New("unroutable destination")

// resolveRoute turns the message's to field into a delivery request.
// Precedence within an address: id > user > group.
func (s *Session) resolveRoute(m map[string]any) (*routeReq, error) {
	pkt, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	req := &routeReq{pkt: pkt, skipSid: s.sid, sender: s}

	switch to := m[msgTo].(type) {
	case nil:
		// No destination: scheme-default scope.
		if globals.dynamicRooms {
			req.senderScope = true
		} else if room := globals.codec.groupRoom(s.peer.Group); room != "" {
			req.rooms = []string{room}
		} else {
			req.global = true
		}

	case string:
		addr := globals.codec.parse(to)
		if !s.addressToTargets(addr, req) {
			return nil, errUnroutable
		}

	case map[string]any:
		addr := Address{
			User:  jstring(to, "user"),
			Group: jstring(to, "group"),
			ID:    jstring(to, "id"),
		}
		if !s.addressToTargets(addr, req) {
			return nil, errUnroutable
		}

	case []any:
		// Explicit list of room names.
		for _, room := range to {
			if name, ok := room.(string); ok && name != "" {
				req.rooms = append(req.rooms, name)
			}
		}
		if len(req.rooms) == 0 {
			return nil, errUnroutable
		}

	default:
		return nil, errUnroutable
	}

	return req, nil
}

func (s *Session) addressToTargets(addr Address, req *routeReq) bool {
	switch {
	case addr.ID != "":
		req.sid = addr.ID
	case addr.User != "":
		req.rooms = []string{globals.codec.userRoom(addr.User)}
	case globals.codec.groupRoom(addr.Group) != "":
		req.rooms = []string{globals.codec.groupRoom(addr.Group)}
	default:
		return false
	}
	return true
}

// cleanUp releases everything the session owns. Safe to call from multiple
// disconnect paths; only the first call does the work. The offline presence
// is routed before the session leaves its rooms so sender-scope resolution
// still sees the memberships.
func (s *Session) cleanUp() {
	s.cleanOnce.Do(func() {
		s.lock.Lock()
		if s.announceTimer != nil {
			s.announceTimer.Stop()
		}
		if s.touchDone != nil {
			close(s.touchDone)
			s.touchDone = nil
		}
		wasOnline := s.state == sessionAuthorized && s.peer != nil && s.peer.Online
		s.state = sessionDisconnected
		p := s.peer
		s.lock.Unlock()

		if wasOnline {
			p.Online = false
			if pkt, err := json.Marshal(p.presence(nil, globals.codec)); err == nil {
				req := &routeReq{pkt: pkt, skipSid: s.sid, sender: s}
				if globals.dynamicRooms {
					req.senderScope = true
				} else if room := globals.codec.groupRoom(p.Group); room != "" {
					req.rooms = []string{room}
				} else {
					req.global = true
				}
				globals.hub.route <- req
			}
		}

		globals.hub.unreg <- s
		count := globals.sessionStore.Delete(s)
		statsSet("LiveSessions", int64(count))
		logs.Info.Println("session: ended", s.sid, count)
	})
}
