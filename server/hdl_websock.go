/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections.
 *
 *****************************************************************************/
package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/symple/relay/server/logs"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 55 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size.
	maxMessageSize = 1 << 19 // 512K
)

func (sess *Session) closeWS() {
	sess.ws.Close()
}

func (sess *Session) readLoop() {
	defer func() {
		sess.closeWS()
		sess.cleanUp()
	}()

	sess.ws.SetReadLimit(maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Error.Println("ws: readLoop", sess.sid, err)
			}
			return
		}
		sess.dispatchRaw(raw)
	}
}

func (sess *Session) sendMessage(msg any) bool {
	if err := wsWrite(sess.ws, websocket.TextMessage, sess.serialize(msg)); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logs.Error.Println("ws: writeLoop", sess.sid, err)
		}
		return false
	}
	return true
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		sess.closeWS()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				// Channel closed.
				return
			}
			if !sess.sendMessage(msg) {
				return
			}

		case msg := <-sess.stop:
			// Shutdown requested, don't care if the message is delivered.
			if msg != nil {
				wsWrite(sess.ws, websocket.TextMessage, sess.serialize(msg))
			}
			return

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Error.Println("ws: writeLoop ping", sess.sid, err)
				}
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, bits []byte) error {
	if bits == nil {
		bits = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, bits)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientHost picks the client's network origin: forwarded-for header first,
// then real-ip, then the raw socket address.
func clientHost(req *http.Request) string {
	if addr := req.Header.Get("X-Forwarded-For"); addr != "" {
		return addr
	}
	if addr := req.Header.Get("X-Real-Ip"); addr != "" {
		return addr
	}
	return req.RemoteAddr
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		logs.Error.Println("ws: invalid HTTP method", req.Method)
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Error.Println("ws: not a websocket handshake")
		return
	} else if err != nil {
		logs.Error.Println("ws: failed to upgrade", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, "")
	sess.remoteAddr = clientHost(req)

	statsInc("TotalSessions", 1)
	statsSet("LiveSessions", int64(count))
	logs.Info.Println("ws: session started", sess.sid, sess.remoteAddr, count)

	// The client gets a bounded window to announce or the connection is dropped.
	sess.scheduleAnnounceTimeout(globals.announceTimeout)

	// Do work in goroutines to return from serveWebSocket() to release file pointers.
	// Otherwise "too many open files" will happen.
	go sess.writeLoop()
	go sess.readLoop()
}
