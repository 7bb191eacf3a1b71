/******************************************************************************
 *
 *  Description :
 *
 *    Registry of live sessions, indexed by session ID.
 *
 *****************************************************************************/
package main

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/symple/relay/server/logs"
)

// SessionStore holds live sessions.
type SessionStore struct {
	lock sync.Mutex

	// All sessions indexed by session ID.
	sessCache map[string]*Session
}

// NewSession creates a new session and saves it to the session store.
func (ss *SessionStore) NewSession(conn *websocket.Conn, sid string) (*Session, int) {
	if sid == "" {
		sid = uuid.NewString()
	}
	s := &Session{
		sid:   sid,
		ws:    conn,
		state: sessionConnected,
		send:  make(chan any, 256),
		stop:  make(chan any, 1),
	}

	ss.lock.Lock()
	ss.sessCache[s.sid] = s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	return s, count
}

// Get fetches a session from the store by session ID.
func (ss *SessionStore) Get(sid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[sid]
}

// Delete removes a session from the store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	return len(ss.sessCache)
}

// Range calls f for every live session until f returns false.
func (ss *SessionStore) Range(f func(s *Session) bool) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	for _, s := range ss.sessCache {
		if !f(s) {
			break
		}
	}
}

// Shutdown terminates all sessions.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	for _, s := range ss.sessCache {
		if s.stop != nil {
			select {
			case s.stop <- nil:
			default:
			}
		}
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(ss.sessCache))
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
	}
}
