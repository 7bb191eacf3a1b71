/******************************************************************************
 *
 *  Description :
 *
 *    The hub: room membership and message fan-out. All membership changes
 *    and deliveries flow through a single goroutine, so no room state is
 *    ever touched concurrently. Delivery is best-effort and never echoes
 *    back to the sender.
 *
 *****************************************************************************/
package main

import (
	"github.com/symple/relay/server/logs"
)

// roomReq asks the hub to add a session to a room or remove it.
type roomReq struct {
	room string
	sess *Session
	// Request id for the ack, when one is wanted.
	pktId string
	ack   bool
}

// routeReq is a single fan-out request. Exactly one of sid, rooms, global or
// senderScope describes the destination.
type routeReq struct {
	// Serialized message.
	pkt []byte
	// Session ID which must not receive the message (the sender).
	skipSid string
	// Local sender; nil when the message arrived from another node.
	sender *Session
	// Direct delivery to a single session.
	sid string
	// Deliver to each of these rooms.
	rooms []string
	// Deliver to every room the sender is in, except its own user room.
	senderScope bool
	// Deliver to every live session.
	global bool
	// Arrived over the cluster channel: do not re-publish.
	local bool
}

// Hub is the core structure which holds rooms.
type Hub struct {
	// Room name -> sessions in the room.
	rooms map[string]map[*Session]bool

	// Reverse index: session -> rooms it is in.
	sessRooms map[*Session]map[string]bool

	// Add session to room, buffered at 32.
	join chan *roomReq

	// Remove session from room, buffered at 32.
	leave chan *roomReq

	// Messages to fan out, buffered at 4096.
	route chan *routeReq

	// Remove session from all rooms, buffered at 32.
	unreg chan *Session

	// Request to shutdown, unbuffered.
	shutdown chan chan<- bool
}

func newHub() *Hub {
	h := &Hub{
		rooms:     make(map[string]map[*Session]bool),
		sessRooms: make(map[*Session]map[string]bool),
		join:      make(chan *roomReq, 32),
		leave:     make(chan *roomReq, 32),
		route:     make(chan *routeReq, 4096),
		unreg:     make(chan *Session, 32),
		shutdown:  make(chan chan<- bool),
	}

	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("LiveRooms")
	statsRegisterInt("IncomingMessagesTotal")
	statsRegisterInt("OutgoingMessagesTotal")
	statsRegisterInt("DroppedMessagesTotal")

	go h.run()

	return h
}

func (h *Hub) run() {
	for {
		select {
		case req := <-h.join:
			h.joinRoom(req.sess, req.room)
			if req.ack {
				req.sess.queueOut(NoErr(req.pktId, "Joined room: "+req.room))
			}

		case req := <-h.leave:
			if !h.leaveRoom(req.sess, req.room) {
				if req.ack {
					req.sess.queueOut(ErrNotFound(req.pktId, "Cannot leave room: "+req.room))
				}
				break
			}
			if req.ack {
				req.sess.queueOut(NoErr(req.pktId, "Left room: "+req.room))
			}

		case sess := <-h.unreg:
			for room := range h.sessRooms[sess] {
				h.leaveRoom(sess, room)
			}

		case req := <-h.route:
			h.deliver(req)

		case done := <-h.shutdown:
			logs.Info.Println("hub: shutdown")
			done <- true
			return
		}
	}
}

func (h *Hub) joinRoom(sess *Session, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Session]bool)
		h.rooms[room] = members
		statsSet("LiveRooms", int64(len(h.rooms)))
	}
	members[sess] = true

	joined := h.sessRooms[sess]
	if joined == nil {
		joined = make(map[string]bool)
		h.sessRooms[sess] = joined
	}
	joined[room] = true
}

func (h *Hub) leaveRoom(sess *Session, room string) bool {
	members := h.rooms[room]
	if !members[sess] {
		return false
	}
	delete(members, sess)
	if len(members) == 0 {
		delete(h.rooms, room)
		statsSet("LiveRooms", int64(len(h.rooms)))
	}

	joined := h.sessRooms[sess]
	delete(joined, room)
	if len(joined) == 0 {
		delete(h.sessRooms, sess)
	}
	return true
}

// deliver fans the message out to its destination, always excluding the
// sender. Messages originating locally are also published to the other
// nodes after sender-scope destinations are resolved into concrete rooms.
func (h *Hub) deliver(req *routeReq) {
	if req.senderScope && req.sender != nil {
		var ownUser string
		if req.sender.peer != nil {
			ownUser = globals.codec.userRoom(req.sender.peer.User)
		}
		req.senderScope = false
		req.rooms = nil
		for room := range h.sessRooms[req.sender] {
			if room != ownUser && room != req.sender.sid {
				req.rooms = append(req.rooms, room)
			}
		}
	}

	if globals.adapter != nil && !req.local {
		globals.adapter.publish(req)
	}

	switch {
	case req.sid != "":
		if sess := globals.sessionStore.Get(req.sid); sess != nil && sess.sid != req.skipSid {
			if sess.queueOutBytes(req.pkt) {
				statsInc("OutgoingMessagesTotal", 1)
			}
		}

	case req.global:
		globals.sessionStore.Range(func(sess *Session) bool {
			if sess.sid != req.skipSid && sess.authorized() {
				if sess.queueOutBytes(req.pkt) {
					statsInc("OutgoingMessagesTotal", 1)
				}
			}
			return true
		})

	default:
		// A session subscribed to several target rooms still gets one copy.
		seen := make(map[*Session]bool)
		for _, room := range req.rooms {
			for sess := range h.rooms[room] {
				if sess.sid == req.skipSid || seen[sess] {
					continue
				}
				seen[sess] = true
				if sess.queueOutBytes(req.pkt) {
					statsInc("OutgoingMessagesTotal", 1)
				}
			}
		}
	}
}
