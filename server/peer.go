/******************************************************************************
 *
 *  Description :
 *
 *    The Peer model: the identity bound to one authorized connection.
 *    Constructed once per successful handshake from the announce payload
 *    merged with the stored session record.
 *
 *****************************************************************************/
package main

import (
	"github.com/symple/relay/server/store"
)

// Peer is one connected identity. Owned exclusively by its session; never
// shared between connections.
type Peer struct {
	// Connection id, unique per live connection. Server-assigned.
	ID string
	// Login name.
	User string
	// Stable user identifier, optional.
	UserID string
	// Scoping namespace, optional under the flat scheme.
	Group string
	// Access level. Carried, not enforced.
	Access int
	// Flips to false exactly once, at disconnect.
	Online bool
	// Display name. The peer may rename itself in-band.
	Name string
	// Client network origin, informational.
	Host string

	// Fields from the announce payload or the session record which the
	// model does not interpret. Relayed in snapshots as-is.
	extra map[string]any
}

// Peer snapshot field names.
const (
	peerFieldID     = "id"
	peerFieldUser   = "user"
	peerFieldUserID = "user_id"
	peerFieldGroup  = "group"
	peerFieldAccess = "access"
	peerFieldOnline = "online"
	peerFieldName   = "name"
	peerFieldHost   = "host"
	peerFieldToken  = "token"
)

// newPeer builds a peer from the announce payload, overlaid with the session
// record when one was loaded. Record fields win over announce fields.
func newPeer(req map[string]any, rec *store.Record, sid, host string) *Peer {
	p := &Peer{
		ID:     sid,
		User:   jstring(req, peerFieldUser),
		UserID: jstring(req, peerFieldUserID),
		Group:  jstring(req, peerFieldGroup),
		Access: jint(req, peerFieldAccess),
		Name:   jstring(req, peerFieldName),
		Online: true,
		Host:   host,
		extra:  make(map[string]any),
	}

	for k, v := range req {
		switch k {
		case peerFieldID, peerFieldUser, peerFieldUserID, peerFieldGroup,
			peerFieldAccess, peerFieldOnline, peerFieldName, peerFieldHost:
			// Promoted above.
		default:
			p.extra[k] = v
		}
	}

	if rec != nil {
		if rec.User != "" {
			p.User = rec.User
		}
		if rec.UserID != "" {
			p.UserID = rec.UserID
		}
		if rec.Group != "" {
			p.Group = rec.Group
		}
		if rec.Access != 0 {
			p.Access = rec.Access
		}
		if rec.Name != "" {
			p.Name = rec.Name
		}
		for k, v := range rec.Extra {
			p.extra[k] = v
		}
	}

	if p.Name == "" {
		p.Name = p.User
	}
	return p
}

// asMap produces a peer snapshot with overrides overlaid. A string "name"
// override renames the peer itself before snapshotting so the new name
// round-trips immediately.
func (p *Peer) asMap(overrides map[string]any) map[string]any {
	if name, ok := overrides[peerFieldName].(string); ok && name != "" {
		p.Name = name
	}

	out := make(map[string]any, len(p.extra)+8)
	for k, v := range p.extra {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	out[peerFieldID] = p.ID
	out[peerFieldUser] = p.User
	if p.UserID != "" {
		out[peerFieldUserID] = p.UserID
	}
	if p.Group != "" {
		out[peerFieldGroup] = p.Group
	}
	out[peerFieldAccess] = p.Access
	out[peerFieldOnline] = p.Online
	out[peerFieldName] = p.Name
	out[peerFieldHost] = p.Host
	return out
}

// presence wraps a peer snapshot in a presence envelope. Session tokens must
// never reach other peers: the token field is dropped from the outgoing data.
func (p *Peer) presence(src map[string]any, codec addressCodec) map[string]any {
	if src == nil {
		src = make(map[string]any)
	}
	var overrides map[string]any
	if data, ok := src[msgData].(map[string]any); ok {
		overrides = data
	}

	src[msgType] = typePresence
	src[msgData] = p.asMap(overrides)
	if jstring(src, msgFrom) == "" {
		src[msgFrom] = codec.build(p)
	}

	delete(src[msgData].(map[string]any), peerFieldToken)
	return src
}
