/******************************************************************************
 *
 *  Description :
 *
 *    Peer addressing. Two wire formats are in use: the flat "user|id"
 *    scheme and the group-qualified "user@group/id" scheme. The codec also
 *    owns room naming so the routing logic stays scheme-agnostic.
 *
 *****************************************************************************/
package main

import (
	"strings"
)

// Address is a structured routing target. Any subset of fields may be empty;
// routing precedence is id > user > group.
type Address struct {
	User  string
	Group string
	ID    string
}

// addressCodec converts between address strings, peers and room names.
// parse is total: malformed input yields a partial Address, never an error.
type addressCodec interface {
	parse(s string) Address
	build(p *Peer) string
	// rooms returns the rooms a freshly authorized peer is joined to.
	rooms(p *Peer) []string
	userRoom(user string) string
	groupRoom(group string) string
	// validPeer reports whether the peer carries every field the scheme
	// requires for routing.
	validPeer(p *Peer) bool
}

func codecByName(name string) addressCodec {
	if name == "group" {
		return groupCodec{}
	}
	return flatCodec{}
}

// flatCodec implements the "user|id" scheme. No groups.
type flatCodec struct{}

func (flatCodec) parse(s string) Address {
	var addr Address
	if s == "" {
		return addr
	}
	parts := strings.SplitN(s, "|", 2)
	addr.User = parts[0]
	if len(parts) > 1 {
		addr.ID = parts[1]
	}
	return addr
}

func (flatCodec) build(p *Peer) string {
	return p.User + "|" + p.ID
}

func (c flatCodec) rooms(p *Peer) []string {
	return []string{c.userRoom(p.User)}
}

func (flatCodec) userRoom(user string) string {
	return user
}

// The flat scheme has no group scope.
func (flatCodec) groupRoom(group string) string {
	return ""
}

func (flatCodec) validPeer(p *Peer) bool {
	return p.ID != "" && p.User != ""
}

// groupCodec implements the "user@group/id" scheme. A bare string with no
// delimiters is a group name.
type groupCodec struct{}

func (groupCodec) parse(s string) Address {
	var addr Address
	if s == "" {
		return addr
	}
	base := s
	if parts := strings.SplitN(s, "/", 2); len(parts) > 1 {
		base = parts[0]
		addr.ID = parts[1]
	}
	if parts := strings.SplitN(base, "@", 2); len(parts) > 1 {
		addr.User = parts[0]
		addr.Group = parts[1]
	} else {
		addr.Group = base
	}
	return addr
}

func (groupCodec) build(p *Peer) string {
	return p.User + "@" + p.Group + "/" + p.ID
}

func (c groupCodec) rooms(p *Peer) []string {
	return []string{c.userRoom(p.User), c.groupRoom(p.Group)}
}

func (groupCodec) userRoom(user string) string {
	return "user-" + user
}

func (groupCodec) groupRoom(group string) string {
	if group == "" {
		return ""
	}
	return "group-" + group
}

func (groupCodec) validPeer(p *Peer) bool {
	return p.ID != "" && p.User != "" && p.Group != ""
}
