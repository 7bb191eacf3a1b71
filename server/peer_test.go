package main

import (
	"testing"

	"github.com/symple/relay/server/store"
)

func TestNewPeerMergesRecord(t *testing.T) {
	req := map[string]any{
		"user":   "bob",
		"name":   "Bobby",
		"group":  "announce-group",
		"vendor": "test-client",
	}
	rec := &store.Record{
		User:   "bob",
		UserID: "u-100",
		Group:  "record-group",
		Access: 5,
		Extra:  map[string]any{"plan": "pro"},
	}

	p := newPeer(req, rec, "sid-1", "10.0.0.1")
	if p.ID != "sid-1" || !p.Online {
		t.Errorf("peer id/online wrong: %+v", p)
	}
	// Record fields win over announce fields.
	if p.Group != "record-group" {
		t.Errorf("group = %q, want record-group", p.Group)
	}
	if p.UserID != "u-100" || p.Access != 5 {
		t.Errorf("record fields not merged: %+v", p)
	}
	// Announce name survives when the record has none.
	if p.Name != "Bobby" {
		t.Errorf("name = %q, want Bobby", p.Name)
	}
	if p.extra["vendor"] != "test-client" || p.extra["plan"] != "pro" {
		t.Errorf("extras not carried: %+v", p.extra)
	}
}

func TestNewPeerDefaultName(t *testing.T) {
	p := newPeer(map[string]any{"user": "alice"}, nil, "sid-2", "")
	if p.Name != "alice" {
		t.Errorf("name = %q, want the user name", p.Name)
	}
}

func TestPeerSnapshot(t *testing.T) {
	p := newPeer(map[string]any{"user": "alice", "user_id": "u-7"}, nil, "sid-3", "10.1.1.1")
	snap := p.asMap(nil)

	if snap["id"] != "sid-3" || snap["user"] != "alice" || snap["user_id"] != "u-7" {
		t.Errorf("snapshot fields wrong: %+v", snap)
	}
	if snap["online"] != true || snap["name"] != "alice" || snap["host"] != "10.1.1.1" {
		t.Errorf("snapshot fields wrong: %+v", snap)
	}
}

func TestPeerRename(t *testing.T) {
	p := newPeer(map[string]any{"user": "alice"}, nil, "sid-4", "")
	snap := p.asMap(map[string]any{"name": "Alice In Chains"})
	if p.Name != "Alice In Chains" {
		t.Error("rename override did not stick on the peer")
	}
	if snap["name"] != "Alice In Chains" {
		t.Error("renamed peer did not round-trip in the same snapshot")
	}
}

func TestPresenceStripsToken(t *testing.T) {
	p := newPeer(map[string]any{"user": "alice", "token": "secret-token"}, nil, "sid-5", "")
	pres := p.presence(nil, flatCodec{})

	if pres["type"] != "presence" {
		t.Errorf("type = %v, want presence", pres["type"])
	}
	if pres["from"] != "alice|sid-5" {
		t.Errorf("from = %v, want alice|sid-5", pres["from"])
	}
	data := pres["data"].(map[string]any)
	if _, ok := data["token"]; ok {
		t.Error("presence snapshot leaks the session token")
	}
}

func TestPresencePreservesEnvelope(t *testing.T) {
	p := newPeer(map[string]any{"user": "alice"}, nil, "sid-6", "")
	src := map[string]any{
		"from": "someone-else",
		"data": map[string]any{"name": "New Name"},
	}
	pres := p.presence(src, flatCodec{})

	// A caller-provided from is kept.
	if pres["from"] != "someone-else" {
		t.Errorf("from = %v, want someone-else", pres["from"])
	}
	// The data override renamed the peer.
	if p.Name != "New Name" {
		t.Error("presence data name did not rename the peer")
	}
}
