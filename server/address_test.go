package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlatParse(t *testing.T) {
	c := flatCodec{}
	cases := []struct {
		in   string
		want Address
	}{
		{"bob|77", Address{User: "bob", ID: "77"}},
		{"bob", Address{User: "bob"}},
		{"bob|", Address{User: "bob"}},
		{"", Address{}},
		{"|77", Address{ID: "77"}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, c.parse(tc.in)); diff != "" {
			t.Errorf("parse(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestGroupParse(t *testing.T) {
	c := groupCodec{}
	cases := []struct {
		in   string
		want Address
	}{
		{"alice@media/42", Address{User: "alice", Group: "media", ID: "42"}},
		{"alice@media", Address{User: "alice", Group: "media"}},
		{"media", Address{Group: "media"}},
		{"media/42", Address{Group: "media", ID: "42"}},
		{"", Address{}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, c.parse(tc.in)); diff != "" {
			t.Errorf("parse(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestAddressRoundTrip(t *testing.T) {
	flat := flatCodec{}
	p := &Peer{ID: "abc123", User: "bob", Group: "media"}
	addr := flat.parse(flat.build(p))
	if addr.User != p.User || addr.ID != p.ID {
		t.Errorf("flat round trip lost fields: %+v", addr)
	}

	group := groupCodec{}
	addr = group.parse(group.build(p))
	if addr.User != p.User || addr.ID != p.ID || addr.Group != p.Group {
		t.Errorf("group round trip lost fields: %+v", addr)
	}
}

func TestCodecRooms(t *testing.T) {
	p := &Peer{ID: "abc", User: "bob", Group: "media"}

	if diff := cmp.Diff([]string{"bob"}, flatCodec{}.rooms(p)); diff != "" {
		t.Errorf("flat rooms mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"user-bob", "group-media"}, groupCodec{}.rooms(p)); diff != "" {
		t.Errorf("group rooms mismatch (-want +got):\n%s", diff)
	}
}

func TestValidPeer(t *testing.T) {
	cases := []struct {
		peer      Peer
		flatValid bool
		grpValid  bool
	}{
		{Peer{ID: "1", User: "bob", Group: "g"}, true, true},
		{Peer{ID: "1", User: "bob"}, true, false},
		{Peer{ID: "1", Group: "g"}, false, false},
		{Peer{User: "bob", Group: "g"}, false, false},
	}
	for i, tc := range cases {
		if got := (flatCodec{}).validPeer(&tc.peer); got != tc.flatValid {
			t.Errorf("case %d: flat validPeer = %v, want %v", i, got, tc.flatValid)
		}
		if got := (groupCodec{}).validPeer(&tc.peer); got != tc.grpValid {
			t.Errorf("case %d: group validPeer = %v, want %v", i, got, tc.grpValid)
		}
	}
}

func TestCodecByName(t *testing.T) {
	if _, ok := codecByName("group").(groupCodec); !ok {
		t.Error("codecByName(group) did not return the group codec")
	}
	if _, ok := codecByName("flat").(flatCodec); !ok {
		t.Error("codecByName(flat) did not return the flat codec")
	}
	if _, ok := codecByName("").(flatCodec); !ok {
		t.Error("codecByName default is not the flat codec")
	}
}
