package discord

import "testing"

func TestResolverNilSession(t *testing.T) {
	r := NewResolver(nil, "guild")
	if got := r.UserName("42"); got != "" {
		t.Fatalf("nil session resolved %q", got)
	}
}

func TestResolverEmptyUserID(t *testing.T) {
	r := NewResolver(nil, "guild")
	if got := r.UserName(""); got != "" {
		t.Fatalf("empty user id resolved %q", got)
	}
}
