package core

import "testing"

func TestPresenceRegisterReplacesPriorConnection(t *testing.T) {
	p := NewPresence()
	old := NewClient("c1", "", 0)
	fresh := NewClient("c2", "", 0)

	if displaced := p.Register("alice", old); displaced != nil {
		t.Fatalf("unexpected displaced client %s", displaced.ID)
	}
	if displaced := p.Register("alice", fresh); displaced != old {
		t.Fatalf("expected old connection to be displaced, got %v", displaced)
	}

	got, ok := p.Lookup("alice")
	if !ok || got != fresh {
		t.Fatalf("lookup returned %v, want fresh connection", got)
	}
	if _, ok := p.IdentityOf(old); ok {
		t.Fatal("displaced connection still holds an identity")
	}
}

func TestPresenceUnregisterStaleConnection(t *testing.T) {
	p := NewPresence()
	old := NewClient("c1", "", 0)
	fresh := NewClient("c2", "", 0)
	p.Register("alice", old)
	p.Register("alice", fresh)

	if _, ok := p.Unregister(old); ok {
		t.Fatal("stale connection should have nothing to unregister")
	}
	if got, ok := p.Lookup("alice"); !ok || got != fresh {
		t.Fatal("unregistering a stale connection removed the live binding")
	}

	identity, ok := p.Unregister(fresh)
	if !ok || identity != "alice" {
		t.Fatalf("unregister returned %q, %v", identity, ok)
	}
	if _, ok := p.Lookup("alice"); ok {
		t.Fatal("alice still present after unregister")
	}
}

func TestPresenceConnectionSwitchesIdentity(t *testing.T) {
	p := NewPresence()
	c := NewClient("c1", "", 0)

	p.Register("alice", c)
	p.Register("bob", c)

	if _, ok := p.Lookup("alice"); ok {
		t.Fatal("old identity still resolves to the connection")
	}
	if identity, _ := p.IdentityOf(c); identity != "bob" {
		t.Fatalf("expected bob, got %q", identity)
	}
	if n := len(p.Identities()); n != 1 {
		t.Fatalf("expected one identity, got %d", n)
	}
}
