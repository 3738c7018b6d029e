package core

import "context"

// Presence maps durable participant identities to their current live connection.
// It is owned by the hub goroutine and is not safe for concurrent use.
type Presence struct {
	byIdentity map[string]*Client
	byClient   map[*Client]string
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{
		byIdentity: make(map[string]*Client),
		byClient:   make(map[*Client]string),
	}
}

// Register associates identity with c, replacing any prior association.
// It returns the connection that was displaced, if any. A connection holds at
// most one identity, so registering c under a new identity drops its old one.
func (p *Presence) Register(identity string, c *Client) (displaced *Client) {
	if old, ok := p.byClient[c]; ok && old != identity {
		delete(p.byIdentity, old)
	}
	if prev, ok := p.byIdentity[identity]; ok && prev != c {
		delete(p.byClient, prev)
		displaced = prev
	}
	p.byIdentity[identity] = c
	p.byClient[c] = identity
	return displaced
}

// Lookup returns the live connection of identity.
func (p *Presence) Lookup(identity string) (*Client, bool) {
	c, ok := p.byIdentity[identity]
	return c, ok
}

// IdentityOf returns the identity c is registered under.
func (p *Presence) IdentityOf(c *Client) (string, bool) {
	identity, ok := p.byClient[c]
	return identity, ok
}

// Unregister removes whatever identity is mapped to c.
// ok is false when c had no binding (never registered or already displaced).
func (p *Presence) Unregister(c *Client) (identity string, ok bool) {
	identity, ok = p.byClient[c]
	if !ok {
		return "", false
	}
	delete(p.byClient, c)
	if p.byIdentity[identity] == c {
		delete(p.byIdentity, identity)
	}
	return identity, true
}

// Identities returns every registered identity with its connection id.
func (p *Presence) Identities() map[string]string {
	out := make(map[string]string, len(p.byIdentity))
	for identity, c := range p.byIdentity {
		out[identity] = c.ID
	}
	return out
}

// PresenceMirror publishes online status outside the process.
type PresenceMirror interface {
	SetOnline(ctx context.Context, identity, connID string) error
	SetOffline(ctx context.Context, identity string) error
}
