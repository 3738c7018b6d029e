package core

// Client is one live transport session as seen by the core layer.
// closed is owned by the hub goroutine.
type Client struct {
	ID       string
	Name     string
	Commands chan *Command
	Events   chan *Event

	closed bool
	done   chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id, name string, buffer int) *Client {
	if name == "" {
		name = id
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:       id,
		Name:     name,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
