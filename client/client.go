// Package client speaks the chat protocol from the connecting side. A
// Client owns one TCP connection and runs each request/reply conversation
// under a single lock, so a background heartbeat can share the connection
// with foreground calls without interleaving on the wire.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/parley-chat/parley/protocol"
)

const defaultReadTimeout = 5 * time.Second

type options struct {
	readTimeout time.Duration
}

type Option func(*options)

// WithReadTimeout bounds how long a single reply read may block. Zero
// disables the bound.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readTimeout = d
	}
}

// Client is one connection to a chat server. Methods are safe for
// concurrent use.
type Client struct {
	mu      sync.Mutex
	conn    *protocol.Conn
	session int32
	user    string

	hbStop chan struct{}
	hbDone chan struct{}
}

// Message is one inbox entry.
type Message struct {
	ID      int32
	Sender  string
	Content string
}

// User is one user directory entry.
type User struct {
	Name   string
	Status string
}

// Group is one group directory entry.
type Group struct {
	Name    string
	Members []string
}

func Dial(addr string, opts ...Option) (*Client, error) {
	o := options{readTimeout: defaultReadTimeout}
	for _, fn := range opts {
		fn(&o)
	}

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{
		conn:    protocol.NewConn(nc, o.readTimeout),
		session: protocol.NoSession,
	}, nil
}

// Close stops the heartbeat if one is running, announces the departure and
// closes the connection. The server keeps any live session until it is
// logged out or swept.
func (c *Client) Close() error {
	c.StopHeartbeat()
	c.mu.Lock()
	defer c.mu.Unlock()
	// Best effort; the server never replies to a goodbye.
	_ = c.conn.WriteOpcode(protocol.OpGoodbye)
	return c.conn.Close()
}

// Session returns the current session id, or protocol.NoSession.
func (c *Client) Session() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Name returns the name this client logged in with, or "".
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != protocol.NoSession
}

// expect reads the server's status byte and maps failure values onto the
// package error sentinels.
func (c *Client) expect(op string) error {
	st, err := c.conn.ReadStatus()
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}
	switch st {
	case protocol.StatusSuccess:
		return nil
	case protocol.StatusInvalidRequest:
		return fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	case protocol.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	default:
		return fmt.Errorf("%s: unexpected status 0x%02x", op, uint8(st))
	}
}

// begin opens an authenticated conversation: opcode, then session id. The
// caller reads the status that follows.
func (c *Client) begin(op protocol.Opcode, name string) error {
	if c.session == protocol.NoSession {
		return fmt.Errorf("%s: %w", name, ErrNotLoggedIn)
	}
	if err := c.conn.WriteOpcode(op); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	if err := c.conn.WriteI32(c.session); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// Register claims a username. The name travels unframed, so an empty name
// would put nothing on the wire; it is rejected here instead.
func (c *Client) Register(name string) error {
	if name == "" {
		return fmt.Errorf("register: %w", ErrInvalidRequest)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteOpcode(protocol.OpRegister); err != nil {
		return fmt.Errorf("send register: %w", err)
	}
	if err := c.conn.WriteRaw([]byte(name)); err != nil {
		return fmt.Errorf("send register: %w", err)
	}
	return c.expect("register")
}

// Login binds name to a fresh session on this connection and returns the
// session id.
func (c *Client) Login(name string) (int32, error) {
	if name == "" {
		return protocol.NoSession, fmt.Errorf("login: %w", ErrInvalidRequest)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteOpcode(protocol.OpLogin); err != nil {
		return protocol.NoSession, fmt.Errorf("send login: %w", err)
	}
	if err := c.conn.WriteRaw([]byte(name)); err != nil {
		return protocol.NoSession, fmt.Errorf("send login: %w", err)
	}
	session, err := c.conn.ReadI32()
	if err != nil {
		return protocol.NoSession, fmt.Errorf("read login response: %w", err)
	}
	if err := c.expect("login"); err != nil {
		return protocol.NoSession, err
	}
	c.session = session
	c.user = name
	return session, nil
}

// Logout releases the session. The connection stays usable.
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(protocol.OpLogout, "logout"); err != nil {
		return err
	}
	if err := c.expect("logout"); err != nil {
		return err
	}
	c.session = protocol.NoSession
	c.user = ""
	return nil
}

// SetStatus publishes a presence string, at most protocol.MaxStatusLength
// bytes. Like names, the payload travels unframed and cannot be empty.
func (c *Client) SetStatus(status string) error {
	if status == "" || len(status) > protocol.MaxStatusLength {
		return fmt.Errorf("set status: %w", ErrInvalidRequest)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(protocol.OpSetStatus, "set status"); err != nil {
		return err
	}
	if err := c.expect("set status"); err != nil {
		return err
	}
	if err := c.conn.WriteRaw([]byte(status)); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	return c.expect("set status")
}

// Send delivers a direct message to user.
func (c *Client) Send(user, content string) error {
	return c.send("send message", protocol.RecipientUser, user, content)
}

// SendGroup delivers content to every member of group, including the
// sender if they are a member.
func (c *Client) SendGroup(group, content string) error {
	return c.send("send group message", protocol.RecipientGroup, group, content)
}

func (c *Client) send(op string, kind protocol.RecipientType, recipient, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(protocol.OpSendMessage, op); err != nil {
		return err
	}
	if err := c.expect(op); err != nil {
		return err
	}
	if err := c.conn.WriteU8(uint8(kind)); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	if err := c.conn.WriteString(recipient); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	if err := c.conn.WriteString(content); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	return c.expect(op)
}

// DeleteMessage removes a message from the caller's inbox. Only the
// recipient may delete a message.
func (c *Client) DeleteMessage(id int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(protocol.OpDeleteMessage, "delete message"); err != nil {
		return err
	}
	if err := c.expect("delete message"); err != nil {
		return err
	}
	if err := c.conn.WriteI32(id); err != nil {
		return fmt.Errorf("send message id: %w", err)
	}
	return c.expect("delete message")
}

// Messages fetches the caller's inbox.
func (c *Client) Messages() ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(protocol.OpGetMessages, "get messages"); err != nil {
		return nil, err
	}
	if err := c.expect("get messages"); err != nil {
		return nil, err
	}
	n, err := c.conn.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("read message count: %w", err)
	}
	msgs := make([]Message, 0, n)
	for i := uint32(0); i < n; i++ {
		var m Message
		if m.ID, err = c.conn.ReadI32(); err != nil {
			return nil, fmt.Errorf("read message id: %w", err)
		}
		if m.Sender, err = c.conn.ReadString(); err != nil {
			return nil, fmt.Errorf("read message sender: %w", err)
		}
		if m.Content, err = c.conn.ReadString(); err != nil {
			return nil, fmt.Errorf("read message content: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := c.expect("get messages"); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Users fetches the user directory in registration order.
func (c *Client) Users() ([]User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(protocol.OpGetUsers, "get users"); err != nil {
		return nil, err
	}
	if err := c.expect("get users"); err != nil {
		return nil, err
	}
	n, err := c.conn.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("read user count: %w", err)
	}
	users := make([]User, 0, n)
	for i := uint32(0); i < n; i++ {
		var u User
		if u.Name, err = c.conn.ReadString(); err != nil {
			return nil, fmt.Errorf("read user name: %w", err)
		}
		if u.Status, err = c.conn.ReadString(); err != nil {
			return nil, fmt.Errorf("read user status: %w", err)
		}
		users = append(users, u)
	}
	if err := c.expect("get users"); err != nil {
		return nil, err
	}
	return users, nil
}

// Groups fetches the group directory with member lists.
func (c *Client) Groups() ([]Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(protocol.OpGetGroups, "get groups"); err != nil {
		return nil, err
	}
	if err := c.expect("get groups"); err != nil {
		return nil, err
	}
	n, err := c.conn.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("read group count: %w", err)
	}
	groups := make([]Group, 0, n)
	for i := uint32(0); i < n; i++ {
		var g Group
		if g.Name, err = c.conn.ReadString(); err != nil {
			return nil, fmt.Errorf("read group name: %w", err)
		}
		members, err := c.conn.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("read member count: %w", err)
		}
		for j := uint32(0); j < members; j++ {
			member, err := c.conn.ReadString()
			if err != nil {
				return nil, fmt.Errorf("read group member: %w", err)
			}
			g.Members = append(g.Members, member)
		}
		groups = append(groups, g)
	}
	if err := c.expect("get groups"); err != nil {
		return nil, err
	}
	return groups, nil
}

// RegisterGroup creates a named group. Every member must already be a
// registered user; no session is required. The server acks the name before
// the member list is sent, so a taken name fails without shipping members.
func (c *Client) RegisterGroup(name string, members []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteOpcode(protocol.OpRegisterGroup); err != nil {
		return fmt.Errorf("send register group: %w", err)
	}
	if err := c.conn.WriteString(name); err != nil {
		return fmt.Errorf("send group name: %w", err)
	}
	if err := c.expect("register group"); err != nil {
		return err
	}
	if err := c.conn.WriteU32(uint32(len(members))); err != nil {
		return fmt.Errorf("send member count: %w", err)
	}
	for _, m := range members {
		if err := c.conn.WriteString(m); err != nil {
			return fmt.Errorf("send group member: %w", err)
		}
	}
	return c.expect("register group")
}

// Heartbeat tells the server this connection is still alive. No session is
// required; liveness belongs to the connection.
func (c *Client) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteOpcode(protocol.OpHeartbeat); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	return c.expect("heartbeat")
}

// StartHeartbeat sends a heartbeat every interval until StopHeartbeat or
// Close. The loop exits on the first failed beat; a dead connection cannot
// be revived by beating harder.
func (c *Client) StartHeartbeat(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hbStop != nil {
		return
	}
	c.hbStop = make(chan struct{})
	c.hbDone = make(chan struct{})
	go c.heartbeatLoop(interval, c.hbStop, c.hbDone)
}

// StopHeartbeat halts the background heartbeat and waits for it to finish.
// Safe to call when none is running.
func (c *Client) StopHeartbeat() {
	c.mu.Lock()
	stop, done := c.hbStop, c.hbDone
	c.hbStop, c.hbDone = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Client) heartbeatLoop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				return
			}
		}
	}
}
