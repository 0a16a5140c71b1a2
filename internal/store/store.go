// Package store holds the server's in-memory chat state: users, groups,
// messages and the journaled ID counter. The store performs no locking of
// its own; the server serializes all access behind one mutex.
package store

import (
	"slices"

	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/protocol"
)

// User is a registered chat identity. Name is the primary identifier and
// never changes; everything else is session state.
type User struct {
	Name      string
	Status    string
	LoggedIn  bool
	SessionID int32
	// Conn is the server-assigned id of the connection holding the
	// session, 0 when logged out.
	Conn int64
	// LastHeartbeat is unix seconds, refreshed on login and directory
	// reads. Liveness pruning works off the connection table instead.
	LastHeartbeat int64
}

// Group is an immutable named member list. Members are usernames in the
// order the registration request listed them, duplicates included.
type Group struct {
	Name    string
	Members []string
}

// Recipient addresses a message to one user or one group.
type Recipient struct {
	Kind protocol.RecipientType
	Name string
}

// Message is one delivered message. Group sends fan out to one Message per
// member, so stored recipients are in practice always user-kind.
type Message struct {
	ID        int32
	Content   string
	Sender    string
	Recipient Recipient
}

// AuthResult classifies a session id presented on a connection.
type AuthResult int

const (
	AuthOK AuthResult = iota
	// AuthUnknownSession means no user carries the presented session id.
	AuthUnknownSession
	// AuthNotBound means the session resolved to a user who is logged out
	// or whose session belongs to a different connection.
	AuthNotBound
)

// Store owns all chat state. The journal handle is used only by
// AllocateID; every other journal write happens in the protocol handlers
// before the corresponding mutation.
type Store struct {
	users    []User
	groups   []Group
	messages []Message
	counter  int32
	j        *journal.Journal
}

func New(j *journal.Journal) *Store {
	return &Store{j: j}
}

// Journal returns the journal backing this store.
func (s *Store) Journal() *journal.Journal { return s.j }

// AllocateID advances the ID counter, journals the new value and returns
// it. Session ids and message ids share the counter.
func (s *Store) AllocateID() int32 {
	s.counter++
	s.j.Append(journal.UpdateID{ID: s.counter})
	return s.counter
}

// bumpCounter advances the counter without journaling. Replay uses it when
// re-expanding group sends; the UPDATE_ID records that follow in the file
// confirm the same values.
func (s *Store) bumpCounter() int32 {
	s.counter++
	return s.counter
}

// applyCounter raises the counter to at least id. Replay applies UPDATE_ID
// records through it so a truncated tail can never move the counter
// backwards.
func (s *Store) applyCounter(id int32) {
	if id > s.counter {
		s.counter = id
	}
}

// Counter returns the current ID counter value.
func (s *Store) Counter() int32 { return s.counter }

func (s *Store) FindUserByName(name string) *User {
	for i := range s.users {
		if s.users[i].Name == name {
			return &s.users[i]
		}
	}
	return nil
}

// FindUserBySession matches the stored session id verbatim, including the
// logged-out value -1. A probe with -1 therefore resolves to the first
// logged-out user, whose LoggedIn state decides the caller's reply.
func (s *Store) FindUserBySession(id int32) *User {
	for i := range s.users {
		if s.users[i].SessionID == id {
			return &s.users[i]
		}
	}
	return nil
}

// UsersOnConn returns every user whose session is bound to the connection.
func (s *Store) UsersOnConn(conn int64) []*User {
	var bound []*User
	for i := range s.users {
		if s.users[i].LoggedIn && s.users[i].Conn == conn {
			bound = append(bound, &s.users[i])
		}
	}
	return bound
}

func (s *Store) FindGroupByName(name string) *Group {
	for i := range s.groups {
		if s.groups[i].Name == name {
			return &s.groups[i]
		}
	}
	return nil
}

func (s *Store) FindMessageByID(id int32) *Message {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return &s.messages[i]
		}
	}
	return nil
}

// AddUser registers a name. New users start logged out with the default
// status.
func (s *Store) AddUser(name string) {
	s.users = append(s.users, User{
		Name:      name,
		Status:    "Offline",
		SessionID: protocol.NoSession,
	})
}

func (s *Store) AddGroup(name string, members []string) {
	s.groups = append(s.groups, Group{Name: name, Members: members})
}

func (s *Store) AddMessage(m Message) {
	s.messages = append(s.messages, m)
}

// RemoveMessage deletes the message with the given id, preserving order of
// the rest. Reports whether a message was removed.
func (s *Store) RemoveMessage(id int32) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = slices.Delete(s.messages, i, i+1)
			return true
		}
	}
	return false
}

// Users returns the live user slice in registration order. Callers must
// hold the server lock and must not mutate.
func (s *Store) Users() []User { return s.users }

// Groups returns the live group slice in registration order. Same access
// rules as Users.
func (s *Store) Groups() []Group { return s.groups }

// Messages returns the live message slice in delivery order. Same access
// rules as Users.
func (s *Store) Messages() []Message { return s.messages }

// Usernames resolves a recipient to the usernames it stands for: the user
// itself, or the group's members. An unresolvable group yields nil.
func (s *Store) Usernames(r Recipient) []string {
	switch r.Kind {
	case protocol.RecipientUser:
		return []string{r.Name}
	case protocol.RecipientGroup:
		if g := s.FindGroupByName(r.Name); g != nil {
			return g.Members
		}
	}
	return nil
}

// MessagesFor returns every message addressed to the named user, in
// delivery order.
func (s *Store) MessagesFor(name string) []Message {
	var inbox []Message
	for i := range s.messages {
		if slices.Contains(s.Usernames(s.messages[i].Recipient), name) {
			inbox = append(inbox, s.messages[i])
		}
	}
	return inbox
}

// Authenticate resolves a session id presented on a connection. The user
// is returned only when the session resolves, the user is logged in, and
// the session is bound to the presenting connection.
func (s *Store) Authenticate(session int32, conn int64) (*User, AuthResult) {
	u := s.FindUserBySession(session)
	if u == nil {
		return nil, AuthUnknownSession
	}
	if !u.LoggedIn || u.Conn != conn {
		return nil, AuthNotBound
	}
	return u, AuthOK
}

// Login binds a user to a fresh session on the given connection.
func (s *Store) Login(u *User, session int32, conn int64, now int64) {
	u.Status = "Online"
	u.LoggedIn = true
	u.SessionID = session
	u.Conn = conn
	u.LastHeartbeat = now
}

// Logout reverts a user to the offline state.
func (s *Store) Logout(u *User) {
	u.Status = "Offline"
	u.LoggedIn = false
	u.SessionID = protocol.NoSession
	u.Conn = 0
	u.LastHeartbeat = 0
}
