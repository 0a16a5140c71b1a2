package store

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/protocol"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.chatjournal")
	j, err := journal.Open(path)
	assert.NilError(t, err)
	t.Cleanup(func() { j.Close() })
	return New(j), path
}

func TestAllocateIDJournalsEachValue(t *testing.T) {
	s, path := newTestStore(t)

	assert.Equal(t, s.AllocateID(), int32(1))
	assert.Equal(t, s.AllocateID(), int32(2))
	assert.Equal(t, s.AllocateID(), int32(3))
	assert.Equal(t, s.Counter(), int32(3))

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "\nUPDATE_ID 1\nUPDATE_ID 2\nUPDATE_ID 3")
}

func TestAddUserDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddUser("alice")

	u := s.FindUserByName("alice")
	assert.Assert(t, u != nil)
	assert.Equal(t, u.Status, "Offline")
	assert.Equal(t, u.LoggedIn, false)
	assert.Equal(t, u.SessionID, protocol.NoSession)
	assert.Equal(t, u.Conn, int64(0))
}

func TestLoginLogoutInvariants(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddUser("alice")
	u := s.FindUserByName("alice")

	s.Login(u, 7, 42, 1700000000)
	assert.Equal(t, u.Status, "Online")
	assert.Equal(t, u.LoggedIn, true)
	assert.Equal(t, u.SessionID, int32(7))
	assert.Equal(t, u.Conn, int64(42))
	assert.Equal(t, u.LastHeartbeat, int64(1700000000))

	s.Logout(u)
	assert.Equal(t, u.Status, "Offline")
	assert.Equal(t, u.LoggedIn, false)
	assert.Equal(t, u.SessionID, protocol.NoSession)
	assert.Equal(t, u.Conn, int64(0))
}

func TestAuthenticate(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddUser("alice")
	s.AddUser("bob")
	s.Login(s.FindUserByName("alice"), 5, 10, 0)

	tests := []struct {
		name    string
		session int32
		conn    int64
		result  AuthResult
	}{
		{"valid session on its connection", 5, 10, AuthOK},
		{"valid session from another connection", 5, 11, AuthNotBound},
		{"session id nobody holds", 99, 10, AuthUnknownSession},
		{"logged-out sentinel matches an idle user", protocol.NoSession, 10, AuthNotBound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, result := s.Authenticate(tt.session, tt.conn)
			assert.Equal(t, result, tt.result)
			if tt.result == AuthOK {
				assert.Equal(t, u.Name, "alice")
			} else {
				assert.Assert(t, u == nil)
			}
		})
	}
}

func TestSessionIDsUniqueAcrossLogins(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddUser("alice")
	s.AddUser("bob")

	a := s.FindUserByName("alice")
	b := s.FindUserByName("bob")
	s.Login(a, s.AllocateID(), 1, 0)
	s.Login(b, s.AllocateID(), 2, 0)
	assert.Assert(t, a.SessionID != b.SessionID)

	// Re-login yields a strictly larger id.
	first := a.SessionID
	s.Logout(a)
	s.Login(a, s.AllocateID(), 3, 0)
	assert.Assert(t, a.SessionID > first)
}

func TestUsernames(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddUser("alice")
	s.AddUser("bob")
	s.AddGroup("g1", []string{"alice", "bob"})

	assert.DeepEqual(t, s.Usernames(Recipient{Kind: protocol.RecipientUser, Name: "alice"}), []string{"alice"})
	assert.DeepEqual(t, s.Usernames(Recipient{Kind: protocol.RecipientGroup, Name: "g1"}), []string{"alice", "bob"})
	assert.Assert(t, s.Usernames(Recipient{Kind: protocol.RecipientGroup, Name: "missing"}) == nil)
}

func TestMessagesFor(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddUser("alice")
	s.AddUser("bob")

	s.AddMessage(Message{ID: 1, Content: "for alice", Sender: "bob", Recipient: Recipient{Kind: protocol.RecipientUser, Name: "alice"}})
	s.AddMessage(Message{ID: 2, Content: "for bob", Sender: "alice", Recipient: Recipient{Kind: protocol.RecipientUser, Name: "bob"}})
	s.AddMessage(Message{ID: 3, Content: "also alice", Sender: "bob", Recipient: Recipient{Kind: protocol.RecipientUser, Name: "alice"}})

	inbox := s.MessagesFor("alice")
	assert.Equal(t, len(inbox), 2)
	assert.Equal(t, inbox[0].Content, "for alice")
	assert.Equal(t, inbox[1].Content, "also alice")

	assert.Equal(t, len(s.MessagesFor("bob")), 1)
	assert.Equal(t, len(s.MessagesFor("carol")), 0)
}

func TestRemoveMessageKeepsOrder(t *testing.T) {
	s, _ := newTestStore(t)
	for id := int32(1); id <= 3; id++ {
		s.AddMessage(Message{ID: id, Recipient: Recipient{Kind: protocol.RecipientUser, Name: "alice"}})
	}

	assert.Assert(t, s.RemoveMessage(2))
	assert.Assert(t, !s.RemoveMessage(2))

	msgs := s.Messages()
	assert.Equal(t, len(msgs), 2)
	assert.Equal(t, msgs[0].ID, int32(1))
	assert.Equal(t, msgs[1].ID, int32(3))
}

func TestUsersOnConn(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddUser("alice")
	s.AddUser("bob")
	s.AddUser("carol")
	s.Login(s.FindUserByName("alice"), 1, 7, 0)
	s.Login(s.FindUserByName("bob"), 2, 7, 0)
	s.Login(s.FindUserByName("carol"), 3, 8, 0)

	bound := s.UsersOnConn(7)
	assert.Equal(t, len(bound), 2)
	assert.Equal(t, bound[0].Name, "alice")
	assert.Equal(t, bound[1].Name, "bob")
}
