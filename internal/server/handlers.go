package server

import (
	"log/slog"
	"slices"
	"time"

	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/protocol"
)

// reply writes a status byte and reports whether the client is still there.
// A transport failure aborts the conversation with nothing rolled back; the
// sweep reclaims the connection later.
func (s *Server) reply(c *conn, st protocol.Status) bool {
	if err := c.pc.WriteStatus(st); err != nil {
		slog.Debug("write status", "conn", c.id, "err", err)
		return false
	}
	return true
}

func (s *Server) readSession(c *conn) (int32, bool) {
	session, err := c.pc.ReadI32()
	if err != nil {
		slog.Debug("read session id", "conn", c.id, "err", err)
		return 0, false
	}
	return session, true
}

// REGISTER: one unframed payload carries the candidate name; the value is
// whatever the first receive delivers. That is the inherited wire format,
// quirk included.
func (s *Server) handleRegister(c *conn) {
	buf, err := c.pc.ReadChunk(protocol.MaxPayload - 1)
	if err != nil {
		slog.Debug("read register name", "conn", c.id, "err", err)
		return
	}
	name := string(buf)

	s.mu.Lock()
	if s.store.FindUserByName(name) != nil {
		s.mu.Unlock()
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	s.j.Append(journal.NewUser{Name: name})
	s.store.AddUser(name)
	s.mu.Unlock()

	slog.Info("user registered", "user", name)
	s.reply(c, protocol.StatusSuccess)
}

// LOGIN binds a name to a fresh session id. The reply is always the session
// id followed by a status; a rejected login carries -1 and allocates
// nothing, so failed attempts burn no journaled ids.
func (s *Server) handleLogin(c *conn) {
	buf, err := c.pc.ReadChunk(protocol.MaxPayload - 1)
	if err != nil {
		slog.Debug("read login name", "conn", c.id, "err", err)
		return
	}
	name := string(buf)

	s.mu.Lock()
	u := s.store.FindUserByName(name)
	if u == nil || u.LoggedIn {
		s.mu.Unlock()
		slog.Debug("login rejected", "user", name)
		if err := c.pc.WriteI32(protocol.NoSession); err != nil {
			slog.Debug("write session id", "conn", c.id, "err", err)
			return
		}
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	session := s.store.AllocateID()
	s.store.Login(u, session, c.id, time.Now().Unix())
	s.mu.Unlock()

	slog.Info("user logged in", "user", name, "session", session, "conn", c.id)
	if err := c.pc.WriteI32(session); err != nil {
		slog.Debug("write session id", "conn", c.id, "err", err)
		return
	}
	s.reply(c, protocol.StatusSuccess)
}

// LOGOUT releases the caller's session. The connection stays open.
func (s *Server) handleLogout(c *conn) {
	session, ok := s.readSession(c)
	if !ok {
		return
	}

	s.mu.Lock()
	u, res := s.store.Authenticate(session, c.id)
	if res != store.AuthOK {
		s.mu.Unlock()
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	name := u.Name
	s.store.Logout(u)
	s.mu.Unlock()

	slog.Info("user logged out", "user", name)
	s.reply(c, protocol.StatusSuccess)
}

// SET_STATUS: authenticate, ack, then read the unframed status payload.
func (s *Server) handleSetStatus(c *conn) {
	session, ok := s.readSession(c)
	if !ok {
		return
	}

	s.mu.Lock()
	u, res := s.store.Authenticate(session, c.id)
	var name string
	if res == store.AuthOK {
		name = u.Name
	}
	s.mu.Unlock()
	if res != store.AuthOK {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	if !s.reply(c, protocol.StatusSuccess) {
		return
	}

	buf, err := c.pc.ReadChunk(protocol.MaxPayload - 1)
	if err != nil {
		slog.Debug("read status payload", "conn", c.id, "err", err)
		return
	}
	if len(buf) == 0 || len(buf) > protocol.MaxStatusLength {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	status := string(buf)

	s.mu.Lock()
	if u := s.store.FindUserByName(name); u != nil {
		u.Status = status
	}
	s.mu.Unlock()

	slog.Info("user updated status", "user", name, "status", status)
	s.reply(c, protocol.StatusSuccess)
}

// SEND_MESSAGE: authenticate, ack, then recipient type, recipient name and
// content. A direct message journals UPDATE_ID then NEW_MESSAGE; a group
// send journals one NEW_MESSAGE for the whole fan-out and then allocates
// per-member ids, which replay re-derives by expanding the group again.
func (s *Server) handleSendMessage(c *conn) {
	session, ok := s.readSession(c)
	if !ok {
		return
	}

	s.mu.Lock()
	u, res := s.store.Authenticate(session, c.id)
	var sender string
	if res == store.AuthOK {
		sender = u.Name
	}
	s.mu.Unlock()
	if res != store.AuthOK {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	if !s.reply(c, protocol.StatusSuccess) {
		return
	}

	kind, err := c.pc.ReadU8()
	if err != nil {
		slog.Debug("read recipient type", "conn", c.id, "err", err)
		return
	}
	recipient, err := c.pc.ReadString()
	if err != nil {
		slog.Debug("read recipient name", "conn", c.id, "err", err)
		return
	}
	content, err := c.pc.ReadString()
	if err != nil {
		slog.Debug("read message content", "conn", c.id, "err", err)
		return
	}
	if len(content) == 0 || len(content) > protocol.MaxMessageLength {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}

	resolved := false
	delivered := 0
	s.mu.Lock()
	switch protocol.RecipientType(kind) {
	case protocol.RecipientUser:
		if s.store.FindUserByName(recipient) == nil {
			break
		}
		resolved = true
		id := s.store.AllocateID()
		s.j.Append(journal.NewMessage{
			Sender:        sender,
			RecipientType: protocol.RecipientUser,
			Recipient:     recipient,
			Content:       content,
		})
		s.store.AddMessage(store.Message{
			ID:        id,
			Content:   content,
			Sender:    sender,
			Recipient: store.Recipient{Kind: protocol.RecipientUser, Name: recipient},
		})
		delivered = 1

	case protocol.RecipientGroup:
		g := s.store.FindGroupByName(recipient)
		if g == nil {
			break
		}
		resolved = true
		s.j.Append(journal.NewMessage{
			Sender:        sender,
			RecipientType: protocol.RecipientGroup,
			Recipient:     recipient,
			Content:       content,
		})
		for _, member := range g.Members {
			s.store.AddMessage(store.Message{
				ID:        s.store.AllocateID(),
				Content:   content,
				Sender:    sender,
				Recipient: store.Recipient{Kind: protocol.RecipientUser, Name: member},
			})
		}
		delivered = len(g.Members)
	}
	s.mu.Unlock()

	if !resolved {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}

	s.metrics.MessagesDelivered(delivered)
	slog.Debug("message delivered", "from", sender, "to", recipient, "copies", delivered)
	s.reply(c, protocol.StatusSuccess)
}

// DELETE_MESSAGE: only the message's recipient may delete it.
func (s *Server) handleDeleteMessage(c *conn) {
	session, ok := s.readSession(c)
	if !ok {
		return
	}

	s.mu.Lock()
	u, res := s.store.Authenticate(session, c.id)
	var caller string
	if res == store.AuthOK {
		caller = u.Name
	}
	s.mu.Unlock()
	if res != store.AuthOK {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	if !s.reply(c, protocol.StatusSuccess) {
		return
	}

	id, err := c.pc.ReadI32()
	if err != nil {
		slog.Debug("read message id", "conn", c.id, "err", err)
		return
	}

	s.mu.Lock()
	m := s.store.FindMessageByID(id)
	if m == nil {
		s.mu.Unlock()
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	names := s.store.Usernames(m.Recipient)
	if len(names) == 0 || names[0] != caller {
		s.mu.Unlock()
		s.reply(c, protocol.StatusUnauthorized)
		return
	}
	s.j.Append(journal.DeleteMessage{ID: id})
	s.store.RemoveMessage(id)
	s.mu.Unlock()

	s.metrics.MessageDeleted()
	slog.Info("message deleted", "id", id, "by", caller)
	s.reply(c, protocol.StatusSuccess)
}

// GET_USERS returns the directory in registration order. The directory
// handlers distinguish an unknown session (malformed request) from a known
// session that is not live on this connection (unauthorized), and refresh
// the caller's heartbeat field the way the original server did.
func (s *Server) handleGetUsers(c *conn) {
	session, ok := s.readSession(c)
	if !ok {
		return
	}

	s.mu.Lock()
	u, res := s.store.Authenticate(session, c.id)
	var list []store.User
	if res == store.AuthOK {
		u.LastHeartbeat = time.Now().Unix()
		list = slices.Clone(s.store.Users())
	}
	s.mu.Unlock()

	switch res {
	case store.AuthUnknownSession:
		s.reply(c, protocol.StatusInvalidRequest)
		return
	case store.AuthNotBound:
		s.reply(c, protocol.StatusUnauthorized)
		return
	}

	if !s.reply(c, protocol.StatusSuccess) {
		return
	}
	if err := c.pc.WriteU32(uint32(len(list))); err != nil {
		slog.Debug("write user count", "conn", c.id, "err", err)
		return
	}
	for _, du := range list {
		if err := c.pc.WriteString(du.Name); err != nil {
			slog.Debug("write user name", "conn", c.id, "err", err)
			return
		}
		if err := c.pc.WriteString(du.Status); err != nil {
			slog.Debug("write user status", "conn", c.id, "err", err)
			return
		}
	}
	s.reply(c, protocol.StatusSuccess)
}

// GET_GROUPS mirrors GET_USERS for the group directory.
func (s *Server) handleGetGroups(c *conn) {
	session, ok := s.readSession(c)
	if !ok {
		return
	}

	s.mu.Lock()
	u, res := s.store.Authenticate(session, c.id)
	var list []store.Group
	if res == store.AuthOK {
		u.LastHeartbeat = time.Now().Unix()
		list = slices.Clone(s.store.Groups())
	}
	s.mu.Unlock()

	switch res {
	case store.AuthUnknownSession:
		s.reply(c, protocol.StatusInvalidRequest)
		return
	case store.AuthNotBound:
		s.reply(c, protocol.StatusUnauthorized)
		return
	}

	if !s.reply(c, protocol.StatusSuccess) {
		return
	}
	if err := c.pc.WriteU32(uint32(len(list))); err != nil {
		slog.Debug("write group count", "conn", c.id, "err", err)
		return
	}
	for _, g := range list {
		if err := c.pc.WriteString(g.Name); err != nil {
			slog.Debug("write group name", "conn", c.id, "err", err)
			return
		}
		if err := c.pc.WriteU32(uint32(len(g.Members))); err != nil {
			slog.Debug("write member count", "conn", c.id, "err", err)
			return
		}
		for _, member := range g.Members {
			if err := c.pc.WriteString(member); err != nil {
				slog.Debug("write group member", "conn", c.id, "err", err)
				return
			}
		}
	}
	s.reply(c, protocol.StatusSuccess)
}

// GET_MESSAGES returns the caller's inbox: every stored message whose
// recipient resolves to them.
func (s *Server) handleGetMessages(c *conn) {
	session, ok := s.readSession(c)
	if !ok {
		return
	}

	s.mu.Lock()
	u, res := s.store.Authenticate(session, c.id)
	var inbox []store.Message
	if res == store.AuthOK {
		u.LastHeartbeat = time.Now().Unix()
		inbox = s.store.MessagesFor(u.Name)
	}
	s.mu.Unlock()

	switch res {
	case store.AuthUnknownSession:
		s.reply(c, protocol.StatusInvalidRequest)
		return
	case store.AuthNotBound:
		s.reply(c, protocol.StatusUnauthorized)
		return
	}

	if !s.reply(c, protocol.StatusSuccess) {
		return
	}
	if err := c.pc.WriteU32(uint32(len(inbox))); err != nil {
		slog.Debug("write message count", "conn", c.id, "err", err)
		return
	}
	for _, m := range inbox {
		if err := c.pc.WriteI32(m.ID); err != nil {
			slog.Debug("write message id", "conn", c.id, "err", err)
			return
		}
		if err := c.pc.WriteString(m.Sender); err != nil {
			slog.Debug("write message sender", "conn", c.id, "err", err)
			return
		}
		if err := c.pc.WriteString(m.Content); err != nil {
			slog.Debug("write message content", "conn", c.id, "err", err)
			return
		}
	}
	s.reply(c, protocol.StatusSuccess)
}

// HEARTBEAT carries no session id; liveness belongs to the connection, not
// the user. The unknown-table branch fires only when the sweep evicted this
// connection while the opcode was in flight.
func (s *Server) handleHeartbeat(c *conn) {
	if !s.known(c.id) {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	c.touch()
	s.reply(c, protocol.StatusSuccess)
}

// REGISTER_GROUP runs without a session id, like REGISTER. The member list
// is validated as a whole after it has been read; a bad member leaves no
// partial state behind.
func (s *Server) handleRegisterGroup(c *conn) {
	name, err := c.pc.ReadString()
	if err != nil {
		slog.Debug("read group name", "conn", c.id, "err", err)
		return
	}

	s.mu.Lock()
	taken := name == "" || s.store.FindGroupByName(name) != nil
	s.mu.Unlock()
	if taken {
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	if !s.reply(c, protocol.StatusSuccess) {
		return
	}

	count, err := c.pc.ReadU32()
	if err != nil {
		slog.Debug("read member count", "conn", c.id, "err", err)
		return
	}
	var members []string
	for i := uint32(0); i < count; i++ {
		member, err := c.pc.ReadString()
		if err != nil {
			slog.Debug("read group member", "conn", c.id, "err", err)
			return
		}
		members = append(members, member)
	}

	s.mu.Lock()
	valid := s.store.FindGroupByName(name) == nil
	for _, member := range members {
		if s.store.FindUserByName(member) == nil {
			valid = false
			break
		}
	}
	if !valid {
		s.mu.Unlock()
		s.reply(c, protocol.StatusInvalidRequest)
		return
	}
	s.j.Append(journal.NewGroup{Name: name, Members: members})
	s.store.AddGroup(name, members)
	s.mu.Unlock()

	slog.Info("group registered", "group", name, "members", len(members))
	s.reply(c, protocol.StatusSuccess)
}
