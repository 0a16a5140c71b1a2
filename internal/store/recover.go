package store

import (
	"fmt"
	"log/slog"

	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/protocol"
)

// Recover drains the journal into the store. It runs exactly once, before
// the server starts accepting connections, and never fails the process: a
// record that parses but cannot be applied marks the journal invalid and
// recovery stops with whatever state was already rebuilt.
func (s *Store) Recover() {
	var n int
	for s.j.HasMore() {
		rec, err := s.j.Next()
		if err != nil {
			break
		}
		if err := s.apply(rec); err != nil {
			s.j.Invalidate(err)
			break
		}
		n++
	}
	slog.Info("journal replayed",
		"records", n,
		"users", len(s.users),
		"groups", len(s.groups),
		"messages", len(s.messages),
		"counter", s.counter,
	)
}

// apply mutates the store for one replayed record, without journaling.
func (s *Store) apply(rec journal.Record) error {
	switch r := rec.(type) {
	case journal.NewUser:
		if s.FindUserByName(r.Name) != nil {
			return fmt.Errorf("replay: duplicate user %q", r.Name)
		}
		s.AddUser(r.Name)

	case journal.UpdateID:
		s.applyCounter(r.ID)

	case journal.NewMessage:
		switch r.RecipientType {
		case protocol.RecipientUser:
			if s.FindUserByName(r.Sender) == nil {
				return fmt.Errorf("replay: message from unknown user %q", r.Sender)
			}
			if s.FindUserByName(r.Recipient) == nil {
				return fmt.Errorf("replay: message to unknown user %q", r.Recipient)
			}
			// The UPDATE_ID for this message precedes it in the file, so
			// the counter already holds the message's id.
			s.AddMessage(Message{
				ID:        s.counter,
				Content:   r.Content,
				Sender:    r.Sender,
				Recipient: Recipient{Kind: protocol.RecipientUser, Name: r.Recipient},
			})

		case protocol.RecipientGroup:
			if s.FindUserByName(r.Sender) == nil {
				return fmt.Errorf("replay: message from unknown user %q", r.Sender)
			}
			g := s.FindGroupByName(r.Recipient)
			if g == nil {
				return fmt.Errorf("replay: message to unknown group %q", r.Recipient)
			}
			// One record stands for the whole fan-out. Expand over the
			// group's membership, advancing the counter per member; the
			// UPDATE_ID records that follow confirm the same values.
			for _, member := range g.Members {
				if s.FindUserByName(member) == nil {
					return fmt.Errorf("replay: group %q member %q unknown", g.Name, member)
				}
				s.AddMessage(Message{
					ID:        s.bumpCounter(),
					Content:   r.Content,
					Sender:    r.Sender,
					Recipient: Recipient{Kind: protocol.RecipientUser, Name: member},
				})
			}

		default:
			return fmt.Errorf("replay: message with recipient type %d", r.RecipientType)
		}

	case journal.DeleteMessage:
		if !s.RemoveMessage(r.ID) {
			return fmt.Errorf("replay: delete of unknown message %d", r.ID)
		}

	case journal.NewGroup:
		if s.FindGroupByName(r.Name) != nil {
			return fmt.Errorf("replay: duplicate group %q", r.Name)
		}
		for _, member := range r.Members {
			if s.FindUserByName(member) == nil {
				return fmt.Errorf("replay: group %q member %q unknown", r.Name, member)
			}
		}
		s.AddGroup(r.Name, r.Members)

	default:
		return fmt.Errorf("replay: unhandled record %T", rec)
	}
	return nil
}
