// Package journal provides the append-only text log that makes the chat
// server durable. Every state mutation is appended as one whitespace-
// delimited record; at startup the server replays the records in order to
// rebuild its in-memory state. Strings are written between literal double
// quotes with no escaping, so a quote character inside user content
// corrupts the file. A record that fails to parse moves the journal into a
// terminal invalid state: reads stop, appends are logged and dropped, and
// the server keeps serving whatever state was recovered.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/parley-chat/parley/protocol"
)

// DefaultPath is the journal file used when none is configured.
const DefaultPath = "default.chatjournal"

// maxToken bounds a single parsed token. No legal record field comes close.
const maxToken = 1024

// Op names a record type. The constants are the literal keywords used in
// the file.
type Op string

const (
	OpNewUser       Op = "NEW_USER"
	OpNewMessage    Op = "NEW_MESSAGE"
	OpDeleteMessage Op = "DELETE_MESSAGE"
	OpUpdateID      Op = "UPDATE_ID"
	OpNewGroup      Op = "NEW_GROUP"
)

// Record is one journaled state mutation.
type Record interface {
	Op() Op
	text() string
}

// NewUser records a successful REGISTER.
type NewUser struct {
	Name string
}

func (r NewUser) Op() Op { return OpNewUser }

func (r NewUser) text() string {
	return fmt.Sprintf(`NEW_USER "%s"`, r.Name)
}

// NewMessage records a SEND_MESSAGE. For group sends one record stands for
// the whole fan-out; replay re-expands it over the group's membership.
type NewMessage struct {
	Sender        string
	RecipientType protocol.RecipientType
	Recipient     string
	Content       string
}

func (r NewMessage) Op() Op { return OpNewMessage }

func (r NewMessage) text() string {
	return fmt.Sprintf(`NEW_MESSAGE "%s" %d "%s" "%s"`, r.Sender, r.RecipientType, r.Recipient, r.Content)
}

// DeleteMessage records a recipient deleting a message by id.
type DeleteMessage struct {
	ID int32
}

func (r DeleteMessage) Op() Op { return OpDeleteMessage }

func (r DeleteMessage) text() string {
	return fmt.Sprintf("DELETE_MESSAGE %d", r.ID)
}

// UpdateID records the ID counter advancing. It is written before the
// allocated value is used, so replay always sees the counter move first.
type UpdateID struct {
	ID int32
}

func (r UpdateID) Op() Op { return OpUpdateID }

func (r UpdateID) text() string {
	return fmt.Sprintf("UPDATE_ID %d", r.ID)
}

// NewGroup records a REGISTER_GROUP with its member list in request order.
type NewGroup struct {
	Name    string
	Members []string
}

func (r NewGroup) Op() Op { return OpNewGroup }

func (r NewGroup) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, `NEW_GROUP "%s" %d `, r.Name, len(r.Members))
	for _, m := range r.Members {
		fmt.Fprintf(&b, `"%s" `, m)
	}
	return b.String()
}

// Journal is an open journal file. Records are read back exactly once, in
// file order, before any append. Not safe for concurrent use; the server
// serializes access.
type Journal struct {
	path    string
	f       *os.File
	r       *bufio.Reader
	invalid bool

	// Tallies read by the metrics scraper, which runs off the server
	// thread.
	appends atomic.Uint64
	drops   atomic.Uint64
}

// Open opens (creating if absent) the journal at path.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: stat %s: %w", path, err)
	}

	slog.Info("journal opened", "path", path, "size", info.Size())

	return &Journal{
		path: path,
		f:    f,
		r:    bufio.NewReader(f),
	}, nil
}

func (j *Journal) Close() error {
	return j.f.Close()
}

// Invalid reports whether the journal hit a parse or I/O failure and is no
// longer readable or writable.
func (j *Journal) Invalid() bool { return j.invalid }

// Invalidate forces the terminal invalid state. Recovery uses it when a
// record parses but cannot be applied to the store.
func (j *Journal) Invalidate(err error) {
	if j.invalid {
		return
	}
	j.invalid = true
	slog.Error("journal rejected, continuing without it", "path", j.path, "err", err)
}

// HasMore reports whether unread records remain. Leading whitespace is
// consumed in the process, which the grammar does not care about.
func (j *Journal) HasMore() bool {
	if j.invalid {
		return false
	}
	for {
		b, err := j.r.ReadByte()
		if err != nil {
			return false
		}
		if isSpace(b) {
			continue
		}
		_ = j.r.UnreadByte()
		return true
	}
}

// Next parses the next record. Any malformed input moves the journal into
// the invalid state and returns the parse error.
func (j *Journal) Next() (Record, error) {
	if j.invalid {
		return nil, fmt.Errorf("journal: invalid")
	}

	word, err := j.readWord()
	if err != nil {
		return nil, j.fail(err)
	}

	switch Op(word) {
	case OpNewUser:
		name, err := j.readQuoted()
		if err != nil {
			return nil, j.fail(err)
		}
		return NewUser{Name: name}, nil

	case OpNewMessage:
		sender, err := j.readQuoted()
		if err != nil {
			return nil, j.fail(err)
		}
		rt, err := j.readU32()
		if err != nil {
			return nil, j.fail(err)
		}
		recipient, err := j.readQuoted()
		if err != nil {
			return nil, j.fail(err)
		}
		content, err := j.readQuoted()
		if err != nil {
			return nil, j.fail(err)
		}
		return NewMessage{
			Sender:        sender,
			RecipientType: protocol.RecipientType(rt),
			Recipient:     recipient,
			Content:       content,
		}, nil

	case OpDeleteMessage:
		id, err := j.readID()
		if err != nil {
			return nil, j.fail(err)
		}
		return DeleteMessage{ID: id}, nil

	case OpUpdateID:
		id, err := j.readID()
		if err != nil {
			return nil, j.fail(err)
		}
		return UpdateID{ID: id}, nil

	case OpNewGroup:
		name, err := j.readQuoted()
		if err != nil {
			return nil, j.fail(err)
		}
		count, err := j.readU32()
		if err != nil {
			return nil, j.fail(err)
		}
		var members []string
		for range count {
			m, err := j.readQuoted()
			if err != nil {
				return nil, j.fail(err)
			}
			members = append(members, m)
		}
		return NewGroup{Name: name, Members: members}, nil
	}

	return nil, j.fail(fmt.Errorf("unknown record %q", word))
}

// Append writes one record followed by a flush. It must not run before
// recovery has drained the file; that is a wiring bug and panics.
func (j *Journal) Append(rec Record) {
	if j.invalid {
		j.drops.Add(1)
		slog.Error("journal invalid, dropping record", "op", string(rec.Op()))
		return
	}
	if j.HasMore() {
		panic("journal: append before recovery finished")
	}

	if _, err := j.f.WriteString("\n" + rec.text()); err != nil {
		j.invalid = true
		j.drops.Add(1)
		slog.Error("journal write failed, journal disabled", "op", string(rec.Op()), "err", err)
		return
	}
	if err := j.f.Sync(); err != nil {
		j.invalid = true
		j.drops.Add(1)
		slog.Error("journal sync failed, journal disabled", "op", string(rec.Op()), "err", err)
		return
	}
	j.appends.Add(1)
}

// Appends reports how many records have been written and flushed.
func (j *Journal) Appends() uint64 { return j.appends.Load() }

// Drops reports how many records were discarded because the journal was
// invalid or failing.
func (j *Journal) Drops() uint64 { return j.drops.Load() }

func (j *Journal) fail(err error) error {
	j.invalid = true
	werr := fmt.Errorf("journal: %s: %w", j.path, err)
	slog.Error("journal unreadable, continuing without it", "err", werr)
	return werr
}

// readWord skips whitespace and returns the next run of non-space bytes.
func (j *Journal) readWord() (string, error) {
	b, err := j.skipSpace()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteByte(b)
	for sb.Len() < maxToken {
		b, err := j.r.ReadByte()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if isSpace(b) {
			_ = j.r.UnreadByte()
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
	return "", fmt.Errorf("token exceeds %d bytes", maxToken)
}

// readQuoted skips whitespace, expects an opening quote and returns the
// bytes up to the closing quote. The format has no escaping.
func (j *Journal) readQuoted() (string, error) {
	b, err := j.skipSpace()
	if err != nil {
		return "", err
	}
	if b != '"' {
		return "", fmt.Errorf("expected opening quote, found %q", string(b))
	}
	var sb strings.Builder
	for sb.Len() <= maxToken {
		b, err := j.r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("unterminated string: %w", err)
		}
		if b == '"' {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
	return "", fmt.Errorf("string exceeds %d bytes", maxToken)
}

func (j *Journal) readU32() (uint32, error) {
	word, err := j.readWord()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(word, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", word)
	}
	return uint32(n), nil
}

func (j *Journal) readID() (int32, error) {
	word, err := j.readWord()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(word, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad id %q", word)
	}
	return int32(n), nil
}

func (j *Journal) skipSpace() (byte, error) {
	for {
		b, err := j.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !isSpace(b) {
			return b, nil
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
