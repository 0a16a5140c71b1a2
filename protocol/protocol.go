// Package protocol defines the wire format spoken between chat clients and
// the server: opcode and status bytes, field encodings, and the size limits
// both sides enforce. Integers are 4-byte little-endian; length-prefixed
// strings carry a u32 byte count followed by UTF-8 bytes.
package protocol

import "fmt"

// Opcode is the single byte that opens every client conversation.
type Opcode uint8

const (
	OpSendMessage   Opcode = 0
	OpDeleteMessage Opcode = 1
	OpGetMessages   Opcode = 2
	OpGetUsers      Opcode = 3
	OpSetStatus     Opcode = 4
	OpLogin         Opcode = 5
	OpLogout        Opcode = 6
	OpRegister      Opcode = 7
	OpGoodbye       Opcode = 8
	OpHeartbeat     Opcode = 9
	OpGetGroups     Opcode = 10
	OpRegisterGroup Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpSendMessage:
		return "SEND_MESSAGE"
	case OpDeleteMessage:
		return "DELETE_MESSAGE"
	case OpGetMessages:
		return "GET_MESSAGES"
	case OpGetUsers:
		return "GET_USERS"
	case OpSetStatus:
		return "SET_STATUS"
	case OpLogin:
		return "LOGIN"
	case OpLogout:
		return "LOGOUT"
	case OpRegister:
		return "REGISTER"
	case OpGoodbye:
		return "GOODBYE"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpGetGroups:
		return "GET_GROUPS"
	case OpRegisterGroup:
		return "REGISTER_GROUP"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(o))
	}
}

// Status is the per-step result byte written by the server.
type Status uint8

const (
	StatusSuccess        Status = 0
	StatusInvalidRequest Status = 1
	StatusUnauthorized   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusUnauthorized:
		return "UNAUTHORIZED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(s))
	}
}

// RecipientType tags the target of SEND_MESSAGE.
type RecipientType uint8

const (
	RecipientUser  RecipientType = 0
	RecipientGroup RecipientType = 1
)

const (
	// MaxStatusLength bounds a user's status text in bytes.
	MaxStatusLength = 32

	// MaxMessageLength bounds message content in bytes.
	MaxMessageLength = 256

	// MaxPayload bounds unframed reads and any client-supplied length
	// prefix. Both sides read into 4 KiB buffers; nothing larger is valid
	// on the wire.
	MaxPayload = 4096
)

// NoSession is the session id carried by logged-out users and written back
// on a failed LOGIN.
const NoSession int32 = -1
