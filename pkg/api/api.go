// Package api defines the signaling wire protocol shared by the
// signaler server and peer clients.
//
// Each message is a JSON-encoded "packet" of the following structure:
//
//	id - (optional) a globally unique packet id;
//	 t - (required) one of the predefined unique packet types;
//	 p - (optional) packet payload with arbitrary data.
//
// The packets differentiate by their predefined types with which it is
// possible to unwrap the payload into distinct request/response data
// structures. Relay-type packets (offer, answer, ice candidate, chat)
// carry payloads the server never interprets: they are forwarded to the
// other room members byte-for-byte.
package api

import (
	"github.com/goccy/go-json"
)

type PT uint8

// Packet codes:
//
//	1xx - client requests
//	2xx - server notifications
const (
	JoinRoom     PT = 101
	Offer        PT = 102
	Answer       PT = 103
	IceCandidate PT = 104
	Chat         PT = 105
	NameChange   PT = 106
	LeaveRoom    PT = 107

	RoomJoined  PT = 201
	UserJoined  PT = 202
	UserLeft    PT = 203
	NameChanged PT = 204
	RoomFull    PT = 205
	Error       PT = 255
)

func (p PT) String() string {
	switch p {
	case JoinRoom:
		return "JoinRoom"
	case Offer:
		return "Offer"
	case Answer:
		return "Answer"
	case IceCandidate:
		return "IceCandidate"
	case Chat:
		return "Chat"
	case NameChange:
		return "NameChange"
	case LeaveRoom:
		return "LeaveRoom"
	case RoomJoined:
		return "RoomJoined"
	case UserJoined:
		return "UserJoined"
	case UserLeft:
		return "UserLeft"
	case NameChanged:
		return "NameChanged"
	case RoomFull:
		return "RoomFull"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// In is an inbound packet with a raw payload for 2-pass unmarshal.
type In struct {
	Id      string          `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"`
}

// Out is an outbound packet.
type Out struct {
	Id      string `json:"id,omitempty"`
	T       PT     `json:"t"`
	Payload any    `json:"p,omitempty"`
}

// Relayed converts an inbound packet into its outbound form with the
// payload untouched.
func (i In) Relayed() Out { return Out{T: i.T, Payload: i.Payload} }

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
