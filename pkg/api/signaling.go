package api

import "github.com/goccy/go-json"

// Client request payloads.

type JoinRoomRequest struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId,omitempty"`
	UserName string `json:"userName"`
}

// SessionSignal carries an opaque session description or an ICE
// candidate, the relay forwards Sdp/Candidate verbatim. UserId is the
// id of the sender, the receiving side routes by it.
type SessionSignal struct {
	RoomId    string          `json:"roomId"`
	UserId    string          `json:"userId,omitempty"`
	Sdp       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type ChatMessage struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

type NameChangeRequest struct {
	RoomId  string `json:"roomId"`
	UserId  string `json:"userId"`
	NewName string `json:"newName"`
}

type LeaveRoomRequest struct {
	RoomId string `json:"roomId"`
}

// Server notification payloads.

type Member struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

// RoomJoinedNotice is returned to the joiner with the member list as
// it was right before the join.
type RoomJoinedNotice struct {
	RoomId  string   `json:"roomId"`
	UserId  string   `json:"userId"`
	Members []Member `json:"members"`
}

type UserJoinedNotice = Member

type UserLeftNotice struct {
	UserId string `json:"userId"`
}

type NameChangedNotice struct {
	UserId  string `json:"userId"`
	NewName string `json:"newName"`
}

type ErrorNotice struct {
	Reason string `json:"reason"`
}
