// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrUnknownEvent = errors.New("unknown signaling event")

// Type is the event name used on the wire.
type Type string

const (
	TypeOffer              Type = "webrtcOffer"
	TypeAnswer             Type = "webrtcAnswer"
	TypeICECandidate       Type = "iceCandidate"
	TypeJoinRoom           Type = "joinApplicationRoom"
	TypeRequestOffer       Type = "requestOffer"
	TypeCallAccepted       Type = "callAccepted"
	TypeCallRejected       Type = "callRejected"
	TypeCallEnded          Type = "callEnded"
	TypeScreenShareStarted Type = "screenShareStarted"
	TypeScreenShareStopped Type = "screenShareStopped"
)

// Message is the closed set of signaling events. Only the types declared in
// this file implement it.
type Message interface {
	Type() Type
	Room() string
	message()
}

type Offer struct {
	ApplicationID string                    `json:"applicationId"`
	Offer         webrtc.SessionDescription `json:"offer"`
	To            string                    `json:"to,omitempty"`
	From          string                    `json:"from,omitempty"`
}

type Answer struct {
	ApplicationID string                    `json:"applicationId"`
	Answer        webrtc.SessionDescription `json:"answer"`
	To            string                    `json:"to,omitempty"`
	From          string                    `json:"from,omitempty"`
}

type ICECandidate struct {
	ApplicationID string                  `json:"applicationId"`
	Candidate     webrtc.ICECandidateInit `json:"candidate"`
	To            string                  `json:"to,omitempty"`
	From          string                  `json:"from,omitempty"`
}

type JoinRoom struct {
	ApplicationID string `json:"applicationId"`
	UserID        string `json:"userId"`
	Role          string `json:"role"`
}

type RequestOffer struct {
	ApplicationID string `json:"applicationId"`
	UserID        string `json:"userId"`
}

type CallAccepted struct {
	ApplicationID string `json:"applicationId"`
	From          string `json:"from,omitempty"`
}

type CallRejected struct {
	ApplicationID string `json:"applicationId"`
	From          string `json:"from,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type CallEnded struct {
	ApplicationID string `json:"applicationId"`
	Reason        string `json:"reason,omitempty"`
}

type ScreenShareStarted struct {
	ApplicationID string `json:"applicationId"`
	Presenter     string `json:"presenter"`
}

type ScreenShareStopped struct {
	ApplicationID string `json:"applicationId"`
	Presenter     string `json:"presenter"`
}

func (Offer) Type() Type              { return TypeOffer }
func (Answer) Type() Type             { return TypeAnswer }
func (ICECandidate) Type() Type       { return TypeICECandidate }
func (JoinRoom) Type() Type           { return TypeJoinRoom }
func (RequestOffer) Type() Type       { return TypeRequestOffer }
func (CallAccepted) Type() Type       { return TypeCallAccepted }
func (CallRejected) Type() Type       { return TypeCallRejected }
func (CallEnded) Type() Type          { return TypeCallEnded }
func (ScreenShareStarted) Type() Type { return TypeScreenShareStarted }
func (ScreenShareStopped) Type() Type { return TypeScreenShareStopped }

func (m Offer) Room() string              { return m.ApplicationID }
func (m Answer) Room() string             { return m.ApplicationID }
func (m ICECandidate) Room() string       { return m.ApplicationID }
func (m JoinRoom) Room() string           { return m.ApplicationID }
func (m RequestOffer) Room() string       { return m.ApplicationID }
func (m CallAccepted) Room() string       { return m.ApplicationID }
func (m CallRejected) Room() string       { return m.ApplicationID }
func (m CallEnded) Room() string          { return m.ApplicationID }
func (m ScreenShareStarted) Room() string { return m.ApplicationID }
func (m ScreenShareStopped) Room() string { return m.ApplicationID }

func (Offer) message()              {}
func (Answer) message()             {}
func (ICECandidate) message()       {}
func (JoinRoom) message()           {}
func (RequestOffer) message()       {}
func (CallAccepted) message()       {}
func (CallRejected) message()       {}
func (CallEnded) message()          {}
func (ScreenShareStarted) message() {}
func (ScreenShareStopped) message() {}

// Envelope is the frame exchanged with the signaling server.
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	return json.Marshal(Envelope{Event: m.Type(), Data: data})
}

func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var msg Message
	var err error
	switch env.Event {
	case TypeOffer:
		msg, err = decodeAs[Offer](env.Data)
	case TypeAnswer:
		msg, err = decodeAs[Answer](env.Data)
	case TypeICECandidate:
		msg, err = decodeAs[ICECandidate](env.Data)
	case TypeJoinRoom:
		msg, err = decodeAs[JoinRoom](env.Data)
	case TypeRequestOffer:
		msg, err = decodeAs[RequestOffer](env.Data)
	case TypeCallAccepted:
		msg, err = decodeAs[CallAccepted](env.Data)
	case TypeCallRejected:
		msg, err = decodeAs[CallRejected](env.Data)
	case TypeCallEnded:
		msg, err = decodeAs[CallEnded](env.Data)
	case TypeScreenShareStarted:
		msg, err = decodeAs[ScreenShareStarted](env.Data)
	case TypeScreenShareStopped:
		msg, err = decodeAs[ScreenShareStopped](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return msg, nil
}

func decodeAs[T Message](data json.RawMessage) (Message, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
