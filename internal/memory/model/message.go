// Package model defines the core data entities shared by the memory
// extraction pipeline and the retrieval engine: RawMessage, MemCell,
// Episode, EventLog, UserProfile, GroupProfile, and their retrieval-side
// projections.
package model

import "time"

// MsgType identifies the kind of payload a RawMessage carries.
type MsgType int

const (
	MsgTypeText MsgType = iota
	MsgTypePicture
	MsgTypeVideo
	MsgTypeAudio
	MsgTypeFile
)

// Placeholder is the fixed replacement content for supported non-text message
// types. Messages whose MsgType is not a key here are unsupported and are
// dropped before extraction (spec §3 RawMessage invariant).
var Placeholder = map[MsgType]string{
	MsgTypePicture: "[image]",
	MsgTypeVideo:   "[video]",
	MsgTypeAudio:   "[audio]",
	MsgTypeFile:    "[file]",
}

// Supported reports whether t is a recognized message type.
func Supported(t MsgType) bool {
	if t == MsgTypeText {
		return true
	}
	_, ok := Placeholder[t]
	return ok
}

// Mention is one entry of a RawMessage's refer/mention list.
type Mention struct {
	ID   string
	Name string
}

// RawMessage is one externally originated chat event.
type RawMessage struct {
	SpeakerID   string
	SpeakerName string
	Content     string
	Timestamp   time.Time
	ReferList   []Mention
	MsgType     MsgType
	DataID      string
}

// Normalize rewrites non-text supported messages to their fixed placeholder
// content. Callers should drop the message entirely first if !Supported.
func (m RawMessage) Normalize() RawMessage {
	if m.MsgType == MsgTypeText {
		return m
	}
	if ph, ok := Placeholder[m.MsgType]; ok {
		m.Content = ph
	}
	return m
}

// FilterSupported drops messages whose MsgType is not supported and rewrites
// the content of supported non-text messages to their placeholder. Order is
// preserved.
func FilterSupported(msgs []RawMessage) []RawMessage {
	out := make([]RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if !Supported(m.MsgType) {
			continue
		}
		out = append(out, m.Normalize())
	}
	return out
}
