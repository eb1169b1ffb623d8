// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

// Type is the wire discriminator of an event.
type Type string

const (
	TypeHandshake        Type = "handshake"
	TypeHandshakeAck     Type = "handshake_ack"
	TypeTextChunk        Type = "text_chunk"
	TypeShowDiff         Type = "show_diff"
	TypeRequestApproval  Type = "request_approval"
	TypeApprovalResponse Type = "approval_response"
	TypeDisplayLogs      Type = "display_logs"
	TypeUserMessage      Type = "user_message"
	TypeInterrupt        Type = "interrupt"

	// Added in 0.2.0.
	TypeSessionCreate       Type = "session_create"
	TypeSessionCreated      Type = "session_created"
	TypeSessionClose        Type = "session_close"
	TypeSessionClosed       Type = "session_closed"
	TypeSessionResume       Type = "session_resume"
	TypeUploadFile          Type = "upload_file"
	TypeRequestFileDownload Type = "request_file_download"
	TypeFileDownload        Type = "file_download"
)

// since records the schema version that introduced each known type.
var since = map[Type]string{
	TypeHandshake:        "0.1.0",
	TypeHandshakeAck:     "0.1.0",
	TypeTextChunk:        "0.1.0",
	TypeShowDiff:         "0.1.0",
	TypeRequestApproval:  "0.1.0",
	TypeApprovalResponse: "0.1.0",
	TypeDisplayLogs:      "0.1.0",
	TypeUserMessage:      "0.1.0",
	TypeInterrupt:        "0.1.0",

	TypeSessionCreate:       "0.2.0",
	TypeSessionCreated:      "0.2.0",
	TypeSessionClose:        "0.2.0",
	TypeSessionClosed:       "0.2.0",
	TypeSessionResume:       "0.2.0",
	TypeUploadFile:          "0.2.0",
	TypeRequestFileDownload: "0.2.0",
	TypeFileDownload:        "0.2.0",
}

// Known reports whether t is defined by any supported schema version.
func (t Type) Known() bool {
	_, ok := since[t]
	return ok
}

// Since returns the schema version that introduced t, or "" for unknown types.
func (t Type) Since() string {
	return since[t]
}

// AvailableIn reports whether t may be sent on a connection that negotiated
// version v. Unknown types are always passed through.
func (t Type) AvailableIn(v Version) bool {
	s, ok := since[t]
	if !ok {
		return true
	}
	introduced, err := ParseVersion(s)
	if err != nil {
		return false
	}
	return introduced.Compare(v) <= 0
}

// Droppable reports whether events of type t may be evicted from a full
// outbound queue. Everything that is not display-only output is critical.
func (t Type) Droppable() bool {
	switch t {
	case TypeTextChunk, TypeDisplayLogs:
		return true
	default:
		return false
	}
}

// Ephemeral reports whether queued events of type t are discarded instead of
// flushed when the connection closes.
func (t Type) Ephemeral() bool {
	return t.Droppable()
}

// IsHandshake reports whether t belongs to the connection handshake.
func (t Type) IsHandshake() bool {
	return t == TypeHandshake || t == TypeHandshakeAck
}

// Capabilities advertised during handshake.
const (
	CapabilityCBOR     = "encoding.cbor"
	CapabilitySessions = "sessions.multiplex"
	CapabilityFiles    = "files.transfer"
)

// Encoding names the frame serialization used after handshake.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// SelectEncoding picks CBOR when both sides advertise it, JSON otherwise.
func SelectEncoding(local, remote []string) Encoding {
	if contains(local, CapabilityCBOR) && contains(remote, CapabilityCBOR) {
		return EncodingCBOR
	}
	return EncodingJSON
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
