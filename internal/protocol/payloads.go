// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is the closed set of event bodies. Only types declared in this
// package implement it.
type Payload interface {
	Type() Type
	validate() error
}

// Handshake opens a connection.
type Handshake struct {
	ClientVersion     string   `json:"client_version"`
	SupportedVersions []string `json:"supported_versions"`
	Capabilities      []string `json:"capabilities,omitempty"`
}

func (Handshake) Type() Type { return TypeHandshake }

func (p Handshake) validate() error {
	if p.ClientVersion == "" {
		return errors.New("client_version is required")
	}
	if len(p.SupportedVersions) == 0 {
		return errors.New("supported_versions is required")
	}
	return nil
}

// HandshakeAck answers a Handshake.
type HandshakeAck struct {
	ServerVersion     string   `json:"server_version"`
	NegotiatedVersion string   `json:"negotiated_version,omitempty"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	Capabilities      []string `json:"capabilities,omitempty"`
	Accepted          *bool    `json:"accepted,omitempty"`
	Reason            string   `json:"reason,omitempty"`
}

func (HandshakeAck) Type() Type { return TypeHandshakeAck }

// Rejected reports whether the backend refused the handshake. An ack without
// an accepted field is an acceptance unless it carries a reason.
func (p HandshakeAck) Rejected() bool {
	if p.Accepted != nil {
		return !*p.Accepted
	}
	return p.Reason != ""
}

// Flag returns a pointer to b, for optional boolean payload fields.
func Flag(b bool) *bool { return &b }

func (p HandshakeAck) validate() error {
	if p.ServerVersion == "" {
		return errors.New("server_version is required")
	}
	return nil
}

// TextChunk is a fragment of streamed agent output. Channel names the
// output stream (output, reasoning, error, ...); empty means output.
type TextChunk struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

func (TextChunk) Type() Type { return TypeTextChunk }

func (TextChunk) validate() error { return nil }

// ShowDiff carries a unified diff the agent wants displayed.
type ShowDiff struct {
	Path    string `json:"path,omitempty"`
	Diff    string `json:"diff"`
	Summary string `json:"summary,omitempty"`
}

func (ShowDiff) Type() Type { return TypeShowDiff }

func (ShowDiff) validate() error { return nil }

// Action kinds carried by RequestApproval.
const (
	KindWriteFile   = "write_file"
	KindExecCommand = "exec_command"
	KindDelete      = "delete"
	KindOther       = "other"
)

// NormalizeKind folds kind onto one of the known action kinds. Anything the
// client does not recognise becomes KindOther.
func NormalizeKind(kind string) string {
	switch k := strings.ToLower(strings.TrimSpace(kind)); k {
	case KindWriteFile, KindExecCommand, KindDelete:
		return k
	}
	return KindOther
}

// RequestApproval asks the user to approve a state-changing action.
type RequestApproval struct {
	ActionID    string          `json:"action_id"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details,omitempty"`
	// Level is an optional classification hint from the backend.
	Level        string `json:"level,omitempty"`
	Plan         bool   `json:"plan,omitempty"`
	PlanComplete bool   `json:"plan_complete,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Path         string `json:"path,omitempty"`
	Command      string `json:"command,omitempty"`
	Cwd          string `json:"cwd,omitempty"`
}

func (RequestApproval) Type() Type { return TypeRequestApproval }

func (p RequestApproval) validate() error {
	if p.ActionID == "" {
		return errors.New("action_id is required")
	}
	return nil
}

// ApprovalResponse resolves a RequestApproval.
type ApprovalResponse struct {
	ActionID      string          `json:"action_id"`
	Approved      bool            `json:"approved"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

func (ApprovalResponse) Type() Type { return TypeApprovalResponse }

func (p ApprovalResponse) validate() error {
	if p.ActionID == "" {
		return errors.New("action_id is required")
	}
	return nil
}

// DisplayLogs carries process output lines. Stream is stdout or stderr.
type DisplayLogs struct {
	Lines  []string `json:"lines"`
	Stream string   `json:"stream,omitempty"`
}

func (DisplayLogs) Type() Type { return TypeDisplayLogs }

func (DisplayLogs) validate() error { return nil }

// UserMessage is free-form user input routed to a session.
type UserMessage struct {
	Text string `json:"text"`
}

func (UserMessage) Type() Type { return TypeUserMessage }

func (UserMessage) validate() error { return nil }

// Interrupt stops the current turn of a session.
type Interrupt struct {
	Reason string `json:"reason,omitempty"`
}

func (Interrupt) Type() Type { return TypeInterrupt }

func (Interrupt) validate() error { return nil }

// SessionCreate asks the backend to open a task session.
type SessionCreate struct {
	Workspace string `json:"workspace"`
	Branch    string `json:"branch,omitempty"`
}

func (SessionCreate) Type() Type { return TypeSessionCreate }

func (SessionCreate) validate() error { return nil }

// SessionCreated announces a session; the envelope carries its id.
type SessionCreated struct {
	Workspace string `json:"workspace"`
	Branch    string `json:"branch,omitempty"`
}

func (SessionCreated) Type() Type { return TypeSessionCreated }

func (SessionCreated) validate() error { return nil }

// SessionClose asks the backend to tear down a session.
type SessionClose struct {
	Force bool `json:"force,omitempty"`
}

func (SessionClose) Type() Type { return TypeSessionClose }

func (SessionClose) validate() error { return nil }

// SessionClosed announces that the backend dropped a session.
type SessionClosed struct {
	Reason string `json:"reason,omitempty"`
}

func (SessionClosed) Type() Type { return TypeSessionClosed }

func (SessionClosed) validate() error { return nil }

// SessionResume re-attaches a session after reconnect.
type SessionResume struct {
	Workspace        string   `json:"workspace"`
	Branch           string   `json:"branch,omitempty"`
	PendingActionIDs []string `json:"pending_action_ids,omitempty"`
}

func (SessionResume) Type() Type { return TypeSessionResume }

func (SessionResume) validate() error { return nil }

// UploadFile sends a file to the backend workspace. FileData is base64.
type UploadFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

func (UploadFile) Type() Type { return TypeUploadFile }

func (p UploadFile) validate() error {
	if p.Filename == "" {
		return errors.New("filename is required")
	}
	if _, err := base64.StdEncoding.DecodeString(p.FileData); err != nil {
		return fmt.Errorf("file_data: %w", err)
	}
	return nil
}

// RequestFileDownload asks the backend for a workspace file.
type RequestFileDownload struct {
	Filename string `json:"filename"`
}

func (RequestFileDownload) Type() Type { return TypeRequestFileDownload }

func (p RequestFileDownload) validate() error {
	if p.Filename == "" {
		return errors.New("filename is required")
	}
	return nil
}

// FileDownload answers RequestFileDownload. Error is set when the file could
// not be read.
type FileDownload struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (FileDownload) Type() Type { return TypeFileDownload }

func (p FileDownload) validate() error {
	if p.Filename == "" {
		return errors.New("filename is required")
	}
	return nil
}

// Content decodes the base64 file body.
func (p FileDownload) Content() ([]byte, error) {
	if p.Error != "" {
		return nil, fmt.Errorf("download %s: %s", p.Filename, p.Error)
	}
	return base64.StdEncoding.DecodeString(p.FileData)
}

// Unknown preserves an event type this client does not understand. Raw holds
// the payload as JSON regardless of the frame encoding it arrived in.
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (u Unknown) Type() Type { return Type(u.Name) }

func (Unknown) validate() error { return nil }
