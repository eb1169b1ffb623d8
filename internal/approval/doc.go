// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package approval classifies actions proposed by the backend into approval
// levels and drives each PendingAction through exactly one terminal
// disposition.
//
// Every disposition change is written to the audit sink before the matching
// approval_response is handed to the transport. Dangerous actions are never
// decided by policy: YOLO and Batch modes skip them and they carry no
// timeout, so only an explicit user decision (or a force close) resolves them.
package approval
