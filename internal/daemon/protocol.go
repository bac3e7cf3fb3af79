package daemon

import (
	"encoding/json"

	"github.com/kamune-org/keyscope/pkg/codec"
)

// Command types
const (
	CmdConnect        = "connect"
	CmdConnectProfile = "connect_profile"
	CmdSelectDB       = "select_db"
	CmdListKeys       = "list_keys"
	CmdTree           = "tree"
	CmdResolveType    = "resolve_type"
	CmdLoad           = "load"
	CmdGetTTL         = "get_ttl"
	CmdSetTTL         = "set_ttl"
	CmdWrite          = "write"
	CmdDelete         = "delete"
	CmdDeleteMany     = "delete_many"
	CmdDeleteSubtree  = "delete_subtree"
	CmdFlushDB        = "flush_db"
	CmdFlushAll       = "flush_all"
	CmdPing           = "ping"
	CmdStatus         = "status"
	CmdShutdown       = "shutdown"
)

// Event types
const (
	EvtReady    = "ready"
	EvtResponse = "response"
	EvtError    = "error"
)

// Command is one request line read from the input.
type Command struct {
	Type   string          `json:"type"` // Always "cmd"
	Cmd    string          `json:"cmd"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Event is one line written to the output.
type Event struct {
	Type string `json:"type"` // Always "evt"
	Evt  string `json:"evt"`
	ID   string `json:"id,omitempty"` // Correlation ID for responses
	Data any    `json:"data"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Key names and payloads travel as codec.Element values: JSON strings for text,
// {"$binary": "..."} envelopes for anything else.

type ConnectParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secret   string `json:"secret"`
	Database int    `json:"database"`
}

type ConnectProfileParams struct {
	Name string `json:"name"`
}

type SelectDBParams struct {
	Index int `json:"index"`
}

type PatternParams struct {
	Pattern string `json:"pattern"`
	// Filter narrows a tree to keys containing it, case-insensitively.
	Filter string `json:"filter"`
}

type KeyParams struct {
	Key codec.Element `json:"key"`
}

type SetTTLParams struct {
	Key     codec.Element `json:"key"`
	Seconds int64         `json:"seconds"`
}

type WriteParams struct {
	Key    codec.Element `json:"key"`
	Kind   string        `json:"kind"`
	Text   string        `json:"text"`
	Binary bool          `json:"binary"`
	TTL    *int64        `json:"ttl"`
	// KeepTTL carries the current expiry over when TTL is not given.
	KeepTTL bool `json:"keep_ttl"`
}

type DeleteManyParams struct {
	Keys []codec.Element `json:"keys"`
}

type DeleteSubtreeParams struct {
	Path    codec.Element `json:"path"`
	Pattern string        `json:"pattern"`
}

type FlushParams struct {
	Confirm bool `json:"confirm"`
}

type StatusData struct {
	DaemonID  string `json:"daemon_id"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Database  int    `json:"database"`
	Databases int    `json:"databases"`
}

type EntryData struct {
	Key    codec.Element `json:"key"`
	Kind   string        `json:"kind"`
	TTL    int64         `json:"ttl"`
	Len    int           `json:"len"`
	Text   string        `json:"text"`
	Binary bool          `json:"binary"`
}

type NodeData struct {
	Segment  codec.Element `json:"segment"`
	Path     codec.Element `json:"path"`
	IsKey    bool          `json:"is_key"`
	Count    int           `json:"count"`
	Children []NodeData    `json:"children,omitempty"`
}

type BatchData struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Deleted   []codec.Element `json:"deleted"`
	Failures  []FailureData   `json:"failures"`
}

type FailureData struct {
	Key   codec.Element `json:"key"`
	Error string        `json:"error"`
	Code  string        `json:"code"`
}
