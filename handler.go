package pgproto

import "github.com/pgexec/pgproto/query"

// ExecuteFlags is the bitmask of behaviours a caller may OR together
// when calling Execute/ExecuteBatch (§4.2).
type ExecuteFlags uint16

const (
	// NoResults discards rows; only command status is reported.
	NoResults ExecuteFlags = 1 << iota
	// NoMetadata skips the Describe('P') portal step; a Describe('S')
	// statement step is still sent when parameter types are unresolved.
	NoMetadata
	// ForwardCursor requests a named portal for paging via Fetch.
	ForwardCursor
	// Oneshot skips allocating a server-side statement name.
	Oneshot
	// DescribeOnly stops the pipeline after Describe.
	DescribeOnly
	// SuppressBegin skips the implicit BEGIN shim.
	SuppressBegin
	// DisallowBatching forces a Sync after every statement.
	DisallowBatching
	// BothRowsAndStatus calls handleResultRows for every
	// CommandComplete, even one with no rows, as well as
	// handleCommandStatus. Without it, handleResultRows is called only
	// when rows arrived, and handleCommandStatus always follows.
	BothRowsAndStatus
)

func (f ExecuteFlags) has(bit ExecuteFlags) bool { return f&bit != 0 }

// CommandStatus is the parsed form of a CommandComplete tag, e.g.
// "INSERT 0 1" → Status="INSERT 0 1", UpdateCount=1, InsertOID=0.
type CommandStatus struct {
	Status      string
	UpdateCount int64
	InsertOID   uint32
}

// ResultHandler is the downward interface results are pushed into (spec
// §6, "Downward interface (Result Handler capability set)"). Multiple
// handleError calls are allowed and must be treated additively, never as
// replacing one another.
type ResultHandler interface {
	// HandleResultRows delivers one batch of rows for stmt. cursor is
	// the Portal to continue from via Fetch, or nil if the result was
	// not suspended.
	HandleResultRows(stmt *query.Simple, fields []query.Field, tuples [][][]byte, cursor *query.Portal)
	// HandleCommandStatus delivers a parsed CommandComplete/EmptyQuery
	// tag.
	HandleCommandStatus(status CommandStatus)
	// HandleWarning delivers a NoticeResponse.
	HandleWarning(warn error)
	// HandleError delivers one ErrorResponse. May be called more than
	// once per Sync window; each call is a distinct, additional error.
	HandleError(err error)
	// HandleCompletion signals the end of the current Sync window.
	HandleCompletion()
}
