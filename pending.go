package pgproto

import (
	"github.com/lib/pq/oid"

	"github.com/pgexec/pgproto/query"
)

// parseEntry is one pending Parse request: the Query it was issued
// against, the server-side statement name assigned to it at send
// time (§3 "parses (query + assigned name snapshot)"), and the
// parameter OIDs the Parse carried, recorded on the Query as its
// ParamOIDs once ParseComplete arrives. The name is
// snapshotted because a Query's current name can change between send
// and the matching ParseComplete if the caller races another execute —
// the pending queue must compare against what was true when the Parse
// was sent.
type parseEntry struct {
	query *query.Simple
	name  string
	oids  []oid.Oid
}

// bindEntry is one pending Bind request: the portal it targets.
type bindEntry struct {
	portal *query.Portal
}

// describePortalEntry is one pending Describe('P') request.
type describePortalEntry struct {
	query *query.Simple
}

// describeStatementEntry is one pending Describe('S') request.
type describeStatementEntry struct {
	query        *query.Simple
	params       *query.ParameterList
	describeOnly bool
	name         string
}

// executeEntry is one pending Execute request: the statement and the
// portal it ran against.
type executeEntry struct {
	query  *query.Simple
	portal *query.Portal
}

// pendingQueues holds the five FIFOs described in §3: "per-pipeline
// FIFO records of Parse/Bind/Describe/Execute requests awaiting their
// replies." Invariant: len(queue) == unacknowledged requests of that
// kind; every queue is cleared on ReadyForQuery.
//
// There is no teacher equivalent (psql-wire is the server side and never
// waits on its own requests), so these are grounded directly in §3
// and §4.2's per-code table, modelled as plain slices consumed from the
// front — the same "index slides forward, queue never reallocates
// mid-Sync-window" shape as the teacher's pkg/buffer.Reader.Msg
// front-slicing idiom.
type pendingQueues struct {
	parses             []parseEntry
	binds              []bindEntry
	describePortals    []describePortalEntry
	describeStatements []describeStatementEntry
	executes           []executeEntry
}

func (p *pendingQueues) pushParse(e parseEntry)                     { p.parses = append(p.parses, e) }
func (p *pendingQueues) pushBind(e bindEntry)                        { p.binds = append(p.binds, e) }
func (p *pendingQueues) pushDescribePortal(e describePortalEntry)    { p.describePortals = append(p.describePortals, e) }
func (p *pendingQueues) pushDescribeStatement(e describeStatementEntry) {
	p.describeStatements = append(p.describeStatements, e)
}
func (p *pendingQueues) pushExecute(e executeEntry) { p.executes = append(p.executes, e) }

// popParse removes and returns the oldest pending Parse entry.
func (p *pendingQueues) popParse() (parseEntry, bool) {
	if len(p.parses) == 0 {
		return parseEntry{}, false
	}

	e := p.parses[0]
	p.parses = p.parses[1:]
	return e, true
}

func (p *pendingQueues) popBind() (bindEntry, bool) {
	if len(p.binds) == 0 {
		return bindEntry{}, false
	}

	e := p.binds[0]
	p.binds = p.binds[1:]
	return e, true
}

func (p *pendingQueues) popDescribePortal() (describePortalEntry, bool) {
	if len(p.describePortals) == 0 {
		return describePortalEntry{}, false
	}

	e := p.describePortals[0]
	p.describePortals = p.describePortals[1:]
	return e, true
}

// peekDescribeStatement returns the oldest pending Describe('S') entry
// without removing it — ParameterDescription needs to inspect it before
// deciding whether the matching RowDescription/NoData also consumes it
// (§4.2's doneAfterRowDescNoData handling).
func (p *pendingQueues) peekDescribeStatement() (describeStatementEntry, bool) {
	if len(p.describeStatements) == 0 {
		return describeStatementEntry{}, false
	}

	return p.describeStatements[0], true
}

func (p *pendingQueues) popDescribeStatement() (describeStatementEntry, bool) {
	if len(p.describeStatements) == 0 {
		return describeStatementEntry{}, false
	}

	e := p.describeStatements[0]
	p.describeStatements = p.describeStatements[1:]
	return e, true
}

func (p *pendingQueues) popExecute() (executeEntry, bool) {
	if len(p.executes) == 0 {
		return executeEntry{}, false
	}

	e := p.executes[0]
	p.executes = p.executes[1:]
	return e, true
}

// clear drops every queue's remaining entries, called on ReadyForQuery
// (§3: "all are cleared on ReadyForQuery").
func (p *pendingQueues) clear() {
	p.parses = nil
	p.binds = nil
	p.describePortals = nil
	p.describeStatements = nil
	p.executes = nil
}
