// Package pgproto implements the core of a client-side PostgreSQL v3
// wire-protocol driver: the extended-query pipeline (Parse/Bind/
// Describe/Execute/Sync), the COPY and fastpath subprotocols, and the
// server-side resource reclamation that keeps prepared statements and
// portals from leaking. See doc.go for scope.
package pgproto

import (
	"fmt"
	"log/slog"

	"github.com/lib/pq/oid"

	"github.com/pgexec/pgproto/codes"
	"github.com/pgexec/pgproto/pgerr"
	"github.com/pgexec/pgproto/pkg/wire"
	"github.com/pgexec/pgproto/query"
)

// maxBufferedQueries bounds outstanding writes before a Sync-and-drain
// is forced, avoiding a duplex-stream deadlock where both driver and
// server stall writing into each other's full TCP buffers (§4.2,
// §9: 64KB server-side reply buffer / ~250 bytes per reply ≈ 256).
const maxBufferedQueries = 256

// maxBindMessageSize is the largest encoded Bind payload this core will
// send; larger values raise an INVALID_PARAMETER_VALUE bind exception
// (§4.2 step 4).
const maxBindMessageSize = 0x3fffffff

// Executor drives the extended-query pipeline described in §4.2
// over a single Stream. Distinct from Stream itself (which only owns
// wire/state plumbing) so that Execute/Fetch/FastpathCall/StartCopy read
// as the protocol-level API surface a caller actually uses.
type Executor struct {
	conn *Stream
}

// NewExecutor returns an Executor driving conn.
func NewExecutor(conn *Stream) *Executor {
	return &Executor{conn: conn}
}

// Stream returns the Stream this Executor drives, so callers can reach
// CreateSimpleQuery/CreateParameterizedQuery and the other Stream-level
// accessors (§6).
func (e *Executor) Stream() *Stream {
	return e.conn
}

// Execute runs a single Query (§6 "execute(query, params, handler,
// maxRows, fetchSize, flags)").
func (e *Executor) Execute(q *query.Query, params *query.ParameterList, handler ResultHandler, maxRows, fetchSize int, flags ExecuteFlags) error {
	return e.ExecuteBatch([]*query.Query{q}, []*query.ParameterList{params}, handler, maxRows, fetchSize, flags)
}

// ExecuteBatch runs several Query/ParameterList pairs in one logical
// call, batching their wire messages subject to maxBufferedQueries.
func (e *Executor) ExecuteBatch(queries []*query.Query, paramSets []*query.ParameterList, handler ResultHandler, maxRows, fetchSize int, flags ExecuteFlags) error {
	s := e.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	s.waitForLock(nil)

	if err := e.sendQueryPreamble(flags); err != nil {
		return err
	}

	// queryCount is checked *before* sending each statement, not after:
	// the mid-batch Sync for a batch that has reached maxBufferedQueries
	// happens before the triggering statement is sent, not after it.
	// This preserves the deadlock-avoidance characteristics of the
	// source this spec was distilled from (§9 open question).
	queryCount := 0
	for i, q := range queries {
		var params *query.ParameterList
		if i < len(paramSets) {
			params = paramSets[i]
		}

		for _, stmt := range q.Statements() {
			sub := params
			if q.IsComposite() && params != nil {
				sub = params.Sub(flatOffset(q, stmt), stmt.ParamCount())
			}

			if queryCount >= maxBufferedQueries {
				if err := e.sendSync(); err != nil {
					return err
				}

				if err := e.processResults(handler, flags); err != nil {
					return err
				}

				queryCount = 0
			}

			if err := e.sendOneQuery(stmt, sub, maxRows, fetchSize, flags); err != nil {
				// A bind exception does not abort the wire exchange: Sync
				// still goes out and any already-pending results are
				// still drained before the error reaches the caller.
				if syncErr := e.sendSync(); syncErr != nil {
					return syncErr
				}

				_ = e.processResults(handler, flags)
				return err
			}

			queryCount++

			if flags.has(DisallowBatching) {
				if err := e.sendSync(); err != nil {
					return err
				}

				if err := e.processResults(handler, flags); err != nil {
					return err
				}

				queryCount = 0
			}
		}
	}

	if err := e.sendSync(); err != nil {
		return err
	}

	return e.processResults(handler, flags)
}

// flatOffset translates a Composite sub-statement back into its slice of
// the caller's flat ParameterList. Statements are visited in order so the
// running total is just the sum of prior ParamCounts.
func flatOffset(q *query.Query, target *query.Simple) int {
	offset := 0
	for _, s := range q.Statements() {
		if s == target {
			return offset
		}

		offset += s.ParamCount()
	}

	return offset
}

// Fetch continues an already-open forward cursor (§6: "fetch(cursor,
// handler, fetchSize) — continues an open portal").
func (e *Executor) Fetch(cursor *query.Portal, handler ResultHandler, fetchSize int) error {
	s := e.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	s.waitForLock(nil)
	e.drainReclamation()

	rowCap := fetchSize
	if rowCap <= 0 {
		rowCap = 0
	}

	s.pending.pushExecute(executeEntry{query: cursor.Query.Statements()[0], portal: cursor})
	if err := e.sendExecute(cursor.Name, rowCap); err != nil {
		return err
	}

	if err := e.sendSync(); err != nil {
		return err
	}

	return e.processResults(handler, 0)
}

// ProcessNotifies synchronously drains any buffered asynchronous
// notifications (§6: "processNotifies()").
func (e *Executor) ProcessNotifies() []Notification {
	return e.conn.takeNotifications()
}

// drainReclamation issues Close Statement/Close Portal messages for
// every name the reclamation tracker has queued since the last drain
// (§4.6). Must be called with s.mu held.
func (e *Executor) drainReclamation() {
	s := e.conn

	for _, name := range s.tracker.DrainStatements() {
		_ = e.sendClose(wire.CloseTarget('S'), name)
	}

	for _, name := range s.tracker.DrainPortals() {
		_ = e.sendClose(wire.CloseTarget('P'), name)
	}
}

// sendQueryPreamble drains the reclamation tracker, then — unless
// SUPPRESS_BEGIN is set or the transaction is not idle — emits a
// one-shot BEGIN via the shim handler pattern described in §4.2.
func (e *Executor) sendQueryPreamble(flags ExecuteFlags) error {
	e.drainReclamation()

	s := e.conn
	if flags.has(SuppressBegin) || s.txState != TxIdle {
		return nil
	}

	beginStmt := &query.Simple{Fragments: []string{"BEGIN"}}
	shim := &beginShimHandler{conn: s}

	if err := e.sendOneQuery(beginStmt, query.NewParameterList(0), 0, 0, Oneshot|NoMetadata|SuppressBegin); err != nil {
		return err
	}

	if err := e.sendSync(); err != nil {
		return err
	}

	if err := e.processResults(shim, 0); err != nil {
		return err
	}

	return shim.err
}

// beginShimHandler wraps the implicit BEGIN's single expected
// CommandComplete, raising PROTOCOL_VIOLATION if the server reports
// anything other than "BEGIN". Per §8/open questions,
// handleWarning is treated as an error here even though every other path
// treats NoticeResponse as a mere warning — preserved intentionally.
type beginShimHandler struct {
	conn *Stream
	err  error
}

func (h *beginShimHandler) HandleResultRows(*query.Simple, []query.Field, [][][]byte, *query.Portal) {}

func (h *beginShimHandler) HandleCommandStatus(status CommandStatus) {
	if status.Status != "BEGIN" && h.err == nil {
		h.err = pgerr.Wrap(pgerr.ProtocolViolation, "implicit BEGIN shim expected BEGIN, got %q", status.Status)
	}
}

func (h *beginShimHandler) HandleWarning(warn error) {
	if h.err == nil {
		h.err = pgerr.New(pgerr.ProtocolViolation, codes.ProtocolViolation, warn)
	}
}

func (h *beginShimHandler) HandleError(err error) {
	if h.err == nil {
		h.err = err
	}
}

func (h *beginShimHandler) HandleCompletion() {}

// sendOneQuery emits the Parse/DescribeStatement/Bind/DescribePortal/
// Execute sequence for one statement, per the decision rules in spec
// §4.2.
func (e *Executor) sendOneQuery(stmt *query.Simple, params *query.ParameterList, maxRows, fetchSize int, flags ExecuteFlags) error {
	s := e.conn

	usePortal := flags.has(ForwardCursor) && !flags.has(NoResults) && !flags.has(NoMetadata) && fetchSize > 0 && !flags.has(DescribeOnly)
	oneShot := flags.has(Oneshot) && !usePortal

	rowCap := maxRows
	switch {
	case flags.has(NoResults):
		rowCap = 1
	case usePortal:
		rowCap = minPositive(maxRows, fetchSize)
	}

	if params == nil {
		params = query.NewParameterList(stmt.ParamCount())
	}

	needsParse := stmt.Name == "" || !oidsEqual(stmt.ParamOIDs, params.OIDs())
	if needsParse {
		var name string
		if !oneShot {
			name = s.nextStatementName()
		}

		oids := params.OIDs()
		if err := e.sendParse(stmt, name, oids); err != nil {
			return err
		}

		stmt.Name = name
		s.pending.pushParse(parseEntry{query: stmt, name: name, oids: oids})
	}

	needsDescribeStatement := flags.has(DescribeOnly) ||
		(!stmt.KnownFields() && hasUnspecified(params.OIDs()) && !oneShot && !stmt.StatementDescribed)

	if needsDescribeStatement {
		name := stmt.Name
		if err := e.sendDescribe(wire.DescribeTarget('S'), name); err != nil {
			return err
		}

		s.pending.pushDescribeStatement(describeStatementEntry{
			query: stmt, params: params, describeOnly: flags.has(DescribeOnly), name: name,
		})

		if flags.has(DescribeOnly) {
			return nil
		}
	}

	if hasUnspecified(params.OIDs()) && stmt.KnownFields() {
		params.AdoptOIDs(stmt.ParamOIDs)
	}

	if !params.AllSet() {
		return pgerr.Wrap(pgerr.InvalidParameterValue, "cannot execute with unset parameter slots")
	}

	var portalName string
	if usePortal {
		portalName = s.nextPortalName()
	}

	portal := query.NewPortal(queryWrapping(stmt), portalName)

	size, err := e.sendBind(stmt, params, portalName)
	if err != nil {
		return err
	}

	if size > maxBindMessageSize {
		return pgerr.Wrap(pgerr.InvalidParameterValue, "bind message size %d exceeds maximum %d", size, maxBindMessageSize)
	}

	s.pending.pushBind(bindEntry{portal: portal})

	skipDescribePortal := flags.has(NoMetadata) || needsDescribeStatement || stmt.PortalDescribed
	if !skipDescribePortal {
		if err := e.sendDescribe(wire.DescribeTarget('P'), portalName); err != nil {
			return err
		}

		s.pending.pushDescribePortal(describePortalEntry{query: stmt})
	}

	if err := e.sendExecute(portalName, rowCap); err != nil {
		return err
	}

	s.pending.pushExecute(executeEntry{query: stmt, portal: portal})
	return nil
}

// queryWrapping wraps a bare Simple into a new single-statement Query
// for a Portal to hold. The wrapper is not the caller's Query, but it
// retains the same *query.Simple the reclamation tracker watches, so
// the statement stays reachable while the Portal is (§3's "a portal
// cannot outlive its statement").
func queryWrapping(stmt *query.Simple) *query.Query {
	return query.NewSimple(stmt)
}

func minPositive(a, b int) int {
	if a == 0 {
		return b
	}

	if b == 0 {
		return a
	}

	if a < b {
		return a
	}

	return b
}

func hasUnspecified(oids []oid.Oid) bool {
	for _, o := range oids {
		if o == query.Unspecified {
			return true
		}
	}

	return false
}

func oidsEqual(a, b []oid.Oid) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// --- wire message senders ---

func (e *Executor) sendParse(stmt *query.Simple, name string, oids []oid.Oid) error {
	e.conn.logger.Debug("send message", slog.String("type", wire.ClientParse.String()), slog.String("stmt", name))
	w := e.conn.writer
	w.Start(wire.ClientParse)
	w.AddCString(name)
	w.AddCString(stmt.WithPlaceholders())
	w.AddInt16(int16(len(oids)))
	for _, o := range oids {
		w.AddInt32(int32(o))
	}

	return w.End()
}

func (e *Executor) sendDescribe(target wire.DescribeTarget, name string) error {
	e.conn.logger.Debug("send message", slog.String("type", wire.ClientDescribe.String()), slog.String("name", name))
	w := e.conn.writer
	w.Start(wire.ClientDescribe)
	w.AddByte(byte(target))
	w.AddCString(name)
	return w.End()
}

func (e *Executor) sendBind(stmt *query.Simple, params *query.ParameterList, portalName string) (int, error) {
	e.conn.logger.Debug("send message", slog.String("type", wire.ClientBind.String()), slog.String("portal", portalName), slog.String("stmt", stmt.Name))
	w := e.conn.writer
	w.Start(wire.ClientBind)
	w.AddCString(portalName)
	w.AddCString(stmt.Name)

	n := params.Len()
	w.AddInt16(int16(n))
	for i := 0; i < n; i++ {
		p := params.Get(i)
		format := int16(query.TextFormat)
		if p.Binary {
			format = int16(query.BinaryFormat)
		}

		w.AddInt16(format)
	}

	w.AddInt16(int16(n))

	size := 0
	for i := 0; i < n; i++ {
		p := params.Get(i)
		data, length, err := p.Value.Bytes(p.Binary)
		if err != nil {
			return 0, err
		}

		w.AddInt32(length)
		if length > 0 {
			w.AddBytes(data)
		}

		size += 4 + len(data)
	}

	w.AddInt16(1)
	w.AddInt16(int16(query.BinaryFormat))

	if size > maxBindMessageSize {
		w.Reset()
		return size, pgerr.Wrap(pgerr.InvalidParameterValue, "bind message size %d exceeds maximum %d", size, maxBindMessageSize)
	}

	return size, w.End()
}

func (e *Executor) sendExecute(portalName string, rowCap int) error {
	e.conn.logger.Debug("send message", slog.String("type", wire.ClientExecute.String()), slog.String("portal", portalName))
	w := e.conn.writer
	w.Start(wire.ClientExecute)
	w.AddCString(portalName)
	w.AddInt32(int32(rowCap))
	return w.End()
}

func (e *Executor) sendSync() error {
	e.conn.logger.Debug("send message", slog.String("type", wire.ClientSync.String()))
	w := e.conn.writer
	w.Start(wire.ClientSync)
	return w.End()
}

func (e *Executor) sendClose(target wire.CloseTarget, name string) error {
	e.conn.logger.Debug("send message", slog.String("type", wire.ClientClose.String()), slog.String("name", name))
	w := e.conn.writer
	w.Start(wire.ClientClose)
	w.AddByte(byte(target))
	w.AddCString(name)
	return w.End()
}

// --- the response demultiplexer (§4.2 "processResults") ---

// processResults reads typed messages until ReadyForQuery, dispatching
// by code as tabulated in §4.2. Must be called with s.mu held.
func (e *Executor) processResults(handler ResultHandler, flags ExecuteFlags) error {
	s := e.conn
	errs := &pgerr.List{}

	var tuples [][][]byte
	var awaitingStatementFields bool
	var doneAfterRowDescNoData bool

	for {
		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
		}

		s.logger.Debug("recv message", slog.String("type", t.String()))

		switch t {
		case wire.ServerNotificationResponse:
			n, err := parseNotification(s.reader)
			if err != nil {
				return err
			}

			s.AddNotification(n)

		case wire.ServerParseComplete:
			entry, ok := s.pending.popParse()
			s.logger.Debug("matched pending entry", slog.String("type", t.String()), slog.Bool("matched", ok), slog.String("stmt", entry.name))
			if ok && entry.name != "" {
				entry.query.Name = entry.name
				entry.query.ParamOIDs = entry.oids
				s.tracker.TrackQuery(entry.query, entry.name)
			}

		case wire.ServerParameterDescription:
			oids, err := parseParameterDescription(s.reader)
			if err != nil {
				return err
			}

			if entry, ok := s.pending.peekDescribeStatement(); ok {
				if entry.name == entry.query.Name {
					entry.params.AdoptOIDs(oids)
					entry.query.ParamOIDs = oids
				}

				doneAfterRowDescNoData = entry.describeOnly
				awaitingStatementFields = true
			}

		case wire.ServerBindComplete:
			entry, ok := s.pending.popBind()
			s.logger.Debug("matched pending entry", slog.String("type", t.String()), slog.Bool("matched", ok))
			if ok && entry.portal.Name != "" {
				s.tracker.TrackPortal(entry.portal, entry.portal.Name)
			}

		case wire.ServerCloseComplete:
			// ignored, per §4.2

		case wire.ServerNoData:
			if awaitingStatementFields {
				entry, ok := s.pending.popDescribeStatement()
				awaitingStatementFields = false
				if ok {
					entry.query.Fields = []query.Field{}
					entry.query.StatementDescribed = true
					if doneAfterRowDescNoData {
						handler.HandleResultRows(entry.query, entry.query.Fields, nil, nil)
					}
				}
			} else if entry, ok := s.pending.popDescribePortal(); ok {
				entry.query.Fields = []query.Field{}
				entry.query.PortalDescribed = true
			}

		case wire.ServerPortalSuspended:
			entry, ok := s.pending.popExecute()
			if ok {
				handler.HandleResultRows(entry.query, entry.query.Fields, tuples, entry.portal)
			}

			tuples = nil

		case wire.ServerCommandComplete:
			tag, err := s.reader.GetString()
			if err != nil {
				return err
			}

			status := parseCommandTag(tag)
			entry, ok := s.pending.popExecute()
			s.logger.Debug("matched pending entry", slog.String("type", t.String()), slog.Bool("matched", ok), slog.String("tag", tag))

			emit := func() {
				if ok {
					if flags.has(BothRowsAndStatus) {
						handler.HandleResultRows(entry.query, entry.query.Fields, tuples, nil)
						handler.HandleCommandStatus(status)
					} else if tuples != nil {
						handler.HandleResultRows(entry.query, entry.query.Fields, tuples, nil)
						handler.HandleCommandStatus(status)
					} else {
						handler.HandleCommandStatus(status)
					}
				} else {
					handler.HandleCommandStatus(status)
				}
			}
			emit()

			if ok && entry.portal.Name != "" {
				_ = e.sendClose(wire.CloseTarget('P'), entry.portal.Name)
			}

			tuples = nil

		case wire.ServerDataRow:
			row, err := parseDataRow(s.reader)
			if err != nil {
				errs.Add(pgerr.New(pgerr.OutOfMemory, codes.OutOfMemory, err))
				continue
			}

			tuples = append(tuples, row)

		case wire.ServerErrorResponse:
			fields, err := parseFieldedMessage(s.reader)
			if err != nil {
				return err
			}

			pe := pgerr.FromFields(classifyError(fields), fields)
			pe.ConnID = s.id.String()
			errs.Add(pe)
			handler.HandleError(pe)

		case wire.ServerEmptyQuery:
			s.pending.popExecute()
			handler.HandleCommandStatus(CommandStatus{Status: "EMPTY"})

		case wire.ServerNoticeResponse:
			fields, err := parseFieldedMessage(s.reader)
			if err != nil {
				return err
			}

			warn := pgerr.FromFields(pgerr.ConnectionFailure, fields)
			warn.Kind = ""
			s.AddWarning(warn)
			handler.HandleWarning(warn)

		case wire.ServerParameterStatus:
			name, err := s.reader.GetString()
			if err != nil {
				return err
			}

			value, err := s.reader.GetString()
			if err != nil {
				return err
			}

			if violation := s.applyParameterStatus(name, value); violation != nil {
				handler.HandleError(violation)
				return violation
			}

		case wire.ServerRowDescription:
			fields, err := parseRowDescription(s.reader)
			if err != nil {
				return err
			}

			if awaitingStatementFields {
				entry, ok := s.pending.popDescribeStatement()
				awaitingStatementFields = false
				if ok {
					entry.query.Fields = fields
					entry.query.StatementDescribed = true
					if doneAfterRowDescNoData {
						handler.HandleResultRows(entry.query, fields, nil, nil)
					}
				}
			} else if entry, ok := s.pending.popDescribePortal(); ok {
				entry.query.Fields = fields
				entry.query.PortalDescribed = true
			}

		case wire.ServerReadyForQuery:
			b, err := s.reader.GetBytes(1)
			if err != nil {
				return err
			}

			s.txState = txStateFromWire(wire.TxStatus(b[0]))
			unprepareFailedParses(&s.pending)
			s.pending.clear()
			s.releaseLock()
			handler.HandleCompletion()
			return errs.Err()

		case wire.ServerCopyInResponse:
			_ = e.sendByte(wire.ClientCopyFail, "COPY not supported at this entry point")

		case wire.ServerCopyOutResponse:
			handler.HandleError(pgerr.Wrap(pgerr.NotImplemented, "COPY OUT is not supported via Execute"))

		default:
			err := pgerr.Wrap(pgerr.CommunicationError, "unexpected message code %q from server", byte(t))
			s.closeLocked(err)
			return err
		}
	}
}

// sendByte writes a minimal one-field, CString-payload client message —
// used for the CopyFail rejection a normal Execute must send if the
// server unexpectedly starts a COPY (§4.2's "G/H during a normal
// query" row).
func (e *Executor) sendByte(t wire.ClientMessage, msg string) error {
	w := e.conn.writer
	w.Start(t)
	w.AddCString(msg)
	return w.End()
}

func txStateFromWire(b wire.TxStatus) TransactionState {
	switch b {
	case wire.TxOpen:
		return TxOpen
	case wire.TxFailed:
		return TxFailed
	default:
		return TxIdle
	}
}

// unprepareFailedParses clears the assigned name of any Query whose
// Parse was sent but never acknowledged before ReadyForQuery — it
// failed, so the name was never actually registered server-side (spec
// §4.2 "Z ReadyForQuery": "un-prepare queries that failed their Parse").
func unprepareFailedParses(p *pendingQueues) {
	for _, entry := range p.parses {
		entry.query.Name = ""
	}
}

func classifyError(fields map[byte]string) pgerr.Kind {
	code := fields[pgerr.FieldSQLState]
	switch {
	case code == string(codes.ConnectionFailure) || code == string(codes.ConnectionDoesNotExist):
		return pgerr.ConnectionFailure
	case code == string(codes.ProtocolViolation):
		return pgerr.ProtocolViolation
	case code == string(codes.InvalidParameterValue):
		return pgerr.InvalidParameterValue
	default:
		return pgerr.ProtocolViolation
	}
}

// --- message body parsers ---

func parseCommandTag(tag string) CommandStatus {
	status := CommandStatus{Status: tag}

	var verb string
	var a, b int64
	if n, _ := fmt.Sscanf(tag, "%s %d %d", &verb, &a, &b); n == 3 {
		status.UpdateCount = b
		status.InsertOID = uint32(a)
		return status
	}

	if n, _ := fmt.Sscanf(tag, "%s %d", &verb, &a); n == 2 {
		status.UpdateCount = a
	}

	return status
}

func parseRowDescription(r interface {
	GetUint16() (uint16, error)
	GetString() (string, error)
	GetUint32() (uint32, error)
	GetInt32() (int32, error)
}) ([]query.Field, error) {
	n, err := r.GetUint16()
	if err != nil {
		return nil, err
	}

	fields := make([]query.Field, n)
	for i := range fields {
		name, err := r.GetString()
		if err != nil {
			return nil, err
		}

		tableOID, err := r.GetUint32()
		if err != nil {
			return nil, err
		}

		column, err := r.GetUint16()
		if err != nil {
			return nil, err
		}

		typeOID, err := r.GetUint32()
		if err != nil {
			return nil, err
		}

		typeLen, err := r.GetUint16()
		if err != nil {
			return nil, err
		}

		typeMod, err := r.GetInt32()
		if err != nil {
			return nil, err
		}

		format, err := r.GetUint16()
		if err != nil {
			return nil, err
		}

		fields[i] = query.Field{
			Name: name, Table: oid.Oid(tableOID), Column: int16(column),
			Type: oid.Oid(typeOID), TypeLen: int16(typeLen), TypeMod: typeMod, Format: int16(format),
		}
	}

	return fields, nil
}

func parseParameterDescription(r interface {
	GetUint16() (uint16, error)
	GetUint32() (uint32, error)
}) ([]oid.Oid, error) {
	n, err := r.GetUint16()
	if err != nil {
		return nil, err
	}

	oids := make([]oid.Oid, n)
	for i := range oids {
		v, err := r.GetUint32()
		if err != nil {
			return nil, err
		}

		oids[i] = oid.Oid(v)
	}

	return oids, nil
}

func parseDataRow(r interface {
	GetUint16() (uint16, error)
	GetInt32() (int32, error)
	GetBytes(int) ([]byte, error)
}) ([][]byte, error) {
	n, err := r.GetUint16()
	if err != nil {
		return nil, err
	}

	row := make([][]byte, n)
	for i := range row {
		length, err := r.GetInt32()
		if err != nil {
			return nil, err
		}

		if length < 0 {
			continue
		}

		row[i], err = r.GetBytes(int(length))
		if err != nil {
			return nil, err
		}
	}

	return row, nil
}

func parseNotification(r interface {
	GetInt32() (int32, error)
	GetString() (string, error)
}) (Notification, error) {
	pid, err := r.GetInt32()
	if err != nil {
		return Notification{}, err
	}

	channel, err := r.GetString()
	if err != nil {
		return Notification{}, err
	}

	payload, err := r.GetString()
	if err != nil {
		return Notification{}, err
	}

	return Notification{ProcessID: pid, Channel: channel, Payload: payload}, nil
}

// parseFieldedMessage parses the (byte code, CString)* \x00-terminated
// payload shared by ErrorResponse and NoticeResponse (§6).
func parseFieldedMessage(r *fieldReader) (map[byte]string, error) {
	fields := make(map[byte]string)

	for {
		code, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		if code == 0 {
			return fields, nil
		}

		value, err := r.GetString()
		if err != nil {
			return nil, err
		}

		fields[code] = value
	}
}

// fieldReader is the subset of *buffer.Reader parseFieldedMessage needs;
// declared so the parser is independently testable against a scripted
// buffer.
type fieldReader interface {
	ReadByte() (byte, error)
	GetString() (string, error)
}

