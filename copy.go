package pgproto

import (
	"fmt"
	"io"

	"github.com/pgexec/pgproto/codes"
	"github.com/pgexec/pgproto/pgerr"
	"github.com/pgexec/pgproto/pkg/wire"
)

// CopyOperation identifies the owner of the connection's cooperative lock
// for the duration of one COPY session (§3 "Connection lock", §4.4,
// §5 "Cooperative lock above the monitor"). There is no teacher
// equivalent for the client-side session object itself — psql-wire's
// copy.go streams COPY data the *server* already knows it is in; this
// type exists purely to give waitForLock/acquireLock/hasLock an owner
// identity to compare against, per §5's "acquired by an operation
// and released by the executor at ReadyForQuery".
type CopyOperation struct {
	conn *Stream
	out  bool // true: CopyOut (server -> client); false: CopyIn (client -> server)

	rowCount int64
	done     bool
}

// Out reports whether this is a COPY ... TO STDOUT (server -> client)
// session.
func (op *CopyOperation) Out() bool { return op.out }

// StartCopy issues sql (expected to be a "COPY ... FROM/TO STDIN/STDOUT"
// statement) via the simple-query subprotocol and blocks until the
// server replies with CopyInResponse or CopyOutResponse, acquiring the
// connection's cooperative lock in the returned CopyOperation's name
// (§4.4: "Acquisition rule: after sending the Query(CopyStart) and
// reading CopyIn/CopyOut response, the lock is taken").
func (e *Executor) StartCopy(sql string, suppressBegin bool) (*CopyOperation, error) {
	s := e.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.waitForLock(nil)
	e.drainReclamation()

	if !suppressBegin && s.txState == TxIdle {
		if err := e.sendOneShotBegin(); err != nil {
			return nil, err
		}
	}

	if err := e.sendSimpleQuery(sql); err != nil {
		return nil, err
	}

	op := &CopyOperation{conn: s}

	for {
		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return nil, pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
		}

		switch t {
		case wire.ServerCopyInResponse:
			op.out = false
			if err := s.acquireLock(op); err != nil {
				return nil, err
			}

			return op, nil

		case wire.ServerCopyOutResponse:
			op.out = true
			if err := s.acquireLock(op); err != nil {
				return nil, err
			}

			return op, nil

		case wire.ServerErrorResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return nil, ferr
			}

			pe := pgerr.FromFields(classifyError(fields), fields)
			e.drainToReady()
			return nil, pe

		case wire.ServerNoticeResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return nil, ferr
			}

			warn := pgerr.FromFields(pgerr.ConnectionFailure, fields)
			warn.Kind = ""
			s.AddWarning(warn)

		case wire.ServerParameterStatus:
			name, nerr := s.reader.GetString()
			if nerr != nil {
				return nil, nerr
			}

			value, verr := s.reader.GetString()
			if verr != nil {
				return nil, verr
			}

			if violation := s.applyParameterStatus(name, value); violation != nil {
				return nil, violation
			}

		case wire.ServerNotificationResponse:
			n, nerr := parseNotification(s.reader)
			if nerr != nil {
				return nil, nerr
			}

			s.AddNotification(n)

		default:
			err := pgerr.Wrap(pgerr.ProtocolViolation, "unexpected message code %q while starting COPY", byte(t))
			s.closeLocked(err)
			return nil, err
		}
	}
}

// sendOneShotBegin emits the implicit BEGIN shim used by both
// StartCopy and FastpathCall, via the simple-query subprotocol rather
// than the extended-query preamble used by Execute/ExecuteBatch (spec
// §4.2/§4.3 both describe "the same shim handler pattern").
func (e *Executor) sendOneShotBegin() error {
	s := e.conn

	if err := e.sendSimpleQuery("BEGIN"); err != nil {
		return err
	}

	shim := &beginShimHandler{conn: s}
	return e.drainSimpleQuery(shim)
}

// drainToReady discards every message up to and including the next
// ReadyForQuery — used to unwind after an ErrorResponse seen while
// waiting for CopyIn/Out response in StartCopy, before the connection
// lock has been acquired, so it does not touch the lock.
func (e *Executor) drainToReady() {
	s := e.conn

	for {
		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return
		}

		if t == wire.ServerReadyForQuery {
			b, err := s.reader.GetBytes(1)
			if err == nil {
				s.txState = txStateFromWire(wire.TxStatus(b[0]))
			}

			return
		}
	}
}

// drainSimpleQuery reads the response to a one-statement simple-query
// message through to ReadyForQuery, used only for the implicit BEGIN
// shim (CommandComplete/ReadyForQuery, no RowDescription expected).
func (e *Executor) drainSimpleQuery(shim *beginShimHandler) error {
	s := e.conn

	for {
		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
		}

		switch t {
		case wire.ServerCommandComplete:
			tag, terr := s.reader.GetString()
			if terr != nil {
				return terr
			}

			shim.HandleCommandStatus(parseCommandTag(tag))

		case wire.ServerReadyForQuery:
			b, berr := s.reader.GetBytes(1)
			if berr != nil {
				return berr
			}

			s.txState = txStateFromWire(wire.TxStatus(b[0]))
			return shim.err

		case wire.ServerNoticeResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return ferr
			}

			warn := pgerr.FromFields(pgerr.ConnectionFailure, fields)
			warn.Kind = ""
			shim.HandleWarning(warn)

		case wire.ServerErrorResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return ferr
			}

			shim.HandleError(pgerr.FromFields(classifyError(fields), fields))

		default:
			// simple-query BEGIN never emits rows; ignore anything else
			// (ParameterStatus, etc.) until ReadyForQuery.
		}
	}
}

// sendSimpleQuery emits a simple-query 'Q' message, used by StartCopy and
// the implicit BEGIN shim (§1: "the simple-query ... subprotocols").
func (e *Executor) sendSimpleQuery(sql string) error {
	w := e.conn.writer
	w.Start(wire.ClientSimpleQuery)
	w.AddCString(sql)
	return w.End()
}

// WriteToCopy streams one chunk of COPY data to the server. Per spec
// §4.4, it first does a best-effort, non-blocking drain of any pending
// notifications/notices so the server's output buffer does not silently
// fill while we hold the lock.
func (op *CopyOperation) WriteToCopy(data []byte) error {
	s := op.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLock(op) {
		return pgerr.New(pgerr.ObjectNotInState, codes.ObjectNotInPrerequisiteState, errNotCopyOwner)
	}

	if op.out {
		return pgerr.Wrap(pgerr.ObjectNotInState, "WriteToCopy called on a COPY OUT operation")
	}

	op.drainPendingLocked()

	w := s.writer
	w.Start(wire.ClientCopyData)
	w.AddBytes(data)
	return w.End()
}

// FlushCopy flushes the underlying writer without sending more data,
// after the same best-effort drain as WriteToCopy.
func (op *CopyOperation) FlushCopy() error {
	s := op.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLock(op) {
		return pgerr.New(pgerr.ObjectNotInState, codes.ObjectNotInPrerequisiteState, errNotCopyOwner)
	}

	op.drainPendingLocked()
	return s.writer.Flush()
}

// drainPendingLocked consumes any NotificationResponse/NoticeResponse/
// ParameterStatus messages already sitting in the read buffer, without
// blocking for more I/O (§4.4: "a best-effort non-blocking drain of
// any pending server messages"). Must be called with s.mu held.
func (op *CopyOperation) drainPendingLocked() {
	s := op.conn

	for s.reader.Buffered() > 0 {
		t, err := s.reader.PeekType()
		if err != nil {
			return
		}

		switch t {
		case wire.ServerNotificationResponse, wire.ServerNoticeResponse, wire.ServerParameterStatus:
			if _, _, err := s.reader.ReadTypedMsg(); err != nil {
				return
			}

			switch t {
			case wire.ServerNotificationResponse:
				if n, err := parseNotification(s.reader); err == nil {
					s.AddNotification(n)
				}
			case wire.ServerNoticeResponse:
				if fields, err := parseFieldedMessage(s.reader); err == nil {
					warn := pgerr.FromFields(pgerr.ConnectionFailure, fields)
					warn.Kind = ""
					s.AddWarning(warn)
				}
			case wire.ServerParameterStatus:
				name, _ := s.reader.GetString()
				value, _ := s.reader.GetString()
				s.applyParameterStatus(name, value)
			}

		default:
			return
		}
	}
}

// EndCopy sends CopyDone and blocks through to ReadyForQuery, returning
// the server-reported row count (§4.4: "endCopy sends CopyDone and
// blocks through to ReadyForQuery, returning the server-reported row
// count").
func (op *CopyOperation) EndCopy() (int64, error) {
	s := op.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLock(op) {
		return 0, pgerr.New(pgerr.ObjectNotInState, codes.ObjectNotInPrerequisiteState, errNotCopyOwner)
	}

	if !op.out {
		w := s.writer
		w.Start(wire.ClientCopyDone)
		if err := w.End(); err != nil {
			return 0, err
		}
	}

	if err := op.processCopyResults(true); err != nil {
		return 0, err
	}

	return op.rowCount, nil
}

// ReadFromCopy returns the next chunk of COPY OUT data, or io.EOF once
// the server's CopyDone has been observed and the connection lock
// released.
func (op *CopyOperation) ReadFromCopy() ([]byte, error) {
	s := op.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLock(op) {
		return nil, pgerr.New(pgerr.ObjectNotInState, codes.ObjectNotInPrerequisiteState, errNotCopyOwner)
	}

	if !op.out {
		return nil, pgerr.Wrap(pgerr.ObjectNotInState, "ReadFromCopy called on a COPY IN operation")
	}

	for {
		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return nil, pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
		}

		switch t {
		case wire.ServerCopyData:
			data, derr := s.reader.GetBytes(len(s.reader.Msg))
			if derr != nil {
				return nil, derr
			}

			return append([]byte(nil), data...), nil

		case wire.ServerCopyDone:
			if err := op.processCopyResults(true); err != nil {
				return nil, err
			}

			return nil, io.EOF

		case wire.ServerNotificationResponse:
			n, nerr := parseNotification(s.reader)
			if nerr != nil {
				return nil, nerr
			}

			s.AddNotification(n)

		case wire.ServerNoticeResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return nil, ferr
			}

			warn := pgerr.FromFields(pgerr.ConnectionFailure, fields)
			warn.Kind = ""
			s.AddWarning(warn)

		default:
			err := pgerr.Wrap(pgerr.ProtocolViolation, "unexpected message code %q during COPY OUT", byte(t))
			s.closeLocked(err)
			return nil, err
		}
	}
}

// CancelCopy aborts the COPY session. For COPY IN it sends exactly one
// CopyFail and requires the server to reply with exactly one Error
// followed by ReadyForQuery (§8 "COPY cancel"); any other count is
// reported as COMMUNICATION_ERROR. For COPY OUT, cancellation can only
// happen via the out-of-band query-cancel channel (§4.4, §5
// "Cancellation & timeouts").
func (op *CopyOperation) CancelCopy() error {
	s := op.conn

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLock(op) {
		return pgerr.New(pgerr.ObjectNotInState, codes.ObjectNotInPrerequisiteState, errNotCopyOwner)
	}

	if op.out {
		return s.SendQueryCancel()
	}

	w := s.writer
	w.Start(wire.ClientCopyFail)
	w.AddCString("COPY cancelled by client")
	if err := w.End(); err != nil {
		return err
	}

	errorCount := 0
	for {
		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
		}

		switch t {
		case wire.ServerErrorResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return ferr
			}

			errorCount++
			_ = pgerr.FromFields(classifyError(fields), fields)

		case wire.ServerReadyForQuery:
			b, berr := s.reader.GetBytes(1)
			if berr != nil {
				return berr
			}

			s.txState = txStateFromWire(wire.TxStatus(b[0]))
			s.releaseLock()

			if errorCount != 1 {
				return pgerr.Wrap(pgerr.CommunicationError, "expected exactly one error response to CopyFail, got %d", errorCount)
			}

			return nil

		case wire.ServerCommandComplete:
			if _, err := s.reader.GetString(); err != nil {
				return err
			}

		case wire.ServerNoticeResponse, wire.ServerNotificationResponse, wire.ServerParameterStatus, wire.ServerCopyData, wire.ServerCopyDone:
			// incidental, skip

		default:
			err := pgerr.Wrap(pgerr.ProtocolViolation, "unexpected message code %q cancelling COPY", byte(t))
			s.closeLocked(err)
			return err
		}
	}
}

// processCopyResults is the COPY-scoped demultiplexer mirroring §4.2's
// processResults but over the COPY code set: G/H/d/c/C/N/A/E/Z, plus
// incidental T/D which are skipped (§4.4). When block is false, a
// peeked CommandComplete is intentionally left unconsumed: the server
// may emit it before it has actually seen our CopyDone, so deferring it
// until the caller blocks keeps the state machine aligned — the quirk
// called out explicitly in §4.4.
func (op *CopyOperation) processCopyResults(block bool) error {
	s := op.conn

	for {
		if !block && s.reader.Buffered() == 0 {
			return nil
		}

		if !block {
			t, err := s.reader.PeekType()
			if err != nil {
				return nil
			}

			if t == wire.ServerCommandComplete {
				return nil
			}
		}

		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
		}

		switch t {
		case wire.ServerCopyInResponse, wire.ServerCopyOutResponse:
			// already in COPY mode; ignore a redundant response

		case wire.ServerCopyData:
			if _, err := s.reader.GetBytes(len(s.reader.Msg)); err != nil {
				return err
			}

		case wire.ServerCopyDone:
			// acknowledged; CommandComplete/ReadyForQuery follow

		case wire.ServerCommandComplete:
			tag, terr := s.reader.GetString()
			if terr != nil {
				return terr
			}

			op.rowCount = parseCommandTag(tag).UpdateCount

		case wire.ServerNoticeResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return ferr
			}

			warn := pgerr.FromFields(pgerr.ConnectionFailure, fields)
			warn.Kind = ""
			s.AddWarning(warn)

		case wire.ServerNotificationResponse:
			n, nerr := parseNotification(s.reader)
			if nerr != nil {
				return nerr
			}

			s.AddNotification(n)

		case wire.ServerErrorResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return ferr
			}

			return pgerr.FromFields(classifyError(fields), fields)

		case wire.ServerRowDescription, wire.ServerDataRow:
			// incidental per §4.4; skip by discarding the raw body.

		case wire.ServerReadyForQuery:
			b, berr := s.reader.GetBytes(1)
			if berr != nil {
				return berr
			}

			s.txState = txStateFromWire(wire.TxStatus(b[0]))
			s.releaseLock()
			op.done = true
			return nil

		default:
			err := fmt.Errorf("unexpected message code %q during COPY", byte(t))
			wrapped := pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
			s.closeLocked(err)
			return wrapped
		}
	}
}

var errNotCopyOwner = fmt.Errorf("connection is not locked for this COPY operation")
