package pgproto

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/pgexec/pgproto/codes"
	"github.com/pgexec/pgproto/pgerr"
	"github.com/pgexec/pgproto/pkg/buffer"
	"github.com/pgexec/pgproto/reclaim"
)

// TransactionState mirrors the tri-state transaction status reported in
// ReadyForQuery's payload byte (§3: "Tri-state mirror of
// server-reported status... Updated only on receipt of ReadyForQuery.")
type TransactionState int

const (
	TxIdle TransactionState = iota
	TxOpen
	TxFailed
)

func (s TransactionState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxOpen:
		return "open"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notification is one asynchronous NOTIFY delivered outside any Sync
// window (§5: "Notifications... may appear anywhere and do not
// consume pending-queue entries").
type Notification struct {
	ProcessID int32
	Channel   string
	Payload   string
}

// ProtocolConnection is the downward interface the Executor, Fastpath and
// COPY subprotocols use to reach shared connection state (§6,
// "Downward interface (ProtocolConnection)"). *Stream is the only
// implementation; the interface exists so executor.go/fastpath.go/copy.go
// can be exercised against a fake in tests without a real Stream.
type ProtocolConnection interface {
	Close() error
	GetTransactionState() TransactionState
	SetTransactionState(TransactionState)
	GetStandardConformingStrings() bool
	SetStandardConformingStrings(bool)
	AddWarning(err *pgerr.Error)
	AddNotification(n Notification)
	SendQueryCancel() error
}

// Stream is a single client-side connection to a PostgreSQL v3 backend.
// It owns the byte stream, the five pending-message FIFOs, the
// reclamation tracker, the transaction/guard state, and the cooperative
// COPY lock layered above its own method monitor (§5).
//
// There is no single teacher file this is adapted from — psql-wire's
// conn.go is the server's accept-loop counterpart — but the shape
// (embedded buffer.Reader/Writer, a logger carried alongside, a mutex
// guarding shared state) follows the teacher's own server.go/conn.go
// pairing.
type Stream struct {
	id     uuid.UUID
	conn   net.Conn
	reader *buffer.Reader
	writer *buffer.Writer
	logger *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	allowEncodingChanges bool

	txState TransactionState
	scs     bool

	warnings      []*pgerr.Error
	notifications []Notification

	pending pendingQueues
	tracker *reclaim.Tracker

	stmtCounter   uint64
	portalCounter uint64

	// lockedFor is nil when the connection is free, or holds the
	// identity (typically *CopyOperation) of whoever currently owns it
	// for a COPY session (§3 "Connection lock", §5 "Cooperative
	// lock above the monitor").
	lockedFor any

	bufferSize int

	closed   bool
	closeErr error
}

// Option configures a new Stream.
type Option func(*Stream)

// WithLogger attaches a structured logger; every log line carries this
// Stream's connection identifier (§4.10).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

// WithAllowEncodingChanges disables the client_encoding guard in §4.5.
func WithAllowEncodingChanges(allow bool) Option {
	return func(s *Stream) { s.allowEncodingChanges = allow }
}

// WithBufferSize overrides the Reader's buffer/max-message size.
func WithBufferSize(size int) Option {
	return func(s *Stream) { s.bufferSize = size }
}

// NewStream wraps conn as a pgproto Stream. The caller is responsible
// for having already completed connection establishment, authentication
// and SSL negotiation (all out of scope here, per §1).
func NewStream(conn net.Conn, opts ...Option) *Stream {
	s := &Stream{
		id:      uuid.New(),
		conn:    conn,
		logger:  slog.Default(),
		txState: TxIdle,
		scs:     true,
		tracker: reclaim.NewTracker(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(slog.String("conn_id", s.id.String()))
	s.reader = buffer.NewReader(s.logger, conn, s.bufferSize)
	s.writer = buffer.NewWriter(s.logger, conn)
	s.cond = sync.NewCond(&s.mu)

	return s
}

// ID returns this connection's identifier, attached to every log line
// and to errors it raises (§4.10).
func (s *Stream) ID() uuid.UUID { return s.id }

// Close closes the underlying socket. Subsequent operations on a closed
// Stream return a CONNECTION_FAILURE error.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked(nil)
}

// closeLocked force-closes the connection (§4.2 "Guarantees": "On a
// connection-level I/O failure the connection is force-closed"). Must be
// called with mu held. cause, if non-nil, becomes the stored error every
// subsequent operation returns.
func (s *Stream) closeLocked(cause error) error {
	if s.closed {
		return s.closeErr
	}

	s.closed = true
	if cause != nil {
		s.closeErr = pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, cause)
	}

	err := s.conn.Close()
	s.cond.Broadcast()
	return err
}

func (s *Stream) checkOpen() error {
	if s.closed {
		if s.closeErr != nil {
			return s.closeErr
		}

		return pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, nil)
	}

	return nil
}

// GetTransactionState returns the last transaction state reported by
// ReadyForQuery.
func (s *Stream) GetTransactionState() TransactionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.txState
}

// SetTransactionState overrides the recorded transaction state. The
// receive loops (processResults and the COPY, fastpath and simple-query
// loops) do not call it: they update the state directly while holding
// mu.
func (s *Stream) SetTransactionState(t TransactionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txState = t
}

// GetStandardConformingStrings reports the connection's current
// standard_conforming_strings setting, as learned from ParameterStatus.
func (s *Stream) GetStandardConformingStrings() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scs
}

func (s *Stream) SetStandardConformingStrings(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scs = v
}

// AddWarning records a NoticeResponse surfaced through handleWarning
// (§6: "handleWarning(warn)"). Must be called with s.mu held, as every
// receive loop that calls it does.
func (s *Stream) AddWarning(err *pgerr.Error) {
	err.ConnID = s.id.String()
	s.warnings = append(s.warnings, err)
}

// Warnings returns every warning collected so far.
func (s *Stream) Warnings() []*pgerr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*pgerr.Error(nil), s.warnings...)
}

// AddNotification records an AsyncNotify message. Must be called with
// s.mu held, as every receive loop that calls it does.
func (s *Stream) AddNotification(n Notification) {
	s.notifications = append(s.notifications, n)
}

// takeNotifications drains and returns every buffered notification
// (used by ProcessNotifies).
func (s *Stream) takeNotifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.notifications
	s.notifications = nil
	return out
}

// SendQueryCancel always returns a NOT_IMPLEMENTED error: an
// out-of-band cancel request needs a fresh connection to the server's
// cancel port (§5 "Cancellation & timeouts"), and this core does not
// open one or send a CancelRequest. The stub exists so
// ProtocolConnection is a complete, satisfiable interface for tests.
func (s *Stream) SendQueryCancel() error {
	return pgerr.Wrap(pgerr.NotImplemented, "query cancel requires an out-of-band connection, which this core does not establish")
}

func (s *Stream) nextStatementName() string {
	s.stmtCounter++
	return "S_" + strconv.FormatUint(s.stmtCounter, 10)
}

func (s *Stream) nextPortalName() string {
	s.portalCounter++
	return "C_" + strconv.FormatUint(s.portalCounter, 10)
}

// --- cooperative COPY lock (§5 "Cooperative lock above the monitor") ---

// waitForLock blocks, releasing mu, while the connection is held by an
// owner other than owner. Must be called with mu held.
func (s *Stream) waitForLock(owner any) {
	for s.lockedFor != nil && s.lockedFor != owner {
		s.cond.Wait()
	}
}

// acquireLock takes the COPY lock for owner. Must be called with mu
// held and after waitForLock(nil). Acquiring while already holding the
// lock is an error, per §5.
func (s *Stream) acquireLock(owner any) error {
	if s.lockedFor != nil {
		return pgerr.New(pgerr.ObjectNotInState, codes.ObjectNotInPrerequisiteState, errLockAlreadyHeld)
	}

	s.lockedFor = owner
	return nil
}

// releaseLock frees the connection for other operations and wakes
// anyone blocked in waitForLock. Called by the executor at
// ReadyForQuery (§5: "released by the executor at ReadyForQuery").
func (s *Stream) releaseLock() {
	s.lockedFor = nil
	s.cond.Broadcast()
}

// hasLock reports whether owner currently holds the COPY lock.
func (s *Stream) hasLock(owner any) bool {
	return s.lockedFor == owner
}

var errLockAlreadyHeld = errors.New("connection is already locked for a COPY operation")
