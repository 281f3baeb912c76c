package pgproto

import (
	"net"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/pgexec/pgproto/pkg/buffer"
	"github.com/pgexec/pgproto/pkg/wire"
	"github.com/pgexec/pgproto/query"
)

// assertMsg asserts that got is the ClientMessage code want (as a byte
// literal, e.g. 'P' for Parse), failing the test immediately if not.
func assertMsg(t *testing.T, got wire.ClientMessage, want byte) {
	t.Helper()
	require.Equal(t, wire.ClientMessage(want), got, "unexpected client message on the wire")
}

// fakeServer is a scripted stand-in for a real backend, driven over a
// net.Pipe: it lets tests assert on exactly which client messages were
// sent and hand-script the server replies, rather than requiring a real
// postgres to exercise the executor's wire-level decisions. Grounded in
// the teacher's own mock package (internal/mock's reader/writer helpers used
// throughout command_*_test.go) but turned around to play the server
// role against our client Stream.
type fakeServer struct {
	t      *testing.T
	conn   net.Conn
	reader *buffer.Reader
	writer *buffer.Writer
}

// newFakeServer returns a connected (clientConn, fakeServer) pair. The
// caller builds a Stream over clientConn.
func newFakeServer(t *testing.T) (net.Conn, *fakeServer) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	logger := slogt.New(t)

	srv := &fakeServer{
		t:      t,
		conn:   serverConn,
		reader: buffer.NewReader(logger, serverConn, 0),
		writer: buffer.NewWriter(logger, serverConn),
	}

	t.Cleanup(func() { _ = serverConn.Close() })

	return clientConn, srv
}

// recv reads and returns the next client message's type code, leaving
// its body available via s.reader for field-level assertions.
func (s *fakeServer) recv() wire.ClientMessage {
	s.t.Helper()

	typ, err := s.reader.ReadType()
	if err != nil {
		s.t.Fatalf("fakeServer: reading client message type: %v", err)
	}

	if _, err := s.reader.ReadUntypedMsg(); err != nil {
		s.t.Fatalf("fakeServer: reading client message body: %v", err)
	}

	return wire.ClientMessage(typ)
}

func (s *fakeServer) sendParseComplete() {
	s.writer.Start(wire.ClientMessage(wire.ServerParseComplete))
	s.must(s.writer.End())
}

func (s *fakeServer) sendBindComplete() {
	s.writer.Start(wire.ClientMessage(wire.ServerBindComplete))
	s.must(s.writer.End())
}

func (s *fakeServer) sendCloseComplete() {
	s.writer.Start(wire.ClientMessage(wire.ServerCloseComplete))
	s.must(s.writer.End())
}

func (s *fakeServer) sendNoData() {
	s.writer.Start(wire.ClientMessage(wire.ServerNoData))
	s.must(s.writer.End())
}

func (s *fakeServer) sendRowDescription(fields []rowField) {
	s.writer.Start(wire.ClientMessage(wire.ServerRowDescription))
	s.writer.AddInt16(int16(len(fields)))
	for _, f := range fields {
		s.writer.AddCString(f.name)
		s.writer.AddInt32(0)
		s.writer.AddInt16(0)
		s.writer.AddInt32(int32(f.typeOID))
		s.writer.AddInt16(f.typeLen)
		s.writer.AddInt32(-1)
		s.writer.AddInt16(0)
	}
	s.must(s.writer.End())
}

type rowField struct {
	name    string
	typeOID uint32
	typeLen int16
}

func (s *fakeServer) sendParameterDescription(oids []uint32) {
	s.writer.Start(wire.ClientMessage(wire.ServerParameterDescription))
	s.writer.AddInt16(int16(len(oids)))
	for _, o := range oids {
		s.writer.AddInt32(int32(o))
	}
	s.must(s.writer.End())
}

func (s *fakeServer) sendDataRow(cols [][]byte) {
	s.writer.Start(wire.ClientMessage(wire.ServerDataRow))
	s.writer.AddInt16(int16(len(cols)))
	for _, c := range cols {
		if c == nil {
			s.writer.AddInt32(-1)
			continue
		}

		s.writer.AddInt32(int32(len(c)))
		s.writer.AddBytes(c)
	}
	s.must(s.writer.End())
}

func (s *fakeServer) sendCommandComplete(tag string) {
	s.writer.Start(wire.ClientMessage(wire.ServerCommandComplete))
	s.writer.AddCString(tag)
	s.must(s.writer.End())
}

func (s *fakeServer) sendPortalSuspended() {
	s.writer.Start(wire.ClientMessage(wire.ServerPortalSuspended))
	s.must(s.writer.End())
}

func (s *fakeServer) sendEmptyQuery() {
	s.writer.Start(wire.ClientMessage(wire.ServerEmptyQuery))
	s.must(s.writer.End())
}

func (s *fakeServer) sendError(sqlState, message string) {
	s.writer.Start(wire.ClientMessage(wire.ServerErrorResponse))
	s.writer.AddByte('S')
	s.writer.AddCString("ERROR")
	s.writer.AddByte('C')
	s.writer.AddCString(sqlState)
	s.writer.AddByte('M')
	s.writer.AddCString(message)
	s.writer.AddByte(0)
	s.must(s.writer.End())
}

func (s *fakeServer) sendNotice(message string) {
	s.writer.Start(wire.ClientMessage(wire.ServerNoticeResponse))
	s.writer.AddByte('S')
	s.writer.AddCString("NOTICE")
	s.writer.AddByte('M')
	s.writer.AddCString(message)
	s.writer.AddByte(0)
	s.must(s.writer.End())
}

func (s *fakeServer) sendParameterStatus(name, value string) {
	s.writer.Start(wire.ClientMessage(wire.ServerParameterStatus))
	s.writer.AddCString(name)
	s.writer.AddCString(value)
	s.must(s.writer.End())
}

func (s *fakeServer) sendNotification(pid int32, channel, payload string) {
	s.writer.Start(wire.ClientMessage(wire.ServerNotificationResponse))
	s.writer.AddInt32(pid)
	s.writer.AddCString(channel)
	s.writer.AddCString(payload)
	s.must(s.writer.End())
}

func (s *fakeServer) sendReadyForQuery(status byte) {
	s.writer.Start(wire.ClientMessage(wire.ServerReadyForQuery))
	s.writer.AddByte(status)
	s.must(s.writer.End())
}

func (s *fakeServer) sendCopyInResponse() {
	s.writer.Start(wire.ClientMessage(wire.ServerCopyInResponse))
	s.writer.AddByte(0)
	s.writer.AddInt16(0)
	s.must(s.writer.End())
}

func (s *fakeServer) sendCopyOutResponse() {
	s.writer.Start(wire.ClientMessage(wire.ServerCopyOutResponse))
	s.writer.AddByte(0)
	s.writer.AddInt16(0)
	s.must(s.writer.End())
}

func (s *fakeServer) sendCopyData(data []byte) {
	s.writer.Start(wire.ClientMessage(wire.ServerCopyData))
	s.writer.AddBytes(data)
	s.must(s.writer.End())
}

func (s *fakeServer) sendCopyDone() {
	s.writer.Start(wire.ClientMessage(wire.ServerCopyDone))
	s.must(s.writer.End())
}

func (s *fakeServer) sendFunctionCallResponse(data []byte) {
	s.writer.Start(wire.ClientMessage(wire.ServerFunctionCallResponse))
	if data == nil {
		s.writer.AddInt32(-1)
	} else {
		s.writer.AddInt32(int32(len(data)))
		s.writer.AddBytes(data)
	}
	s.must(s.writer.End())
}

func (s *fakeServer) must(err error) {
	s.t.Helper()

	if err != nil {
		s.t.Fatalf("fakeServer: writing message: %v", err)
	}
}

// recordHandler is a ResultHandler that records every callback it
// receives, for assertion in tests.
type recordHandler struct {
	rows        []recordedRows
	statuses    []CommandStatus
	warnings    []error
	errors      []error
	completions int
}

type recordedRows struct {
	tuples [][][]byte
	cursor *query.Portal
}

func (h *recordHandler) HandleResultRows(stmt *query.Simple, fields []query.Field, tuples [][][]byte, cursor *query.Portal) {
	h.rows = append(h.rows, recordedRows{tuples: tuples, cursor: cursor})
}

func (h *recordHandler) HandleCommandStatus(status CommandStatus) { h.statuses = append(h.statuses, status) }
func (h *recordHandler) HandleWarning(warn error)                 { h.warnings = append(h.warnings, warn) }
func (h *recordHandler) HandleError(err error)                    { h.errors = append(h.errors, err) }
func (h *recordHandler) HandleCompletion()                        { h.completions++ }
