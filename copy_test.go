package pgproto

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgexec/pgproto/pgerr"
	"github.com/pgexec/pgproto/query"
)

// TestCopyEndToEndWriteThenExecute covers scenario 5: StartCopy a COPY
// FROM STDIN, stream two chunks, EndCopy, then confirm a subsequent
// Execute succeeds once the connection lock has been released.
func TestCopyEndToEndWriteThenExecute(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'Q')
		srv.sendCopyInResponse()

		assertMsg(t, srv.recv(), 'd')
		assertMsg(t, srv.recv(), 'd')
		assertMsg(t, srv.recv(), 'c')

		srv.sendCommandComplete("COPY 2")
		srv.sendReadyForQuery('I')
	})

	op, err := exec.StartCopy("COPY t FROM STDIN", true)
	require.NoError(t, err)
	require.NotNil(t, op)
	require.False(t, op.Out())

	require.NoError(t, op.WriteToCopy([]byte("1,a\n")))
	require.NoError(t, op.WriteToCopy([]byte("2,b\n")))

	n, err := op.EndCopy()
	wait()

	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	wait2 := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "n", typeOID: 23, typeLen: 4}})
		srv.sendCommandComplete("SELECT 0")
		srv.sendReadyForQuery('I')
	})

	q := query.NewSimple(&query.Simple{Fragments: []string{"SELECT 1", ""}})
	h := &recordHandler{}
	err = exec.Execute(q, query.NewParameterList(0), h, 0, 0, SuppressBegin)
	wait2()

	require.NoError(t, err)
	assert.Len(t, h.statuses, 1)
}

// TestCopyLockExclusivity covers the §8 "COPY lock exclusivity" property:
// a concurrent Execute blocks until the COPY session releases the
// connection's cooperative lock at ReadyForQuery.
func TestCopyLockExclusivity(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)

	acquired := make(chan struct{})
	releaseCopy := make(chan struct{})
	executeStarted := make(chan struct{})
	executeDone := make(chan struct{})

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'Q')
		srv.sendCopyInResponse()
		close(acquired)

		<-releaseCopy
		assertMsg(t, srv.recv(), 'c')
		srv.sendCommandComplete("COPY 0")
		srv.sendReadyForQuery('I')

		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "n", typeOID: 23, typeLen: 4}})
		srv.sendCommandComplete("SELECT 0")
		srv.sendReadyForQuery('I')
	})

	op, err := exec.StartCopy("COPY t FROM STDIN", true)
	require.NoError(t, err)
	<-acquired

	go func() {
		close(executeStarted)

		q := query.NewSimple(&query.Simple{Fragments: []string{"SELECT 1", ""}})
		h := &recordHandler{}
		eerr := exec.Execute(q, query.NewParameterList(0), h, 0, 0, SuppressBegin)
		require.NoError(t, eerr)
		close(executeDone)
	}()

	<-executeStarted
	time.Sleep(20 * time.Millisecond)

	select {
	case <-executeDone:
		t.Fatal("Execute returned before the COPY operation released the connection lock")
	default:
	}

	close(releaseCopy)
	_, err = op.EndCopy()
	require.NoError(t, err)

	<-executeDone
	wait()
}

// TestCopyCancelExactlyOneError covers the §8 "COPY cancel" property: a
// CopyFail that is met by exactly one ErrorResponse then ReadyForQuery
// succeeds and releases the lock.
func TestCopyCancelExactlyOneError(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'Q')
		srv.sendCopyInResponse()

		assertMsg(t, srv.recv(), 'f')
		srv.sendError("57014", "COPY cancelled by client")
		srv.sendReadyForQuery('I')
	})

	op, err := exec.StartCopy("COPY t FROM STDIN", true)
	require.NoError(t, err)

	err = op.CancelCopy()
	wait()

	require.NoError(t, err)
	assert.False(t, op.conn.hasLock(op))
}

// TestCopyCancelWrongErrorCountIsCommunicationError covers the same
// property's failure branch: a CopyFail answered by zero Error
// responses before ReadyForQuery is reported as COMMUNICATION_ERROR.
func TestCopyCancelWrongErrorCountIsCommunicationError(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'Q')
		srv.sendCopyInResponse()

		assertMsg(t, srv.recv(), 'f')
		srv.sendReadyForQuery('I')
	})

	op, err := exec.StartCopy("COPY t FROM STDIN", true)
	require.NoError(t, err)

	err = op.CancelCopy()
	wait()

	require.Error(t, err)
	assert.True(t, pgerr.Is(err, pgerr.CommunicationError))
}

// TestCopyReadFromCopyReturnsEOFAtDone covers the COPY OUT read path:
// CopyData chunks are returned verbatim, and CopyDone surfaces as
// io.EOF once the trailing CommandComplete/ReadyForQuery are drained.
func TestCopyReadFromCopyReturnsEOFAtDone(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'Q')
		srv.sendCopyOutResponse()
		srv.sendCopyData([]byte("1,a\n"))
		srv.sendCopyData([]byte("2,b\n"))
		srv.sendCopyDone()
		srv.sendCommandComplete("COPY 2")
		srv.sendReadyForQuery('I')
	})

	op, err := exec.StartCopy("COPY t TO STDOUT", true)
	require.NoError(t, err)
	require.True(t, op.Out())

	chunk1, err := op.ReadFromCopy()
	require.NoError(t, err)
	assert.Equal(t, []byte("1,a\n"), chunk1)

	chunk2, err := op.ReadFromCopy()
	require.NoError(t, err)
	assert.Equal(t, []byte("2,b\n"), chunk2)

	_, err = op.ReadFromCopy()
	wait()

	assert.ErrorIs(t, err, io.EOF)
	assert.EqualValues(t, 2, op.rowCount)
}
