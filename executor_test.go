package pgproto

import (
	"testing"

	"github.com/lib/pq/oid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgexec/pgproto/query"
)

func newTestExecutor(t *testing.T) (*Executor, *fakeServer) {
	t.Helper()

	clientConn, srv := newFakeServer(t)
	stream := NewStream(clientConn, WithLogger(slogt.New(t)))
	t.Cleanup(func() { _ = stream.Close() })

	return NewExecutor(stream), srv
}

// runServer starts fn in a goroutine and returns a func that waits for
// it to finish — used so the scripted fakeServer and the blocking
// Executor call run concurrently over the synchronous net.Pipe.
func runServer(t *testing.T, fn func()) func() {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	return func() {
		t.Helper()
		<-done
	}
}

// TestExecuteSimpleSelect covers §8 end-to-end scenario 1: a
// zero-parameter SELECT returns one row then a CommandComplete.
func TestExecuteSimpleSelect(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT 1"}}
	q := query.NewSimple(stmt)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P') // Parse
		assertMsg(t, srv.recv(), 'B') // Bind
		assertMsg(t, srv.recv(), 'D') // Describe portal
		assertMsg(t, srv.recv(), 'E') // Execute
		assertMsg(t, srv.recv(), 'S') // Sync

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "?column?", typeOID: uint32(oid.T_int4), typeLen: 4}})
		srv.sendDataRow([][]byte{[]byte("1")})
		srv.sendCommandComplete("SELECT 1")
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.Execute(q, query.NewParameterList(0), h, 0, 0, SuppressBegin)
	wait()

	require.NoError(t, err)
	require.Len(t, h.rows, 1)
	assert.Equal(t, [][][]byte{{[]byte("1")}}, h.rows[0].tuples)
	require.Len(t, h.statuses, 1)
	assert.Equal(t, "SELECT 1", h.statuses[0].Status)
	assert.Equal(t, 1, h.completions)
	assert.Equal(t, TxIdle, exec.Stream().GetTransactionState())
}

// TestExecuteInsertNoResults covers §8 scenario 2: NO_RESULTS suppresses
// row delivery, surfacing only the command tag.
func TestExecuteInsertNoResults(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"INSERT INTO t VALUES (", ")"}}
	q := query.NewSimple(stmt)

	params := query.NewParameterList(1)
	params.SetText(0, []byte("42"), oid.T_int4)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendNoData()
		srv.sendCommandComplete("INSERT 0 1")
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.Execute(q, params, h, 0, 0, NoResults|SuppressBegin)
	wait()

	require.NoError(t, err)
	assert.Empty(t, h.rows)
	require.Len(t, h.statuses, 1)
	assert.Equal(t, "INSERT 0 1", h.statuses[0].Status)
	assert.Equal(t, int64(1), h.statuses[0].UpdateCount)
	assert.Equal(t, uint32(0), h.statuses[0].InsertOID)
}

// TestExecuteDescribesStatementWhenParamOIDUnresolved covers spec §4.2
// step 2: a statement with unknown fields whose parameter list carries
// an Unspecified OID must be described, even though every slot already
// has a value set (AllSet() is true, but the OID is not resolved).
func TestExecuteDescribesStatementWhenParamOIDUnresolved(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT ", ""}}
	q := query.NewSimple(stmt)

	params := query.NewParameterList(1)
	params.SetText(0, []byte("1"), query.Unspecified)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P') // Parse
		assertMsg(t, srv.recv(), 'D') // Describe statement: OID still unresolved
		assertMsg(t, srv.recv(), 'B') // Bind
		assertMsg(t, srv.recv(), 'E') // Execute
		assertMsg(t, srv.recv(), 'S') // Sync

		srv.sendParseComplete()
		srv.sendParameterDescription([]uint32{uint32(oid.T_int4)})
		srv.sendRowDescription([]rowField{{name: "?column?", typeOID: uint32(oid.T_int4), typeLen: 4}})
		srv.sendBindComplete()
		srv.sendDataRow([][]byte{[]byte("1")})
		srv.sendCommandComplete("SELECT 1")
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.Execute(q, params, h, 0, 0, SuppressBegin)
	wait()

	require.NoError(t, err)
	require.Len(t, h.rows, 1)
}

// TestExecuteCompositeSuppressBegin covers §8 scenario 3: a three-
// statement composite with SUPPRESS_BEGIN yields exactly three
// command statuses in one Sync window and ends idle.
func TestExecuteCompositeSuppressBegin(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)

	statements := []*query.Simple{
		{Fragments: []string{"BEGIN"}},
		{Fragments: []string{"SELECT 1"}},
		{Fragments: []string{"COMMIT"}},
	}
	q := query.NewComposite(statements, nil)

	wait := runServer(t, func() {
		for i := 0; i < 3; i++ {
			assertMsg(t, srv.recv(), 'P')
			assertMsg(t, srv.recv(), 'B')
			assertMsg(t, srv.recv(), 'E')
		}
		assertMsg(t, srv.recv(), 'S')

		tags := []string{"BEGIN", "SELECT 1", "COMMIT"}
		for _, tag := range tags {
			srv.sendParseComplete()
			srv.sendBindComplete()
			srv.sendCommandComplete(tag)
		}
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.ExecuteBatch([]*query.Query{q}, nil, h, 0, 0, SuppressBegin|NoMetadata)
	wait()

	require.NoError(t, err)
	assert.Len(t, h.statuses, 3)
	assert.Equal(t, TxIdle, exec.Stream().GetTransactionState())
}

// TestExecuteForwardCursorThenFetch covers §8 scenario 4: a suspended
// portal is continued by Fetch.
func TestExecuteForwardCursorThenFetch(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT * FROM big"}}
	q := query.NewSimple(stmt)

	var cursor *query.Portal

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "x", typeOID: uint32(oid.T_int4), typeLen: 4}})
		for i := 0; i < 10; i++ {
			srv.sendDataRow([][]byte{[]byte("1")})
		}
		srv.sendPortalSuspended()
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.Execute(q, query.NewParameterList(0), h, 0, 10, ForwardCursor|SuppressBegin)
	wait()

	require.NoError(t, err)
	require.Len(t, h.rows, 1)
	require.Len(t, h.rows[0].tuples, 10)
	require.NotNil(t, h.rows[0].cursor)
	cursor = h.rows[0].cursor

	wait = runServer(t, func() {
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		for i := 0; i < 5; i++ {
			srv.sendDataRow([][]byte{[]byte("2")})
		}
		srv.sendCommandComplete("SELECT 15")
		assertMsg(t, srv.recv(), 'C')
		srv.sendCloseComplete()
		srv.sendReadyForQuery('I')
	})

	h2 := &recordHandler{}
	err = exec.Fetch(cursor, h2, 10)
	wait()

	require.NoError(t, err)
	require.Len(t, h2.statuses, 1)
	assert.Equal(t, "SELECT 15", h2.statuses[0].Status)
}

// TestExecuteParseReuseSkipsParseOnMatchingOIDs covers the §8 "Parse
// reuse" property: re-executing a Query with an identical ParameterList
// OID vector sends no second Parse message.
func TestExecuteParseReuseSkipsParseOnMatchingOIDs(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT ", ""}}
	q := query.NewSimple(stmt)

	params := query.NewParameterList(1)
	params.SetText(0, []byte("1"), oid.T_int4)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "x", typeOID: uint32(oid.T_int4), typeLen: 4}})
		srv.sendDataRow([][]byte{[]byte("1")})
		srv.sendCommandComplete("SELECT 1")
		srv.sendReadyForQuery('I')
	})

	err := exec.Execute(q, params, &recordHandler{}, 0, 0, SuppressBegin)
	wait()
	require.NoError(t, err)
	require.NotEmpty(t, stmt.Name, "statement must have been assigned a name")

	// Second execute with an identical OID vector: only Bind/Execute/Sync
	// should cross the wire — no second Parse, and no Describe portal
	// since the first run already described it.
	params2 := query.NewParameterList(1)
	params2.SetText(0, []byte("2"), oid.T_int4)

	wait = runServer(t, func() {
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendBindComplete()
		srv.sendDataRow([][]byte{[]byte("2")})
		srv.sendCommandComplete("SELECT 1")
		srv.sendReadyForQuery('I')
	})

	err = exec.Execute(q, params2, &recordHandler{}, 0, 0, SuppressBegin)
	wait()
	require.NoError(t, err)
}

// TestExecuteOIDAdoption covers the §8 "OID adoption" property: once a
// statement's fields are known, Unspecified parameter OIDs are filled
// in from the statement's described parameter OIDs before Bind.
func TestExecuteOIDAdoption(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	// stmt.Name/ParamOIDs simulate a statement already described on an
	// earlier round trip. Since the ParameterList below carries an
	// Unspecified OID, it doesn't match stmt.ParamOIDs and a fresh Parse
	// is still sent (§4.2's reuse check compares the caller's requested
	// OIDs, not the adopted ones) — only the OID adoption step itself is
	// under test here, not Parse suppression.
	stmt := &query.Simple{
		Fragments:          []string{"SELECT ", ""},
		Name:               "S_1",
		ParamOIDs:          []oid.Oid{oid.T_int4},
		Fields:             []query.Field{{Name: "x", Type: oid.T_int4}},
		StatementDescribed: true,
	}
	q := query.NewSimple(stmt)

	params := query.NewParameterList(1)
	params.SetText(0, []byte("1"), query.Unspecified)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "x", typeOID: uint32(oid.T_int4), typeLen: 4}})
		srv.sendDataRow([][]byte{[]byte("1")})
		srv.sendCommandComplete("SELECT 1")
		srv.sendReadyForQuery('I')
	})

	err := exec.Execute(q, params, &recordHandler{}, 0, 0, SuppressBegin)
	wait()

	require.NoError(t, err)
	assert.Equal(t, oid.T_int4, params.Get(0).OID)
}

// TestExecuteDeadlockAvoidanceForcesMultipleSyncs covers the §8
// "Deadlock avoidance" property: 300 statements sent with batching
// allowed must cross at least two Sync windows.
func TestExecuteDeadlockAvoidanceForcesMultipleSyncs(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)

	const n = 300
	statements := make([]*query.Simple, n)
	for i := range statements {
		statements[i] = &query.Simple{Fragments: []string{"SELECT 1"}}
	}
	q := query.NewComposite(statements, nil)

	syncCount := 0

	// respondWindow drains exactly count statements' worth of
	// Parse/Bind/Execute followed by a Sync, then replies in kind — the
	// client never reads mid-batch, so every request in a window must be
	// drained before any response crosses back (mirroring how a real
	// duplex socket forces this server to run concurrently with the
	// blocked client Writes).
	respondWindow := func(count int) {
		for i := 0; i < count; i++ {
			assertMsg(t, srv.recv(), 'P')
			assertMsg(t, srv.recv(), 'B')
			assertMsg(t, srv.recv(), 'E')
		}
		assertMsg(t, srv.recv(), 'S')
		syncCount++

		for i := 0; i < count; i++ {
			srv.sendParseComplete()
			srv.sendBindComplete()
			srv.sendCommandComplete("SELECT 1")
		}
		srv.sendReadyForQuery('I')
	}

	wait := runServer(t, func() {
		respondWindow(maxBufferedQueries)
		respondWindow(n - maxBufferedQueries)
	})

	h := &recordHandler{}
	err := exec.ExecuteBatch([]*query.Query{q}, nil, h, 0, 0, SuppressBegin|NoMetadata)
	wait()

	require.NoError(t, err)
	assert.GreaterOrEqual(t, syncCount, 2)
	assert.Len(t, h.statuses, n)
}

// TestExecuteBeginEmittedWhenIdle covers the §8 "BEGIN suppression"
// property: without SUPPRESS_BEGIN, an implicit one-shot BEGIN is sent
// (via the extended-query pipeline, in its own Sync window) whenever
// the transaction state is idle.
func TestExecuteBeginEmittedWhenIdle(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT 1"}}
	q := query.NewSimple(stmt)

	wait := runServer(t, func() {
		// implicit BEGIN: oneshot + no-metadata, its own Sync window
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendCommandComplete("BEGIN")
		srv.sendReadyForQuery('T')

		// the real statement, now under an open transaction
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendNoData()
		srv.sendCommandComplete("SELECT 1")
		srv.sendReadyForQuery('T')
	})

	h := &recordHandler{}
	err := exec.Execute(q, query.NewParameterList(0), h, 0, 0, 0)
	wait()

	require.NoError(t, err)
	assert.Equal(t, TxOpen, exec.Stream().GetTransactionState())
}

// TestExecuteSuppressBeginSkipsImplicitBegin covers the other half of
// the same property: with SUPPRESS_BEGIN, no BEGIN is sent regardless
// of transaction state.
func TestExecuteSuppressBeginSkipsImplicitBegin(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT 1"}}
	q := query.NewSimple(stmt)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendNoData()
		srv.sendCommandComplete("SELECT 1")
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.Execute(q, query.NewParameterList(0), h, 0, 0, SuppressBegin)
	wait()

	require.NoError(t, err)
	assert.Equal(t, TxIdle, exec.Stream().GetTransactionState())
}

// TestExecutePortalClosedOnCommandComplete covers the §8 "Portal close
// on CommandComplete" property: once a named forward-cursor portal's
// execute yields CommandComplete (no suspension), the executor emits a
// Close Portal for it before ReadyForQuery.
func TestExecutePortalClosedOnCommandComplete(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT 1"}}
	q := query.NewSimple(stmt)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "x", typeOID: uint32(oid.T_int4), typeLen: 4}})
		srv.sendDataRow([][]byte{[]byte("1")})
		srv.sendCommandComplete("SELECT 1") // fewer rows than fetchSize: no suspension

		assertMsg(t, srv.recv(), 'C') // Close Portal, sent eagerly mid-loop
		srv.sendCloseComplete()
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.Execute(q, query.NewParameterList(0), h, 0, 10, ForwardCursor|SuppressBegin)
	wait()

	require.NoError(t, err)
	require.Len(t, h.rows, 1)
	assert.Nil(t, h.rows[0].cursor, "a command that completed must not hand back a continuation cursor")
}

// TestExecuteForwardCursorSuspensionKeepsPortalOpen confirms the other
// half of the same property: a suspended portal must not be closed —
// the fake server would deadlock on an unexpected Close if it were.
func TestExecuteForwardCursorSuspensionKeepsPortalOpen(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t)
	stmt := &query.Simple{Fragments: []string{"SELECT * FROM big"}}
	q := query.NewSimple(stmt)

	wait := runServer(t, func() {
		assertMsg(t, srv.recv(), 'P')
		assertMsg(t, srv.recv(), 'B')
		assertMsg(t, srv.recv(), 'D')
		assertMsg(t, srv.recv(), 'E')
		assertMsg(t, srv.recv(), 'S')

		srv.sendParseComplete()
		srv.sendBindComplete()
		srv.sendRowDescription([]rowField{{name: "x", typeOID: uint32(oid.T_int4), typeLen: 4}})
		srv.sendDataRow([][]byte{[]byte("1")})
		srv.sendPortalSuspended()
		srv.sendReadyForQuery('I')
	})

	h := &recordHandler{}
	err := exec.Execute(q, query.NewParameterList(0), h, 0, 1, ForwardCursor|SuppressBegin)
	wait()

	require.NoError(t, err)
	require.Len(t, h.rows, 1)
	assert.NotNil(t, h.rows[0].cursor)
}
