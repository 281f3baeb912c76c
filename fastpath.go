package pgproto

import (
	"github.com/pgexec/pgproto/codes"
	"github.com/pgexec/pgproto/pgerr"
	"github.com/pgexec/pgproto/pkg/wire"
	"github.com/pgexec/pgproto/query"
)

// FastpathCall issues a legacy FunctionCall message calling the
// server-side function identified by fnOID, bypassing SQL parsing
// entirely (§4.3, §6 "fastpathCall(fnid, params, suppressBegin) ->
// byte array"). Synchronous: unless suppressBegin is set, an implicit
// BEGIN is sent first via the same shim handler pattern the extended-
// query preamble uses.
func (e *Executor) FastpathCall(fnOID uint32, params *query.ParameterList, suppressBegin bool) ([]byte, error) {
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

	if params == nil {
		params = query.NewParameterList(0)
	}

	if err := e.sendFunctionCall(fnOID, params); err != nil {
		return nil, err
	}

	if err := e.sendSync(); err != nil {
		return nil, err
	}

	return e.receiveFastpathResult()
}

// sendFunctionCall writes the FunctionCall message: function OID,
// per-parameter format codes, parameter count, parameter values, and a
// single binary result format code (§4.3).
func (e *Executor) sendFunctionCall(fnOID uint32, params *query.ParameterList) error {
	w := e.conn.writer
	w.Start(wire.ClientFunctionCall)
	w.AddInt32(int32(fnOID))

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
	for i := 0; i < n; i++ {
		p := params.Get(i)
		data, length, err := p.Value.Bytes(p.Binary)
		if err != nil {
			return err
		}

		w.AddInt32(length)
		if length > 0 {
			w.AddBytes(data)
		}
	}

	w.AddInt16(int16(query.BinaryFormat))
	return w.End()
}

// receiveFastpathResult implements the fastpath receive loop of spec
// §4.3: "accepts A/E/N/Z/V where V carries the single result (length -1
// => null; otherwise that many bytes). All errors accumulated during the
// receive are chained and raised at ReadyForQuery."
func (e *Executor) receiveFastpathResult() ([]byte, error) {
	s := e.conn
	errs := &pgerr.List{}

	var result []byte

	for {
		t, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			s.closeLocked(err)
			return nil, pgerr.New(pgerr.ConnectionFailure, codes.ConnectionFailure, err)
		}

		switch t {
		case wire.ServerNotificationResponse:
			n, nerr := parseNotification(s.reader)
			if nerr != nil {
				return nil, nerr
			}

			s.AddNotification(n)

		case wire.ServerErrorResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return nil, ferr
			}

			pe := pgerr.FromFields(classifyError(fields), fields)
			pe.ConnID = s.id.String()
			errs.Add(pe)

		case wire.ServerNoticeResponse:
			fields, ferr := parseFieldedMessage(s.reader)
			if ferr != nil {
				return nil, ferr
			}

			warn := pgerr.FromFields(pgerr.ConnectionFailure, fields)
			warn.Kind = ""
			s.AddWarning(warn)

		case wire.ServerFunctionCallResponse:
			length, lerr := s.reader.GetInt32()
			if lerr != nil {
				return nil, lerr
			}

			if length < 0 {
				result = nil
				continue
			}

			data, derr := s.reader.GetBytes(int(length))
			if derr != nil {
				return nil, derr
			}

			result = append([]byte(nil), data...)

		case wire.ServerReadyForQuery:
			b, berr := s.reader.GetBytes(1)
			if berr != nil {
				return nil, berr
			}

			s.txState = txStateFromWire(wire.TxStatus(b[0]))
			s.releaseLock()
			return result, errs.Err()

		default:
			err := pgerr.Wrap(pgerr.CommunicationError, "unexpected message code %q during fastpath call", byte(t))
			s.closeLocked(err)
			return nil, err
		}
	}
}

// CreateFastpathParameters allocates a ParameterList of n slots for use
// with FastpathCall (§6: "ParameterList createFastpathParameters(n)
// -> opaque handle").
func CreateFastpathParameters(n int) *query.ParameterList {
	return query.NewParameterList(n)
}
