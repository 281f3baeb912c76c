// Package wire holds the byte-level vocabulary of the PostgreSQL v3
// frontend/backend protocol: the one-byte type codes stamped on every
// framed message. It intentionally carries no behaviour — just the
// codes and their human-readable names, mirrored from the teacher's own
// pkg/types package but read from the client's side of the wire.
package wire

// ClientMessage represents a message type code sent by the client (us).
type ClientMessage byte

// ServerMessage represents a message type code sent by the server.
type ServerMessage byte

// CloseTarget / DescribeTarget distinguish the 'S'/'P' sub-codes carried
// by the Close and Describe messages.
type CloseTarget byte

type DescribeTarget byte

// https://www.postgresql.org/docs/current/protocol-message-formats.html
const (
	ClientBind        ClientMessage = 'B'
	ClientClose       ClientMessage = 'C'
	ClientCopyData    ClientMessage = 'd'
	ClientCopyDone    ClientMessage = 'c'
	ClientCopyFail    ClientMessage = 'f'
	ClientDescribe    ClientMessage = 'D'
	ClientExecute     ClientMessage = 'E'
	ClientFlush       ClientMessage = 'H'
	ClientFunctionCall ClientMessage = 'F'
	ClientParse       ClientMessage = 'P'
	ClientPassword    ClientMessage = 'p'
	ClientSimpleQuery ClientMessage = 'Q'
	ClientSync        ClientMessage = 'S'
	ClientTerminate   ClientMessage = 'X'

	ServerAuth                   ServerMessage = 'R'
	ServerBackendKeyData         ServerMessage = 'K'
	ServerBindComplete           ServerMessage = '2'
	ServerCloseComplete          ServerMessage = '3'
	ServerCommandComplete        ServerMessage = 'C'
	ServerCopyData               ServerMessage = 'd'
	ServerCopyDone               ServerMessage = 'c'
	ServerCopyInResponse         ServerMessage = 'G'
	ServerCopyOutResponse        ServerMessage = 'H'
	ServerCopyBothResponse       ServerMessage = 'W'
	ServerDataRow                ServerMessage = 'D'
	ServerEmptyQuery             ServerMessage = 'I'
	ServerErrorResponse          ServerMessage = 'E'
	ServerFunctionCallResponse   ServerMessage = 'V'
	ServerNoData                 ServerMessage = 'n'
	ServerNoticeResponse         ServerMessage = 'N'
	ServerNotificationResponse   ServerMessage = 'A'
	ServerParameterDescription   ServerMessage = 't'
	ServerParameterStatus        ServerMessage = 'S'
	ServerParseComplete          ServerMessage = '1'
	ServerPortalSuspended        ServerMessage = 's'
	ServerReadyForQuery          ServerMessage = 'Z'
	ServerRowDescription         ServerMessage = 'T'

	CloseStatement CloseTarget = 'S'
	ClosePortal    CloseTarget = 'P'

	DescribeStatement DescribeTarget = 'S'
	DescribePortal    DescribeTarget = 'P'
)

// TxStatus is the single-byte payload of ReadyForQuery.
type TxStatus byte

const (
	TxIdle   TxStatus = 'I'
	TxOpen   TxStatus = 'T'
	TxFailed TxStatus = 'E'
)

func (m ClientMessage) String() string {
	switch m {
	case ClientBind:
		return "Bind"
	case ClientClose:
		return "Close"
	case ClientCopyData:
		return "CopyData"
	case ClientCopyDone:
		return "CopyDone"
	case ClientCopyFail:
		return "CopyFail"
	case ClientDescribe:
		return "Describe"
	case ClientExecute:
		return "Execute"
	case ClientFlush:
		return "Flush"
	case ClientFunctionCall:
		return "FunctionCall"
	case ClientParse:
		return "Parse"
	case ClientPassword:
		return "Password"
	case ClientSimpleQuery:
		return "SimpleQuery"
	case ClientSync:
		return "Sync"
	case ClientTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

func (m ServerMessage) String() string {
	switch m {
	case ServerAuth:
		return "Auth"
	case ServerBackendKeyData:
		return "BackendKeyData"
	case ServerBindComplete:
		return "BindComplete"
	case ServerCloseComplete:
		return "CloseComplete"
	case ServerCommandComplete:
		return "CommandComplete"
	case ServerCopyData:
		return "CopyData"
	case ServerCopyDone:
		return "CopyDone"
	case ServerCopyInResponse:
		return "CopyInResponse"
	case ServerCopyOutResponse:
		return "CopyOutResponse"
	case ServerCopyBothResponse:
		return "CopyBothResponse"
	case ServerDataRow:
		return "DataRow"
	case ServerEmptyQuery:
		return "EmptyQuery"
	case ServerErrorResponse:
		return "ErrorResponse"
	case ServerFunctionCallResponse:
		return "FunctionCallResponse"
	case ServerNoData:
		return "NoData"
	case ServerNoticeResponse:
		return "NoticeResponse"
	case ServerNotificationResponse:
		return "NotificationResponse"
	case ServerParameterDescription:
		return "ParameterDescription"
	case ServerParameterStatus:
		return "ParameterStatus"
	case ServerParseComplete:
		return "ParseComplete"
	case ServerPortalSuspended:
		return "PortalSuspended"
	case ServerReadyForQuery:
		return "ReadyForQuery"
	case ServerRowDescription:
		return "RowDescription"
	default:
		return "Unknown"
	}
}
