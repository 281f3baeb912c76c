package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// protocolVersion3 is PostgreSQL wire protocol v3.0 (major 3, minor 0),
// the only version this core speaks.
const protocolVersion3 = 196608

// startup performs the minimal client-side handshake this demo needs:
// StartupMessage, then AuthenticationOk/ParameterStatus/BackendKeyData/
// ReadyForQuery. It assumes trust or no-password auth; anything else
// (MD5, SASL, SSL negotiation) is out of scope here, same as it is out
// of scope for the core package — this demo dials a bare net.Conn and
// performs its own handshake entirely outside that package.
func startup(conn net.Conn, user, database string) error {
	if err := sendStartupMessage(conn, user, database); err != nil {
		return fmt.Errorf("sending startup message: %w", err)
	}

	for {
		typ, body, err := readUntypedOrServerMsg(conn)
		if err != nil {
			return fmt.Errorf("reading handshake response: %w", err)
		}

		switch typ {
		case 'R':
			if len(body) < 4 {
				return fmt.Errorf("short authentication message")
			}

			code := binary.BigEndian.Uint32(body[:4])
			if code != 0 {
				return fmt.Errorf("unsupported authentication method %d; this demo only accepts trust/no-password", code)
			}

		case 'S', 'K':
			// ParameterStatus / BackendKeyData: informational, ignored here.

		case 'Z':
			return nil

		case 'E':
			return fmt.Errorf("server rejected startup: %s", formatErrorBody(body))

		default:
			return fmt.Errorf("unexpected message %q during handshake", typ)
		}
	}
}

// sendStartupMessage writes the untyped StartupMessage: Int32 length,
// Int32 protocol version, then "key\x00value\x00" pairs, terminated by
// a final \x00.
func sendStartupMessage(conn net.Conn, user, database string) error {
	var body []byte
	body = appendInt32(body, protocolVersion3)
	body = appendCString(body, "user")
	body = appendCString(body, user)
	body = appendCString(body, "database")
	body = appendCString(body, database)
	body = append(body, 0)

	msg := make([]byte, 0, len(body)+4)
	msg = appendInt32(msg, int32(len(body)+4))
	msg = append(msg, body...)

	_, err := conn.Write(msg)
	return err
}

func appendInt32(b []byte, v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return append(b, buf[:]...)
}

func appendCString(b []byte, s string) []byte {
	return append(append(b, s...), 0)
}

// readUntypedOrServerMsg reads one typed server message directly off
// conn with no bufio lookahead, so the connection is left exactly at
// the first byte of whatever follows once the handshake loop returns
// — required so that pgproto.NewStream can safely wrap the same
// net.Conn in its own buffered reader afterwards.
func readUntypedOrServerMsg(conn net.Conn) (byte, []byte, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(conn, typeBuf[:]); err != nil {
		return 0, nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return 0, nil, err
	}

	size := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	if size < 0 {
		return 0, nil, fmt.Errorf("negative message size")
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, nil, err
	}

	return typeBuf[0], body, nil
}

// formatErrorBody extracts the human-readable message field ('M') out
// of a raw ErrorResponse body for display during the handshake, before
// the core package's own pgerr field parser is available.
func formatErrorBody(body []byte) string {
	for i := 0; i < len(body); {
		field := body[i]
		if field == 0 {
			break
		}

		i++
		start := i
		for i < len(body) && body[i] != 0 {
			i++
		}

		value := string(body[start:i])
		i++

		if field == 'M' {
			return value
		}
	}

	return "unknown error"
}
