package pgproto

import (
	"fmt"
	"strings"

	"github.com/pgexec/pgproto/pgerr"
)

// applyParameterStatus implements the session-invariant guards of spec
// §4.5, run against every ParameterStatus message. It updates connection
// state for the settings this driver core cares about, and force-closes
// the connection — returning the error that must end the current
// processResults loop — the moment an unacceptable value is observed.
//
// Must be called with s.mu held.
func (s *Stream) applyParameterStatus(name, value string) *pgerr.Error {
	var violation error

	switch name {
	case "client_encoding":
		if !strings.EqualFold(value, "UTF8") && !s.allowEncodingChanges {
			violation = fmt.Errorf("client_encoding changed to %q, driver requires UTF8", value)
		}
	case "DateStyle":
		if !strings.HasPrefix(value, "ISO,") {
			violation = fmt.Errorf("DateStyle %q is not ISO-prefixed", value)
		}
	case "standard_conforming_strings":
		switch value {
		case "on":
			s.scs = true
		case "off":
			s.scs = false
		default:
			violation = fmt.Errorf("standard_conforming_strings reported unexpected value %q", value)
		}
	}

	if violation == nil {
		return nil
	}

	s.closeLocked(violation)
	return s.closeErr.(*pgerr.Error)
}
