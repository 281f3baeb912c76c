package main

import (
	"fmt"
	"strings"

	"github.com/pgexec/pgproto"
	"github.com/pgexec/pgproto/query"
)

// printingHandler is a pgproto.ResultHandler that renders rows and
// command tags to stdout, in the spirit of the teacher's own examples
// (examples/simple in the teacher repo prints rows as they stream in
// rather than buffering a full result set).
type printingHandler struct {
	errs []error
}

func (h *printingHandler) HandleResultRows(stmt *query.Simple, fields []query.Field, tuples [][][]byte, cursor *query.Portal) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	if len(names) > 0 {
		fmt.Println(strings.Join(names, "\t"))
	}

	for _, row := range tuples {
		cells := make([]string, len(row))
		for i, c := range row {
			if c == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = string(c)
			}
		}

		fmt.Println(strings.Join(cells, "\t"))
	}

	if cursor != nil {
		fmt.Printf("(more rows available via cursor %q)\n", cursor.Name)
	}
}

func (h *printingHandler) HandleCommandStatus(status pgproto.CommandStatus) {
	fmt.Println(status.Status)
}

func (h *printingHandler) HandleWarning(warn error) {
	fmt.Printf("warning: %v\n", warn)
}

func (h *printingHandler) HandleError(err error) {
	h.errs = append(h.errs, err)
	fmt.Printf("error: %v\n", err)
}

func (h *printingHandler) HandleCompletion() {}
