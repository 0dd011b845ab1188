package orchestrator

import (
	"encoding/json"
	"io"

	"github.com/sanguard/sanguard/pkg/faults"
)

// writeFrame writes one fixed-header-plus-body message to w. Data
// carries the faults.Code of the result (faults.OK on success); Data2
// is unused in responses and left zero.
func writeFrame(w io.Writer, cmd Command, seq uint32, code faults.Code, body any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	h := Header{
		Magic:   Magic,
		Version: Version,
		Cmd:     cmd,
		Length:  uint32(HeaderSize + len(payload)),
		Seq:     seq,
		Data:    int32(code),
	}
	if _, err := w.Write(h.Encode()); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// errorBody is the JSON body of a failed response.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w io.Writer, cmd Command, seq uint32, err error) error {
	return writeFrame(w, cmd, seq, faults.CodeOf(err), errorBody{Error: err.Error()})
}

func writeOK(w io.Writer, cmd Command, seq uint32, body any) error {
	return writeFrame(w, cmd, seq, faults.OK, body)
}
