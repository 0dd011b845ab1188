package cmdutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/orchestrator"
)

// Conn is a control-socket connection to a running sanguardd, issuing
// one request/response round trip at a time. A fresh Conn registers
// itself immediately, mirroring how a real client library hides
// REGISTER behind its first call.
type Conn struct {
	c   net.Conn
	seq uint32
}

// Dial connects to the control socket at path and registers the
// connection so the daemon can attribute it to this process's pid via
// SO_PEERCRED.
func Dial(path string) (*Conn, error) {
	c, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	conn := &Conn{c: c}
	if err := conn.Call(orchestrator.CmdRegister, 0, 0, 0, nil, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("registering with sanguardd: %w", err)
	}
	return conn, nil
}

// Close closes the underlying connection.
func (conn *Conn) Close() error {
	return conn.c.Close()
}

// Call sends one command frame and decodes its response. req is
// JSON-marshaled into the request body when non-nil; resp is
// JSON-unmarshaled from the response body when non-nil and the call
// succeeded. A non-OK response is returned as a *faults.Fault carrying
// the daemon's reported error code and message.
func (conn *Conn) Call(cmd orchestrator.Command, cmdFlags uint32, data, data2 int32, req, resp any) error {
	var payload []byte
	if req != nil {
		var err error
		payload, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	conn.seq++
	h := orchestrator.Header{
		Magic:    orchestrator.Magic,
		Version:  orchestrator.Version,
		Cmd:      cmd,
		CmdFlags: cmdFlags,
		Length:   uint32(orchestrator.HeaderSize + len(payload)),
		Seq:      conn.seq,
		Data:     data,
		Data2:    data2,
	}
	if _, err := conn.c.Write(h.Encode()); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	if len(payload) > 0 {
		if _, err := conn.c.Write(payload); err != nil {
			return fmt.Errorf("writing request body: %w", err)
		}
	}

	header := make([]byte, orchestrator.HeaderSize)
	if _, err := io.ReadFull(conn.c, header); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	rh, err := orchestrator.DecodeHeader(header)
	if err != nil {
		return err
	}
	body := make([]byte, rh.Length-orchestrator.HeaderSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(conn.c, body); err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}
	}

	code := faults.Code(rh.Data)
	if code != faults.OK {
		var eb struct {
			Error string `json:"error"`
		}
		if len(body) > 0 {
			_ = json.Unmarshal(body, &eb)
		}
		if eb.Error == "" {
			eb.Error = code.String()
		}
		return faults.New(code, eb.Error)
	}
	if resp != nil && len(body) > 0 {
		if err := json.Unmarshal(body, resp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
