package orchestrator

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sanguard/sanguard/internal/logger"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/lockspace"
	"github.com/sanguard/sanguard/pkg/paxos"
)

// serveConn is one connection's lifetime: read frames, dispatch, write
// responses, until the peer closes or ctx is cancelled. On close it
// treats the client as dead exactly as POLLHUP would: any
// acquire/release/inquire mid-flight is left to finish on its own
// goroutine, then every token the client held is released async.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	c := newClient(conn, 0)
	d.addClient(c)
	defer func() {
		c.markDead()
		d.removeClient(c)
		if c.pid != 0 {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				for c.isCmdActive() {
					time.Sleep(10 * time.Millisecond)
				}
				d.tokens.ReleaseAllForClient(c.pid, true)
			}()
		}
	}()

	header := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		h, err := DecodeHeader(header)
		if err != nil {
			logger.WarnCtx(ctx, "rejecting malformed control message", logger.Err(err))
			return
		}
		body := make([]byte, h.Length-HeaderSize)
		if len(body) > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
		}
		d.dispatch(ctx, c, h, body)
	}
}

// dispatch runs REGISTER/STATUS/LOG_DUMP/SHUTDOWN inline and
// ACQUIRE/RELEASE/INQUIRE/ADD_LOCKSPACE/REM_LOCKSPACE on a per-command
// goroutine so one client's slow acquire never blocks its own next
// REGISTER-class message — mirroring the "dispatch command threads"
// split without an actual poll() table.
func (d *Daemon) dispatch(ctx context.Context, c *client, h Header, body []byte) {
	switch h.Cmd {
	case CmdRegister:
		d.handleRegister(ctx, c, h)
	case CmdShutdown:
		d.handleShutdown(ctx, c, h)
	case CmdStatus:
		d.handleStatus(ctx, c, h)
	case CmdLogDump:
		d.handleLogDump(c, h)
	default:
		if !c.beginCmd() {
			_ = writeError(c.conn, h.Cmd, h.Seq, faults.New(faults.EBusy, "a command is already in flight for this client"))
			return
		}
		go func() {
			defer c.endCmd()
			switch h.Cmd {
			case CmdAddLockspace:
				d.handleAddLockspace(ctx, c, h, body)
			case CmdRemLockspace:
				d.handleRemLockspace(ctx, c, h, body)
			case CmdAcquire:
				d.handleAcquire(ctx, c, h, body)
			case CmdRelease:
				d.handleRelease(ctx, c, h, body)
			case CmdInquire:
				d.handleInquire(c, h, body)
			default:
				_ = writeError(c.conn, h.Cmd, h.Seq, faults.New(faults.EPerm, "unknown command"))
			}
		}()
	}
}

func (d *Daemon) handleRegister(ctx context.Context, c *client, h Header) {
	pid, err := peerPID(c.conn)
	if err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, faults.Wrap(faults.EPerm, "register", err))
		return
	}
	d.registerClient(c, pid)
	logger.InfoCtx(ctx, "client registered", logger.ClientPid(pid))
	_ = writeOK(c.conn, h.Cmd, h.Seq, nil)
}

func (d *Daemon) handleShutdown(ctx context.Context, c *client, h Header) {
	logger.InfoCtx(ctx, "shutdown requested over control socket", logger.ClientPid(c.pid))
	d.Shutdown()
	_ = writeOK(c.conn, h.Cmd, h.Seq, nil)
}

func (d *Daemon) handleStatus(_ context.Context, c *client, h Header) {
	resp := StatusResponse{Pid: c.pid}
	for _, sp := range d.registry.List() {
		killing, _, _ := sp.Flags()
		resp.Lockspaces = append(resp.Lockspaces, LockspaceStatus{
			Name:        sp.Name,
			HostID:      sp.HostID,
			State:       sp.State().String(),
			Generation:  sp.Identity().OwnerGeneration,
			KillingPids: killing,
		})
	}
	for _, cl := range d.clientsSnapshot() {
		if cl.pid == 0 {
			continue
		}
		for _, tok := range d.tokens.TokensOf(cl.pid) {
			resp.Tokens = append(resp.Tokens, tokenStatus(tok))
		}
	}
	_ = writeOK(c.conn, h.Cmd, h.Seq, resp)
}

func (d *Daemon) handleLogDump(c *client, h Header) {
	n := int(h.Data)
	_ = writeOK(c.conn, h.Cmd, h.Seq, LogDumpResponse{Lines: logger.RecentLines(n)})
}

func (d *Daemon) handleAddLockspace(ctx context.Context, c *client, h Header, body []byte) {
	var req AddLockspaceRequest
	if err := decodeBody(body, &req); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	if err := d.addLockspace(ctx, req); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	_ = writeOK(c.conn, h.Cmd, h.Seq, nil)
}

func (d *Daemon) addLockspace(ctx context.Context, req AddLockspaceRequest) error {
	sectorSize := req.SectorSize
	if sectorSize == 0 {
		sectorSize = 512
	}
	dev, err := d.openDevice(req.Path, sectorSize)
	if err != nil {
		return faults.Wrap(faults.AcquireIDDisk, req.Path, err)
	}
	ioTimeout := time.Duration(req.IOTimeout * float64(time.Second))
	if ioTimeout <= 0 {
		ioTimeout = d.cfg.Timing.DefaultIOTimeout
	}
	sp := lockspace.New(lockspace.Config{
		Name:        req.Name,
		HostID:      req.HostID,
		MaxHosts:    req.MaxHosts,
		IOTimeout:   ioTimeout,
		Device:      dev,
		Offset:      req.Offset,
		SectorSize:  sectorSize,
		WatchdogDir: d.cfg.Watchdog.Dir,
	})
	return d.registry.Add(ctx, sp, d)
}

func (d *Daemon) handleRemLockspace(_ context.Context, c *client, h Header, body []byte) {
	var req RemLockspaceRequest
	if err := decodeBody(body, &req); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	if err := d.registry.Remove(req.Name); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	_ = writeOK(c.conn, h.Cmd, h.Seq, nil)
}

func (d *Daemon) handleAcquire(ctx context.Context, c *client, h Header, body []byte) {
	var req AcquireRequest
	if err := decodeBody(body, &req); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	if err := d.tokens.AddResource(toResourceConfig(req)); err != nil && !faults.Is(err, faults.EBusy) {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	if err := d.tokens.OpenDisks(req.Resource); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}

	var flags paxos.TokenFlags
	if req.Shared {
		flags |= paxos.FlagShared
	}
	if req.Force {
		flags |= paxos.FlagForce
	}

	tok, err := d.tokens.AcquireToken(ctx, c.pid, req.Resource, req.HostID, req.HostGen, req.AcquireLver, flags)
	if err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	_ = writeOK(c.conn, h.Cmd, h.Seq, AcquireResponse{TokenID: tok.ID, Resource: req.Resource, Owner: true})
}

func (d *Daemon) handleRelease(ctx context.Context, c *client, h Header, body []byte) {
	if h.CmdFlags&CmdFlagRelAll != 0 {
		d.tokens.ReleaseAllForClient(c.pid, false)
		_ = writeOK(c.conn, h.Cmd, h.Seq, nil)
		return
	}
	var req ReleaseRequest
	if err := decodeBody(body, &req); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	tokenID := req.TokenID
	if tokenID == "" {
		for _, tok := range d.tokens.TokensOf(c.pid) {
			if tok.ResourceName == req.Resource {
				tokenID = tok.ID
				break
			}
		}
	}
	if tokenID == "" {
		_ = writeError(c.conn, h.Cmd, h.Seq, faults.New(faults.ENoEnt, req.Resource))
		return
	}
	if err := d.tokens.ReleaseToken(ctx, tokenID); err != nil {
		_ = writeError(c.conn, h.Cmd, h.Seq, err)
		return
	}
	_ = writeOK(c.conn, h.Cmd, h.Seq, nil)
}

func (d *Daemon) handleInquire(c *client, h Header, body []byte) {
	var req InquireRequest
	if len(body) > 0 {
		if err := decodeBody(body, &req); err != nil {
			_ = writeError(c.conn, h.Cmd, h.Seq, err)
			return
		}
	}
	var out []TokenStatus
	for _, tok := range d.tokens.TokensOf(c.pid) {
		if req.Resource != "" && tok.ResourceName != req.Resource {
			continue
		}
		out = append(out, tokenStatus(tok))
	}
	_ = writeOK(c.conn, h.Cmd, h.Seq, out)
}
