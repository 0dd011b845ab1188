package orchestrator

import "github.com/sanguard/sanguard/pkg/token"

// DiskSpec names one backing block device in an ACQUIRE/ADD_LOCKSPACE
// body, mirroring token.DiskSpec across the wire.
type DiskSpec struct {
	Path       string `json:"path"`
	Offset     int64  `json:"offset"`
	SectorSize uint32 `json:"sector_size"`
}

// AddLockspaceRequest is ADD_LOCKSPACE's body: everything Space.New and
// Registry.Add need to join a lockspace.
type AddLockspaceRequest struct {
	Name       string   `json:"name"`
	HostID     uint64   `json:"host_id"`
	MaxHosts   uint32   `json:"max_hosts"`
	Path       string   `json:"path"`
	Offset     int64    `json:"offset"`
	SectorSize uint32   `json:"sector_size"`
	IOTimeout  float64  `json:"io_timeout_seconds"`
}

// RemLockspaceRequest is REM_LOCKSPACE's body.
type RemLockspaceRequest struct {
	Name string `json:"name"`
}

// AcquireRequest is ACQUIRE's body, with the resource's disk layout
// registered in the same call so a client never needs a separate
// add_resource round trip over the control socket.
type AcquireRequest struct {
	Resource    string     `json:"resource"`
	SpaceName   string     `json:"space_name"`
	Disks       []DiskSpec `json:"disks"`
	SectorSize  uint32     `json:"sector_size"`
	AlignSize   uint32     `json:"align_size"`
	IOTimeout   float64    `json:"io_timeout_seconds"`
	NumHosts    uint32     `json:"num_hosts"`
	HostID      uint64     `json:"host_id"`
	HostGen     uint64     `json:"host_gen"`
	AcquireLver uint64     `json:"acquire_lver"`
	Shared      bool       `json:"shared"`
	Force       bool       `json:"force"`
}

// AcquireResponse reports the token a successful ACQUIRE produced.
type AcquireResponse struct {
	TokenID  string `json:"token_id"`
	Resource string `json:"resource"`
	Owner    bool   `json:"owner"`
}

// ReleaseRequest is RELEASE's body when CmdFlagRelAll is not set.
type ReleaseRequest struct {
	Resource string `json:"resource"`
	TokenID  string `json:"token_id,omitempty"`
}

// InquireRequest asks for the status of one resource, or every resource
// this client holds when Resource is empty.
type InquireRequest struct {
	Resource string `json:"resource,omitempty"`
}

// TokenStatus describes one held token for INQUIRE/STATUS output.
type TokenStatus struct {
	TokenID      string `json:"token_id"`
	Resource     string `json:"resource"`
	ClientPid    int    `json:"client_pid"`
	CreatedAtRFC string `json:"created_at"`
}

func tokenStatus(tok *token.Token) TokenStatus {
	return TokenStatus{
		TokenID:      tok.ID,
		Resource:     tok.ResourceName,
		ClientPid:    tok.ClientPid,
		CreatedAtRFC: tok.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// LockspaceStatus describes one joined lockspace for STATUS output.
type LockspaceStatus struct {
	Name       string `json:"name"`
	HostID     uint64 `json:"host_id"`
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
	KillingPids bool  `json:"killing_pids"`
}

// StatusResponse is STATUS's full body: every joined lockspace and every
// token any connected client holds.
type StatusResponse struct {
	Pid        int               `json:"pid"`
	Lockspaces []LockspaceStatus `json:"lockspaces"`
	Tokens     []TokenStatus     `json:"tokens"`
}

// LogDumpResponse is LOG_DUMP's body: the tail of this daemon's own log.
type LogDumpResponse struct {
	Lines []string `json:"lines"`
}
