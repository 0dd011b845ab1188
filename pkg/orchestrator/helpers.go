package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/token"
)

func decodeBody(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return faults.Wrap(faults.EPerm, "decoding request body", err)
	}
	return nil
}

func toResourceConfig(req AcquireRequest) token.ResourceConfig {
	disks := make([]token.DiskSpec, 0, len(req.Disks))
	for _, dk := range req.Disks {
		disks = append(disks, token.DiskSpec{Path: dk.Path, Offset: dk.Offset, SectorSize: dk.SectorSize})
	}
	ioTimeout := time.Duration(req.IOTimeout * float64(time.Second))
	return token.ResourceConfig{
		Name:       req.Resource,
		SpaceName:  req.SpaceName,
		Disks:      disks,
		SectorSize: req.SectorSize,
		AlignSize:  req.AlignSize,
		IOTimeout:  ioTimeout,
		NumHosts:   req.NumHosts,
	}
}
