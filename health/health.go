// Package health produces point-in-time snapshots of the process and the
// connection state, for debug tooling and liveness reporting.
package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/embercord/embercord/cache"
	"github.com/embercord/embercord/state"
)

// Snapshot is a read-only view of process load and state size.
type Snapshot struct {
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryPercent float64     `json:"memory_percent"`
	Cache         cache.Stats `json:"cache"`
	VoiceClients  int         `json:"voice_clients"`
	PendingChunks int         `json:"pending_chunks"`
}

// Collect gathers a snapshot. Process metrics failing is an error; state
// counters are always available.
func Collect(ctx context.Context, s *state.ConnectionState) (Snapshot, error) {
	snapshot := Snapshot{
		Cache:         s.Cache().Stats(ctx),
		VoiceClients:  len(s.VoiceClients()),
		PendingChunks: s.PendingChunks(),
	}

	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return snapshot, fmt.Errorf("could not get CPU usage: %w", err)
	}
	if len(percentages) == 0 {
		return snapshot, fmt.Errorf("could not get CPU usage")
	}
	snapshot.CPUPercent = percentages[0]

	virtualMem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snapshot, fmt.Errorf("could not get memory usage: %w", err)
	}
	snapshot.MemoryPercent = virtualMem.UsedPercent

	return snapshot, nil
}
