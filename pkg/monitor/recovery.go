package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/forge/pkg/agent"
	"github.com/cuemby/forge/pkg/events"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

// recover drives spec §4.I step 5 for one peer that has crossed the
// failure threshold: Stage 1 restarts a named-but-broken container
// while the host's own docker_ok still reads true, twice at most; any
// unreachable host or a Stage 1 that has already failed twice goes
// straight to Stage 2 host replacement.
func (m *Monitor) recover(ctx context.Context, server types.Server, rec types.HealthRecord) error {
	ip := server.PrivateIP

	health, err := m.agent.Health(ctx, addr(ip))
	if err == nil && health.DockerOK {
		if broken := containersNeedingRestart(health); len(broken) > 0 && m.stage1Attempts(ip) < 2 {
			return m.stage1(ctx, ip, broken)
		}
	}

	return m.stage2(ctx, server)
}

func containersNeedingRestart(h agent.HealthResponse) []string {
	var names []string
	for _, c := range h.Containers {
		if c.State != "running" {
			names = append(names, c.Name)
		}
	}
	return names
}

func (m *Monitor) stage1Attempts(ip string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage1Tries[ip]
}

func (m *Monitor) stage1(ctx context.Context, ip string, containers []string) error {
	m.mu.Lock()
	m.stage1Tries[ip]++
	m.mu.Unlock()

	m.publish(events.EventRecoveryStage1, ip, "restarting "+strings.Join(containers, ","))

	var firstErr error
	for _, name := range containers {
		if err := m.agent.Restart(ctx, addr(ip), name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// stage2 provisions a replacement host from the zone's template
// snapshot, redeploys the scope's services (allocateHosts's existing
// tag-reuse picks the new host up and skips the retagged-destroying
// one), and destroys the old host once redeploy succeeds (spec §4.I
// "Stage 2").
func (m *Monitor) stage2(ctx context.Context, failed types.Server) error {
	hostID := failed.ID

	if m.stage2Attempts(hostID) >= maxReplacementAttempts {
		return forgeerr.New(forgeerr.RecoveryAborted, "host "+hostID+" exceeded max replacement attempts")
	}

	acquired, err := m.acquireRecoveryLock(ctx, failed)
	if err != nil {
		return err
	}
	if !acquired {
		// Another leader already holds an unexpired lock on this host.
		return nil
	}

	m.bumpStage2Attempts(hostID)
	m.publish(events.EventRecoveryStage2, failed.PrivateIP, "provisioning replacement host")

	snapshotID, err := m.templates.EnsureTemplate(ctx, m.scope.Zone)
	if err != nil {
		return err
	}

	size := fmt.Sprintf("c%d-m%d", failed.CPU, failed.MemoryMB)
	if _, err := m.inv.CloneFromSnapshot(ctx, snapshotID, size, m.scope.Zone, m.scope.tags()); err != nil {
		return err
	}

	if err := m.inv.SetTags(ctx, hostID, []string{types.TagStatus + ":" + string(types.ServerStatusDestroying)}); err != nil {
		return err
	}

	version := ""
	if m.version != nil {
		version = m.version()
	}
	if _, err := m.engine.Deploy(ctx, version, m.scope.Tenant, m.scope.Project, m.scope.Env, m.services); err != nil {
		return err
	}

	if err := m.inv.Destroy(ctx, hostID); err != nil {
		return err
	}

	m.publish(events.EventHostRecovered, failed.PrivateIP, "replacement deployed, old host destroyed")
	return nil
}

func (m *Monitor) stage2Attempts(hostID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage2Tries[hostID]
}

func (m *Monitor) bumpStage2Attempts(hostID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stage2Tries[hostID]++
}

func recoveryOwnerPrefix() string { return types.TagRecoveryOwner + ":" }

// parseRecoveryOwner extracts the leader IP and lock timestamp from a
// server's tag set, per the tag shape "recovery_owner:{leader_ip}:{nonce}"
// (spec §4.I "Ordering guarantees"), where nonce is the Unix timestamp
// the lock was taken at.
func parseRecoveryOwner(tags []string) (leaderIP string, takenAt time.Time, found bool) {
	prefix := recoveryOwnerPrefix()
	for _, tag := range tags {
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		rest := tag[len(prefix):]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return "", time.Time{}, false
		}
		unix, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return "", time.Time{}, false
		}
		return parts[0], time.Unix(unix, 0), true
	}
	return "", time.Time{}, false
}

func withoutRecoveryOwner(tags []string) []string {
	prefix := recoveryOwnerPrefix()
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !strings.HasPrefix(t, prefix) {
			out = append(out, t)
		}
	}
	return out
}

// acquireRecoveryLock takes the advisory recovery_owner lock on failed,
// refusing if another leader holds an unexpired one. The lock tag
// expires after recoveryLockTTL so a crashed leader's hold is eventually
// taken over by whichever node next wins the election (spec §4.I).
func (m *Monitor) acquireRecoveryLock(ctx context.Context, server types.Server) (bool, error) {
	if owner, takenAt, ok := parseRecoveryOwner(server.Tags); ok {
		if owner != m.selfIP && time.Since(takenAt) < recoveryLockTTL {
			return false, nil
		}
	}
	nonce := strconv.FormatInt(time.Now().Unix(), 10)
	lockTag := types.TagRecoveryOwner + ":" + m.selfIP + ":" + nonce
	newTags := append(withoutRecoveryOwner(server.Tags), lockTag)
	if err := m.inv.SetTags(ctx, server.ID, newTags); err != nil {
		return false, err
	}
	return true, nil
}

// CancelRecovery implements the CLI override in spec §4.I
// ("Cancellation"): it deletes the recovery_owner tag from a host so a
// stuck in-flight recovery can be taken over or abandoned.
func (m *Monitor) CancelRecovery(ctx context.Context, host types.Server) error {
	return m.inv.SetTags(ctx, host.ID, withoutRecoveryOwner(host.Tags))
}
