package monitor

import (
	"bytes"
	"net"
	"sort"
)

// electLeader implements spec §4.I step 4: "the one with the numerically
// smallest private IP is leader", deterministic, no consensus round.
// Unparseable addresses and unhealthy entries never win. Returns "" if
// nothing is healthy.
func electLeader(healthy map[string]bool) string {
	type candidate struct {
		ip  net.IP
		raw string
	}
	var candidates []candidate
	for raw, ok := range healthy {
		if !ok {
			continue
		}
		parsed := net.ParseIP(raw)
		if parsed == nil {
			continue
		}
		candidates = append(candidates, candidate{ip: parsed.To4(), raw: raw})
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i].ip, candidates[j].ip) < 0
	})
	return candidates[0].raw
}
