package scheduler

import (
	"sort"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/types"
)

// LeastLoad picks the node with (fewest bound hosts, then most remaining
// capacity, then lowest hostname). Deterministic — no randomness.
type LeastLoad struct{}

func (LeastLoad) Name() string { return "least_load" }

func (LeastLoad) NodeSelect(nodes []types.NodeInfo, _ string) (types.NodeInfo, error) {
	available := filterAvailable(nodes)
	if len(available) == 0 {
		return types.NodeInfo{}, apierrors.WorkerUnavailable("insufficient capacity in node selection")
	}
	return sortedByLoad(available)[0], nil
}

func (LeastLoad) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
	if len(hosts) == 0 {
		return nil, nil
	}
	if err := checkCapacity(nodes, len(hosts)); err != nil {
		return nil, err
	}

	// Group available nodes by current count, each group sorted by
	// (descending remaining capacity, ascending hostname).
	groups := make(map[int][]types.NodeInfo)
	var counts []int
	for _, n := range nodes {
		if !n.HasCapacity() {
			continue
		}
		if _, ok := groups[n.Count]; !ok {
			counts = append(counts, n.Count)
		}
		groups[n.Count] = append(groups[n.Count], n)
	}
	sort.Ints(counts)
	for _, c := range counts {
		g := groups[c]
		sort.Slice(g, func(i, j int) bool {
			if g[i].Remaining() != g[j].Remaining() {
				return g[i].Remaining() > g[j].Remaining()
			}
			return g[i].Hostname < g[j].Hostname
		})
		groups[c] = g
	}

	result := make([]types.NodeInfo, 0, len(hosts))
	remaining := len(hosts)
	for _, c := range counts {
		if remaining <= 0 {
			break
		}
		for _, n := range groups[c] {
			if remaining <= 0 {
				break
			}
			assign := n.Remaining()
			if assign > remaining {
				assign = remaining
			}
			for i := 0; i < assign; i++ {
				result = append(result, n)
			}
			remaining -= assign
		}
	}
	return result, nil
}

func filterAvailable(nodes []types.NodeInfo) []types.NodeInfo {
	out := make([]types.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		if n.HasCapacity() {
			out = append(out, n)
		}
	}
	return out
}
