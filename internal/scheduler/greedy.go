package scheduler

import (
	"sort"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/types"
)

// Greedy picks the first node (in caller-supplied order) with spare
// capacity. Its batch form sorts by descending load first so that
// already-busy nodes finish filling before lighter ones are touched,
// matching original_source/netpulse/plugins/schedulers/greedy.
type Greedy struct{}

func (Greedy) Name() string { return "greedy" }

func (Greedy) NodeSelect(nodes []types.NodeInfo, _ string) (types.NodeInfo, error) {
	for _, n := range nodes {
		if n.HasCapacity() {
			return n, nil
		}
	}
	return types.NodeInfo{}, apierrors.WorkerUnavailable("insufficient capacity in node selection")
}

func (Greedy) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
	if len(hosts) == 0 {
		return nil, nil
	}
	if err := checkCapacity(nodes, len(hosts)); err != nil {
		return nil, err
	}
	available := make([]types.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		if n.HasCapacity() {
			available = append(available, n)
		}
	}
	sort.Slice(available, func(i, j int) bool {
		if available[i].Count != available[j].Count {
			return available[i].Count > available[j].Count
		}
		if available[i].Remaining() != available[j].Remaining() {
			return available[i].Remaining() > available[j].Remaining()
		}
		return available[i].Hostname < available[j].Hostname
	})

	result := make([]types.NodeInfo, 0, len(hosts))
	remaining := len(hosts)
	for _, n := range available {
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
	return result, nil
}
