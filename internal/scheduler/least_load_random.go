package scheduler

import (
	"math/rand"
	"sort"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/types"
)

// LeastLoadRandom narrows to the least-loaded, max-remaining-capacity tier
// like LeastLoad, then breaks ties at random instead of by hostname.
type LeastLoadRandom struct{}

func (LeastLoadRandom) Name() string { return "least_load_random" }

func (LeastLoadRandom) NodeSelect(nodes []types.NodeInfo, _ string) (types.NodeInfo, error) {
	available := filterAvailable(nodes)
	if len(available) == 0 {
		return types.NodeInfo{}, apierrors.WorkerUnavailable("insufficient capacity in node selection")
	}
	minCount := available[0].Count
	for _, n := range available {
		if n.Count < minCount {
			minCount = n.Count
		}
	}
	tier1 := make([]types.NodeInfo, 0, len(available))
	for _, n := range available {
		if n.Count == minCount {
			tier1 = append(tier1, n)
		}
	}
	maxRemaining := tier1[0].Remaining()
	for _, n := range tier1 {
		if n.Remaining() > maxRemaining {
			maxRemaining = n.Remaining()
		}
	}
	tier2 := make([]types.NodeInfo, 0, len(tier1))
	for _, n := range tier1 {
		if n.Remaining() == maxRemaining {
			tier2 = append(tier2, n)
		}
	}
	return tier2[rand.Intn(len(tier2))], nil
}

func (LeastLoadRandom) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
	if len(hosts) == 0 {
		return nil, nil
	}
	if err := checkCapacity(nodes, len(hosts)); err != nil {
		return nil, err
	}

	type slot struct {
		node      types.NodeInfo
		remaining int
	}
	groups := make(map[int][]*slot)
	var counts []int
	for _, n := range nodes {
		if !n.HasCapacity() {
			continue
		}
		if _, ok := groups[n.Count]; !ok {
			counts = append(counts, n.Count)
		}
		groups[n.Count] = append(groups[n.Count], &slot{node: n, remaining: n.Remaining()})
	}
	sort.Ints(counts)

	result := make([]types.NodeInfo, 0, len(hosts))
	idx := 0
	for _, c := range counts {
		if idx >= len(hosts) {
			break
		}
		slots := groups[c]
		maxRemaining := 0
		for _, s := range slots {
			if s.remaining > maxRemaining {
				maxRemaining = s.remaining
			}
		}
		best := make([]*slot, 0, len(slots))
		for _, s := range slots {
			if s.remaining == maxRemaining {
				best = append(best, s)
			}
		}
		totalCapacity := 0
		for _, s := range best {
			totalCapacity += s.remaining
		}
		hostsForLevel := len(hosts) - idx
		if hostsForLevel > totalCapacity {
			hostsForLevel = totalCapacity
		}
		for remainingHosts := hostsForLevel; remainingHosts > 0; {
			i := rand.Intn(len(best))
			s := best[i]
			if s.remaining == 0 {
				best = append(best[:i], best[i+1:]...)
				continue
			}
			result = append(result, s.node)
			idx++
			remainingHosts--
			s.remaining--
		}
	}
	return result, nil
}
