package scheduler

import (
	"hash/fnv"
	"math/rand"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/types"
)

// LoadWeightedRandom draws a node with probability proportional to its
// remaining capacity, perturbed by a stable hash of the host name so
// repeated scheduling of the same host doesn't always land on the same
// node tie. Batch selection instead weights by (remaining+1)^2 to bias
// strongly toward underloaded nodes, with a small noise term to avoid
// lockstep ties across concurrent dispatch calls — both grounded in
// original_source/netpulse/plugins/schedulers/load_weighted_random.
type LoadWeightedRandom struct{}

func (LoadWeightedRandom) Name() string { return "load_weighted_random" }

func stableHostHash(host string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return float64(h.Sum32()%1000) / 1000
}

func (LoadWeightedRandom) NodeSelect(nodes []types.NodeInfo, host string) (types.NodeInfo, error) {
	available := filterAvailable(nodes)
	if len(available) == 0 {
		return types.NodeInfo{}, apierrors.WorkerUnavailable("insufficient capacity in node selection")
	}
	hostHash := stableHostHash(host)
	weights := make([]float64, len(available))
	total := 0.0
	for i, n := range available {
		base := float64(n.Remaining())
		perturbed := base * (0.95 + 0.1*fracPart(hostHash+float64(i)/float64(len(available))))
		weights[i] = perturbed
		total += perturbed
	}
	if total <= 0 {
		return available[rand.Intn(len(available))], nil
	}
	r := rand.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return available[i], nil
		}
	}
	return available[len(available)-1], nil
}

func fracPart(v float64) float64 {
	_, frac := splitFloat(v)
	return frac
}

func splitFloat(v float64) (int64, float64) {
	whole := int64(v)
	return whole, v - float64(whole)
}

func (LoadWeightedRandom) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
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
	candidates := make([]*slot, 0, len(nodes))
	for _, n := range nodes {
		if n.HasCapacity() {
			candidates = append(candidates, &slot{node: n, remaining: n.Remaining()})
		}
	}

	result := make([]types.NodeInfo, 0, len(hosts))
	for range hosts {
		active := make([]*slot, 0, len(candidates))
		for _, s := range candidates {
			if s.remaining > 0 {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			return nil, apierrors.WorkerUnavailable("no available nodes during selection")
		}
		weights := make([]float64, len(active))
		total := 0.0
		for i, s := range active {
			w := float64(s.remaining+1) * float64(s.remaining+1)
			w *= 0.95 + 0.1*rand.Float64()
			weights[i] = w
			total += w
		}
		r := rand.Float64() * total
		cumulative := 0.0
		selected := active[len(active)-1]
		for i, w := range weights {
			cumulative += w
			if r <= cumulative {
				selected = active[i]
				break
			}
		}
		selected.remaining--
		result = append(result, selected.node)
	}
	return result, nil
}
