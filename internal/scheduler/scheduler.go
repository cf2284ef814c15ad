// Package scheduler implements the node-selection plugins spec.md §4.4
// describes. Grounded on original_source/netpulse/plugins/schedulers/* for
// exact tie-break semantics (count, then remaining capacity, then
// hostname) and on the teacher's LazyDictProxy-equivalent plugin registry
// pattern (spec.md §9), here a compile-time map[string]Plugin built at
// startup instead of a runtime directory scan.
package scheduler

import (
	"sort"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/types"
)

// Plugin picks nodes under capacity constraints for one or many hosts.
type Plugin interface {
	Name() string
	NodeSelect(nodes []types.NodeInfo, host string) (types.NodeInfo, error)
	BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error)
}

// Registry is the compile-time plugin directory (spec.md §9's
// LazyDictProxy, generalized to a static map since no runtime directory
// scanning is required).
type Registry struct {
	plugins map[string]Plugin
}

func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		r.plugins[p.Name()] = p
	}
	return r
}

func DefaultRegistry() *Registry {
	return NewRegistry(Greedy{}, LeastLoad{}, LeastLoadRandom{}, LoadWeightedRandom{})
}

func (r *Registry) Get(name string) (Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// totalRemaining sums capacity-count across all nodes.
func totalRemaining(nodes []types.NodeInfo) int {
	total := 0
	for _, n := range nodes {
		total += n.Remaining()
	}
	return total
}

// checkCapacity raises WorkerUnavailable per spec.md §4.4 when demand
// exceeds the fleet's combined remaining capacity.
func checkCapacity(nodes []types.NodeInfo, demand int) error {
	if totalRemaining(nodes) < demand {
		return apierrors.WorkerUnavailable("no available node to run the job")
	}
	return nil
}

// sortedByLoad orders nodes by (ascending count, descending remaining
// capacity, ascending hostname) — the least_load family's tie-break.
func sortedByLoad(nodes []types.NodeInfo) []types.NodeInfo {
	out := append([]types.NodeInfo(nil), nodes...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count < out[j].Count
		}
		if out[i].Remaining() != out[j].Remaining() {
			return out[i].Remaining() > out[j].Remaining()
		}
		return out[i].Hostname < out[j].Hostname
	})
	return out
}
