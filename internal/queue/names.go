package queue

// Queue names spec.md §6 fixes: one shared FIFO queue for stateless
// drivers, one per-node spawn queue, one per-host pinned queue.
const FifoQueue = "FifoQ"

func NodeQueue(hostname string) string { return "NodeQ_" + hostname }
func HostQueue(host string) string     { return "HostQ_" + host }
