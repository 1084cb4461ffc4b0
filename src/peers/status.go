package peers

// NetworkStatus is an overview of the registry.
type NetworkStatus struct {
	Total             int
	Online            int
	Offline           int
	Unknown           int
	ByActivity        map[ActivityState]int
	AverageReputation float64
	AverageLoad       float64
	Nodes             []Node
}

// NetworkStatus summarises the registry.
func (r *Registry) NetworkStatus() NetworkStatus {
	nodes := r.Nodes()

	status := NetworkStatus{
		Total:      len(nodes),
		ByActivity: make(map[ActivityState]int),
		Nodes:      nodes,
	}

	var repSum, loadSum float64
	for _, n := range nodes {
		switch n.Status {
		case Online:
			status.Online++
			status.ByActivity[n.Activity.State]++
			loadSum += n.Activity.Load
		case Offline:
			status.Offline++
		default:
			status.Unknown++
		}
		repSum += n.Reputation
	}

	if len(nodes) > 0 {
		status.AverageReputation = repSum / float64(len(nodes))
	}
	if status.Online > 0 {
		status.AverageLoad = loadSum / float64(status.Online)
	}

	return status
}
