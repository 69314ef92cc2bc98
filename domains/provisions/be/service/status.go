package service

var allowedTransitions = map[Status][]Status{
	StatusPendingPayment: {StatusProvisioning},
	StatusProvisioning:   {StatusActive, StatusFailed},
}

// CanTransition reports whether a provision may move from one status to another.
// active and failed are terminal; failed needs manual intervention.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is defined.
func (s Status) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Purchased reports whether checkout completed for the provision.
func (p Provision) Purchased() bool {
	return p.Status != StatusPendingPayment
}

// LatestByStep keeps the newest entry per step number.
func LatestByStep(logs []StepLog) map[int]StepLog {
	latest := make(map[int]StepLog, len(logs))
	for _, entry := range logs {
		current, ok := latest[entry.Step]
		if !ok || entry.Seq >= current.Seq {
			latest[entry.Step] = entry
		}
	}
	return latest
}
