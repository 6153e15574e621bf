package verification

// forward lists the legal non-reopen edges. Reopen (terminal -> reviewable)
// is handled separately because it is counted and bounded.
var forward = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusReviewable},
	StatusProcessing: {StatusReviewable},
	StatusReviewable: {StatusApproved, StatusRejected},
}

// CanTransition reports whether from -> to is a legal forward edge.
func CanTransition(from, to Status) bool {
	for _, s := range forward[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanReopen reports whether a record in status s may be reopened.
func CanReopen(s Status) bool {
	return s.IsTerminal()
}
