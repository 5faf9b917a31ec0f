package pipeline

import "github.com/vost-pt/meios-dashboard/internal/models"

// RecencyPolicy decides whether candidate, observed after current, replaces
// it for the same incident id.
type RecencyPolicy func(current, candidate models.Incident) bool

// ArrivalOrderWins keeps whichever record was observed last. Recency is
// positional: callers must append batches in true arrival order.
func ArrivalOrderWins(_, _ models.Incident) bool {
	return true
}

// Merge consolidates incoming into existing with ArrivalOrderWins.
func Merge(existing, incoming []models.Incident) []models.Incident {
	return MergeWith(ArrivalOrderWins, existing, incoming)
}

// MergeWith concatenates existing and incoming and keeps one record per id.
// Each surviving record sits at the position of the id's last occurrence in
// the concatenation; its content is the one chosen by policy. Neither input
// is modified.
func MergeWith(policy RecencyPolicy, existing, incoming []models.Incident) []models.Incident {
	if policy == nil {
		policy = ArrivalOrderWins
	}

	all := make([]models.Incident, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)

	last := make(map[int64]int, len(all))
	winner := make(map[int64]models.Incident, len(all))
	for i, inc := range all {
		if cur, seen := winner[inc.ID]; !seen || policy(cur, inc) {
			winner[inc.ID] = inc
		}
		last[inc.ID] = i
	}

	out := make([]models.Incident, 0, len(last))
	for i, inc := range all {
		if last[inc.ID] == i {
			out = append(out, winner[inc.ID])
		}
	}
	return out
}
