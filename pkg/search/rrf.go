package search

// RRFKappa is the reciprocal-rank-fusion constant.
const RRFKappa = 60

// fuseScores combines ranked id lists with reciprocal rank fusion: each item
// scores the sum of 1/(kappa+rank) over the lists containing it, rank
// starting at 1. Tie-breaking happens at the call site where candidate
// metadata is available.
func fuseScores(lists ...[]string) map[string]float64 {
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float64(RRFKappa+i+1)
		}
	}
	return scores
}
