package phase2

import "sort"

// SelectAdaptive takes candidates in composite-score order subject to a
// per-sector cap, stopping once targetCount is reached or candidates are
// exhausted. Candidates are not mutated; the returned slice preserves the
// selection order (composite descending).
func SelectAdaptive(candidates []ScoredCandidate, targetCount, sectorCap int) []ScoredCandidate {
	sorted := make([]ScoredCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Composite > sorted[j].Composite })

	if sectorCap <= 0 {
		sectorCap = 3
	}

	selected := make([]ScoredCandidate, 0, targetCount)
	sectorCounts := make(map[string]int)
	for _, c := range sorted {
		if len(selected) >= targetCount {
			break
		}
		sector := c.Stock.Sector
		if sectorCounts[sector] >= sectorCap {
			continue
		}
		selected = append(selected, c)
		sectorCounts[sector]++
	}
	return selected
}
