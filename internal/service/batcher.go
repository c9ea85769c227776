package service

import (
	"iter"
	"slices"

	"content_harvester/internal/domain"
)

// PlanBatches groups terms by priority, lowest value first, and slices each
// tier into batches of at most size terms, keeping input order inside a tier.
// The returned sequence holds no state and can be ranged over repeatedly.
func PlanBatches(terms []domain.SearchTerm, size int) iter.Seq[domain.TermBatch] {
	if size <= 0 {
		size = 1
	}

	tiers := make(map[int][]domain.SearchTerm)
	var priorities []int
	for _, t := range terms {
		if _, ok := tiers[t.Priority]; !ok {
			priorities = append(priorities, t.Priority)
		}
		tiers[t.Priority] = append(tiers[t.Priority], t)
	}
	slices.Sort(priorities)

	return func(yield func(domain.TermBatch) bool) {
		index := 0
		for _, p := range priorities {
			for chunk := range slices.Chunk(tiers[p], size) {
				batch := domain.TermBatch{
					Priority: p,
					Index:    index,
					Terms:    chunk,
				}
				index++
				if !yield(batch) {
					return
				}
			}
		}
	}
}
