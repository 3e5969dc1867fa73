package postprocess

import (
	"sort"

	yolocore "github.com/edgevision/go-yolocore"
)

// sortByScore returns candidate indices ordered by descending score.
// The sort is stable so equal scores keep their lower index first, which
// makes suppression order, and therefore output, deterministic.
func sortByScore(scores []float32) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	return order
}

// nms runs greedy non maximum suppression over xyxy boxes stored four
// floats per candidate.  order holds candidate indices by descending
// score.  It returns the kept indices in score order.
func nms(boxes []float32, order []int, iouThreshold float32) []int {
	kept := make([]int, 0, len(order))
	suppressed := make([]bool, len(order))

	for i, n := range order {
		if suppressed[i] {
			continue
		}

		kept = append(kept, n)
		a := boxes[n*4 : n*4+4]

		for j := i + 1; j < len(order); j++ {
			if suppressed[j] {
				continue
			}

			m := order[j]

			if yolocore.IoU(a, boxes[m*4:m*4+4]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}
