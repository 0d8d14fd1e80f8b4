// Package portfolio allocates target weights across the day's selected
// stocks once Phase 2 scoring has ranked them.
package portfolio

import (
	"fmt"
	"math"

	"github.com/aristath/kquant-trader/pkg/formulas"
)

// HRPOptimizer allocates weights via Hierarchical Risk Parity: correlation
// distance, single-linkage clustering, quasi-diagonal ordering and
// recursive bisection by inverse-variance cluster risk.
type HRPOptimizer struct{}

// NewHRPOptimizer constructs an HRPOptimizer.
func NewHRPOptimizer() *HRPOptimizer {
	return &HRPOptimizer{}
}

type hrpClusterNode struct {
	left, right *hrpClusterNode
	leaves      []int
	minLeaf     int
}

// Optimize returns a weight per stock code from a covariance matrix whose
// rows/columns are ordered the same as codes.
func (hrp *HRPOptimizer) Optimize(covMatrix [][]float64, codes []string) (map[string]float64, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("portfolio: no codes provided")
	}
	if len(codes) == 1 {
		return map[string]float64{codes[0]: 1.0}, nil
	}
	if len(covMatrix) != len(codes) {
		return nil, fmt.Errorf("portfolio: covariance size %d does not match %d codes", len(covMatrix), len(codes))
	}
	for i := range covMatrix {
		if len(covMatrix[i]) != len(codes) {
			return nil, fmt.Errorf("portfolio: covariance matrix is not square")
		}
	}

	corr, err := formulas.CorrelationMatrixFromCovariance(covMatrix)
	if err != nil {
		return nil, fmt.Errorf("portfolio: correlation from covariance: %w", err)
	}
	dist := formulas.CorrelationToDistance(corr)

	root := hrp.singleLinkageDendrogram(dist)
	order := hrp.quasiDiagonalOrder(root)
	if len(order) != len(codes) {
		return nil, fmt.Errorf("portfolio: invalid HRP order length %d", len(order))
	}

	weights := make([]float64, len(codes))
	for i := range weights {
		weights[i] = 1.0
	}
	hrp.recursiveBisectionAllocate(weights, covMatrix, order)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("portfolio: invalid HRP weight sum %v", sum)
	}

	result := make(map[string]float64, len(codes))
	for i, code := range codes {
		result[code] = weights[i] / sum
	}
	return result, nil
}

func (hrp *HRPOptimizer) singleLinkageDendrogram(dist [][]float64) *hrpClusterNode {
	n := len(dist)
	clusters := make([]*hrpClusterNode, 0, n)
	for i := 0; i < n; i++ {
		clusters = append(clusters, &hrpClusterNode{leaves: []int{i}, minLeaf: i})
	}

	for len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestD := hrp.clusterDistance(dist, clusters[0], clusters[1])

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := hrp.clusterDistance(dist, clusters[i], clusters[j])
				if d < bestD || (d == bestD && hrp.pairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		a, b := clusters[bestI], clusters[bestJ]
		left, right := a, b
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}

		leaves := make([]int, 0, len(a.leaves)+len(b.leaves))
		leaves = append(leaves, a.leaves...)
		leaves = append(leaves, b.leaves...)
		merged := &hrpClusterNode{left: left, right: right, leaves: leaves, minLeaf: left.minLeaf}

		next := make([]*hrpClusterNode, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}

	return clusters[0]
}

func (hrp *HRPOptimizer) pairLess(a1, b1, a2, b2 *hrpClusterNode) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func (hrp *HRPOptimizer) clusterDistance(dist [][]float64, a, b *hrpClusterNode) float64 {
	best := math.Inf(1)
	for _, i := range a.leaves {
		for _, j := range b.leaves {
			if dist[i][j] < best {
				best = dist[i][j]
			}
		}
	}
	return best
}

func (hrp *HRPOptimizer) quasiDiagonalOrder(node *hrpClusterNode) []int {
	if node == nil {
		return nil
	}
	if node.left == nil && node.right == nil {
		return []int{node.leaves[0]}
	}
	return append(hrp.quasiDiagonalOrder(node.left), hrp.quasiDiagonalOrder(node.right)...)
}

func (hrp *HRPOptimizer) recursiveBisectionAllocate(weights []float64, cov [][]float64, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vLeft := hrp.clusterVariance(cov, left)
	vRight := hrp.clusterVariance(cov, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1.0 - (vLeft / (vLeft + vRight))
	}
	alpha = math.Max(0.0, math.Min(1.0, alpha))

	for _, idx := range left {
		weights[idx] *= alpha
	}
	for _, idx := range right {
		weights[idx] *= 1.0 - alpha
	}

	hrp.recursiveBisectionAllocate(weights, cov, left)
	hrp.recursiveBisectionAllocate(weights, cov, right)
}

func (hrp *HRPOptimizer) clusterVariance(cov [][]float64, idxs []int) float64 {
	if len(idxs) == 0 {
		return 0.0
	}
	if len(idxs) == 1 {
		i := idxs[0]
		return math.Max(cov[i][i], 0.0)
	}

	const eps = 1e-12
	inv := make([]float64, len(idxs))
	sumInv := 0.0
	for k, i := range idxs {
		v := cov[i][i]
		if v < eps {
			v = eps
		}
		inv[k] = 1.0 / v
		sumInv += inv[k]
	}
	if sumInv <= 0 {
		return 0.0
	}
	for k := range inv {
		inv[k] /= sumInv
	}

	variance := 0.0
	for a, i := range idxs {
		for b, j := range idxs {
			variance += inv[a] * cov[i][j] * inv[b]
		}
	}
	return math.Max(variance, 0.0)
}
