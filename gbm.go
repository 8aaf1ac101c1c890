// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// Node is one node of a regression tree. Leaves have Feature == -1.
// Rows with x[Feature] < Threshold go Left, everything else goes Right.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value"`
	Cover     float64 `json:"cover"`
}

// IsLeaf reports whether the node is terminal
func (n *Node) IsLeaf() bool {
	return n.Feature < 0
}

// Tree is a regression tree stored as a flat node list rooted at index 0
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for one feature vector
func (t *Tree) Predict(x []float64) float64 {
	j := 0
	for {
		node := &t.Nodes[j]
		if node.IsLeaf() {
			return node.Value
		}
		if x[node.Feature] < node.Threshold {
			j = node.Left
		} else {
			j = node.Right
		}
	}
}

// Model is a fitted gradient-boosted tree ensemble
type Model struct {
	FeatureNames  []string       `json:"featureNames"`
	Target        string         `json:"target"`
	BaseScore     float64        `json:"baseScore"`
	Trees         []Tree         `json:"trees"`
	BestIteration int            `json:"bestIteration"`
	Params        TrainingConfig `json:"params"`
	TrainedAt     time.Time      `json:"trainedAt"`
	Version       string         `json:"version"`
}

// Predict returns the ensemble prediction for one feature vector
func (m *Model) Predict(x []float64) float64 {
	sum := m.BaseScore
	for i := range m.Trees {
		sum += m.Trees[i].Predict(x)
	}
	return sum
}

// PredictAll predicts every row of a feature matrix
func (m *Model) PredictAll(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = m.Predict(x)
	}
	return out
}

// check verifies node references so a corrupt artifact cannot loop or index out of range
func (m *Model) check() error {
	nf := len(m.FeatureNames)
	for ti, tree := range m.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, node := range tree.Nodes {
			if node.IsLeaf() {
				continue
			}
			if node.Feature >= nf {
				return fmt.Errorf("tree %d node %d: feature index %d out of range", ti, ni, node.Feature)
			}
			if node.Left <= ni || node.Right <= ni || node.Left >= len(tree.Nodes) || node.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d: invalid child reference", ti, ni)
			}
		}
	}
	return nil
}

// Booster fits gradient-boosted regression trees on squared error
type Booster struct {
	params TrainingConfig
	logger *Logger
}

// NewBooster creates a booster with the given hyper-parameters
func NewBooster(params TrainingConfig, logger *Logger) *Booster {
	return &Booster{params: params, logger: logger}
}

// FitResult carries the fitted model and its training trace
type FitResult struct {
	Model         *Model
	RoundsTrained int
	BestIteration int
	BestScore     float64
}

// Fit trains on (X, y), stopping early when the validation RMSE has not improved
// for EarlyStoppingRounds rounds. The returned model is truncated to the best round.
func (b *Booster) Fit(ctx context.Context, X [][]float64, y []float64, validX [][]float64, validY []float64) (*FitResult, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, &DataError{DataType: "training set", Message: fmt.Sprintf("%d rows for %d targets", len(X), len(y))}
	}
	nFeatures := len(X[0])
	p := b.params

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	base := calculateMean(y)

	trainPred := filled(len(y), base)
	validPred := filled(len(validY), base)
	grad := make([]float64, len(y))
	hess := filled(len(y), 1)

	var trees []Tree
	bestScore := math.Inf(1)
	bestIter := -1
	rounds := 0

	for round := 0; round < p.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range y {
			grad[i] = trainPred[i] - y[i]
		}

		g := &treeGrower{
			X:      X,
			grad:   grad,
			hess:   hess,
			params: p,
			cols:   sampleColumns(rng, nFeatures, p.ColsampleByTree),
		}
		g.build(sampleRows(rng, len(y), p.Subsample), 0)
		tree := Tree{Nodes: g.nodes}
		trees = append(trees, tree)
		rounds++

		for i, x := range X {
			trainPred[i] += tree.Predict(x)
		}
		for i, x := range validX {
			validPred[i] += tree.Predict(x)
		}

		if len(validY) == 0 {
			bestIter = round
			continue
		}

		score := rmse(validY, validPred)
		if round%50 == 0 {
			b.logger.LogTrainingRound(round, rmse(y, trainPred), score)
		}
		if score < bestScore {
			bestScore = score
			bestIter = round
		} else if round-bestIter >= p.EarlyStoppingRounds {
			b.logger.Debug("Early stopping", "round", round, "best_iteration", bestIter, "best_rmse", bestScore)
			break
		}
	}

	model := &Model{
		FeatureNames:  nil,
		BaseScore:     base,
		Trees:         trees[:bestIter+1],
		BestIteration: bestIter,
		Params:        p,
	}
	return &FitResult{Model: model, RoundsTrained: rounds, BestIteration: bestIter, BestScore: bestScore}, nil
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// sampleRows draws each row with probability rate, keeping at least one
func sampleRows(rng *rand.Rand, n int, rate float64) []int {
	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if rate >= 1 || rng.Float64() < rate {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.IntN(n))
	}
	return rows
}

// sampleColumns picks a sorted subset of floor(rate*n) columns, at least one
func sampleColumns(rng *rand.Rand, n int, rate float64) []int {
	k := int(rate * float64(n))
	if k < 1 {
		k = 1
	}
	if k >= n {
		cols := make([]int, n)
		for i := range cols {
			cols[i] = i
		}
		return cols
	}
	cols := rng.Perm(n)[:k]
	sort.Ints(cols)
	return cols
}

// treeGrower builds one tree with exact greedy splits
type treeGrower struct {
	X      [][]float64
	grad   []float64
	hess   []float64
	params TrainingConfig
	cols   []int
	nodes  []Node
}

type splitCandidate struct {
	feature   int
	threshold float64
	gain      float64
}

func (g *treeGrower) build(rows []int, depth int) int {
	var sumG, sumH float64
	for _, r := range rows {
		sumG += g.grad[r]
		sumH += g.hess[r]
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{
		Feature: -1,
		Value:   -sumG / (sumH + g.params.Lambda) * g.params.LearningRate,
		Cover:   sumH,
	})

	if depth >= g.params.MaxDepth || len(rows) < 2 {
		return idx
	}

	best, ok := g.bestSplit(rows, sumG, sumH)
	if !ok {
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if g.X[r][best.feature] < best.threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	l := g.build(left, depth+1)
	r := g.build(right, depth+1)
	g.nodes[idx].Feature = best.feature
	g.nodes[idx].Threshold = best.threshold
	g.nodes[idx].Left = l
	g.nodes[idx].Right = r
	return idx
}

func (g *treeGrower) bestSplit(rows []int, sumG, sumH float64) (splitCandidate, bool) {
	lambda := g.params.Lambda
	parentScore := sumG * sumG / (sumH + lambda)
	best := splitCandidate{}
	found := false

	sorted := make([]int, len(rows))
	for _, f := range g.cols {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, b int) bool {
			return g.X[sorted[a]][f] < g.X[sorted[b]][f]
		})

		var gl, hl float64
		for i := 0; i < len(sorted)-1; i++ {
			r := sorted[i]
			gl += g.grad[r]
			hl += g.hess[r]

			lo, hi := g.X[r][f], g.X[sorted[i+1]][f]
			if lo == hi {
				continue
			}
			hr := sumH - hl
			if hl < g.params.MinChildWeight || hr < g.params.MinChildWeight {
				continue
			}
			gr := sumG - gl
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parentScore
			if gain > best.gain+1e-12 {
				threshold := lo + (hi-lo)/2
				if threshold <= lo {
					threshold = hi
				}
				best = splitCandidate{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

// expectedValue is the cover-weighted mean output of the subtree rooted at j
func (t *Tree) expectedValue(j int) float64 {
	node := &t.Nodes[j]
	if node.IsLeaf() {
		return node.Value
	}
	left, right := &t.Nodes[node.Left], &t.Nodes[node.Right]
	return (left.Cover*t.expectedValue(node.Left) + right.Cover*t.expectedValue(node.Right)) / node.Cover
}

// ExpectedValue is the model output averaged over the training distribution
func (m *Model) ExpectedValue() float64 {
	sum := m.BaseScore
	for i := range m.Trees {
		sum += m.Trees[i].expectedValue(0)
	}
	return sum
}
