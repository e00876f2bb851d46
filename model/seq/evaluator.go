// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package seq

import (
	"context"
	"sort"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/lantern/base"
	"github.com/gorse-io/lantern/common/floats"
	"github.com/gorse-io/lantern/common/parallel"
	"github.com/gorse-io/lantern/dataset"
)

/* Evaluate Item Ranking */

// Metric is used by evaluators in personalized ranking tasks.
type Metric func(targetSet mapset.Set[int32], rankList []int32) float32

// history returns the prediction context of a user: the user index itself for
// the factorization strategy, the chronological training items otherwise.
func (m *Model) history(userIndex int32, trainSet *dataset.Dataset) []int32 {
	if m.representation == Factorization {
		return []int32{userIndex}
	}
	return trainSet.GetUserFeedback()[userIndex]
}

// Evaluate evaluates a model in top-n tasks. Evaluation is read-only and runs
// in parallel over disjoint users.
func Evaluate(m *Model, testSet, trainSet *dataset.Dataset, topK, numCandidates, nJobs int, scorers ...Metric) []float32 {
	partSum := make([][]float32, nJobs)
	partCount := make([]float32, nJobs)
	for i := 0; i < nJobs; i++ {
		partSum[i] = make([]float32, len(scorers))
	}
	negatives := testSet.NegativeSample(trainSet, numCandidates)
	// sort both sets up front so parallel workers only read
	testFeedback := testSet.GetUserFeedback()
	trainSet.GetUserFeedback()
	_ = parallel.Parallel(context.Background(), testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		targetSet := mapset.NewSet(testFeedback[userIndex]...)
		if targetSet.Cardinality() > 0 {
			candidates := make([]int32, 0, targetSet.Cardinality()+len(negatives[userIndex]))
			candidates = append(candidates, testFeedback[userIndex]...)
			candidates = append(candidates, negatives[userIndex]...)
			rankList, _ := Rank(m, m.history(int32(userIndex), trainSet), candidates, topK)
			partCount[workerId]++
			for i, metric := range scorers {
				partSum[workerId][i] += metric(targetSet, rankList)
			}
		}
		return nil
	})
	sum := make([]float32, len(scorers))
	for i := 0; i < nJobs; i++ {
		floats.Add(sum, partSum[i])
	}
	count := floats.Sum(partCount)
	if count > 0 {
		floats.MulConst(sum, 1/count)
	}
	return sum
}

// Rank sorts candidates by model score and returns the top-n ids with their
// scores.
func Rank(m *Model, history []int32, candidates []int32, topN int) ([]int32, []float32) {
	scores, err := m.Predict(history, candidates)
	if err != nil {
		return nil, nil
	}
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	if topN < len(order) {
		order = order[:topN]
	}
	rankList := make([]int32, len(order))
	rankScores := make([]float32, len(order))
	for i, idx := range order {
		rankList[i] = candidates[idx]
		rankScores[i] = scores[idx]
	}
	return rankList, rankScores
}

// EvaluateMRR computes the mean reciprocal rank of true targets among
// numSamples uniformly sampled negatives. inputs[i] is the context sequence
// of example i and targets[i] its true next item. Rows whose target is the
// padding sentinel are excluded.
func EvaluateMRR(m *Model, inputs [][]int32, targets []int32, numSamples, nJobs int) float32 {
	rng := base.NewRandomGenerator(0)
	sampler := NewNegativeSampler(m.Items.Count(), rng)
	// negatives are drawn ahead so parallel workers stay read-only
	negatives := make([][]int32, len(inputs))
	for i := range negatives {
		negatives[i] = sampler.Sample(numSamples)
	}
	ranks := make([]float32, len(inputs))
	counted := make([]bool, len(inputs))
	_ = parallel.Parallel(context.Background(), len(inputs), nJobs, func(_, i int) error {
		if targets[i] == dataset.SentinelItem {
			return nil
		}
		candidates := append([]int32{targets[i]}, negatives[i]...)
		scores, err := m.Predict(trimSentinels(inputs[i]), candidates)
		if err != nil {
			return err
		}
		rank := 1
		for _, score := range scores[1:] {
			if score > scores[0] {
				rank++
			}
		}
		ranks[i] = 1 / float32(rank)
		counted[i] = true
		return nil
	})
	var sum float32
	var count int
	for i := range ranks {
		if counted[i] {
			sum += ranks[i]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float32(count)
}

// EvaluateAUC computes the mean per-user probability that a held-out positive
// outscores an unobserved item. Items seen in either split are excluded from
// the negative side.
func EvaluateAUC(m *Model, testSet, trainSet *dataset.Dataset, nJobs int) float32 {
	sums := make([]float32, nJobs)
	counts := make([]float32, nJobs)
	// sort both sets up front so parallel workers only read
	testFeedback := testSet.GetUserFeedback()
	trainFeedback := trainSet.GetUserFeedback()
	_ = parallel.Parallel(context.Background(), testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		positives := testFeedback[userIndex]
		if len(positives) == 0 {
			return nil
		}
		observed := mapset.NewSet(positives...)
		observed.Append(trainFeedback[userIndex]...)
		history := m.history(int32(userIndex), trainSet)
		// score every real item once
		candidates := make([]int32, 0, testSet.CountItems()-1)
		for id := int32(1); id < int32(testSet.CountItems()); id++ {
			candidates = append(candidates, id)
		}
		scores, err := m.Predict(history, candidates)
		if err != nil {
			return err
		}
		scoreOf := make(map[int32]float32, len(candidates))
		for i, id := range candidates {
			scoreOf[id] = scores[i]
		}
		var correct, pairs float32
		for _, pos := range positives {
			for _, id := range candidates {
				if observed.Contains(id) {
					continue
				}
				pairs++
				if scoreOf[pos] > scoreOf[id] {
					correct++
				}
			}
		}
		if pairs > 0 {
			sums[workerId] += correct / pairs
			counts[workerId]++
		}
		return nil
	})
	count := floats.Sum(counts)
	if count == 0 {
		return 0
	}
	return floats.Sum(sums) / count
}

// trimSentinels drops leading padding from a context sequence.
func trimSentinels(sequence []int32) []int32 {
	for i, id := range sequence {
		if id != dataset.SentinelItem {
			return sequence[i:]
		}
	}
	return nil
}

// NDCG means Normalized Discounted Cumulative Gain.
func NDCG(targetSet mapset.Set[int32], rankList []int32) float32 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < targetSet.Cardinality() && i < len(rankList); i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math32.Log2(float32(i) + 2.0)
		}
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// Precision is the fraction of relevant items among the recommended items.
func Precision(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := float32(0)
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit / float32(len(rankList))
}

// Recall is the fraction of relevant items that have been recommended over
// the total amount of relevant items.
func Recall(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := 0
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return float32(hit) / float32(targetSet.Cardinality())
}

// HR means Hit Ratio.
func HR(targetSet mapset.Set[int32], rankList []int32) float32 {
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1
		}
	}
	return 0
}

// MRR means Mean Reciprocal Rank: the multiplicative inverse of the rank of
// the first relevant item, 1 for first place, 1/2 for second place and so on.
func MRR(targetSet mapset.Set[int32], rankList []int32) float32 {
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1 / float32(i+1)
		}
	}
	return 0
}
