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
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/lantern/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNDCG(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 3, 5, 7)
	rankList := []int32{1, 2, 3, 4, 5, 6, 7, 8}
	assert.InDelta(t, 0.866715, NDCG(targetSet, rankList), 1e-4)
}

func TestPrecision(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 3, 5, 7)
	rankList := []int32{1, 2, 3, 4, 5, 6, 7, 8}
	assert.InDelta(t, 0.5, Precision(targetSet, rankList), 1e-5)
}

func TestRecall(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 3, 15, 17, 19)
	rankList := []int32{1, 2, 3, 4, 5, 6, 7, 8}
	assert.InDelta(t, 0.4, Recall(targetSet, rankList), 1e-5)
}

func TestMRRMetric(t *testing.T) {
	targetSet := mapset.NewSet[int32](3)
	rankList := []int32{1, 2, 3, 4, 5, 6, 7, 8}
	assert.InDelta(t, 1.0/3, MRR(targetSet, rankList), 1e-5)
	assert.Zero(t, MRR(mapset.NewSet[int32](100), rankList))
}

func TestHR(t *testing.T) {
	rankList := []int32{1, 2, 3}
	assert.Equal(t, float32(1), HR(mapset.NewSet[int32](3), rankList))
	assert.Equal(t, float32(0), HR(mapset.NewSet[int32](4), rankList))
}

func TestRankOrdersByScore(t *testing.T) {
	data := cyclicDataset(8, 6, 8)
	m, err := NewModel(model.Params{
		model.Representation: string(Popularity),
		model.NFactors:       4,
	})
	require.NoError(t, err)
	m.Init(data)
	// with the popularity strategy scores are exactly the item biases
	biases := m.Items.bias.Data()
	biases[2] = 3
	biases[4] = 2
	biases[1] = 1

	rankList, scores := Rank(m, nil, []int32{1, 2, 3, 4, 5}, 3)
	assert.Equal(t, []int32{2, 4, 1}, rankList)
	assert.Equal(t, []float32{3, 2, 1}, scores)
}

func TestEvaluateMRRPerfectModel(t *testing.T) {
	data := cyclicDataset(8, 6, 8)
	m, err := NewModel(model.Params{model.Representation: string(Popularity)})
	require.NoError(t, err)
	m.Init(data)
	// item 3 outranks everything, so rows targeting 3 score a full
	// reciprocal rank
	m.Items.bias.Data()[3] = 100

	mrr := EvaluateMRR(m, [][]int32{{1, 2}, {4, 5}}, []int32{3, 3}, 4, 1)
	assert.Equal(t, float32(1), mrr)
}

func TestEvaluateMRRSkipsSentinelTargets(t *testing.T) {
	data := cyclicDataset(8, 6, 8)
	m, err := NewModel(model.Params{model.Representation: string(Popularity)})
	require.NoError(t, err)
	m.Init(data)
	m.Items.bias.Data()[3] = 100

	with := EvaluateMRR(m, [][]int32{{1}, {2}}, []int32{3, 0}, 4, 1)
	without := EvaluateMRR(m, [][]int32{{1}}, []int32{3}, 4, 1)
	assert.Equal(t, without, with)
}

func TestEvaluateAUC(t *testing.T) {
	data := cyclicDataset(16, 10, 12)
	trainSet, testSet := data.Split(0.2)
	m, err := NewModel(model.Params{model.Representation: string(Popularity)})
	require.NoError(t, err)
	m.Init(data)
	auc := EvaluateAUC(m, testSet, trainSet, 2)
	assert.GreaterOrEqual(t, auc, float32(0))
	assert.LessOrEqual(t, auc, float32(1))
}

func TestEvaluateAUCParallelMatchesSerial(t *testing.T) {
	data := cyclicDataset(16, 10, 12)
	trainSet, testSet := data.Split(0.2)
	// appending feedback leaves both splits unsorted again, so the evaluator
	// has to order them itself before fanning out
	trainSet.AddFeedback("u0", "i1", time.Unix(0, 0))
	testSet.AddFeedback("u1", "i2", time.Unix(100, 0))
	m, err := NewModel(model.Params{model.Representation: string(Popularity)})
	require.NoError(t, err)
	m.Init(data)

	parallel := EvaluateAUC(m, testSet, trainSet, 4)
	serial := EvaluateAUC(m, testSet, trainSet, 1)
	assert.InDelta(t, serial, parallel, 1e-5)
}

func TestTrimSentinels(t *testing.T) {
	assert.Equal(t, []int32{1, 2}, trimSentinels([]int32{0, 0, 1, 2}))
	assert.Equal(t, []int32{1, 0, 2}, trimSentinels([]int32{1, 0, 2}))
	assert.Nil(t, trimSentinels([]int32{0, 0}))
}
