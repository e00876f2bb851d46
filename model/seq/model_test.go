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
	"bytes"
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/gorse-io/lantern/dataset"
	"github.com/gorse-io/lantern/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cyclicDataset builds histories with a strong sequential structure: user u
// interacts with items u, u+1, ... modulo numItems, for length steps.
func cyclicDataset(numUsers, numItems, length int) *dataset.Dataset {
	d := dataset.NewDataset(time.Now(), numUsers, numItems)
	for u := 0; u < numUsers; u++ {
		for k := 0; k < length; k++ {
			item := (u + k) % numItems
			d.AddFeedback(fmt.Sprintf("u%d", u), fmt.Sprintf("i%d", item), time.Unix(int64(k), 0))
		}
	}
	return d
}

func TestNewModelValidation(t *testing.T) {
	_, err := NewModel(model.Params{model.Loss: "hinge"})
	assert.Error(t, err)
	_, err = NewModel(model.Params{model.Representation: "transformer"})
	assert.Error(t, err)
	_, err = NewModel(model.Params{model.NFactors: 0})
	assert.Error(t, err)
	_, err = NewModel(model.Params{model.BatchSize: -1})
	assert.Error(t, err)
	_, err = NewModel(model.Params{model.NEpochs: 0})
	assert.Error(t, err)
	_, err = NewModel(model.Params{model.MaxSeqLen: 0})
	assert.Error(t, err)
	_, err = NewModel(model.Params{model.NNegatives: 0})
	assert.Error(t, err)

	m, err := NewModel(model.Params{
		model.Representation: "pool",
		model.Loss:           "adaptive",
	})
	assert.NoError(t, err)
	assert.Equal(t, Pool, m.Representation())
	assert.Equal(t, Adaptive, m.Loss())
}

func TestFitSentinelInvariant(t *testing.T) {
	data := cyclicDataset(16, 10, 12)
	trainSet, testSet := data.Split(0.2)
	for _, loss := range []LossType{Pointwise, BPR, Adaptive} {
		m, err := NewModel(model.Params{
			model.Representation: string(Pool),
			model.Loss:           string(loss),
			model.NFactors:       8,
			model.NEpochs:        2,
			model.BatchSize:      8,
			model.MaxSeqLen:      8,
			model.RandomState:    42,
		})
		require.NoError(t, err)
		_, err = m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetVerbose(1))
		require.NoError(t, err)
		vec, err := m.Items.Lookup(dataset.SentinelItem)
		assert.NoError(t, err)
		for _, v := range vec {
			assert.Zero(t, v)
		}
		bias, err := m.Items.LookupBias(dataset.SentinelItem)
		assert.NoError(t, err)
		assert.Zero(t, bias)
	}
}

func TestPoolingCausality(t *testing.T) {
	data := cyclicDataset(4, 10, 12)
	m, err := NewModel(model.Params{
		model.Representation: string(Pool),
		model.MaxSeqLen:      4,
		model.RandomState:    1,
	})
	require.NoError(t, err)
	m.Init(data)

	a := &batch{
		users:   []int32{0},
		inputs:  [][]int32{{1}, {2}, {3}, {4}},
		targets: [][]int32{{2}, {3}, {4}, {5}},
	}
	b := &batch{
		users:   []int32{0},
		inputs:  [][]int32{{1}, {2}, {3}, {9}},
		targets: [][]int32{{2}, {3}, {4}, {5}},
	}
	repsA := m.represent(a)
	repsB := m.represent(b)
	// positions before the edit are untouched, the edited position moves
	for t_ := 0; t_ < 3; t_++ {
		assert.Equal(t, repsA[t_].Data(), repsB[t_].Data())
	}
	assert.NotEqual(t, repsA[3].Data(), repsB[3].Data())
}

func TestLSTMCausalityInModel(t *testing.T) {
	data := cyclicDataset(4, 10, 12)
	m, err := NewModel(model.Params{
		model.Representation: string(LSTM),
		model.MaxSeqLen:      4,
		model.RandomState:    1,
	})
	require.NoError(t, err)
	m.Init(data)

	a := &batch{users: []int32{0}, inputs: [][]int32{{1}, {2}, {3}, {4}}}
	b := &batch{users: []int32{0}, inputs: [][]int32{{1}, {2}, {3}, {9}}}
	repsA := m.represent(a)
	repsB := m.represent(b)
	for t_ := 0; t_ < 3; t_++ {
		assert.Equal(t, repsA[t_].Data(), repsB[t_].Data())
	}
	assert.NotEqual(t, repsA[3].Data(), repsB[3].Data())
}

func TestPredictDeterministic(t *testing.T) {
	data := cyclicDataset(16, 10, 12)
	trainSet, testSet := data.Split(0.2)
	for _, representation := range []RepresentationType{Factorization, Popularity, Pool, LSTM} {
		m, err := NewModel(model.Params{
			model.Representation: string(representation),
			model.NFactors:       8,
			model.NEpochs:        2,
			model.BatchSize:      8,
			model.MaxSeqLen:      8,
			model.RandomState:    0,
		})
		require.NoError(t, err)
		_, err = m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetVerbose(1))
		require.NoError(t, err)

		history := m.history(0, trainSet)
		candidates := []int32{1, 2, 3, 4, 5}
		first, err := m.Predict(history, candidates)
		require.NoError(t, err)
		second, err := m.Predict(history, candidates)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestPredictOutOfRange(t *testing.T) {
	data := cyclicDataset(8, 10, 12)
	m, err := NewModel(model.Params{model.Representation: string(Pool)})
	require.NoError(t, err)
	m.Init(data)
	_, err = m.Predict([]int32{1, 2}, []int32{int32(data.CountItems())})
	assert.Error(t, err)
	_, err = m.Predict([]int32{int32(data.CountItems())}, []int32{1})
	assert.Error(t, err)
}

func TestPredictEmptyHistory(t *testing.T) {
	data := cyclicDataset(8, 10, 12)
	m, err := NewModel(model.Params{model.Representation: string(LSTM), model.NFactors: 8})
	require.NoError(t, err)
	m.Init(data)
	scores, err := m.Predict(nil, []int32{1, 2, 3})
	assert.NoError(t, err)
	assert.Len(t, scores, 3)
}

func TestPopularityIgnoresHistory(t *testing.T) {
	data := cyclicDataset(16, 10, 12)
	trainSet, testSet := data.Split(0.2)
	m, err := NewModel(model.Params{
		model.Representation: string(Popularity),
		model.NEpochs:        2,
		model.BatchSize:      8,
		model.MaxSeqLen:      8,
	})
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetVerbose(1))
	require.NoError(t, err)
	candidates := []int32{1, 2, 3}
	a, err := m.Predict([]int32{1, 2, 3, 4}, candidates)
	require.NoError(t, err)
	b, err := m.Predict([]int32{9, 8}, candidates)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshalRoundTrip(t *testing.T) {
	data := cyclicDataset(16, 10, 12)
	trainSet, testSet := data.Split(0.2)
	for _, representation := range []RepresentationType{Factorization, Popularity, Pool, LSTM} {
		m, err := NewModel(model.Params{
			model.Representation: string(representation),
			model.NFactors:       8,
			model.NEpochs:        2,
			model.BatchSize:      8,
			model.MaxSeqLen:      8,
			model.RandomState:    3,
		})
		require.NoError(t, err)
		_, err = m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetVerbose(1))
		require.NoError(t, err)

		buf := bytes.NewBuffer(nil)
		require.NoError(t, MarshalModel(buf, m))
		decoded, err := UnmarshalModel(buf)
		require.NoError(t, err)

		history := m.history(0, trainSet)
		candidates := []int32{1, 2, 3, 4, 5}
		want, err := m.Predict(history, candidates)
		require.NoError(t, err)
		got, err := decoded.Predict(history, candidates)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSequentialStructureGuard(t *testing.T) {
	// Every user walks the item cycle with a different phase, so each
	// next-item transition appears in many training windows. A recurrent
	// model must beat the history-blind popularity baseline by a wide
	// margin on this data.
	data := cyclicDataset(60, 20, 40)
	trainSet, testSet := data.Split(0.05)

	inputs := make([][]int32, 0, trainSet.CountUsers())
	targets := make([]int32, 0, trainSet.CountUsers())
	for u := 0; u < trainSet.CountUsers(); u++ {
		if len(testSet.GetUserFeedback()[u]) == 0 {
			continue
		}
		inputs = append(inputs, trainSet.GetUserFeedback()[u])
		targets = append(targets, testSet.GetUserFeedback()[u][0])
	}

	scores := make(map[RepresentationType]float32)
	for _, representation := range []RepresentationType{Popularity, LSTM} {
		m, err := NewModel(model.Params{
			model.Representation: string(representation),
			model.Loss:           string(BPR),
			model.NFactors:       16,
			model.NEpochs:        40,
			model.BatchSize:      16,
			model.MaxSeqLen:      16,
			model.Lr:             0.01,
			model.RandomState:    42,
		})
		require.NoError(t, err)
		_, err = m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetVerbose(20))
		require.NoError(t, err)
		scores[representation] = EvaluateMRR(m, inputs, targets, 19, 1)
	}
	assert.Greater(t, scores[LSTM], scores[Popularity]+0.1)
	assert.Greater(t, scores[LSTM], float32(0.3))
}

func TestFitNilValidateSet(t *testing.T) {
	data := cyclicDataset(8, 10, 12)
	m, err := NewModel(model.Params{
		model.Representation: string(Popularity),
		model.NEpochs:        1,
		model.BatchSize:      8,
		model.MaxSeqLen:      8,
	})
	require.NoError(t, err)
	score, err := m.Fit(context.Background(), data, nil, NewFitConfig().SetVerbose(1))
	assert.NoError(t, err)
	assert.Zero(t, score.MRR)
	assert.Zero(t, score.AUC)
}

func TestFitDivergenceStopsBatchProducer(t *testing.T) {
	data := cyclicDataset(16, 10, 12)
	trainSet, testSet := data.Split(0.2)
	before := runtime.NumGoroutine()
	m, err := NewModel(model.Params{
		model.Representation: string(Pool),
		model.Loss:           string(BPR),
		model.NFactors:       16,
		model.NEpochs:        50,
		model.BatchSize:      4,
		model.MaxSeqLen:      8,
		model.Lr:             1e30,
		model.RandomState:    1,
	})
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetVerbose(100))
	assert.Error(t, err)
	// the aborted fit must not leave its batch producer behind
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}

func TestFitEmptyTrainSet(t *testing.T) {
	empty := dataset.NewDataset(time.Now(), 0, 0)
	m, err := NewModel(model.Params{model.Representation: string(Pool)})
	require.NoError(t, err)
	score, err := m.Fit(context.Background(), empty, empty, NewFitConfig())
	assert.NoError(t, err)
	assert.Zero(t, score.MRR)
}
