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
	"fmt"
	"io"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/lantern/base"
	"github.com/gorse-io/lantern/base/encoding"
	"github.com/gorse-io/lantern/base/log"
	"github.com/gorse-io/lantern/base/progress"
	"github.com/gorse-io/lantern/common/floats"
	"github.com/gorse-io/lantern/common/nn"
	"github.com/gorse-io/lantern/dataset"
	"github.com/gorse-io/lantern/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// RepresentationType names a user representation strategy. The set is closed;
// NewModel rejects anything else at construction.
type RepresentationType string

const (
	// Factorization looks up a static per-user embedding.
	Factorization RepresentationType = "factorization"
	// Popularity skips the representation step; a candidate's score is its
	// trained per-item bias, independent of any history.
	Popularity RepresentationType = "popularity"
	// Pool represents position i by the running sum of item embeddings at
	// positions 0..i.
	Pool RepresentationType = "pool"
	// LSTM represents position i by the hidden state of a recurrent encoder
	// after consuming positions 0..i.
	LSTM RepresentationType = "lstm"
)

func parseRepresentationType(name string) (RepresentationType, error) {
	switch RepresentationType(name) {
	case Factorization, Popularity, Pool, LSTM:
		return RepresentationType(name), nil
	default:
		return "", errors.NotValidf("representation %q", name)
	}
}

// Score collects evaluation metrics of one fit.
type Score struct {
	MRR float32
	AUC float32
}

type FitConfig struct {
	Jobs       int
	Verbose    int
	Candidates int
	EpochDone  func(epoch int, loss float32)
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:       1,
		Verbose:    10,
		Candidates: 100,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetEpochDone(callback func(epoch int, loss float32)) *FitConfig {
	config.EpochDone = callback
	return config
}

// Model ranks next items for implicit-feedback histories. It is the tuple of
// an embedding store, a representation strategy and a ranking loss, trained
// by synchronous minibatch gradient descent on the common/nn backend.
//
// Hyper-parameters:
//
//	Representation - One of factorization, popularity, pool, lstm. Default is factorization.
//	Loss           - One of pointwise, bpr, adaptive. Default is bpr.
//	NFactors       - Embedding dimensionality. Default is 16.
//	NEpochs        - Number of training passes. Default is 20.
//	BatchSize      - Mini-batch size. Default is 128.
//	NNegatives     - Negatives per positive for the adaptive loss. Default is 5.
//	MaxSeqLen      - Width of the sequence window. Default is 32.
//	Lr             - Learning rate of Adam. Default is 0.01.
//	Reg            - Weight decay. Default is 0.
//	InitMean       - Mean of initial embeddings. Default is 0.
//	InitStdDev     - Standard deviation of initial embeddings. Default is 0.01.
type Model struct {
	model.BaseModel
	UserIndex *dataset.FreqDict
	ItemIndex *dataset.FreqDict
	Items     *EmbeddingStore
	Users     *EmbeddingStore
	lstm      *nn.LSTM
	// Hyper parameters
	representation RepresentationType
	loss           LossType
	nFactors       int
	nEpochs        int
	batchSize      int
	nNegatives     int
	maxSeqLen      int
	lr             float32
	reg            float32
	initMean       float32
	initStdDev     float32
}

// NewModel creates a model and fails fast on invalid configuration, before
// any data is touched.
func NewModel(params model.Params) (*Model, error) {
	m := new(Model)
	m.SetParams(params)
	if err := m.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// SetParams sets hyper-parameters of the model.
func (m *Model) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.representation = RepresentationType(m.Params.GetString(model.Representation, string(Factorization)))
	m.loss = LossType(m.Params.GetString(model.Loss, string(BPR)))
	m.nFactors = m.Params.GetInt(model.NFactors, 16)
	m.nEpochs = m.Params.GetInt(model.NEpochs, 20)
	m.batchSize = m.Params.GetInt(model.BatchSize, 128)
	m.nNegatives = m.Params.GetInt(model.NNegatives, 5)
	m.maxSeqLen = m.Params.GetInt(model.MaxSeqLen, 32)
	m.lr = m.Params.GetFloat32(model.Lr, 0.01)
	m.reg = m.Params.GetFloat32(model.Reg, 0)
	m.initMean = m.Params.GetFloat32(model.InitMean, 0)
	m.initStdDev = m.Params.GetFloat32(model.InitStdDev, 0.01)
}

func (m *Model) validate() error {
	if _, err := parseRepresentationType(string(m.representation)); err != nil {
		return errors.Trace(err)
	}
	if _, err := parseLossType(string(m.loss)); err != nil {
		return errors.Trace(err)
	}
	for name, value := range map[model.ParamName]int{
		model.NFactors:   m.nFactors,
		model.NEpochs:    m.nEpochs,
		model.BatchSize:  m.batchSize,
		model.NNegatives: m.nNegatives,
		model.MaxSeqLen:  m.maxSeqLen,
	} {
		if value <= 0 {
			return errors.NotValidf("%s = %d", name, value)
		}
	}
	return nil
}

func (m *Model) GetParamsGrid() model.ParamsGrid {
	return model.ParamsGrid{
		model.NFactors:   []interface{}{8, 16, 32},
		model.Lr:         []interface{}{0.001, 0.005, 0.01, 0.05},
		model.Reg:        []interface{}{0.0, 0.001, 0.01},
		model.InitStdDev: []interface{}{0.001, 0.01, 0.1},
	}
}

func (m *Model) Clear() {
	m.UserIndex = nil
	m.ItemIndex = nil
	m.Items = nil
	m.Users = nil
	m.lstm = nil
}

func (m *Model) Invalid() bool {
	return m == nil || m.Items == nil
}

func (m *Model) Representation() RepresentationType {
	return m.representation
}

func (m *Model) Loss() LossType {
	return m.loss
}

// Init allocates embedding stores sized to the training set. Items always
// carry the padding sentinel at row 0; the user store, present only for the
// factorization representation, has no sentinel.
func (m *Model) Init(trainSet *dataset.Dataset) {
	m.ResetRandomGenerator()
	m.UserIndex = trainSet.GetUserDict()
	m.ItemIndex = trainSet.GetItemDict()
	m.Items = NewEmbeddingStore(trainSet.CountItems(), m.nFactors,
		m.GetRandomGenerator(), m.initMean, m.initStdDev, true)
	m.Users = nil
	m.lstm = nil
	switch m.representation {
	case Factorization:
		m.Users = NewEmbeddingStore(trainSet.CountUsers(), m.nFactors,
			m.GetRandomGenerator(), m.initMean, m.initStdDev, false)
	case LSTM:
		m.lstm = nn.NewLSTM(m.nFactors, m.nFactors)
		// re-initialize gate weights from the seeded generator
		scale := 1 / math32.Sqrt(float32(m.nFactors))
		for g := 0; g < 4; g++ {
			copy(m.lstm.Wx[g].Data(), m.GetRandomGenerator().NormalVector(m.nFactors*m.nFactors, 0, scale))
			copy(m.lstm.Wh[g].Data(), m.GetRandomGenerator().NormalVector(m.nFactors*m.nFactors, 0, scale))
		}
	}
	for itemIndex, feedback := range trainSet.GetItemFeedback() {
		if len(feedback) > 0 {
			m.Items.SetTrained(int32(itemIndex))
		}
	}
	if m.Users != nil {
		for userIndex, feedback := range trainSet.GetUserFeedback() {
			if len(feedback) > 0 {
				m.Users.SetTrained(int32(userIndex))
			}
		}
	}
}

// Parameters returns the tensors trained by the optimizer.
func (m *Model) Parameters() []*nn.Tensor {
	params := m.Items.Parameters()
	if m.Users != nil {
		params = append(params, m.Users.Parameters()...)
	}
	if m.lstm != nil {
		params = append(params, m.lstm.Parameters()...)
	}
	return params
}

// batch is one prepared minibatch: padded windows plus freshly sampled
// negatives, one draw per position and negative slot.
type batch struct {
	users     []int32
	inputs    [][]int32 // column-major: inputs[t][b]
	targets   [][]int32
	negatives [][][]int32 // negatives[t][k][b]
}

func (m *Model) numNegativeDraws() int {
	if m.loss == Adaptive {
		return m.nNegatives
	}
	return 1
}

// makeBatch transposes selected rows into per-position columns and draws
// negatives for every position.
func (m *Model) makeBatch(users []int32, inputs, targets [][]int32, rows []int, sampler *NegativeSampler) *batch {
	b := &batch{
		users:     make([]int32, len(rows)),
		inputs:    make([][]int32, m.maxSeqLen),
		targets:   make([][]int32, m.maxSeqLen),
		negatives: make([][][]int32, m.maxSeqLen),
	}
	for i, row := range rows {
		b.users[i] = users[row]
	}
	draws := m.numNegativeDraws()
	for t := 0; t < m.maxSeqLen; t++ {
		b.inputs[t] = make([]int32, len(rows))
		b.targets[t] = make([]int32, len(rows))
		for i, row := range rows {
			b.inputs[t][i] = inputs[row][t]
			b.targets[t][i] = targets[row][t]
		}
		b.negatives[t] = make([][]int32, draws)
		for k := 0; k < draws; k++ {
			b.negatives[t][k] = sampler.Sample(len(rows))
		}
	}
	return b
}

// represent runs the forward pass for one batch and returns the [batch, dim]
// representation at every position.
func (m *Model) represent(b *batch) []*nn.Tensor {
	batchSize := len(b.users)
	reps := make([]*nn.Tensor, m.maxSeqLen)
	switch m.representation {
	case Factorization:
		rep := m.Users.Embed(nn.Indices(b.users))
		for t := range reps {
			reps[t] = rep
		}
	case Popularity:
		rep := nn.Zeros(batchSize, m.nFactors)
		for t := range reps {
			reps[t] = rep
		}
	case Pool:
		var sum *nn.Tensor
		for t := 0; t < m.maxSeqLen; t++ {
			emb := m.Items.Embed(nn.Indices(b.inputs[t]))
			if sum == nil {
				sum = emb
			} else {
				sum = nn.Add(sum, emb)
			}
			reps[t] = sum
		}
	case LSTM:
		xs := make([]*nn.Tensor, m.maxSeqLen)
		for t := 0; t < m.maxSeqLen; t++ {
			xs[t] = m.Items.Embed(nn.Indices(b.inputs[t]))
		}
		copy(reps, m.lstm.Forward(xs...))
	}
	return reps
}

// scoreIds computes score(rep, id) = dot(rep, embedding(id)) + bias(id) for a
// representation matrix and a parallel id vector.
func (m *Model) scoreIds(rep *nn.Tensor, ids []int32) *nn.Tensor {
	indices := nn.Indices(ids)
	return nn.Add(nn.BatchDot(rep, m.Items.Embed(indices)), m.Items.EmbedBias(indices))
}

// batchLoss returns the loss of one batch, mean-reduced over non-padded
// positions, and the count of those positions. Positions whose target is the
// sentinel contribute nothing to the gradient.
func (m *Model) batchLoss(b *batch) (*nn.Tensor, int) {
	var total *nn.Tensor
	var count int
	// The representation pass is shared across positions, so compute it once.
	reps := m.represent(b)
	for t := 0; t < m.maxSeqLen; t++ {
		mask := make([]float32, len(b.targets[t]))
		var nonPadded int
		for i, target := range b.targets[t] {
			if target != dataset.SentinelItem {
				mask[i] = 1
				nonPadded++
			}
		}
		if nonPadded == 0 {
			continue
		}
		pos := m.scoreIds(reps[t], b.targets[t])
		var lossVec *nn.Tensor
		switch m.loss {
		case Pointwise:
			lossVec = pointwiseLoss(pos, m.scoreIds(reps[t], b.negatives[t][0]))
		case BPR:
			lossVec = bprLoss(pos, m.scoreIds(reps[t], b.negatives[t][0]))
		case Adaptive:
			negs := make([]*nn.Tensor, len(b.negatives[t]))
			for k := range negs {
				negs[k] = m.scoreIds(reps[t], b.negatives[t][k])
			}
			lossVec = adaptiveLoss(pos, negs)
		}
		masked := nn.Sum(nn.Mul(lossVec, nn.NewTensor(mask, len(mask))))
		if total == nil {
			total = masked
		} else {
			total = nn.Add(total, masked)
		}
		count += nonPadded
	}
	if total == nil {
		return nil, 0
	}
	return nn.Div(total, nn.NewScalar(float32(count))), count
}

// Fit trains the model with synchronous minibatch steps. Batches are
// prepared ahead by a producer goroutine, but gradient updates are applied
// strictly in sequence by a single writer. A non-finite loss aborts the fit.
func (m *Model) Fit(ctx context.Context, trainSet, validateSet *dataset.Dataset, config *FitConfig) (Score, error) {
	if config == nil {
		config = NewFitConfig()
	}
	// releases the batch producer on every return path
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	validateSize := 0
	if validateSet != nil {
		validateSize = validateSet.CountFeedback()
	}
	log.Logger().Info("fit seq model",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Int("test_set_size", validateSize),
		zap.String("representation", string(m.representation)),
		zap.String("loss", string(m.loss)),
		zap.Any("params", m.GetParams()),
		zap.Any("config", config))
	m.Init(trainSet)
	users, inputs, targets := Sequences(trainSet.GetUserFeedback(), m.maxSeqLen)
	if len(inputs) == 0 {
		log.Logger().Warn("no training sequences, nothing to fit")
		return Score{}, nil
	}
	if trainSet.CountItems() < 2 {
		return Score{}, errors.NotValidf("training set with no real items")
	}
	sampler := NewNegativeSampler(trainSet.CountItems(),
		base.NewRandomGenerator(m.GetRandomGenerator().Int63()))
	optimizer := nn.NewAdam(m.Parameters(), m.lr)
	optimizer.SetWeightDecay(m.reg)

	evalStart := time.Now()
	score := m.evaluate(validateSet, trainSet, config)
	evalTime := time.Since(evalStart)
	log.Logger().Debug(fmt.Sprintf("fit seq model %v/%v", 0, m.nEpochs),
		zap.String("eval_time", evalTime.String()),
		zap.Float32("MRR", score.MRR),
		zap.Float32("AUC", score.AUC))

	_, span := progress.Start(ctx, "Model.Fit", m.nEpochs)
	defer span.End()
	for epoch := 1; epoch <= m.nEpochs; epoch++ {
		fitStart := time.Now()
		perm := m.GetRandomGenerator().Perm(len(inputs))
		// producer: prepare padded windows and negative draws ahead
		batches := make(chan *batch, 4)
		go func() {
			defer close(batches)
			for begin := 0; begin < len(perm); begin += m.batchSize {
				end := min(begin+m.batchSize, len(perm))
				select {
				case <-ctx.Done():
					return
				case batches <- m.makeBatch(users, inputs, targets, perm[begin:end], sampler):
				}
			}
		}()
		// single writer: apply updates strictly in sequence
		var cost float32
		var costCount int
		for b := range batches {
			loss, count := m.batchLoss(b)
			if count == 0 {
				continue
			}
			value := loss.Data()[0]
			if math32.IsNaN(value) || math32.IsInf(value, 0) {
				err := errors.Errorf("non-finite loss %v at epoch %v", value, epoch)
				span.Fail(err)
				return Score{}, err
			}
			optimizer.ZeroGrad()
			loss.Backward()
			optimizer.Step()
			m.Items.PinPadding()
			cost += value * float32(count)
			costCount += count
		}
		if err := ctx.Err(); err != nil {
			span.Fail(err)
			return Score{}, errors.Trace(err)
		}
		fitTime := time.Since(fitStart)
		if epoch%config.Verbose == 0 || epoch == m.nEpochs {
			evalStart = time.Now()
			score = m.evaluate(validateSet, trainSet, config)
			evalTime = time.Since(evalStart)
			log.Logger().Info(fmt.Sprintf("fit seq model %v/%v", epoch, m.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
				zap.Float32("loss", cost/float32(costCount)),
				zap.Float32("MRR", score.MRR),
				zap.Float32("AUC", score.AUC))
		}
		span.Add(1)
		if config.EpochDone != nil {
			config.EpochDone(epoch, cost/float32(costCount))
		}
	}
	log.Logger().Info("fit seq model complete",
		zap.Float32("MRR", score.MRR),
		zap.Float32("AUC", score.AUC))
	return score, nil
}

func (m *Model) evaluate(testSet, trainSet *dataset.Dataset, config *FitConfig) Score {
	if testSet == nil || testSet.CountFeedback() == 0 {
		return Score{}
	}
	return Score{
		MRR: Evaluate(m, testSet, trainSet, config.Candidates, config.Candidates, config.Jobs, MRR)[0],
		AUC: EvaluateAUC(m, testSet, trainSet, config.Jobs),
	}
}

// Represent turns a history into a fixed-size representation. For the
// factorization strategy the history is the single user index; for sequence
// strategies it is an ordered item id list, truncated to the most recent
// MaxSeqLen entries. An empty history yields the zero vector.
func (m *Model) Represent(history []int32) ([]float32, error) {
	rep := make([]float32, m.nFactors)
	switch m.representation {
	case Factorization:
		if len(history) == 0 {
			return rep, nil
		}
		vec, err := m.Users.Lookup(history[0])
		if err != nil {
			return nil, errors.Trace(err)
		}
		copy(rep, vec)
	case Popularity:
		// representation skipped, score degenerates to the item bias
	case Pool:
		for _, id := range m.truncate(history) {
			vec, err := m.Items.Lookup(id)
			if err != nil {
				return nil, errors.Trace(err)
			}
			floats.Add(rep, vec)
		}
	case LSTM:
		history = m.truncate(history)
		if len(history) == 0 {
			return rep, nil
		}
		h := nn.Zeros(1, m.nFactors)
		c := nn.Zeros(1, m.nFactors)
		for _, id := range history {
			if _, err := m.Items.Lookup(id); err != nil {
				return nil, errors.Trace(err)
			}
			x := m.Items.Embed(nn.Indices([]int32{id}))
			h, c = m.lstm.Step(x, h, c)
		}
		copy(rep, h.Data())
	}
	return rep, nil
}

func (m *Model) truncate(history []int32) []int32 {
	if len(history) > m.maxSeqLen {
		return history[len(history)-m.maxSeqLen:]
	}
	return history
}

// Predict scores candidates against a history. Read-only and deterministic
// given fixed weights.
func (m *Model) Predict(history []int32, candidates []int32) ([]float32, error) {
	if m.Invalid() {
		return nil, errors.NotValidf("model without fitted weights")
	}
	rep, err := m.Represent(history)
	if err != nil {
		return nil, errors.Trace(err)
	}
	scores := make([]float32, len(candidates))
	for i, candidate := range candidates {
		emb, err := m.Items.Lookup(candidate)
		if err != nil {
			return nil, errors.Trace(err)
		}
		bias, err := m.Items.LookupBias(candidate)
		if err != nil {
			return nil, errors.Trace(err)
		}
		scores[i] = floats.Dot(rep, emb) + bias
	}
	return scores, nil
}

// Marshal writes the model to a byte stream.
func (m *Model) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, m.Params); err != nil {
		return errors.Trace(err)
	}
	if err := marshalDict(w, m.UserIndex); err != nil {
		return errors.Trace(err)
	}
	if err := marshalDict(w, m.ItemIndex); err != nil {
		return errors.Trace(err)
	}
	if err := m.Items.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if m.Users != nil {
		if err := m.Users.Marshal(w); err != nil {
			return errors.Trace(err)
		}
	}
	if m.lstm != nil {
		for _, p := range m.lstm.Parameters() {
			if err := encoding.WriteMatrix(w, [][]float32{p.Data()}); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Unmarshal reads the model from a byte stream.
func (m *Model) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &m.Params); err != nil {
		return errors.Trace(err)
	}
	m.SetParams(m.Params)
	if err := m.validate(); err != nil {
		return errors.Trace(err)
	}
	var err error
	if m.UserIndex, err = unmarshalDict(r); err != nil {
		return errors.Trace(err)
	}
	if m.ItemIndex, err = unmarshalDict(r); err != nil {
		return errors.Trace(err)
	}
	m.Items = new(EmbeddingStore)
	if err := m.Items.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	if m.representation == Factorization {
		m.Users = new(EmbeddingStore)
		if err := m.Users.Unmarshal(r); err != nil {
			return errors.Trace(err)
		}
	}
	if m.representation == LSTM {
		m.lstm = nn.NewLSTM(m.nFactors, m.nFactors)
		for _, p := range m.lstm.Parameters() {
			if err := encoding.ReadMatrix(r, [][]float32{p.Data()}); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func marshalDict(w io.Writer, dict *dataset.FreqDict) error {
	if err := encoding.WriteGob(w, dict.Count()); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < dict.Count(); i++ {
		s, _ := dict.String(i)
		if err := encoding.WriteString(w, s); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func unmarshalDict(r io.Reader) (*dataset.FreqDict, error) {
	var count int
	if err := encoding.ReadGob(r, &count); err != nil {
		return nil, errors.Trace(err)
	}
	dict := dataset.NewFreqDict()
	for i := 0; i < count; i++ {
		s, err := encoding.ReadString(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		dict.NotCount(s)
	}
	return dict, nil
}

// MarshalModel writes a model with its name tag.
func MarshalModel(w io.Writer, m *Model) error {
	if err := encoding.WriteString(w, "seq"); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.Marshal(w))
}

// UnmarshalModel reads a model written by MarshalModel.
func UnmarshalModel(r io.Reader) (*Model, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if name != "seq" {
		return nil, errors.NotValidf("model %q", name)
	}
	m := new(Model)
	if err := m.Unmarshal(r); err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}
