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
	"github.com/gorse-io/lantern/common/nn"
	"github.com/juju/errors"
)

// LossType names a ranking loss. The set is closed; NewModel rejects anything
// else at construction.
type LossType string

const (
	// Pointwise treats each example as independent binary classification:
	// (1 - sigmoid(pos)) + sigmoid(neg) with one sampled negative.
	Pointwise LossType = "pointwise"
	// BPR penalizes failing to rank the positive above a sampled negative:
	// 1 - sigmoid(pos - neg).
	BPR LossType = "bpr"
	// Adaptive trains against the hardest of several sampled negatives:
	// max(0, 1 + max_k(neg_k) - pos).
	Adaptive LossType = "adaptive"
)

func parseLossType(name string) (LossType, error) {
	switch LossType(name) {
	case Pointwise, BPR, Adaptive:
		return LossType(name), nil
	default:
		return "", errors.NotValidf("loss %q", name)
	}
}

// pointwiseLoss returns per-example losses for positive and negative score
// vectors of shape [batch].
func pointwiseLoss(pos, neg *nn.Tensor) *nn.Tensor {
	return nn.Add(nn.Sub(nn.Ones(pos.Shape()...), nn.Sigmoid(pos)), nn.Sigmoid(neg))
}

// bprLoss returns per-example pairwise ranking losses.
func bprLoss(pos, neg *nn.Tensor) *nn.Tensor {
	return nn.Sub(nn.Ones(pos.Shape()...), nn.Sigmoid(nn.Sub(pos, neg)))
}

// adaptiveLoss returns per-example hinge losses against the highest-scoring
// of the sampled negatives.
func adaptiveLoss(pos *nn.Tensor, negs []*nn.Tensor) *nn.Tensor {
	hardest := negs[0]
	for _, neg := range negs[1:] {
		hardest = nn.Maximum(hardest, neg)
	}
	margin := nn.Add(nn.Sub(hardest, pos), nn.NewScalar(1))
	return nn.Maximum(nn.Zeros(pos.Shape()...), margin)
}
