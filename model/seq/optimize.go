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

	"github.com/gorse-io/lantern/base"
	"github.com/gorse-io/lantern/base/log"
	"github.com/gorse-io/lantern/base/progress"
	"github.com/gorse-io/lantern/dataset"
	"github.com/gorse-io/lantern/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ParamsSearchResult contains the return of hyper-parameter search.
type ParamsSearchResult struct {
	BestScore  Score
	BestParams model.Params
	BestIndex  int
	Scores     []Score
	Params     []model.Params
}

func (r *ParamsSearchResult) AddScore(params model.Params, score Score) {
	r.Scores = append(r.Scores, score)
	r.Params = append(r.Params, params.Copy())
	if len(r.Scores) == 1 || score.MRR > r.BestScore.MRR {
		r.BestScore = score
		r.BestParams = params.Copy()
		r.BestIndex = len(r.Params) - 1
	}
}

// GridSearchCV finds the best parameters for a model by exhausting the grid.
func GridSearchCV(ctx context.Context, estimator *Model, trainSet, testSet *dataset.Dataset,
	paramGrid model.ParamsGrid, fitConfig *FitConfig) (ParamsSearchResult, error) {
	paramNames := make([]model.ParamName, 0, len(paramGrid))
	total := 1
	for paramName, values := range paramGrid {
		paramNames = append(paramNames, paramName)
		total *= len(values)
	}
	results := ParamsSearchResult{
		Scores: make([]Score, 0, total),
		Params: make([]model.Params, 0, total),
	}
	newCtx, span := progress.Start(ctx, "GridSearchCV", total)
	defer span.End()
	var dfs func(deep int, params model.Params) error
	dfs = func(deep int, params model.Params) error {
		if deep == len(paramNames) {
			log.Logger().Info(fmt.Sprintf("grid search (%v/%v)", span.Count(), total),
				zap.Any("params", params))
			estimator.Clear()
			estimator.SetParams(estimator.GetParams().Overwrite(params))
			if err := estimator.validate(); err != nil {
				return errors.Trace(err)
			}
			score, err := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
			if err != nil {
				return errors.Trace(err)
			}
			results.AddScore(params, score)
			span.Add(1)
			return nil
		}
		paramName := paramNames[deep]
		for _, val := range paramGrid[paramName] {
			params[paramName] = val
			if err := dfs(deep+1, params); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
	if err := dfs(0, make(model.Params)); err != nil {
		return results, errors.Trace(err)
	}
	return results, nil
}

// RandomSearchCV samples parameter combinations at random. Falls back to grid
// search when the grid is smaller than the number of trials.
func RandomSearchCV(ctx context.Context, estimator *Model, trainSet, testSet *dataset.Dataset,
	paramGrid model.ParamsGrid, numTrials int, seed int64, fitConfig *FitConfig) (ParamsSearchResult, error) {
	if paramGrid.NumCombinations() < numTrials {
		return GridSearchCV(ctx, estimator, trainSet, testSet, paramGrid, fitConfig)
	}
	rng := base.NewRandomGenerator(seed)
	results := ParamsSearchResult{
		Scores: make([]Score, 0, numTrials),
		Params: make([]model.Params, 0, numTrials),
	}
	newCtx, span := progress.Start(ctx, "RandomSearchCV", numTrials)
	defer span.End()
	for i := 1; i <= numTrials; i++ {
		params := model.Params{}
		for paramName, values := range paramGrid {
			params[paramName] = values[rng.Intn(len(values))]
		}
		log.Logger().Info(fmt.Sprintf("random search (%v/%v)", i, numTrials),
			zap.Any("params", params))
		estimator.Clear()
		estimator.SetParams(estimator.GetParams().Overwrite(params))
		if err := estimator.validate(); err != nil {
			return results, errors.Trace(err)
		}
		score, err := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
		if err != nil {
			return results, errors.Trace(err)
		}
		results.AddScore(params, score)
		span.Add(1)
	}
	return results, nil
}
