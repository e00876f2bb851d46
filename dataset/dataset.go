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

package dataset

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/gorse-io/lantern/base"
	"github.com/gorse-io/lantern/common/util"
)

// SentinelItem is the reserved item index used for sequence padding. The item
// dictionary seats it at index 0 so real items always map to positive indices.
const SentinelItem int32 = 0

// Dataset holds implicit feedback keyed by dense user and item indices. Item
// index 0 is the padding sentinel and never refers to a real item.
type Dataset struct {
	timestamp      time.Time
	userDict       *FreqDict
	itemDict       *FreqDict
	userFeedback   [][]int32
	userTimestamps [][]int64
	itemFeedback   [][]int32
	negatives      [][]int32
	sorted         bool
}

func NewDataset(timestamp time.Time, userCount, itemCount int) *Dataset {
	d := &Dataset{
		timestamp:      timestamp,
		userDict:       NewFreqDict(),
		itemDict:       NewFreqDict(),
		userFeedback:   make([][]int32, 0, userCount),
		userTimestamps: make([][]int64, 0, userCount),
		itemFeedback:   make([][]int32, 0, itemCount+1),
	}
	// seat the padding sentinel
	d.itemDict.NotCount("")
	d.itemFeedback = append(d.itemFeedback, nil)
	return d
}

func (d *Dataset) GetTimestamp() time.Time {
	return d.timestamp
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

// CountItems returns the number of item indices including the padding
// sentinel, i.e. valid real items are 1..CountItems()-1.
func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

func (d *Dataset) CountFeedback() int {
	var n int
	for _, f := range d.userFeedback {
		n += len(f)
	}
	return n
}

func (d *Dataset) GetUserDict() *FreqDict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *FreqDict {
	return d.itemDict
}

// GetUserFeedback returns per-user item indices in chronological order.
func (d *Dataset) GetUserFeedback() [][]int32 {
	d.sortFeedback()
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

// AddFeedback appends one positive interaction. Users and items are interned
// on first sight.
func (d *Dataset) AddFeedback(userId, itemId string, timestamp time.Time) {
	userIndex := d.userDict.Id(userId)
	itemIndex := d.itemDict.Id(itemId)
	for len(d.userFeedback) < d.userDict.Count() {
		d.userFeedback = append(d.userFeedback, nil)
		d.userTimestamps = append(d.userTimestamps, nil)
	}
	for len(d.itemFeedback) < d.itemDict.Count() {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], int32(itemIndex))
	d.userTimestamps[userIndex] = append(d.userTimestamps[userIndex], timestamp.Unix())
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], int32(userIndex))
	d.sorted = false
}

// sortFeedback orders every user's history by timestamp. Insertion order
// breaks ties so repeated loads stay deterministic.
func (d *Dataset) sortFeedback() {
	if d.sorted {
		return
	}
	for u := range d.userFeedback {
		items, stamps := d.userFeedback[u], d.userTimestamps[u]
		indices := make([]int, len(items))
		for i := range indices {
			indices[i] = i
		}
		sort.SliceStable(indices, func(i, j int) bool {
			return stamps[indices[i]] < stamps[indices[j]]
		})
		sortedItems := make([]int32, len(items))
		sortedStamps := make([]int64, len(stamps))
		for i, idx := range indices {
			sortedItems[i] = items[idx]
			sortedStamps[i] = stamps[idx]
		}
		d.userFeedback[u], d.userTimestamps[u] = sortedItems, sortedStamps
	}
	d.sorted = true
}

// Split performs a per-user temporal split: for each user the most recent
// interactions, a testRatio fraction but at least one when the user has more
// than one, go to the test set. Users and items are shared between the halves
// so indices stay comparable.
func (d *Dataset) Split(testRatio float32) (*Dataset, *Dataset) {
	d.sortFeedback()
	train := NewDataset(d.timestamp, d.CountUsers(), d.CountItems())
	test := NewDataset(d.timestamp, d.CountUsers(), d.CountItems())
	train.userDict, train.itemDict = d.userDict, d.itemDict
	test.userDict, test.itemDict = d.userDict, d.itemDict
	train.userFeedback = make([][]int32, d.CountUsers())
	train.userTimestamps = make([][]int64, d.CountUsers())
	train.itemFeedback = make([][]int32, d.CountItems())
	test.userFeedback = make([][]int32, d.CountUsers())
	test.userTimestamps = make([][]int64, d.CountUsers())
	test.itemFeedback = make([][]int32, d.CountItems())
	for u, items := range d.userFeedback {
		numTest := int(testRatio * float32(len(items)))
		if numTest == 0 && len(items) > 1 {
			numTest = 1
		}
		cut := len(items) - numTest
		for i, item := range items {
			target := train
			if i >= cut {
				target = test
			}
			target.userFeedback[u] = append(target.userFeedback[u], item)
			target.userTimestamps[u] = append(target.userTimestamps[u], d.userTimestamps[u][i])
			target.itemFeedback[item] = append(target.itemFeedback[item], int32(u))
		}
	}
	train.sorted, test.sorted = true, true
	return train, test
}

// NegativeSample caches negative candidates for evaluation. Sampling starts
// at index 1 to keep the padding sentinel out of candidate lists.
func (d *Dataset) NegativeSample(excludeSet *Dataset, numCandidates int) [][]int32 {
	if len(d.negatives) == 0 {
		rng := base.NewRandomGenerator(0)
		d.negatives = make([][]int32, d.CountUsers())
		for userIndex := 0; userIndex < d.CountUsers(); userIndex++ {
			s1 := mapset.NewSet(d.GetUserFeedback()[userIndex]...)
			s2 := mapset.NewSet(excludeSet.GetUserFeedback()[userIndex]...)
			d.negatives[userIndex] = rng.SampleInt32(1, int32(d.CountItems()), numCandidates, s1, s2)
		}
	}
	return d.negatives
}

// LoadCSV reads feedback from a delimited file with columns
// user, item[, rating[, timestamp]]. Rows whose rating falls below threshold
// are skipped. A non-positive threshold keeps every row.
func LoadCSV(path, sep string, threshold float32, hasHeader bool) (*Dataset, error) {
	d := NewDataset(time.Now(), 0, 0)
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if hasHeader {
			hasHeader = false
			continue
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) < 2 {
			return nil, errors.Errorf("invalid line: %v", line)
		}
		if threshold > 0 && len(fields) > 2 {
			rating, err := util.ParseFloat[float32](fields[2])
			if err != nil {
				return nil, errors.Trace(err)
			}
			if rating < threshold {
				continue
			}
		}
		var timestamp time.Time
		if len(fields) > 3 {
			if epoch, err := util.ParseFloat[float64](fields[3]); err == nil {
				timestamp = time.Unix(int64(epoch), 0)
			} else if timestamp, err = time.Parse(time.RFC3339, fields[3]); err != nil {
				return nil, errors.Trace(err)
			}
		}
		d.AddFeedback(fields[0], fields[1], timestamp)
	}
	return d, errors.Trace(scanner.Err())
}
