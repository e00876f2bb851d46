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

// Sequences converts chronological per-user histories into fixed-width
// next-item training rows. Each history is truncated to its most recent
// maxLength items, left-padded with the sentinel 0 to width maxLength+1,
// and split into an input window (first maxLength positions) and a target
// window shifted by one. [a,b,c,d] at maxLength 4 becomes input [0,a,b,c]
// and target [a,b,c,d]. Histories longer than maxLength always start from
// the sentinel, so input[0] is 0 for every row. One row yields maxLength
// overlapping next-item predictions sharing a single forward pass.
//
// Users with empty histories contribute no rows. users[i] is the user index
// that produced row i.
func Sequences(userFeedback [][]int32, maxLength int) (users []int32, inputs, targets [][]int32) {
	width := maxLength + 1
	for u, history := range userFeedback {
		if len(history) == 0 {
			continue
		}
		if len(history) > maxLength {
			history = history[len(history)-maxLength:]
		}
		padded := make([]int32, width)
		copy(padded[width-len(history):], history)
		users = append(users, int32(u))
		inputs = append(inputs, padded[:maxLength])
		targets = append(targets, padded[1:])
	}
	return
}
