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

package progress

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestSpanEnd(t *testing.T) {
	_, span := Start(context.Background(), "fit", 10)
	span.Add(3)
	assert.Equal(t, 3, span.Count())
	assert.Equal(t, StatusRunning, span.Status())
	span.End()
	assert.Equal(t, StatusComplete, span.Status())
	assert.Equal(t, 10, span.Count())
}

func TestSpanFailSticks(t *testing.T) {
	_, span := Start(context.Background(), "fit", 10)
	span.Add(3)
	span.Fail(errors.New("non-finite loss"))
	// a deferred End must not mask the failure
	span.End()
	assert.Equal(t, StatusFailed, span.Status())
	assert.Equal(t, 3, span.Count())
}
