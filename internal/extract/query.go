// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultQueryTimeout is the default execution time for jq expressions.
	DefaultQueryTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size for queries (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// QueryExecutor evaluates jq expressions against extracted data with
// timeout and size limits. Validators and pipeline stages use it to pull
// individual fields out of agent output.
type QueryExecutor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewQueryExecutor creates an executor with the given limits.
// Zero values select the defaults.
func NewQueryExecutor(timeout time.Duration, maxInputSize int64) *QueryExecutor {
	if timeout == 0 {
		timeout = DefaultQueryTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &QueryExecutor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Query runs a jq expression against the given data.
// An empty expression returns the data unchanged. Multiple results are
// collected into a slice; a single result is returned directly.
func (e *QueryExecutor) Query(ctx context.Context, expression string, data interface{}) (interface{}, error) {
	if expression == "" {
		return data, nil
	}

	if err := e.validateInputSize(data); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	resultChan := make(chan interface{}, 1)
	errorChan := make(chan error, 1)

	go func() {
		iter := code.Run(data)

		var results []interface{}
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}

			if err, isErr := v.(error); isErr {
				errorChan <- err
				return
			}

			results = append(results, v)
		}

		if len(results) == 0 {
			resultChan <- nil
		} else if len(results) == 1 {
			resultChan <- results[0]
		} else {
			resultChan <- results
		}
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return nil, err
	case <-execCtx.Done():
		return nil, fmt.Errorf("query timeout after %v", e.timeout)
	}
}

// Validate compiles a jq expression to catch syntax errors early.
func (e *QueryExecutor) Validate(expression string) error {
	if expression == "" {
		return nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid jq expression: %w", err)
	}

	if _, err = gojq.Compile(query); err != nil {
		return fmt.Errorf("jq compilation failed: %w", err)
	}

	return nil
}

func (e *QueryExecutor) validateInputSize(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if int64(len(jsonData)) > e.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), e.maxInputSize)
	}

	return nil
}
