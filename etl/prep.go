// Copyright 2026 gorse Project Authors
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

package etl

import (
	"strings"

	"github.com/gorse-io/gorse-pipeline/features"
	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/juju/errors"
)

// PrepFrame drops unused columns and splits multivalue columns into lists.
// Both steps only touch columns present in the frame.
func PrepFrame(frame *table.Frame) (*table.Frame, error) {
	frame = frame.Drop(features.UnusedFeatures...)
	for _, name := range features.MultivalueFeatureNames {
		if !frame.Has(name) {
			continue
		}
		var err error
		frame, err = frame.Map(name, SplitMultivalue)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return frame, nil
}

// SplitMultivalue splits a separator joined string. Missing values stay nil.
func SplitMultivalue(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return []string{}, nil
		}
		return strings.Split(v, features.MultivalueSeparator), nil
	case []string:
		return v, nil
	default:
		return nil, errors.NotValidf("multivalue cell of type %T", v)
	}
}
