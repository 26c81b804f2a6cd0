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

package model

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	HiddenUnits  ParamName = "hidden_units"  // widths of hidden layers
	LearningRate ParamName = "learning_rate" // learning rate of Adam
	BatchSize    ParamName = "batch_size"    // number of rows per step
	NumEpochs    ParamName = "num_epochs"    // number of passes over the train set
	RandomState  ParamName = "random_state"  // random state (seed)
)

// Params stores hyper-parameters for a model. It is a map between names and
// values. For example, hyper-parameters for training are given by:
//
//	model.Params{
//		model.HiddenUnits:  "64,32",
//		model.LearningRate: 0.001,
//		model.BatchSize:    512,
//		model.NumEpochs:    1,
//	}
type Params map[ParamName]any

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			if val == float64(int(val)) {
				return int(val)
			}
		}
		log.Logger().Error("type mismatch",
			zap.String("param", string(name)),
			zap.String("expect", "int"),
			zap.String("actual", reflect.TypeOf(val).String()))
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "int64"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "float32"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "string"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func (parameters Params) ToString() string {
	b, err := json.Marshal(parameters)
	if err != nil {
		log.Logger().Fatal("failed to marshal params", zap.Error(err))
	}
	return string(b)
}

const (
	DefaultLearningRate = 0.001
	DefaultBatchSize    = 512
	DefaultNumEpochs    = 1
	DefaultRandomState  = 0
)

// DefaultHiddenUnits are the hidden layer widths used when none are given.
var DefaultHiddenUnits = []int{128, 128}

// Hyperparams are the normalized training hyper-parameters.
type Hyperparams struct {
	HiddenUnits  []int   `json:"hidden_units"`
	LearningRate float32 `json:"learning_rate"`
	BatchSize    int     `json:"batch_size"`
	NumEpochs    int     `json:"num_epochs"`
	RandomState  int64   `json:"random_state"`
}

// NormalizeHyperparams fills missing hyper-parameters with defaults and
// parses hidden_units given as a comma separated string such as "64,32".
func NormalizeHyperparams(params Params) (Hyperparams, error) {
	h := Hyperparams{
		LearningRate: params.GetFloat32(LearningRate, DefaultLearningRate),
		BatchSize:    params.GetInt(BatchSize, DefaultBatchSize),
		NumEpochs:    params.GetInt(NumEpochs, DefaultNumEpochs),
		RandomState:  params.GetInt64(RandomState, DefaultRandomState),
	}
	switch v := params[HiddenUnits].(type) {
	case nil:
		h.HiddenUnits = append([]int(nil), DefaultHiddenUnits...)
	case string:
		units, err := ParseHiddenUnits(v)
		if err != nil {
			return Hyperparams{}, errors.Trace(err)
		}
		h.HiddenUnits = units
	case []int:
		h.HiddenUnits = append([]int(nil), v...)
	default:
		return Hyperparams{}, errors.NotValidf("hidden_units of type %T", v)
	}
	for _, width := range h.HiddenUnits {
		if width <= 0 {
			return Hyperparams{}, errors.NotValidf("hidden layer width %d", width)
		}
	}
	if h.LearningRate <= 0 {
		return Hyperparams{}, errors.NotValidf("learning rate %v", h.LearningRate)
	}
	if h.BatchSize <= 0 {
		return Hyperparams{}, errors.NotValidf("batch size %d", h.BatchSize)
	}
	if h.NumEpochs <= 0 {
		return Hyperparams{}, errors.NotValidf("number of epochs %d", h.NumEpochs)
	}
	return h, nil
}

// ParseHiddenUnits parses comma separated layer widths. Blank entries are
// skipped.
func ParseHiddenUnits(s string) ([]int, error) {
	var units []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		width, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.NotValidf("hidden units %q", s)
		}
		units = append(units, width)
	}
	return units, nil
}
