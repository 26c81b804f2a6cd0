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
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	params := Params{
		BatchSize:    int64(64),
		LearningRate: 0.01,
		NumEpochs:    "two",
		HiddenUnits:  "64,32",
	}
	assert.Equal(t, 64, params.GetInt(BatchSize, 0))
	assert.Equal(t, int64(64), params.GetInt64(BatchSize, 0))
	assert.Equal(t, float32(0.01), params.GetFloat32(LearningRate, 0))
	assert.Equal(t, 1, params.GetInt(NumEpochs, 1))
	assert.Equal(t, "64,32", params.GetString(HiddenUnits, ""))
	assert.Equal(t, "default", params.GetString(RandomState, "default"))

	copied := params.Copy()
	copied[BatchSize] = 128
	assert.Equal(t, int64(64), params[BatchSize])
	merged := params.Overwrite(Params{NumEpochs: 3})
	assert.Equal(t, 3, merged.GetInt(NumEpochs, 1))
	assert.Equal(t, "two", params[NumEpochs])
}

func TestNormalizeHyperparams(t *testing.T) {
	h, err := NormalizeHyperparams(Params{HiddenUnits: "64,32"})
	require.NoError(t, err)
	assert.Equal(t, []int{64, 32}, h.HiddenUnits)

	h, err = NormalizeHyperparams(Params{})
	require.NoError(t, err)
	assert.Equal(t, Hyperparams{
		HiddenUnits:  []int{128, 128},
		LearningRate: 0.001,
		BatchSize:    512,
		NumEpochs:    1,
	}, h)
	// defaults are not shared
	h.HiddenUnits[0] = 1
	assert.Equal(t, []int{128, 128}, DefaultHiddenUnits)

	h, err = NormalizeHyperparams(Params{
		HiddenUnits:  []int{8},
		LearningRate: 0.1,
		BatchSize:    2048,
		NumEpochs:    3,
		RandomState:  42,
	})
	require.NoError(t, err)
	assert.Equal(t, Hyperparams{
		HiddenUnits:  []int{8},
		LearningRate: 0.1,
		BatchSize:    2048,
		NumEpochs:    3,
		RandomState:  42,
	}, h)
}

func TestNormalizeHyperparamsInvalid(t *testing.T) {
	for _, params := range []Params{
		{HiddenUnits: "64,x"},
		{HiddenUnits: "64,-1"},
		{HiddenUnits: 64},
		{LearningRate: -0.1},
		{BatchSize: 0},
		{NumEpochs: 0},
	} {
		_, err := NormalizeHyperparams(params)
		assert.True(t, errors.Is(err, errors.NotValid), params)
	}
}

func TestParseHiddenUnits(t *testing.T) {
	units, err := ParseHiddenUnits(" 256, 128 ,")
	require.NoError(t, err)
	assert.Equal(t, []int{256, 128}, units)
	units, err = ParseHiddenUnits("")
	require.NoError(t, err)
	assert.Empty(t, units)
}
