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
	"testing"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlags(t *testing.T) {
	var flags Flags
	flagSet := pflag.NewFlagSet("etl", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	require.NoError(t, flagSet.Parse([]string{
		"--movies-csv-data-location=gs://bucket/movies.csv",
		"--ratings-csv-data-location", "gs://bucket/ratings.csv",
		"--etl-output-dir=gs://bucket/etl",
	}))
	opts, err := flags.Options()
	require.NoError(t, err)
	assert.Equal(t, Options{
		MoviesLocation:  "gs://bucket/movies.csv",
		RatingsLocation: "gs://bucket/ratings.csv",
		OutputDir:       "gs://bucket/etl",
		TestSize:        DefaultTestSize,
		Seed:            DefaultSeed,
		WorkDir:         ".",
	}, opts)

	// range checks happen in the split
	require.NoError(t, flagSet.Parse([]string{"--test-size=1.5"}))
	opts, err = flags.Options()
	require.NoError(t, err)
	assert.Equal(t, 1.5, opts.TestSize)

	flags = Flags{TestSize: DefaultTestSize}
	_, err = flags.Options()
	assert.True(t, errors.Is(err, errors.NotValid))

	// type coercion fails at parse time
	flagSet = pflag.NewFlagSet("etl", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	assert.Error(t, flagSet.Parse([]string{"--test-size=abc"}))
}
