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
	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

const (
	FlagMoviesLocation  = "movies-csv-data-location"
	FlagRatingsLocation = "ratings-csv-data-location"
	FlagOutputDir       = "etl-output-dir"
	FlagTestSize        = "test-size"
)

// Flags is the command line surface of an ETL job.
type Flags struct {
	MoviesLocation  string
	RatingsLocation string
	OutputDir       string
	TestSize        float64
	Seed            int64
	WorkDir         string
}

func (f *Flags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.MoviesLocation, FlagMoviesLocation, "", "location of the movies CSV file")
	flagSet.StringVar(&f.RatingsLocation, FlagRatingsLocation, "", "location of the ratings CSV file")
	flagSet.StringVar(&f.OutputDir, FlagOutputDir, "", "directory receiving transformed data and workflow")
	flagSet.Float64Var(&f.TestSize, FlagTestSize, DefaultTestSize, "fraction of ratings held out for evaluation")
	flagSet.Int64Var(&f.Seed, "seed", DefaultSeed, "random seed of the train/test split")
	flagSet.StringVar(&f.WorkDir, "work-dir", ".", "directory of local scratch files")
}

// Options checks the flags required by every ETL job.
func (f *Flags) Options() (Options, error) {
	for name, value := range map[string]string{
		FlagMoviesLocation:  f.MoviesLocation,
		FlagRatingsLocation: f.RatingsLocation,
		FlagOutputDir:       f.OutputDir,
	} {
		if value == "" {
			return Options{}, errors.NotValidf("empty --%s", name)
		}
	}
	return Options{
		MoviesLocation:  f.MoviesLocation,
		RatingsLocation: f.RatingsLocation,
		OutputDir:       f.OutputDir,
		TestSize:        f.TestSize,
		Seed:            f.Seed,
		WorkDir:         f.WorkDir,
	}, nil
}
