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

// Package features describes the columns of the movie and rating tables and
// how each of them is consumed by the encoding workflow and the model.
package features

import (
	"github.com/samber/lo"
)

// DType is the numeric precision a feature is encoded with.
type DType string

const (
	Int32   DType = "int32"
	Int64   DType = "int64"
	Float32 DType = "float32"
	String  DType = "string"
)

const (
	UserId    = "userId"
	MovieId   = "movieId"
	Title     = "title"
	Genres    = "genres"
	Rating    = "rating"
	Timestamp = "timestamp"
)

// ItemKey joins ratings to movies.
const ItemKey = MovieId

// MultivalueSeparator separates the elements of a multivalue column.
const MultivalueSeparator = "|"

// TargetFeatureName is the raw column the label is derived from.
const TargetFeatureName = Rating

var (
	MoviesCSVColumns        = []string{MovieId, Title, Genres}
	RatingsCSVColumns       = []string{UserId, MovieId, Rating, Timestamp}
	UnusedFeatures          = []string{Timestamp, Title}
	MultivalueFeatureNames  = []string{Genres}
	CategoricalFeatureNames = []string{UserId, MovieId}
	// NumericFeatureNames is empty: every model input is categorical.
	NumericFeatureNames = []string{}
)

// DTypes maps raw feature names to the precision used when encoding.
func DTypes() map[string]DType {
	dtypes := make(map[string]DType, len(CategoricalFeatureNames)+1)
	for _, name := range CategoricalFeatureNames {
		dtypes[name] = Int64
	}
	dtypes[TargetFeatureName] = Float32
	return dtypes
}

// ModelFeatureNames lists the features that own an embedding table, single
// valued categoricals first.
func ModelFeatureNames() []string {
	names := make([]string, 0, len(CategoricalFeatureNames)+len(MultivalueFeatureNames))
	names = append(names, CategoricalFeatureNames...)
	names = append(names, MultivalueFeatureNames...)
	return names
}

func IsCategorical(name string) bool {
	return lo.Contains(CategoricalFeatureNames, name)
}

func IsMultivalue(name string) bool {
	return lo.Contains(MultivalueFeatureNames, name)
}

func IsUnused(name string) bool {
	return lo.Contains(UnusedFeatures, name)
}
