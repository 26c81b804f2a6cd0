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

package dataset

import (
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
)

// NullCode is assigned to missing values and to values unseen while fitting.
const NullCode int64 = 0

// Categories maps category values to dense integer codes. Values are counted
// while fitting; Freeze assigns codes 1..N by descending frequency, ties
// broken by value.
type Categories struct {
	name   string
	counts map[string]int
	si     map[string]int64
	is     []string
	cnt    []int
	frozen bool
}

func NewCategories(name string) *Categories {
	return &Categories{name: name, counts: map[string]int{}}
}

func (c *Categories) Name() string {
	return c.name
}

// Key formats a scalar cell as a dictionary key.
func Key(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), true
	default:
		return "", false
	}
}

// Observe counts a cell. List cells count each element.
func (c *Categories) Observe(v any) error {
	if c.frozen {
		return errors.Errorf("categories %s are already fitted", c.name)
	}
	switch v := v.(type) {
	case []string:
		for _, s := range v {
			c.counts[s]++
		}
	case []int64:
		for _, n := range v {
			c.counts[strconv.FormatInt(n, 10)]++
		}
	default:
		if key, ok := Key(v); ok {
			c.counts[key]++
		}
	}
	return nil
}

// Freeze assigns codes to every observed value.
func (c *Categories) Freeze() {
	if c.frozen {
		return
	}
	c.is = make([]string, 0, len(c.counts))
	for key := range c.counts {
		c.is = append(c.is, key)
	}
	sort.Slice(c.is, func(i, j int) bool {
		ci, cj := c.counts[c.is[i]], c.counts[c.is[j]]
		if ci != cj {
			return ci > cj
		}
		return c.is[i] < c.is[j]
	})
	c.cnt = make([]int, len(c.is))
	c.si = make(map[string]int64, len(c.is))
	for i, key := range c.is {
		c.cnt[i] = c.counts[key]
		c.si[key] = int64(i + 1)
	}
	c.counts = nil
	c.frozen = true
}

func (c *Categories) Frozen() bool {
	return c.frozen
}

// Id returns the code of a scalar cell.
func (c *Categories) Id(v any) int64 {
	key, ok := Key(v)
	if !ok {
		return NullCode
	}
	if code, ok := c.si[key]; ok {
		return code
	}
	return NullCode
}

// Encode returns the codes of a cell: an int64 for scalars and a []int64 for
// lists.
func (c *Categories) Encode(v any) any {
	switch v := v.(type) {
	case []string:
		codes := make([]int64, len(v))
		for i, s := range v {
			codes[i] = c.Id(s)
		}
		return codes
	case []int64:
		codes := make([]int64, len(v))
		for i, n := range v {
			codes[i] = c.Id(n)
		}
		return codes
	default:
		return c.Id(v)
	}
}

// Cardinality is the size of the embedding table, including the null code.
func (c *Categories) Cardinality() int {
	return len(c.is) + 1
}

// String returns the value of a code.
func (c *Categories) String(code int64) (string, bool) {
	if code <= 0 || int(code) > len(c.is) {
		return "", false
	}
	return c.is[code-1], true
}

// Freq returns how often the value of a code was observed while fitting.
func (c *Categories) Freq(code int64) int {
	if code <= 0 || int(code) > len(c.cnt) {
		return 0
	}
	return c.cnt[code-1]
}

type categoriesJSON struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
	Counts []int    `json:"counts"`
}

func (c *Categories) MarshalJSON() ([]byte, error) {
	if !c.frozen {
		return nil, errors.Errorf("categories %s are not fitted", c.name)
	}
	return json.Marshal(categoriesJSON{Name: c.name, Values: c.is, Counts: c.cnt})
}

func (c *Categories) UnmarshalJSON(data []byte) error {
	var v categoriesJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Trace(err)
	}
	if len(v.Values) != len(v.Counts) {
		return errors.NotValidf("categories %s with %d values and %d counts", v.Name, len(v.Values), len(v.Counts))
	}
	c.name = v.Name
	c.is = v.Values
	c.cnt = v.Counts
	c.si = make(map[string]int64, len(v.Values))
	for i, key := range v.Values {
		c.si[key] = int64(i + 1)
	}
	c.counts = nil
	c.frozen = true
	return nil
}
