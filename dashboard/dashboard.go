// Package dashboard turns stored field responses into chart-ready
// aggregates. Malformed response values never fail a pass: they are
// logged and skipped.
package dashboard

import (
	"encoding/json"
	"sort"

	"github.com/formsly/formsly/log"
	"github.com/formsly/formsly/model"
)

type Tally struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// UniqueResponseTally counts identical decoded values across a single
// field's responses. Results are sorted by descending count; ties keep
// first-seen order.
func UniqueResponseTally(responses []model.FieldResponse) []Tally {
	var order []string
	counts := map[string]int{}
	labels := map[string]string{}

	for _, r := range responses {
		key, label, ok := decodeKey(r)
		if !ok {
			continue
		}
		if _, found := counts[key]; !found {
			order = append(order, key)
			labels[key] = label
		}
		counts[key]++
	}

	tallies := make([]Tally, 0, len(order))
	for _, key := range order {
		tallies = append(tallies, Tally{Label: labels[key], Value: counts[key]})
	}
	sort.SliceStable(tallies, func(i, j int) bool {
		return tallies[i].Value > tallies[j].Value
	})
	return tallies
}

// decodeKey parses a stored response and derives a grouping key plus a
// display label. Equality is over the decoded value, so "A" and A-the-
// raw-text never collide, and the key is case sensitive.
func decodeKey(r model.FieldResponse) (key, label string, ok bool) {
	var decoded any
	if err := json.Unmarshal([]byte(r.Value), &decoded); err != nil {
		malformed := &model.MalformedResponseError{FieldID: r.FieldID, Raw: r.Value, Err: err}
		log.Warnf("dashboard.decode: %s", malformed)
		return "", "", false
	}

	canonical, err := json.Marshal(decoded)
	if err != nil {
		log.Warnf("dashboard.decode.canonical: %s", err)
		return "", "", false
	}

	if s, isString := decoded.(string); isString {
		return string(canonical), s, true
	}
	return string(canonical), string(canonical), true
}

// SearchResult is one hit of a keyword search over responses, tagged
// with its originating field.
type SearchResult struct {
	FieldID   int             `json:"field_id"`
	FieldName string          `json:"field_name"`
	FieldType model.FieldType `json:"field_type"`
	Response  model.FieldResponse
}

type FieldGroup struct {
	FieldID   int             `json:"field_id"`
	FieldName string          `json:"field_name"`
	FieldType model.FieldType `json:"field_type"`
	Tallies   []Tally         `json:"responses"`
}

// GroupSearchResults buckets heterogeneous search hits by field, then
// tallies identical decoded values within each bucket.
func GroupSearchResults(results []SearchResult) []FieldGroup {
	var order []int
	byField := map[int]*FieldGroup{}
	responses := map[int][]model.FieldResponse{}

	for _, res := range results {
		if _, found := byField[res.FieldID]; !found {
			order = append(order, res.FieldID)
			byField[res.FieldID] = &FieldGroup{
				FieldID:   res.FieldID,
				FieldName: res.FieldName,
				FieldType: res.FieldType,
			}
		}
		responses[res.FieldID] = append(responses[res.FieldID], res.Response)
	}

	groups := make([]FieldGroup, 0, len(order))
	for _, id := range order {
		g := byField[id]
		g.Tallies = UniqueResponseTally(responses[id])
		groups = append(groups, *g)
	}
	return groups
}
