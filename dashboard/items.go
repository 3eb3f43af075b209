package dashboard

import (
	"regexp"
	"strings"

	"github.com/formsly/formsly/log"
	"github.com/formsly/formsly/model"
)

var reParenthetical = regexp.MustCompile(`\([^)]*\)`)

// StripQuantityAnnotation removes the parenthesized quantity/unit
// annotation embedded in an item option label and collapses the
// surrounding whitespace, so "Cement (50 bag) desc" and
// "Cement (100 bag) desc" compare equal as "Cement desc".
func StripQuantityAnnotation(label string) string {
	stripped := reParenthetical.ReplaceAllString(label, "")
	return strings.Join(strings.Fields(stripped), " ")
}

type ItemGroup struct {
	Key     string        `json:"key"`
	Section model.Section `json:"section"`
}

// GroupByKeyField regroups exploded section instances by the decoded
// value of one key field (General Name on order forms, Item on
// quotation forms with stripQuantity set). Reconstruction leaves one
// response per field per instance; merging instances that share a key
// re-flattens those singles back into per-item response arrays.
// Instances without a decodable key are logged and skipped.
func GroupByKeyField(instances []model.Section, keyField string, stripQuantity bool) []ItemGroup {
	var order []string
	merged := map[string]*model.Section{}

	for _, inst := range instances {
		key, ok := keyFieldValue(inst, keyField)
		if !ok {
			continue
		}
		if stripQuantity {
			key = StripQuantityAnnotation(key)
		}

		group, found := merged[key]
		if !found {
			first := inst
			first.DuplicatableID = nil
			first.Fields = make([]model.Field, len(inst.Fields))
			copy(first.Fields, inst.Fields)
			// fresh response slices: later merges must never write
			// into the caller's backing arrays
			for i := range first.Fields {
				first.Fields[i].Responses = append([]model.FieldResponse(nil), first.Fields[i].Responses...)
			}
			merged[key] = &first
			order = append(order, key)
			continue
		}
		for i := range group.Fields {
			for _, f := range inst.Fields {
				if f.ID != group.Fields[i].ID {
					continue
				}
				group.Fields[i].Responses = append(group.Fields[i].Responses, f.Responses...)
			}
		}
	}

	groups := make([]ItemGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, ItemGroup{Key: key, Section: *merged[key]})
	}
	return groups
}

func keyFieldValue(inst model.Section, keyField string) (string, bool) {
	for _, f := range inst.Fields {
		if f.Name != keyField {
			continue
		}
		r := f.Response()
		if r == nil {
			return "", false
		}
		v, err := model.DecodeValue(f.ID, model.FieldText, r.Value)
		if err != nil {
			log.Warnf("dashboard.key_field: %s", err)
			return "", false
		}
		return v.Text, true
	}
	return "", false
}
