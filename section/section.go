// Package section regroups the flat per-field response lists of a
// request back into per-instance views of its duplicatable sections.
package section

import "github.com/formsly/formsly/model"

// nullKey stands in for a nil duplication id when collecting distinct
// keys. It is a legitimate key of its own: it selects the
// non-duplicated (or first) instance.
const nullKey = "null"

func keyOf(id *string) string {
	if id == nil {
		return nullKey
	}
	return *id
}

// Explode splits a section whose fields carry responses from several
// duplicated instances into one section per distinct duplication key.
// Keys are emitted in discovery order (fields in order, then each
// field's responses in order), never sorted. Each returned instance
// holds at most one response per field; a field with no response for
// that key is left unanswered. A section with no responses at all
// still yields one unanswered instance, so callers always see the
// section's shape even before anyone has answered it.
func Explode(s model.Section) []model.Section {
	var keys []string
	seen := map[string]bool{}
	for _, f := range s.Fields {
		for _, r := range f.Responses {
			k := keyOf(r.DuplicatableSectionID)
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		keys = []string{nullKey}
	}

	instances := make([]model.Section, 0, len(keys))
	for _, k := range keys {
		instances = append(instances, instanceForKey(s, k))
	}
	return instances
}

func instanceForKey(s model.Section, key string) model.Section {
	inst := s
	if key != nullKey {
		k := key
		inst.DuplicatableID = &k
	} else {
		inst.DuplicatableID = nil
	}

	inst.Fields = make([]model.Field, len(s.Fields))
	for i, f := range s.Fields {
		inst.Fields[i] = f
		inst.Fields[i].Responses = nil
		for _, r := range f.Responses {
			if keyOf(r.DuplicatableSectionID) == key {
				inst.Fields[i].Responses = []model.FieldResponse{r}
				break
			}
		}
	}
	return inst
}

// Reconstruct builds the full per-instance section list of a request.
// Duplicatable sections that accumulated at least one duplicated
// response are exploded; every other section yields a single instance
// reduced to its non-duplicated responses.
func Reconstruct(sections []model.Section) []model.Section {
	var out []model.Section
	for _, s := range sections {
		if s.IsDuplicatable && hasDuplicatedResponse(s) {
			out = append(out, Explode(s)...)
		} else {
			out = append(out, instanceForKey(s, nullKey))
		}
	}
	return out
}

func hasDuplicatedResponse(s model.Section) bool {
	for _, f := range s.Fields {
		for _, r := range f.Responses {
			if r.DuplicatableSectionID != nil {
				return true
			}
		}
	}
	return false
}
