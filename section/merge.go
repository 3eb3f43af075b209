package section

import (
	"strings"

	"github.com/formsly/formsly/model"
)

// MergeDuplicates drops section instances that repeat an earlier
// instance's identity. Identity is defined by the named fields: two
// instances are the same row when every identity field carries an
// equal response value. Instances are compared by field name, not
// position, and the first occurrence wins.
func MergeDuplicates(instances []model.Section, identityFields []string) []model.Section {
	if len(identityFields) == 0 {
		return instances
	}

	identity := map[string]bool{}
	for _, name := range identityFields {
		identity[name] = true
	}

	seen := map[string]bool{}
	var out []model.Section
	for _, inst := range instances {
		var parts []string
		for _, f := range inst.Fields {
			if !identity[f.Name] {
				continue
			}
			v := ""
			if r := f.Response(); r != nil {
				v = r.Value
			}
			parts = append(parts, f.Name+"="+v)
		}
		key := strings.Join(parts, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, inst)
	}
	return out
}
