package retrieval

import (
	"strings"

	"github.com/answerdesk/answerdesk/pkg/classifier"
	"github.com/answerdesk/answerdesk/pkg/vector"
)

// attempt is one stage of the progressive-fallback search plan.
type attempt struct {
	name   string
	filter *vector.Filter
}

// flatFilter renders the filter for the metrics record.
func (a attempt) flatFilter() map[string]string {
	flat := make(map[string]string)
	if a.filter == nil {
		return flat
	}
	for key, value := range a.filter.Must {
		flat[key] = value
	}
	for key, values := range a.filter.Any {
		flat[key] = strings.Join(values, "|")
	}
	return flat
}

// buildPlan encodes the fallback order as data so each stage is
// enumerable in tests. Attempts run in order; the first yielding a
// chunk at or above the similarity threshold wins.
func buildPlan(req Request) []attempt {
	audience := &vector.Filter{
		Any: map[string][]string{FieldUserType: {req.UserType, "both"}},
	}
	entryType := classifier.NormalizeEntryType(req.ClassifiedType)

	var plan []attempt

	if req.TargetTitle != "" {
		plan = append(plan, attempt{
			name: "targeted_parent",
			filter: &vector.Filter{
				Must: map[string]string{FieldParentTitle: req.TargetTitle},
				Any:  audience.Any,
			},
		})
	}

	if req.Category != "" {
		plan = append(plan, attempt{
			name: "type_audience_category",
			filter: &vector.Filter{
				Must: map[string]string{FieldEntryType: entryType, FieldCategory: req.Category},
				Any:  audience.Any,
			},
		})
	}

	plan = append(plan, attempt{
		name: "type_audience",
		filter: &vector.Filter{
			Must: map[string]string{FieldEntryType: entryType},
			Any:  audience.Any,
		},
	})

	plan = append(plan, attempt{
		name:   "audience_only",
		filter: audience,
	})

	if req.ClassifiedType == classifier.TypeHowTo {
		plan = append(plan, attempt{
			name: "howto_as_error",
			filter: &vector.Filter{
				Must: map[string]string{FieldEntryType: "error"},
				Any:  audience.Any,
			},
		})
	}

	if req.ClassifiedType == classifier.TypeDefinition && containsWord(req.Query, "error") {
		plan = append(plan, attempt{
			name: "definition_as_error",
			filter: &vector.Filter{
				Must: map[string]string{FieldEntryType: "error"},
				Any:  audience.Any,
			},
		})
	}

	return plan
}

func containsWord(text, word string) bool {
	for _, field := range strings.Fields(strings.ToLower(text)) {
		if strings.Trim(field, ".,!?;:\"'()") == word {
			return true
		}
	}
	return false
}
