package schemadiff

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grebion/tables/internal/model"
)

// Diff compares the old column set against the new one. Changes are listed
// in the order of the old columns, followed by added columns in the order of
// the new set.
func Diff(old, new []model.SchemaColumn) Result {
	var res Result

	newByCode := make(map[string]model.SchemaColumn, len(new))
	for _, c := range new {
		newByCode[c.Code] = c
	}
	oldByCode := make(map[string]model.SchemaColumn, len(old))
	for _, c := range old {
		oldByCode[c.Code] = c
	}

	add := func(c Change) {
		res.Changes = append(res.Changes, c)
		if c.Breaking {
			res.BreakingCount++
		}
	}

	for _, oc := range old {
		nc, exists := newByCode[oc.Code]
		if !exists {
			add(Change{
				Category:    ColumnRemoved,
				Breaking:    true,
				Code:        oc.Code,
				OldValue:    string(oc.Type),
				Description: fmt.Sprintf("Column %q was removed", oc.Code),
			})
			continue
		}

		if oc.Type != nc.Type {
			add(Change{
				Category:    TypeChanged,
				Breaking:    true,
				Code:        oc.Code,
				OldValue:    string(oc.Type),
				NewValue:    string(nc.Type),
				Description: fmt.Sprintf("Column %q type changed from %q to %q", oc.Code, oc.Type, nc.Type),
			})
		}

		if oc.Title != nc.Title {
			add(Change{
				Category:    TitleChanged,
				Code:        oc.Code,
				OldValue:    oc.Title,
				NewValue:    nc.Title,
				Description: fmt.Sprintf("Column %q renamed from %q to %q", oc.Code, oc.Title, nc.Title),
			})
		}

		if removed, added := optionDelta(oc.ChoiceOptions(), nc.ChoiceOptions()); len(removed) > 0 || len(added) > 0 {
			add(Change{
				Category:    OptionsChanged,
				Breaking:    len(removed) > 0,
				Code:        oc.Code,
				OldValue:    strings.Join(oc.ChoiceOptions().Values(), ","),
				NewValue:    strings.Join(nc.ChoiceOptions().Values(), ","),
				Description: describeOptions(oc.Code, removed, added),
			})
		}

		// Turning required on can reject rows that are already stored.
		if oc.IsRequired() != nc.IsRequired() {
			add(Change{
				Category:    RequiredChanged,
				Breaking:    nc.IsRequired(),
				Code:        oc.Code,
				OldValue:    strconv.FormatBool(oc.IsRequired()),
				NewValue:    strconv.FormatBool(nc.IsRequired()),
				Description: fmt.Sprintf("Column %q required changed to %t", oc.Code, nc.IsRequired()),
			})
		}

		if oc.Sort != nc.Sort {
			add(Change{
				Category:    SortChanged,
				Code:        oc.Code,
				OldValue:    strconv.Itoa(oc.Sort),
				NewValue:    strconv.Itoa(nc.Sort),
				Description: fmt.Sprintf("Column %q moved from %d to %d", oc.Code, oc.Sort, nc.Sort),
			})
		}
	}

	for _, nc := range new {
		if _, exists := oldByCode[nc.Code]; !exists {
			add(Change{
				Category:    ColumnAdded,
				Breaking:    nc.IsRequired(),
				Code:        nc.Code,
				NewValue:    string(nc.Type),
				Description: fmt.Sprintf("Column %q was added", nc.Code),
			})
		}
	}

	return res
}

// optionDelta returns the option values only present in old and only
// present in new. Label changes are not reported.
func optionDelta(old, new model.Options) (removed, added []string) {
	for _, o := range old {
		if !new.Has(o.Value) {
			removed = append(removed, o.Value)
		}
	}
	for _, o := range new {
		if !old.Has(o.Value) {
			added = append(added, o.Value)
		}
	}
	return removed, added
}

func describeOptions(code string, removed, added []string) string {
	var parts []string
	if len(removed) > 0 {
		parts = append(parts, "removed "+strings.Join(removed, ", "))
	}
	if len(added) > 0 {
		parts = append(parts, "added "+strings.Join(added, ", "))
	}
	return fmt.Sprintf("Column %q options changed: %s", code, strings.Join(parts, "; "))
}
