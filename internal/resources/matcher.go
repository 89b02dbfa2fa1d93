// Package resources picks study resources related to a task.
package resources

import (
	"strings"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

// FallbackLimit is how many resources are suggested when none match.
const FallbackLimit = 5

// Match returns every resource relevant to the task title, in input order.
// A resource is relevant when the title occurs in its title, description or
// topic, ignoring case, or equals one of its tags, ignoring case. With no
// relevant resource the first FallbackLimit resources are returned instead;
// callers pass all newest first.
func Match(task model.Task, all []model.Resource) []model.Resource {
	var matched []model.Resource
	if needle := strings.ToLower(strings.TrimSpace(task.Title)); needle != "" {
		for _, r := range all {
			if Relevant(needle, r) {
				matched = append(matched, r)
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return append([]model.Resource(nil), all[:min(FallbackLimit, len(all))]...)
}

// Relevant reports whether r matches the lower-cased needle.
func Relevant(needle string, r model.Resource) bool {
	for _, field := range []string{r.Title, r.Description, r.Topic} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	for _, tag := range r.Tags {
		if strings.EqualFold(strings.TrimSpace(tag), needle) {
			return true
		}
	}
	return false
}
