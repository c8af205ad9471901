package sync

import (
	"github.com/stacklok/tag-sync/internal/bitbucket"
	"github.com/stacklok/tag-sync/internal/versions"
)

// NewTags returns the tags whose name is not among the annotation contents,
// ordered oldest version first. A name listed twice is returned once.
func NewTags(tags []bitbucket.Tag, annotations map[string]struct{}) []bitbucket.Tag {
	seen := make(map[string]struct{}, len(tags))
	result := make([]bitbucket.Tag, 0, len(tags))

	for _, tag := range tags {
		if _, annotated := annotations[tag.Name]; annotated {
			continue
		}
		if _, dup := seen[tag.Name]; dup {
			continue
		}
		seen[tag.Name] = struct{}{}
		result = append(result, tag)
	}

	versions.SortAscending(result, func(t bitbucket.Tag) string { return t.Name })
	return result
}
