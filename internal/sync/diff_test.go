package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/tag-sync/internal/bitbucket"
)

func tagNames(tags []bitbucket.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}

func TestNewTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		tags        []string
		annotations []string
		want        []string
	}{
		{
			name: "no tags",
			want: []string{},
		},
		{
			name:        "every tag annotated",
			tags:        []string{"v1.0.0", "v1.1.0"},
			annotations: []string{"v1.0.0", "v1.1.0", "launch day"},
			want:        []string{},
		},
		{
			name:        "unannotated tags only",
			tags:        []string{"v1.0.0", "v1.1.0", "v1.2.0"},
			annotations: []string{"v1.1.0"},
			want:        []string{"v1.0.0", "v1.2.0"},
		},
		{
			name: "ascending semver order regardless of input order",
			tags: []string{"v1.10.0", "v1.2.0", "v1.9.1", "v0.1.0"},
			want: []string{"v0.1.0", "v1.2.0", "v1.9.1", "v1.10.0"},
		},
		{
			name: "duplicate tag names collapse",
			tags: []string{"v2.0.0", "v1.0.0", "v2.0.0"},
			want: []string{"v1.0.0", "v2.0.0"},
		},
		{
			name:        "annotation match is exact",
			tags:        []string{"v1.0.0", "1.0.0"},
			annotations: []string{"v1.0.0"},
			want:        []string{"1.0.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tags := make([]bitbucket.Tag, 0, len(tt.tags))
			for _, name := range tt.tags {
				tags = append(tags, bitbucket.Tag{Name: name, Date: "2024-01-01T00:00:00Z"})
			}
			annotations := make(map[string]struct{}, len(tt.annotations))
			for _, content := range tt.annotations {
				annotations[content] = struct{}{}
			}

			assert.Equal(t, tt.want, tagNames(NewTags(tags, annotations)))
		})
	}
}

func TestNewTags_KeepsDates(t *testing.T) {
	t.Parallel()

	tags := []bitbucket.Tag{
		{Name: "v1.1.0", Date: "2024-02-01T00:00:00Z"},
		{Name: "v1.0.0", Date: "2024-01-01T00:00:00Z"},
	}

	got := NewTags(tags, map[string]struct{}{})

	assert.Equal(t, []bitbucket.Tag{
		{Name: "v1.0.0", Date: "2024-01-01T00:00:00Z"},
		{Name: "v1.1.0", Date: "2024-02-01T00:00:00Z"},
	}, got)
}
