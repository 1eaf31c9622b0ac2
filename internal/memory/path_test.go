package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "canonical static path unchanged",
			raw:  "mory://user_preference/language",
			want: "mory://user_preference/language",
		},
		{
			name: "plain profile path with preference marker",
			raw:  "/profile/preferences/language",
			want: "mory://user_preference/language",
		},
		{
			name: "user scheme with preference slug alias",
			raw:  "mory://user/lang_pref",
			want: "mory://user_preference/language",
		},
		{
			name: "dynamic skill tail re-slugged",
			raw:  "mory://skill/python/fastapi",
			want: "mory://skill/python.fastapi",
		},
		{
			name: "dynamic skill with mixed case and spaces",
			raw:  "mory://skill/Python / FastAPI",
			want: "mory://skill/python.fastapi",
		},
		{
			name: "fact subject alias city to location",
			raw:  "/user/facts/city",
			want: "mory://user_fact/location",
		},
		{
			name: "nickname maps onto name",
			raw:  "profile/nickname",
			want: "mory://user_fact/name",
		},
		{
			name: "task project goes dynamic",
			raw:  "tasks/project_alpha",
			want: "mory://task/project_alpha",
		},
		{
			name: "settings path resolves to preference",
			raw:  "/settings/output",
			want: "mory://user_preference/output_format",
		},
		{
			name: "code style compound slug",
			raw:  "settings/coding_style",
			want: "mory://user_preference/code_style",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

// Normalizing an already-canonical path must be a fixed point for every
// registry entry.
func TestNormalizeIdempotent(t *testing.T) {
	for _, entry := range Registry {
		path := entry.Path
		if entry.Dynamic {
			path += "example_slug"
		}
		once := Normalize(path)
		require.Equal(t, once, Normalize(once), "path %q not idempotent", path)
	}
}

func TestNormalizeFallbackEventPath(t *testing.T) {
	orig := timeNow
	timeNow = func() time.Time {
		return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	}
	defer func() { timeNow = orig }()

	got := Normalize("completely unrelated rambling text")
	assert.Equal(t, "mory://event/2026-03-14.completely_unrelated_rambling", got)

	assert.Equal(t, "mory://event/2026-03-14.unknown", Normalize(""))
}

func TestBuildPath(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		subject string
		want    string
	}{
		{"static preference", TypeUserPreference, "language", "mory://user_preference/language"},
		{"dynamic skill slug", TypeSkill, "Python / FastAPI", "mory://skill/python.fastapi"},
		{"slug trims stray dots", TypeTask, "-cleanup-", "mory://task/cleanup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPath(tt.typ, tt.subject))
		})
	}
}

func TestIsCanonicalPath(t *testing.T) {
	assert.True(t, IsCanonicalPath("mory://user_fact/name"))
	assert.True(t, IsCanonicalPath("mory://skill/go.concurrency"))
	assert.False(t, IsCanonicalPath("mory://skill/"), "dynamic entries need a slug")
	assert.False(t, IsCanonicalPath("mory://nonsense/thing"))
	assert.False(t, IsCanonicalPath("/profile/language"))
}

func TestPathLabel(t *testing.T) {
	assert.Equal(t, "user_preference / language", PathLabel("mory://user_preference/language"))
	assert.Equal(t, "raw text", PathLabel("raw text"))
}

func TestPolicyForRawPath(t *testing.T) {
	assert.Equal(t, PolicyOverwrite, PolicyForRawPath("/profile/preferences/language"))
	assert.Equal(t, PolicyMergeAppend, PolicyForRawPath("user/goals"))
	assert.Equal(t, PolicyHighestConfidence, PolicyForRawPath("mory://world_knowledge/go"))
}
