package memory

import "strings"

// RegistryEntry describes one known canonical path.
//
// Static entries are matched exactly. Dynamic entries carry a fixed prefix
// and an open last segment (skill topics, dated event slugs, named tasks).
type RegistryEntry struct {
	// Path is the full path if static, or the fixed prefix if dynamic.
	Path string

	// Type is the memory type this entry belongs to.
	Type Type

	// Subject is the subject key for static entries.
	Subject string

	// Dynamic marks entries whose last segment is an open slug.
	Dynamic bool

	// DefaultPolicy applies when a candidate does not specify one.
	DefaultPolicy UpdatePolicy

	// Description documents the entry for operators.
	Description string
}

// Registry is the closed whitelist of canonical paths.
//
// Naming convention: mory://{type}/{subject}, with dots separating sub-topics
// within a subject (skill/python.fastapi, event/2026-02-27.server_crash).
var Registry = []RegistryEntry{
	{
		Path: "mory://user_preference/answer_length", Type: TypeUserPreference,
		Subject: "answer_length", DefaultPolicy: PolicyOverwrite,
		Description: "Preferred length of responses (short / detailed / balanced)",
	},
	{
		Path: "mory://user_preference/language", Type: TypeUserPreference,
		Subject: "language", DefaultPolicy: PolicyOverwrite,
		Description: "Preferred language for responses",
	},
	{
		Path: "mory://user_preference/tone", Type: TypeUserPreference,
		Subject: "tone", DefaultPolicy: PolicyOverwrite,
		Description: "Preferred tone (formal / casual / technical)",
	},
	{
		Path: "mory://user_preference/code_style", Type: TypeUserPreference,
		Subject: "code_style", DefaultPolicy: PolicyOverwrite,
		Description: "Code formatting preferences (tabs/spaces, naming conventions)",
	},
	{
		Path: "mory://user_preference/output_format", Type: TypeUserPreference,
		Subject: "output_format", DefaultPolicy: PolicyOverwrite,
		Description: "Preferred output format (markdown / plain / JSON)",
	},
	{
		Path: "mory://user_fact/name", Type: TypeUserFact,
		Subject: "name", DefaultPolicy: PolicyOverwrite,
		Description: "User's name or preferred alias",
	},
	{
		Path: "mory://user_fact/location", Type: TypeUserFact,
		Subject: "location", DefaultPolicy: PolicyOverwrite,
		Description: "User's current city / country",
	},
	{
		Path: "mory://user_fact/occupation", Type: TypeUserFact,
		Subject: "occupation", DefaultPolicy: PolicyOverwrite,
		Description: "User's job title or role",
	},
	{
		Path: "mory://user_fact/timezone", Type: TypeUserFact,
		Subject: "timezone", DefaultPolicy: PolicyOverwrite,
		Description: "User's timezone, e.g. Asia/Shanghai",
	},
	{
		Path: "mory://user_fact/goals", Type: TypeUserFact,
		Subject: "goals", DefaultPolicy: PolicyMergeAppend,
		Description: "User's stated long-term goals",
	},
	{
		Path: "mory://skill/", Type: TypeSkill, Dynamic: true,
		DefaultPolicy: PolicyMergeAppend,
		Description:   "Knowledge / skill node; topic is dynamic, e.g. 'python.fastapi'",
	},
	{
		Path: "mory://event/", Type: TypeEvent, Dynamic: true,
		DefaultPolicy: PolicyMergeAppend,
		Description:   "Time-anchored event; slug is dynamic, e.g. '2026-02-27.server_crash'",
	},
	{
		Path: "mory://task/current", Type: TypeTask,
		Subject: "current", DefaultPolicy: PolicyOverwrite,
		Description: "The task or context being actively worked on right now",
	},
	{
		Path: "mory://task/", Type: TypeTask, Dynamic: true,
		DefaultPolicy: PolicyMergeAppend,
		Description:   "Named project / workspace; slug is dynamic, e.g. 'project_a'",
	},
	{
		Path: "mory://world_knowledge/", Type: TypeWorldKnowledge, Dynamic: true,
		DefaultPolicy: PolicyHighestConfidence,
		Description:   "General knowledge not tied to the user; topic is dynamic",
	},
}

// LookupEntry finds the registry entry for a path: exact match for static
// entries first, then prefix match for dynamic entries. Returns nil when the
// path is not covered by the registry.
func LookupEntry(path string) *RegistryEntry {
	for i := range Registry {
		if !Registry[i].Dynamic && Registry[i].Path == path {
			return &Registry[i]
		}
	}
	for i := range Registry {
		if Registry[i].Dynamic && strings.HasPrefix(path, Registry[i].Path) {
			return &Registry[i]
		}
	}
	return nil
}

// DefaultPolicyFor returns the registry's default policy for a path, falling
// back to merge_append for unregistered paths.
func DefaultPolicyFor(path string) UpdatePolicy {
	if e := LookupEntry(path); e != nil {
		return e.DefaultPolicy
	}
	return PolicyMergeAppend
}

// IsURI reports whether value is a syntactically valid mory:// URI.
// It does not check the registry whitelist.
func IsURI(value string) bool {
	return strings.HasPrefix(value, Scheme) && len(value) > len(Scheme)
}

// TypeFromPath extracts the memory type from a mory:// path, or "" when the
// path is malformed or carries an unknown type segment.
func TypeFromPath(path string) Type {
	if !IsURI(path) {
		return ""
	}
	segment, _, _ := strings.Cut(path[len(Scheme):], "/")
	if t := Type(segment); t.Valid() {
		return t
	}
	return ""
}
