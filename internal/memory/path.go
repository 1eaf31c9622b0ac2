package memory

import (
	"strings"
	"time"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// LLM extractors generate inconsistent paths for the same concept:
// "/profile/preferences/language", "mory://user/lang_pref",
// "mory://profile/language". Normalize maps any of those to the nearest
// canonical registry path using pure string rules plus token Jaccard; no
// embedding model runs on the write path.

// typeAliases maps common extractor vocabulary onto a memory type.
// Keys are lowercased whole tokens.
var typeAliases = map[string]Type{
	// user_preference carries the strongest signals and should win.
	"preference":      TypeUserPreference,
	"preferences":     TypeUserPreference,
	"pref":            TypeUserPreference,
	"prefs":           TypeUserPreference,
	"user_pref":       TypeUserPreference,
	"user_preference": TypeUserPreference,
	"setting":         TypeUserPreference,
	"settings":        TypeUserPreference,
	"style":           TypeUserPreference,
	"lang_pref":       TypeUserPreference,
	"language_pref":   TypeUserPreference,
	"code_style":      TypeUserPreference,
	"answer_style":    TypeUserPreference,

	// user_fact: only clear "about the user" signals. "user" lives here, in
	// the second pass, so preference aliases win the priority pass first.
	"fact":     TypeUserFact,
	"facts":    TypeUserFact,
	"user":     TypeUserFact,
	"profile":  TypeUserFact,
	"info":     TypeUserFact,
	"about":    TypeUserFact,
	"personal": TypeUserFact,

	"skill":      TypeSkill,
	"skills":     TypeSkill,
	"knowledge":  TypeSkill,
	"expertise":  TypeSkill,
	"tech":       TypeSkill,
	"technology": TypeSkill,

	"event":    TypeEvent,
	"events":   TypeEvent,
	"incident": TypeEvent,
	"history":  TypeEvent,
	"log":      TypeEvent,
	"diary":    TypeEvent,

	"task":      TypeTask,
	"tasks":     TypeTask,
	"project":   TypeTask,
	"workspace": TypeTask,
	"work":      TypeTask,
	"current":   TypeTask,

	"world_knowledge": TypeWorldKnowledge,
	"world":           TypeWorldKnowledge,
	"knowledge_base":  TypeWorldKnowledge,
	"general":         TypeWorldKnowledge,
	"kb":              TypeWorldKnowledge,
}

// preferencePriorityAliases beat every user_fact alias, so compound slugs
// like "lang_pref" outrank generic tokens like "user".
var preferencePriorityAliases = map[string]struct{}{
	"preference": {}, "preferences": {}, "pref": {}, "prefs": {},
	"user_pref": {}, "user_preference": {},
	"setting": {}, "settings": {},
	"lang_pref": {}, "language_pref": {}, "code_style": {}, "answer_style": {},
}

// noiseSubjectTokens carry no subject information and are dropped when
// building a subject from leftover path segments.
var noiseSubjectTokens = map[string]struct{}{
	"profile": {}, "user": {}, "info": {}, "about": {}, "personal": {},
	"preference": {}, "preferences": {}, "pref": {}, "prefs": {},
	"setting": {}, "settings": {},
	"fact": {}, "facts": {},
}

// preferenceSubjectAliases map raw preference subjects to registry subjects.
var preferenceSubjectAliases = map[string]string{
	"lang":            "language",
	"lang_pref":       "language",
	"language_pref":   "language",
	"reply_length":    "answer_length",
	"response_length": "answer_length",
	"length":          "answer_length",
	"answer_style":    "answer_length",
	"coding_style":    "code_style",
	"coding":          "code_style",
	"format":          "output_format",
	"output":          "output_format",
	"response_format": "output_format",
}

// factSubjectAliases map raw fact subjects to registry subjects.
var factSubjectAliases = map[string]string{
	"username":  "name",
	"nickname":  "name",
	"handle":    "name",
	"city":      "location",
	"country":   "location",
	"region":    "location",
	"job":       "occupation",
	"role":      "occupation",
	"position":  "occupation",
	"title":     "occupation",
	"tz":        "timezone",
	"time_zone": "timezone",
	"goal":      "goals",
	"objective": "goals",
}

// pathTokens tokenizes a path-like string into lowercase tokens.
//
// Splits only on "/", ".", and whitespace, never on "_" or "-", so compound
// slugs like "project_a", "code_style", "lang_pref" survive intact and can
// be matched against the alias maps as whole tokens.
func pathTokens(input string) []string {
	lower := strings.ToLower(input)
	lower = strings.TrimPrefix(lower, Scheme)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '/' || r == '.' || r == ' ' || r == '\t'
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" && f != "mory" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// jaccardTokens computes Jaccard similarity over two token slices.
func jaccardTokens(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// inferType recovers the memory type from path segments.
//
// Pass 1 matches exact canonical type names across all segments. Pass 2
// checks the preference priority aliases, then the broader alias map with a
// plural-to-singular fallback. Earlier segments win within each pass.
func inferType(segments []string) (Type, bool) {
	for _, seg := range segments {
		lo := strings.ReplaceAll(strings.ToLower(seg), "-", "_")
		if t := Type(lo); t.Valid() {
			return t, true
		}
	}
	for _, seg := range segments {
		if _, ok := preferencePriorityAliases[strings.ToLower(seg)]; ok {
			return TypeUserPreference, true
		}
	}
	for _, seg := range segments {
		lo := strings.ToLower(seg)
		if t, ok := typeAliases[lo]; ok {
			return t, true
		}
		if strings.HasSuffix(lo, "s") {
			if t, ok := typeAliases[lo[:len(lo)-1]]; ok {
				return t, true
			}
		}
	}
	return "", false
}

// resolveSubjectAlias applies the type-specific subject alias tables.
// rawSubject is a single underscore-joined slug like "lang_pref".
func resolveSubjectAlias(t Type, rawSubject string) string {
	lo := strings.ToLower(rawSubject)
	lo = strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return '_'
		}
		return r
	}, lo)
	switch t {
	case TypeUserPreference:
		if alias, ok := preferenceSubjectAliases[lo]; ok {
			return alias
		}
	case TypeUserFact:
		if alias, ok := factSubjectAliases[lo]; ok {
			return alias
		}
	}
	return lo
}

// buildBestPath assembles the canonical path for a type plus subject tokens.
//
// Tokens are joined with "_" for the alias lookup so compound slugs survive;
// dynamic paths join multiple segments with "." per registry convention.
func buildBestPath(t Type, subjectSegments []string) string {
	if len(subjectSegments) == 0 {
		return Scheme + string(t) + "/unknown"
	}

	resolved := resolveSubjectAlias(t, strings.Join(subjectSegments, "_"))
	candidate := Scheme + string(t) + "/" + resolved

	if e := LookupEntry(candidate); e != nil && !e.Dynamic {
		return candidate
	}

	for i := range Registry {
		if Registry[i].Dynamic && Registry[i].Type == t {
			dynamicSubject := resolved
			if len(subjectSegments) > 1 {
				dynamicSubject = strings.Join(subjectSegments, ".")
			}
			return Registry[i].Path + dynamicSubject
		}
	}

	return candidate
}

// bestRegistryMatch finds the registry entry most similar to the raw tokens
// by token Jaccard. Last-resort fallback; accepts only scores >= 0.2.
func bestRegistryMatch(rawTokens []string) *RegistryEntry {
	var best *RegistryEntry
	bestScore := -1.0
	for i := range Registry {
		score := jaccardTokens(rawTokens, pathTokens(Registry[i].Path))
		if score > bestScore {
			best = &Registry[i]
			bestScore = score
		}
	}
	if best == nil || bestScore < 0.2 {
		return nil
	}
	return best
}

// normalizeDynamicSegment re-slugs the open tail of a dynamic registry path:
// lowercase, slash/space/dash to dot, strip unsafe characters, collapse and
// trim dots. "mory://skill/Python / FastAPI" becomes "mory://skill/python.fastapi".
func normalizeDynamicSegment(entry *RegistryEntry, fullPath string) string {
	slug := strings.ToLower(fullPath[len(entry.Path):])
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r == '/' || r == ' ' || r == '\t' || r == '-':
			b.WriteByte('.')
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", ".")
	}
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		cleaned = "unknown"
	}
	return entry.Path + cleaned
}

// fallbackPath synthesizes a dated event path for unmappable input.
func fallbackPath(hint string) string {
	today := timeNow().UTC().Format("2006-01-02")
	slug := "unknown"
	if hint != "" {
		tokens := pathTokens(hint)
		if len(tokens) > 3 {
			tokens = tokens[:3]
		}
		if len(tokens) > 0 {
			slug = strings.Join(tokens, "_")
		}
	}
	return Scheme + "event/" + today + "." + slug
}

// Normalize maps any raw path string to the nearest canonical mory:// URI.
//
// Strategy, in order:
//  1. Valid registry URI: returned as-is (dynamic tails re-slugged).
//  2. mory:// URI with a known type but unregistered subject: rebuilt from
//     the remaining tokens.
//  3. Tokenize and infer the type via exact names and alias maps, then build
//     the subject from the leftover non-noise tokens.
//  4. Token Jaccard against the whole registry, accepted at >= 0.2.
//  5. Dated event fallback.
//
// Normalization is idempotent: normalizing a canonical path returns it
// unchanged (dynamic re-slugging is itself a fixed point).
func Normalize(rawPath string) string {
	trimmed := strings.TrimSpace(rawPath)
	if trimmed == "" {
		return fallbackPath("")
	}

	if IsURI(trimmed) {
		if entry := LookupEntry(trimmed); entry != nil {
			if !entry.Dynamic {
				return trimmed
			}
			return normalizeDynamicSegment(entry, trimmed)
		}
		if knownType := TypeFromPath(trimmed); knownType != "" {
			_, remainder, _ := strings.Cut(trimmed[len(Scheme):], "/")
			return buildBestPath(knownType, pathTokens(remainder))
		}
	}

	tokens := pathTokens(trimmed)

	if inferred, ok := inferType(tokens); ok {
		// Locate the segment that triggered the type match; only that
		// segment is removed, the rest become the subject.
		typeIndex := -1
		for i, tok := range tokens {
			lo := strings.ReplaceAll(strings.ToLower(tok), "-", "_")
			_, prefPriority := preferencePriorityAliases[lo]
			_, aliased := typeAliases[lo]
			if Type(lo).Valid() || prefPriority || aliased {
				typeIndex = i
				break
			}
		}

		var subjectTokens []string
		for i, tok := range tokens {
			if i == typeIndex {
				continue
			}
			if _, noise := noiseSubjectTokens[tok]; noise {
				continue
			}
			subjectTokens = append(subjectTokens, tok)
		}

		// The trigger token can double as the subject hint, e.g. "lang_pref".
		if len(subjectTokens) == 0 && typeIndex >= 0 {
			return buildBestPath(inferred, []string{tokens[typeIndex]})
		}
		return buildBestPath(inferred, subjectTokens)
	}

	if match := bestRegistryMatch(tokens); match != nil {
		if !match.Dynamic {
			return match.Path
		}
		prefixTokens := pathTokens(match.Path)
		prefixSet := make(map[string]struct{}, len(prefixTokens))
		for _, t := range prefixTokens {
			prefixSet[t] = struct{}{}
		}
		var slugTokens []string
		for _, t := range tokens {
			if _, ok := prefixSet[t]; !ok {
				slugTokens = append(slugTokens, t)
			}
		}
		if len(slugTokens) == 0 {
			return match.Path + "unknown"
		}
		return match.Path + strings.Join(slugTokens, ".")
	}

	return fallbackPath(trimmed)
}

// BuildPath constructs the canonical path for a type plus subject, applying
// the same slug rules the registry uses.
func BuildPath(t Type, subject string) string {
	lower := strings.ToLower(subject)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r == '/' || r == ' ' || r == '\t' || r == '-':
			b.WriteByte('.')
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.':
			b.WriteRune(r)
		}
	}
	slug := b.String()
	for strings.Contains(slug, "..") {
		slug = strings.ReplaceAll(slug, "..", ".")
	}
	slug = strings.Trim(slug, ".")

	candidate := Scheme + string(t) + "/" + slug
	if entry := LookupEntry(candidate); entry != nil {
		if !entry.Dynamic {
			return candidate
		}
		return normalizeDynamicSegment(entry, candidate)
	}
	return candidate
}

// IsCanonicalPath reports whether path is a registry-recognized mory:// URI.
// Stricter than IsURI: dynamic entries require a nonempty slug.
func IsCanonicalPath(path string) bool {
	if !IsURI(path) {
		return false
	}
	entry := LookupEntry(path)
	if entry == nil {
		return false
	}
	if entry.Dynamic {
		return len(path) > len(entry.Path)
	}
	return true
}

// PathLabel renders a display-friendly label from a mory:// path.
func PathLabel(path string) string {
	if !IsURI(path) {
		return path
	}
	return strings.ReplaceAll(path[len(Scheme):], "/", " / ")
}

// PolicyForRawPath normalizes rawPath and returns its default update policy.
func PolicyForRawPath(rawPath string) UpdatePolicy {
	return DefaultPolicyFor(Normalize(rawPath))
}
