// Package retrieval turns a user query into a scoped recall plan, fuses
// semantic and lexical signals into a ranked hit list, and renders the
// layered L0/L1/L2 prompt context.
package retrieval

import (
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Intent classifies what a query is after. It decides which memory types
// and path scopes are worth recalling.
type Intent string

const (
	IntentChat     Intent = "chat"
	IntentWork     Intent = "work"
	IntentLearning Intent = "learning"
	IntentIncident Intent = "incident"
	IntentProfile  Intent = "profile"
)

// Plan scopes one retrieval request.
type Plan struct {
	Intent       Intent        `json:"intent"`
	MemoryTypes  []memory.Type `json:"memory_types"`
	PathPrefixes []string      `json:"path_prefixes"`
	TopK         int           `json:"top_k"`
	Rationale    string        `json:"rationale"`
}

// PlannerOptions tunes plan construction.
type PlannerOptions struct {
	// DefaultTopK for learning and incident intents. Default 8.
	DefaultTopK int
	// WorkTopK for work intent. Default 10.
	WorkTopK int
	// ChatTopK for chat and profile intents. Default 6.
	ChatTopK int
	// PathNamespace is prepended to every path prefix, for multi-tenant
	// deployments that namespace the mory:// tree.
	PathNamespace string
}

// intentHints are keyword triggers per intent, both English and Chinese.
// Substring match on the lowercased query.
var intentHints = map[Intent][]string{
	IntentChat:     {"随便聊", "聊天", "最近", "today", "today's", "just chat"},
	IntentWork:     {"项目", "任务", "debug", "fix", "deploy", "roadmap", "实现", "方案"},
	IntentLearning: {"学习", "教程", "how to", "example", "最佳实践", "best practice"},
	IntentIncident: {"事故", "故障", "报错", "incident", "error", "宕机", "异常"},
	IntentProfile:  {"我喜欢", "偏好", "我的", "my preference", "my name", "call me"},
}

func hasAny(text string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(text, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

// InferIntent classifies a query. Incident outranks work outranks learning
// outranks profile outranks chat; unmatched queries default to chat.
func InferIntent(query string) Intent {
	q := strings.ToLower(query)
	switch {
	case hasAny(q, intentHints[IntentIncident]):
		return IntentIncident
	case hasAny(q, intentHints[IntentWork]):
		return IntentWork
	case hasAny(q, intentHints[IntentLearning]):
		return IntentLearning
	case hasAny(q, intentHints[IntentProfile]):
		return IntentProfile
	default:
		return IntentChat
	}
}

func prefixed(namespace, path string) string {
	return namespace + path
}

// BuildPlan infers the query intent and maps it onto memory types, path
// scopes, and a topK budget.
func BuildPlan(query string, opts PlannerOptions) Plan {
	intent := InferIntent(query)
	ns := opts.PathNamespace

	defaultTopK := opts.DefaultTopK
	if defaultTopK == 0 {
		defaultTopK = 8
	}
	chatTopK := opts.ChatTopK
	if chatTopK == 0 {
		chatTopK = 6
	}
	workTopK := opts.WorkTopK
	if workTopK == 0 {
		workTopK = 10
	}

	switch intent {
	case IntentWork:
		return Plan{
			Intent:      intent,
			MemoryTypes: []memory.Type{memory.TypeTask, memory.TypeSkill, memory.TypeEvent, memory.TypeUserPreference},
			PathPrefixes: []string{
				prefixed(ns, "mory://task/"),
				prefixed(ns, "mory://skill/"),
				prefixed(ns, "mory://event/"),
				prefixed(ns, "mory://user_preference/"),
			},
			TopK:      workTopK,
			Rationale: "work query: prioritize task state, skills, and relevant incidents",
		}
	case IntentLearning:
		return Plan{
			Intent:      intent,
			MemoryTypes: []memory.Type{memory.TypeSkill, memory.TypeWorldKnowledge, memory.TypeTask},
			PathPrefixes: []string{
				prefixed(ns, "mory://skill/"),
				prefixed(ns, "mory://world_knowledge/"),
				prefixed(ns, "mory://task/"),
			},
			TopK:      defaultTopK,
			Rationale: "learning query: prioritize skills and reusable knowledge",
		}
	case IntentIncident:
		return Plan{
			Intent:      intent,
			MemoryTypes: []memory.Type{memory.TypeEvent, memory.TypeTask, memory.TypeWorldKnowledge},
			PathPrefixes: []string{
				prefixed(ns, "mory://event/"),
				prefixed(ns, "mory://task/"),
				prefixed(ns, "mory://world_knowledge/"),
			},
			TopK:      defaultTopK,
			Rationale: "incident query: prioritize event timeline and operational context",
		}
	case IntentProfile:
		return Plan{
			Intent:      intent,
			MemoryTypes: []memory.Type{memory.TypeUserPreference, memory.TypeUserFact, memory.TypeTask},
			PathPrefixes: []string{
				prefixed(ns, "mory://user_preference/"),
				prefixed(ns, "mory://user_fact/"),
				prefixed(ns, "mory://task/current"),
			},
			TopK:      chatTopK,
			Rationale: "profile query: prioritize stable preferences and user facts",
		}
	default:
		return Plan{
			Intent:      IntentChat,
			MemoryTypes: []memory.Type{memory.TypeUserPreference, memory.TypeUserFact, memory.TypeEvent},
			PathPrefixes: []string{
				prefixed(ns, "mory://user_preference/"),
				prefixed(ns, "mory://user_fact/"),
				prefixed(ns, "mory://event/"),
			},
			TopK:      chatTopK,
			Rationale: "general chat: prioritize personalization and recent events",
		}
	}
}
