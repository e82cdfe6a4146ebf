package rules

import "strings"

// FactKind is the declared type of a named fact.
type FactKind int

const (
	KindInt FactKind = iota
	KindString
	KindStringSet
)

func (k FactKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindStringSet:
		return "set"
	default:
		return "unknown"
	}
}

// Schema maps lowercased fact identifiers to their kind for one reward type.
type Schema map[string]FactKind

// Kind looks up an identifier case-insensitively.
func (s Schema) Kind(ident string) (FactKind, bool) {
	k, ok := s[strings.ToLower(ident)]
	return k, ok
}

// Fact schemas per reward type. Rules for a reward type may only reference
// identifiers declared here; compilation rejects anything else.
var schemas = map[string]Schema{
	"patreon": {
		"lifetimecents": KindInt,
		"monthlycents":  KindInt,
		"tiers":         KindStringSet,
	},
	"github": {
		"teams": KindStringSet,
	},
	"discord": {
		"guilds": KindStringSet,
		"roles":  KindStringSet,
	},
}

// SchemaFor returns the fact schema for a reward type.
func SchemaFor(rewardType string) (Schema, bool) {
	s, ok := schemas[strings.ToLower(rewardType)]
	return s, ok
}

// RewardTypes lists every reward type with a registered fact schema.
func RewardTypes() []string {
	out := make([]string, 0, len(schemas))
	for t := range schemas {
		out = append(out, t)
	}
	return out
}
