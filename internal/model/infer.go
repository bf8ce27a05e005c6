package model

import (
	"sort"
	"strings"
)

// TypeSuggestion is a candidate element type derived from naming or metadata signals.
type TypeSuggestion struct {
	Type       ElementType
	Confidence int
	Evidence   map[string]any
}

// minInferenceConfidence is the quality bar for replacing an unknown type.
const minInferenceConfidence = 60

// SuggestElementTypes derives type candidates from element names (name, label, hostname...).
func SuggestElementTypes(names ...string) []TypeSuggestion {
	var out []TypeSuggestion
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}

		tokens := tokenize(name)
		matches := func(set ...string) string {
			for _, t := range tokens {
				for _, candidate := range set {
					if t == candidate {
						return candidate
					}
				}
			}
			return ""
		}

		add := func(typ ElementType, match string, confidence int) {
			out = append(out, TypeSuggestion{
				Type:       typ,
				Confidence: confidence,
				Evidence: map[string]any{
					"signal": "name",
					"name":   raw,
					"match":  match,
				},
			})
		}

		if m := matches("olt"); m != "" {
			add(ElementOLT, m, 85)
		} else if m := matches("ont", "onu", "cpe"); m != "" {
			add(ElementONT, m, 80)
		} else if m := matches("spl", "splitter"); m != "" {
			add(ElementSplitter, m, 80)
		} else if m := matches("amp", "amplifier", "edfa"); m != "" {
			add(ElementAmplifier, m, 75)
		} else if m := matches("splice", "sp", "closure"); m != "" {
			add(ElementSplicePoint, m, 70)
		} else if m := matches("dp", "fdp", "distribution"); m != "" {
			add(ElementDistributionPoint, m, 70)
		} else if m := matches("cab", "cabinet", "fdh"); m != "" {
			add(ElementCabinet, m, 70)
		} else if m := matches("mh", "manhole"); m != "" {
			add(ElementManhole, m, 65)
		} else if m := matches("pole"); m != "" {
			add(ElementPole, m, 65)
		} else if m := matches("term", "terminal", "nap"); m != "" {
			add(ElementTerminal, m, 65)
		}
	}
	return mergeSuggestions(out)
}

// InferElementType returns the best suggestion above the confidence bar.
func InferElementType(names ...string) (ElementType, bool) {
	suggestions := SuggestElementTypes(names...)
	if len(suggestions) == 0 || suggestions[0].Confidence < minInferenceConfidence {
		return ElementUnknown, false
	}
	return suggestions[0].Type, true
}

func mergeSuggestions(in []TypeSuggestion) []TypeSuggestion {
	byType := make(map[ElementType]TypeSuggestion)
	for _, s := range in {
		if s.Confidence <= 0 {
			continue
		}
		existing, ok := byType[s.Type]
		if !ok || s.Confidence > existing.Confidence {
			byType[s.Type] = s
		}
	}

	out := make([]TypeSuggestion, 0, len(byType))
	for _, v := range byType {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func tokenize(value string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, buf.String())
		buf.Reset()
	}

	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			buf.WriteRune(r)
		case r >= '0' && r <= '9':
			flush()
		default:
			flush()
		}
	}
	flush()
	return out
}
