package scene

import (
	"sort"
	"strings"

	"fibermap/core-go/internal/model"
)

// LabelCandidate is a possible display label and where it came from.
type LabelCandidate struct {
	Name   string
	Source string
}

const minLabelScore = 40

// NormalizeLabel trims a candidate and scores it; ok is false for unusable names.
func NormalizeLabel(source, raw string) (label string, score int, ok bool) {
	source = strings.ToLower(strings.TrimSpace(source))
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", 0, false
	}
	name = strings.Join(strings.Fields(name), " ")
	if source == "hostname" {
		name = strings.TrimSuffix(name, ".")
		if head, _, found := strings.Cut(name, "."); found && head != "" && !strings.Contains(name, " ") {
			name = head
		}
	}

	s := scoreLabel(source, name)
	if s < 0 {
		return name, s, false
	}
	return name, s, true
}

func scoreLabel(source, name string) int {
	base := 0
	switch source {
	case "name":
		base = 100
	case "label":
		base = 90
	case "hostname":
		base = 70
	case "code":
		base = 60
	case "id":
		base = 40
	default:
		base = 30
	}

	lower := strings.ToLower(name)
	switch lower {
	case "unknown", "n/a", "none", "null", "-":
		return -1
	}
	if len(name) > 48 {
		base -= 20
	}
	if len(name) < 2 {
		base -= 15
	}
	return base
}

// ChooseLabel returns the best-scoring usable candidate.
func ChooseLabel(candidates []LabelCandidate) (string, bool) {
	bestLabel, bestScore := "", -1
	for _, c := range candidates {
		label, score, ok := NormalizeLabel(c.Source, c.Name)
		if !ok || score < minLabelScore {
			continue
		}
		if score > bestScore || (score == bestScore && label < bestLabel) {
			bestLabel, bestScore = label, score
		}
	}
	if bestScore < minLabelScore {
		return "", false
	}
	return bestLabel, true
}

// LabelCandidates collects label candidates from an element, ordered by descending score.
func LabelCandidates(e *model.NetworkElement) []LabelCandidate {
	var out []LabelCandidate
	if e.Name != nil {
		out = append(out, LabelCandidate{Name: *e.Name, Source: "name"})
	}
	for _, key := range []string{"label", "hostname", "code"} {
		if v, ok := e.Metadata[key].(string); ok {
			out = append(out, LabelCandidate{Name: v, Source: key})
		}
	}
	out = append(out, LabelCandidate{Name: e.ID, Source: "id"})

	sort.SliceStable(out, func(i, j int) bool {
		_, si, _ := NormalizeLabel(out[i].Source, out[i].Name)
		_, sj, _ := NormalizeLabel(out[j].Source, out[j].Name)
		return si > sj
	})
	return out
}

// ElementLabel picks the display label for an element, falling back to its id.
func ElementLabel(e *model.NetworkElement) string {
	if label, ok := ChooseLabel(LabelCandidates(e)); ok {
		return label
	}
	return e.ID
}
