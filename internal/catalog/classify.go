package catalog

import "strings"

// FreeSuffix is the upstream naming convention for free-tier variants.
const FreeSuffix = ":free"

// Pattern rules per tier, checked in priority order code > fast > balanced >
// heavy; first match wins and unmatched ids default to balanced.
var tierPatterns = []struct {
	tier     Tier
	patterns []string
}{
	{TierCode, []string{"coder", "codestral", "code-", "devstral"}},
	{TierFast, []string{"mini", "flash", "nano", "lite", "tiny", "small", "-7b", "-8b", "-9b", "3b-", "-3b", "-4b", "1b"}},
	{TierBalanced, []string{"-12b", "-24b", "-27b", "-32b", "nemo", "medium"}},
	{TierHeavy, []string{"-70b", "-72b", "-235b", "-405b", "large", "-r1", "maverick", "scout", "opus"}},
}

// Classify assigns a tier to a model id by pattern match over the lowercased
// id.
func Classify(modelID string) Tier {
	id := strings.ToLower(modelID)
	for _, rule := range tierPatterns {
		for _, p := range rule.patterns {
			if strings.Contains(id, p) {
				return rule.tier
			}
		}
	}
	return TierBalanced
}

// NormalizeID ensures the id carries the free-tier suffix.
func NormalizeID(modelID string) string {
	if strings.HasSuffix(modelID, FreeSuffix) {
		return modelID
	}
	return modelID + FreeSuffix
}

// HumanName produces a display name from an upstream id:
// "meta-llama/llama-3.3-70b-instruct:free" -> "Llama 3.3 70B Instruct".
func HumanName(modelID string) string {
	name := strings.TrimSuffix(modelID, FreeSuffix)
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_'
	})
	for i, p := range parts {
		parts[i] = humanizeToken(p)
	}
	return strings.Join(parts, " ")
}

func humanizeToken(tok string) string {
	// Parameter-count tokens keep the B uppercased: 70b -> 70B.
	if len(tok) > 1 && (tok[len(tok)-1] == 'b' || tok[len(tok)-1] == 'B') && isDigits(tok[:len(tok)-1]) {
		return tok[:len(tok)-1] + "B"
	}
	if tok == "" {
		return tok
	}
	return strings.ToUpper(tok[:1]) + tok[1:]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
