package module

import (
	"regexp"
	"strings"

	"github.com/federated-memory/federated-memory/internal/model"
)

// Matches reports whether content/metadata satisfy rule, applying the
// ordered precedence from §4.5 "Routing writes": exact metadata match, then
// tag tokens, then content regex.
func Matches(rule model.ClassifyRule, content string, metadata map[string]interface{}) bool {
	switch {
	case rule.MetadataField != "":
		v, ok := metadata[rule.MetadataField]
		if !ok {
			return false
		}
		return strings.EqualFold(toString(v), rule.MetadataValue)

	case rule.Tag != "":
		tags, _ := metadata["tags"].([]interface{})
		for _, t := range tags {
			if strings.EqualFold(toString(t), rule.Tag) {
				return true
			}
		}
		if tagsStr, ok := metadata["tags"].(string); ok {
			for _, t := range strings.Split(tagsStr, ",") {
				if strings.EqualFold(strings.TrimSpace(t), rule.Tag) {
					return true
				}
			}
		}
		return false

	case rule.ContentRegex != "":
		re, err := regexp.Compile("(?i)" + rule.ContentRegex)
		if err != nil {
			return false
		}
		return re.MatchString(content)
	}
	return false
}

// Classify evaluates a module's ClassifyHints in order and reports whether
// any rule matches.
func Classify(desc model.ModuleDescriptor, content string, metadata map[string]interface{}) bool {
	for _, rule := range desc.ClassifyHints {
		if Matches(rule, content, metadata) {
			return true
		}
	}
	return false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
