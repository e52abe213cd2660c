package catalog

import "github.com/federated-memory/federated-memory/internal/model"

// categories lists the six topical modules in catalog order, used to seed
// categoryDistribution so every module reports a zero count for a category
// it happens to have no memories tagged with, rather than omitting it.
var categories = []string{Technical, Personal, Work, Learning, Communication, Creative}

// categoryDistribution buckets memories by their metadata.category field
// (falling back to "unspecified"), seeded with a zero count for each of the
// six built-in categories (§4.3 "category distribution for all six").
func categoryDistribution(memories []model.Memory) map[string]int {
	histogram := make(map[string]int, len(categories)+1)
	for _, c := range categories {
		histogram[c] = 0
	}
	for _, m := range memories {
		category, _ := m.Metadata["category"].(string)
		if category == "" {
			category = "unspecified"
		}
		histogram[category]++
	}
	return histogram
}

// Analyze produces the module-specific view over a user's memories in a
// module (§ "getModuleAnalysis"). Every module reports memoryCount plus a
// categoryDistribution; modules without a further specialization stop there.
func Analyze(moduleID string, memories []model.Memory) map[string]interface{} {
	base := map[string]interface{}{
		"memoryCount":         len(memories),
		"categoryDistribution": categoryDistribution(memories),
	}
	switch moduleID {
	case Work:
		return analyzeWork(memories, base)
	case Learning:
		return analyzeLearning(memories, base)
	case Communication:
		return analyzeCommunication(memories, base)
	default:
		return base
	}
}

// analyzeWork lists projects whose stage metadata isn't "done"/"archived".
func analyzeWork(memories []model.Memory, base map[string]interface{}) map[string]interface{} {
	seen := map[string]bool{}
	var active []string
	for _, m := range memories {
		name, _ := m.Metadata["projectName"].(string)
		stage, _ := m.Metadata["stage"].(string)
		if name == "" || seen[name] {
			continue
		}
		if stage == "done" || stage == "archived" {
			continue
		}
		seen[name] = true
		active = append(active, name)
	}
	base["activeProjects"] = active
	return base
}

// analyzeLearning histograms memories by their stage metadata.
func analyzeLearning(memories []model.Memory, base map[string]interface{}) map[string]interface{} {
	histogram := map[string]int{}
	for _, m := range memories {
		stage, _ := m.Metadata["stage"].(string)
		if stage == "" {
			stage = "unspecified"
		}
		histogram[stage]++
	}
	base["stageHistogram"] = histogram
	return base
}

// analyzeCommunication histograms memories by their caller-supplied
// sentiment metadata field. No NLP is performed; a memory without a
// sentiment field is counted as "unspecified".
func analyzeCommunication(memories []model.Memory, base map[string]interface{}) map[string]interface{} {
	histogram := map[string]int{}
	for _, m := range memories {
		sentiment, _ := m.Metadata["sentiment"].(string)
		if sentiment == "" {
			sentiment = "unspecified"
		}
		histogram[sentiment]++
	}
	base["sentimentHistogram"] = histogram
	return base
}
