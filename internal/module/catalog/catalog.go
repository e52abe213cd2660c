// Package catalog defines the six built-in topical modules.
package catalog

import "github.com/federated-memory/federated-memory/internal/model"

const (
	Technical     = "technical"
	Personal      = "personal"
	Work          = "work"
	Learning      = "learning"
	Communication = "communication"
	Creative      = "creative"

	// DefaultModuleID is the module a memory routes to when no
	// classification rule matches (§4.5 "Routing writes").
	DefaultModuleID = Personal
)

// Descriptors returns the six built-in ModuleDescriptors in a fixed
// evaluation order: rule-bearing modules first, Personal last since it is
// also the classification default.
func Descriptors(embeddingDimension int) []model.ModuleDescriptor {
	return []model.ModuleDescriptor{
		{
			ID:                 Technical,
			Name:               "Technical",
			Description:        "Programming languages, frameworks, tools, error messages, and technical decisions.",
			Type:               "technical",
			EmbeddingDimension: embeddingDimension,
			TableName:          "module_technical",
			ClassifyHints: []model.ClassifyRule{
				{MetadataField: "type", MetadataValue: "technical"},
				{Tag: "technical"},
				{Tag: "code"},
				{ContentRegex: `\b(function|class|bug|stack trace|compile|exception|refactor|deploy(ed|ment)?)\b`},
			},
		},
		{
			ID:                 Work,
			Name:               "Work",
			Description:        "Projects, deadlines, meetings, and professional responsibilities.",
			Type:               "work",
			EmbeddingDimension: embeddingDimension,
			TableName:          "module_work",
			ClassifyHints: []model.ClassifyRule{
				{MetadataField: "type", MetadataValue: "work"},
				{MetadataField: "type", MetadataValue: "project"},
				{MetadataField: "category", MetadataValue: "work"},
				{Tag: "work"},
				{Tag: "project"},
				{ContentRegex: `\b(deadline|sprint|meeting|stakeholder|project|deliverable)\b`},
			},
		},
		{
			ID:                 Learning,
			Name:               "Learning",
			Description:        "Subjects being studied, courses, and learning progress.",
			Type:               "learning",
			EmbeddingDimension: embeddingDimension,
			TableName:          "module_learning",
			ClassifyHints: []model.ClassifyRule{
				{MetadataField: "type", MetadataValue: "learning"},
				{Tag: "learning"},
				{Tag: "study"},
				{ContentRegex: `\b(learn(ing|ed)?|course|tutorial|studying|practice(d)?)\b`},
			},
		},
		{
			ID:                 Communication,
			Name:               "Communication",
			Description:        "Conversations, messages, and interactions with other people.",
			Type:               "communication",
			EmbeddingDimension: embeddingDimension,
			TableName:          "module_communication",
			ClassifyHints: []model.ClassifyRule{
				{MetadataField: "type", MetadataValue: "communication"},
				{Tag: "communication"},
				{Tag: "conversation"},
				{ContentRegex: `\b(said|told|messaged|emailed|called|replied)\b`},
			},
		},
		{
			ID:                 Creative,
			Name:               "Creative",
			Description:        "Creative projects, writing, art, music, and design ideas.",
			Type:               "creative",
			EmbeddingDimension: embeddingDimension,
			TableName:          "module_creative",
			ClassifyHints: []model.ClassifyRule{
				{MetadataField: "type", MetadataValue: "creative"},
				{Tag: "creative"},
				{ContentRegex: `\b(sketch|draft|compose|design(ing)?|story|melody|palette)\b`},
			},
		},
		{
			ID:                 Personal,
			Name:               "Personal",
			Description:        "Mood, relationships, locations, and everyday personal life. Classification default.",
			Type:               "personal",
			EmbeddingDimension: embeddingDimension,
			TableName:          "module_personal",
			ClassifyHints:      nil, // matches nothing; reached only as the registry's default fallback
		},
	}
}
