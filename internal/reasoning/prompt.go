package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// promptExcerpt is how much document text a decision prompt embeds.
const promptExcerpt = 1500

// BuildPrompt assembles the decision prompt: document identity, a text
// excerpt, tags, metadata, the question and the allowed labels.
func BuildPrompt(question string, options []string, doc *schema.ExecutionContext) string {
	if doc == nil {
		doc = &schema.ExecutionContext{}
	}

	tags := "none"
	if len(doc.Tags) > 0 {
		tags = strings.Join(doc.Tags, ", ")
	}
	metadata := "{}"
	if len(doc.Metadata) > 0 {
		if data, err := json.Marshal(doc.Metadata); err == nil {
			metadata = string(data)
		}
	}

	var b strings.Builder
	b.WriteString("You are routing a document through an automation workflow.\n\n")
	fmt.Fprintf(&b, "Document ID: %s\n", doc.DocID)
	fmt.Fprintf(&b, "Tags: %s\n", tags)
	fmt.Fprintf(&b, "Metadata: %s\n", metadata)
	fmt.Fprintf(&b, "Text excerpt:\n%s\n\n", doc.TextExcerpt(promptExcerpt))
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "Options: %s\n\n", strings.Join(options, ", "))
	b.WriteString("Answer with exactly one of the options above and nothing else.")
	return b.String()
}
