package actions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Param helpers used by all action files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

// stringListParam accepts a list of strings or a comma-separated string.
func stringListParam(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// promptTextLimit is how much document text prompt templates embed.
const promptTextLimit = 2000

// renderTemplate substitutes {doc_id}, {file_path}, {text} and {tags}.
// {text} is limited to the first promptTextLimit characters.
func renderTemplate(tmpl string, doc *schema.ExecutionContext) string {
	r := strings.NewReplacer(
		"{doc_id}", doc.DocID,
		"{file_path}", doc.FilePath,
		"{text}", doc.TextExcerpt(promptTextLimit),
		"{tags}", strings.Join(doc.Tags, ", "),
	)
	return r.Replace(tmpl)
}

// unavailable is returned by actions whose collaborator is not configured.
func unavailable(action, what string) error {
	return schema.NewError(schema.ErrCodeActionUnavailable, fmt.Sprintf("%s: %s not configured", action, what))
}
