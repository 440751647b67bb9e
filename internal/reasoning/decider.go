package reasoning

import (
	"context"
	"log/slog"

	"github.com/dmscode/dmsflow/internal/llm"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// Decision is the outcome of one LLM_DECISION node.
type Decision struct {
	Label string `json:"label"`
	// Fallback is set when no option appeared in the response and the
	// first declared option was chosen instead.
	Fallback bool   `json:"fallback,omitempty"`
	Raw      string `json:"raw,omitempty"`
}

// Decider maps a free-text completion onto one of a node's labeled options.
type Decider struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewDecider creates a Decider. A nil completer makes every decision a fallback.
func NewDecider(c llm.Completer, logger *slog.Logger) *Decider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{completer: c, logger: logger}
}

// Decide asks the reasoning backend to choose among p.Options. It never
// fails: backend errors and unrecognized answers fall back to the first option.
func (d *Decider) Decide(ctx context.Context, p schema.DecisionPayload, doc *schema.ExecutionContext) Decision {
	if len(p.Options) == 0 {
		return Decision{Fallback: true}
	}

	var raw string
	if d.completer != nil {
		raw = llm.CompleteOrEmpty(ctx, d.completer, BuildPrompt(p.Question, p.Options, doc), d.logger)
	}

	if label, ok := MatchOption(raw, p.Options); ok {
		d.logger.DebugContext(ctx, "decision made",
			slog.String("question", p.Question),
			slog.String("label", label),
		)
		return Decision{Label: label, Raw: raw}
	}

	d.logger.WarnContext(ctx, "low-confidence decision, using first option",
		slog.String("question", p.Question),
		slog.String("label", p.Options[0]),
		slog.String("response", raw),
	)
	return Decision{Label: p.Options[0], Fallback: true, Raw: raw}
}
