package actions

import (
	"context"

	"github.com/dmscode/dmsflow/internal/extraction"
	"github.com/dmscode/dmsflow/internal/llm"
)

// --- ask_llm ---

type askLLMAction struct {
	completer llm.Completer
}

// NewAskLLMAction creates ask_llm. The raw response is stored in the
// context's outputs under the node id.
func NewAskLLMAction(c llm.Completer) Action {
	return &askLLMAction{completer: c}
}

func (a *askLLMAction) Name() string { return "ask_llm" }

func (a *askLLMAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Ask the reasoning backend; {doc_id}, {text} and {tags} are interpolated",
		Required:    []string{"prompt"},
	}
}

func (a *askLLMAction) Validate(params map[string]any) error {
	return requireParams(a.Name(), params, "prompt")
}

func (a *askLLMAction) CollaboratorKey(map[string]any) string { return "llm" }

func (a *askLLMAction) Execute(ctx context.Context, input ActionInput) error {
	if a.completer == nil {
		input.Doc.SetOutput(input.NodeID, "")
		return unavailable(a.Name(), "reasoning backend")
	}
	prompt := renderTemplate(stringParam(input.Params, "prompt", ""), input.Doc)
	out, err := a.completer.Complete(ctx, prompt)
	input.Doc.SetOutput(input.NodeID, out)
	return err
}

// --- extract_entities ---

type extractEntitiesAction struct {
	extractor extraction.Extractor
}

// NewExtractEntitiesAction creates extract_entities. On success the context's
// entity list is replaced; on failure it is left unchanged.
func NewExtractEntitiesAction(x extraction.Extractor) Action {
	return &extractEntitiesAction{extractor: x}
}

func (a *extractEntitiesAction) Name() string { return "extract_entities" }

func (a *extractEntitiesAction) Schema() ActionSchema {
	return ActionSchema{Description: "Extract entities from the document text"}
}

func (a *extractEntitiesAction) Validate(map[string]any) error { return nil }

func (a *extractEntitiesAction) CollaboratorKey(map[string]any) string { return "extraction" }

func (a *extractEntitiesAction) Execute(ctx context.Context, input ActionInput) error {
	if a.extractor == nil {
		return unavailable(a.Name(), "extraction service")
	}
	doc := input.Doc
	entities, err := a.extractor.Extract(ctx, doc.DocID, doc.Text, doc.Metadata)
	if err != nil {
		return err
	}
	doc.Entities = entities
	return nil
}
