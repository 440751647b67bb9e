package actions

import (
	"context"
	"strings"
)

// --- add_tag ---

type addTagAction struct{}

func (a *addTagAction) Name() string { return "add_tag" }

func (a *addTagAction) Schema() ActionSchema {
	return ActionSchema{Description: "Add a tag to the document", Required: []string{"tag"}}
}

func (a *addTagAction) Validate(params map[string]any) error {
	return requireParams(a.Name(), params, "tag")
}

func (a *addTagAction) Execute(_ context.Context, input ActionInput) error {
	input.Doc.AddTag(strings.TrimSpace(stringParam(input.Params, "tag", "")))
	return nil
}

// --- remove_tag ---

type removeTagAction struct{}

func (a *removeTagAction) Name() string { return "remove_tag" }

func (a *removeTagAction) Schema() ActionSchema {
	return ActionSchema{Description: "Remove a tag from the document", Required: []string{"tag"}}
}

func (a *removeTagAction) Validate(params map[string]any) error {
	return requireParams(a.Name(), params, "tag")
}

func (a *removeTagAction) Execute(_ context.Context, input ActionInput) error {
	input.Doc.RemoveTag(strings.TrimSpace(stringParam(input.Params, "tag", "")))
	return nil
}

// --- set_metadata ---

type setMetadataAction struct{}

func (a *setMetadataAction) Name() string { return "set_metadata" }

func (a *setMetadataAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Set a metadata key on the document",
		Required:    []string{"key"},
		Optional:    []string{"value"},
	}
}

func (a *setMetadataAction) Validate(params map[string]any) error {
	return requireParams(a.Name(), params, "key")
}

func (a *setMetadataAction) Execute(_ context.Context, input ActionInput) error {
	if input.Doc.Metadata == nil {
		input.Doc.Metadata = make(map[string]any)
	}
	v := input.Params["value"]
	if s, ok := v.(string); ok {
		v = renderTemplate(s, input.Doc)
	}
	input.Doc.Metadata[stringParam(input.Params, "key", "")] = v
	return nil
}
