package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dmscode/dmsflow/internal/actions"
	"github.com/dmscode/dmsflow/internal/validation"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// runValidate checks a flow file and prints its issues. It returns the exit
// code: 0 valid, 1 invalid, 2 usage or I/O error.
func runValidate(args []string, out io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(out, "usage: dmsflow validate <flow.json>")
		return 2
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 2
	}

	// Built-ins register without collaborators so unknown action types warn.
	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, actions.Collaborators{}, actions.HTTPConfig{}, actions.FilesConfig{}, nil); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 2
	}
	v, err := validation.NewFlowValidator(registry)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 2
	}

	flow, result := v.ValidateJSON(data)
	printIssues(out, "error", result.Errors)
	printIssues(out, "warning", result.Warnings)
	if !result.Valid() {
		fmt.Fprintf(out, "%s: invalid (%d errors, %d warnings)\n", args[0], len(result.Errors), len(result.Warnings))
		return 1
	}
	fmt.Fprintf(out, "%s: flow %q is valid (%d nodes, %d edges, %d warnings)\n",
		args[0], flow.Name, len(flow.Nodes), len(flow.Edges), len(result.Warnings))
	return 0
}

func printIssues(out io.Writer, severity string, issues []schema.ValidationIssue) {
	for _, is := range issues {
		fmt.Fprintf(out, "  %s %s [%s]: %s\n", severity, is.Path, is.Code, is.Message)
	}
}
