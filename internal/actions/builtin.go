package actions

import (
	"log/slog"

	"github.com/dmscode/dmsflow/internal/extraction"
	"github.com/dmscode/dmsflow/internal/llm"
)

// Collaborators are the external services built-in actions call. Nil
// collaborators leave their actions registered but unavailable.
type Collaborators struct {
	Completer llm.Completer
	Extractor extraction.Extractor
	Mailer    Mailer
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, collab Collaborators, httpCfg HTTPConfig, filesCfg FilesConfig, logger *slog.Logger) error {
	all := make([]Action, 0, 16)

	// Context mutation.
	all = append(all,
		&addTagAction{},
		&removeTagAction{},
		&setMetadataAction{},
	)

	// External collaborators.
	all = append(all,
		NewWebhookAction(httpCfg, logger),
		NewCalendarAction(httpCfg),
		NewAskLLMAction(collab.Completer),
		NewExtractEntitiesAction(collab.Extractor),
		NewSendEmailAction(collab.Mailer),
	)

	// Files.
	all = append(all, FileActions(filesCfg)...)

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
