package actions

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// FilesConfig configures move_file, copy_file and delete_file.
type FilesConfig struct {
	// Root confines every source and destination path. Empty disables the actions.
	Root string
}

// FileActions returns the file-handling actions.
func FileActions(cfg FilesConfig) []Action {
	return []Action{
		&moveFileAction{cfg: cfg},
		&copyFileAction{cfg: cfg},
		&deleteFileAction{cfg: cfg},
	}
}

// resolveInRoot makes p absolute (relative paths are taken from root),
// resolves symlinks on its longest existing ancestor and rejects anything
// that lands outside root.
func resolveInRoot(root, p string) (string, error) {
	if root == "" {
		return "", unavailable("file actions", "files root")
	}
	if p == "" || strings.ContainsRune(p, 0) {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid path %q", p)
	}
	base, err := cleanPath(root)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid files root %q: %v", root, err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	clean, err := cleanPath(p)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid path %q: %v", p, err)
	}
	rel, err := filepath.Rel(base, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "path %q escapes files root", p)
	}
	return clean, nil
}

func cleanPath(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Resolve the longest existing ancestor and re-append the missing suffix.
	dir, suffix := abs, ""
	for {
		parent := filepath.Dir(dir)
		suffix = filepath.Join(filepath.Base(dir), suffix)
		if parent == dir {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		dir = parent
	}
}

// destination resolves the "destination" param. An existing directory or a
// trailing separator keeps the source file name.
func destination(root, src string, params map[string]any) (string, error) {
	raw := stringParam(params, "destination", "")
	dst, err := resolveInRoot(root, raw)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(raw, "/") || strings.HasSuffix(raw, string(filepath.Separator)) {
		return filepath.Join(dst, filepath.Base(src)), nil
	}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		return filepath.Join(dst, filepath.Base(src)), nil
	}
	return dst, nil
}

func sourcePath(root string, doc *schema.ExecutionContext) (string, error) {
	if doc.FilePath == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "document has no file path")
	}
	return resolveInRoot(root, doc.FilePath)
}

func copyRegularFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// --- move_file ---

type moveFileAction struct{ cfg FilesConfig }

func (a *moveFileAction) Name() string { return "move_file" }

func (a *moveFileAction) Schema() ActionSchema {
	return ActionSchema{Description: "Move the document's file within the files root", Required: []string{"destination"}}
}

func (a *moveFileAction) Validate(params map[string]any) error {
	return requireParams(a.Name(), params, "destination")
}

func (a *moveFileAction) Execute(_ context.Context, input ActionInput) error {
	src, err := sourcePath(a.cfg.Root, input.Doc)
	if err != nil {
		return err
	}
	dst, err := destination(a.cfg.Root, src, input.Params)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "move_file: %v", err).WithCause(err)
	}
	if err := os.Rename(src, dst); err != nil {
		// Cross-device moves fall back to copy and remove.
		if cerr := copyRegularFile(src, dst); cerr != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "move_file: %v", err).WithCause(err)
		}
		if rerr := os.Remove(src); rerr != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "move_file: remove source: %v", rerr).WithCause(rerr)
		}
	}
	input.Doc.FilePath = dst
	return nil
}

// --- copy_file ---

type copyFileAction struct{ cfg FilesConfig }

func (a *copyFileAction) Name() string { return "copy_file" }

func (a *copyFileAction) Schema() ActionSchema {
	return ActionSchema{Description: "Copy the document's file within the files root", Required: []string{"destination"}}
}

func (a *copyFileAction) Validate(params map[string]any) error {
	return requireParams(a.Name(), params, "destination")
}

func (a *copyFileAction) Execute(_ context.Context, input ActionInput) error {
	src, err := sourcePath(a.cfg.Root, input.Doc)
	if err != nil {
		return err
	}
	dst, err := destination(a.cfg.Root, src, input.Params)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "copy_file: %v", err).WithCause(err)
	}
	if err := copyRegularFile(src, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "copy_file: %v", err).WithCause(err)
	}
	return nil
}

// --- delete_file ---

type deleteFileAction struct{ cfg FilesConfig }

func (a *deleteFileAction) Name() string { return "delete_file" }

func (a *deleteFileAction) Schema() ActionSchema {
	return ActionSchema{Description: "Delete the document's file within the files root"}
}

func (a *deleteFileAction) Validate(map[string]any) error { return nil }

// Execute removes the file. The context keeps its file path so later nodes
// and webhooks still identify what was removed.
func (a *deleteFileAction) Execute(_ context.Context, input ActionInput) error {
	src, err := sourcePath(a.cfg.Root, input.Doc)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "delete_file: %v", err).WithCause(err)
	}
	return nil
}
