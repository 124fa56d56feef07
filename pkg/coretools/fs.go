package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/spf13/afero"
)

const defaultReadLimit = 200000

// identityFS roots the virtual filesystem at /<identity>.
func identityFS(fs afero.Fs, identity string) (afero.Fs, error) {
	root := "/" + identity
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare filesystem root: %w", err)
	}
	return afero.NewBasePathFs(fs, root), nil
}

// cleanPath resolves p inside the virtual root and rejects escapes.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "/"
	}
	if strings.ContainsRune(p, 0) {
		return "", toolexecutor.NewToolError("path contains a NUL byte", "Use a plain relative path.")
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", toolexecutor.NewToolError("path escapes the filesystem root: "+p, "Use a path inside your filesystem, e.g. notes/todo.md.")
		}
	}
	return path.Clean("/" + p), nil
}

func fsReadTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "fs_read",
		Description: "Read a file from your virtual filesystem.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 200000)"},
		},
		Args: func() toolexecutor.Args { return &fsReadArgs{MaxBytes: defaultReadLimit} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *fsReadArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			target, err := cleanPath(args.Path)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			fs, err := identityFS(opts.FS, inv.Identity)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			f, err := fs.Open(target)
			if errors.Is(err, os.ErrNotExist) {
				return toolexecutor.Output{}, toolexecutor.NewToolError("file not found: "+target, "Call fs_list to see existing files.")
			}
			if err != nil {
				return toolexecutor.Output{}, err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return toolexecutor.Output{}, err
			}
			if info.IsDir() {
				return toolexecutor.Output{}, toolexecutor.NewToolError(target+" is a directory", "Call fs_list for directories.")
			}

			limit := args.MaxBytes
			if limit <= 0 {
				limit = defaultReadLimit
			}
			data, err := io.ReadAll(io.LimitReader(f, limit+1))
			if err != nil {
				return toolexecutor.Output{}, err
			}
			truncated := int64(len(data)) > limit
			if truncated {
				data = data[:limit]
			}
			return toolexecutor.Output{Result: map[string]any{
				"path":      target,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}}, nil
		}),
	}
}

func fsWriteTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "fs_write",
		Description: "Write or append to a file in your virtual filesystem. Parent directories are created.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite (default false)"},
		},
		Args: func() toolexecutor.Args { return &fsWriteArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *fsWriteArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			target, err := cleanPath(args.Path)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			if target == "/" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("path is a directory", "Name a file, e.g. notes.md.")
			}
			fs, err := identityFS(opts.FS, inv.Identity)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			if err := fs.MkdirAll(path.Dir(target), 0o755); err != nil {
				return toolexecutor.Output{}, err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if args.Append {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := fs.OpenFile(target, flag, 0o644)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			if _, err := f.WriteString(args.Content); err != nil {
				f.Close()
				return toolexecutor.Output{}, err
			}
			if err := f.Close(); err != nil {
				return toolexecutor.Output{}, err
			}
			return toolexecutor.Output{Result: map[string]any{
				"path":   target,
				"bytes":  len(args.Content),
				"append": args.Append,
			}}, nil
		}),
	}
}

func fsListTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "fs_list",
		Description: "List a directory of your virtual filesystem.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path (default root)"},
		},
		Args: func() toolexecutor.Args { return &fsListArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *fsListArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			target, err := cleanPath(args.Path)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			fs, err := identityFS(opts.FS, inv.Identity)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			infos, err := afero.ReadDir(fs, target)
			if errors.Is(err, os.ErrNotExist) {
				return toolexecutor.Output{}, toolexecutor.NewToolError("directory not found: "+target, "List the root first.")
			}
			if err != nil {
				return toolexecutor.Output{}, err
			}
			entries := make([]map[string]any, 0, len(infos))
			for _, info := range infos {
				entries = append(entries, map[string]any{
					"name":  info.Name(),
					"dir":   info.IsDir(),
					"bytes": info.Size(),
				})
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i]["name"].(string) < entries[j]["name"].(string) })
			return toolexecutor.Output{Result: map[string]any{"path": target, "entries": entries}}, nil
		}),
	}
}
