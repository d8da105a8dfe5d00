package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentkernel/kernel/internal/vfs"
)

const nearestPathSuggestions = 3

type vfsReadArgs struct {
	Path string `json:"path"`
}

type vfsReadTool struct{ vfs vfs.VFS }

func (t *vfsReadTool) Name() string { return "vfs_read" }

func (t *vfsReadTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	var args vfsReadArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("vfs_read: invalid args: %w", err)
	}
	data, err := t.vfs.Read(ctx, args.Path)
	if err == nil {
		return Result{Content: string(data)}, nil
	}

	if _, ok := err.(*vfs.ErrNotFound); !ok {
		return Result{}, err
	}

	paths, listErr := t.vfs.List(ctx, "**")
	if listErr != nil || len(paths) == 0 {
		return Result{Content: fmt.Sprintf("not found: %s", args.Path), IsError: true}, nil
	}
	suggestions := vfs.NearestPaths(args.Path, paths, nearestPathSuggestions)
	return Result{
		Content: fmt.Sprintf("not found: %s (did you mean: %s?)", args.Path, strings.Join(suggestions, ", ")),
		IsError: true,
	}, nil
}

type vfsWriteArgs struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

type vfsWriteTool struct{ vfs vfs.VFS }

func (t *vfsWriteTool) Name() string { return "vfs_write" }

func (t *vfsWriteTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	var args vfsWriteArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("vfs_write: invalid args: %w", err)
	}
	if err := t.vfs.Write(ctx, args.Path, []byte(args.Content)); err != nil {
		return Result{}, err
	}
	return Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)}, nil
}

type vfsListArgs struct {
	Pattern string `json:"pattern,omitempty"`
}

type vfsListTool struct{ vfs vfs.VFS }

func (t *vfsListTool) Name() string { return "vfs_list" }

func (t *vfsListTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	var args vfsListArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("vfs_list: invalid args: %w", err)
	}
	pattern := args.Pattern
	if pattern == "" {
		pattern = "**"
	}
	paths, err := t.vfs.List(ctx, pattern)
	if err != nil {
		return Result{}, err
	}
	encoded, err := json.Marshal(paths)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: string(encoded)}, nil
}

type vfsDeleteArgs struct {
	Path string `json:"path"`
}

type vfsDeleteTool struct{ vfs vfs.VFS }

func (t *vfsDeleteTool) Name() string { return "vfs_delete" }

func (t *vfsDeleteTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	var args vfsDeleteArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("vfs_delete: invalid args: %w", err)
	}
	if err := t.vfs.Delete(ctx, args.Path); err != nil {
		return Result{}, err
	}
	return Result{Content: fmt.Sprintf("deleted %s", args.Path)}, nil
}
