// Package files exposes the workspace operations as MCP tools.
package files

import (
	"context"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/operation"
	"github.com/go-training/workspace-mcp/pkg/workspace"

	"github.com/mark3labs/mcp-go/mcp"
)

// Workspace is the subset of workspace.Client the tools call.
type Workspace interface {
	Ls(ctx context.Context, token string, paths []string) (map[string][]workspace.Object, error)
	GetMetadata(ctx context.Context, token, path string) (*workspace.Object, error)
	Download(ctx context.Context, token, path string) ([]byte, error)
	Upload(ctx context.Context, token, path, objType string) (*workspace.UploadTarget, error)
	Search(ctx context.Context, token, path, query, objType string) ([]workspace.Object, error)
}

// TokenSource resolves the token for a call.
type TokenSource interface {
	Token(ctx context.Context, explicit string) (string, error)
}

// Download is the workspace_download_file payload. Content that is not
// valid UTF-8 is base64 encoded.
type Download struct {
	Path     string `json:"path"`
	Size     int    `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// SearchResult is the workspace_search payload.
type SearchResult struct {
	Path    string             `json:"path"`
	Query   string             `json:"query"`
	Count   int                `json:"count"`
	Results []workspace.Object `json:"results"`
}

func tokenArg() mcp.ToolOption {
	return mcp.WithString("token",
		mcp.Description("Workspace token (optional, defaults to the request or configured token)"),
	)
}

var (
	LsTool = mcp.NewTool("workspace_ls",
		mcp.WithDescription("List the contents of the workspace. With no paths, lists the caller's top-level workspaces."),
		tokenArg(),
		mcp.WithArray("paths",
			mcp.WithStringItems(),
			mcp.Description("Workspace paths to list"),
		),
	)

	GetMetadataTool = mcp.NewTool("workspace_get_file_metadata",
		mcp.WithDescription("Get the metadata of a workspace object."),
		tokenArg(),
		mcp.WithString("path",
			mcp.Description("Full path of the object"),
			mcp.Required(),
		),
	)

	DownloadTool = mcp.NewTool("workspace_download_file",
		mcp.WithDescription("Download the content of a workspace file."),
		tokenArg(),
		mcp.WithString("path",
			mcp.Description("Full path of the file"),
			mcp.Required(),
		),
	)

	UploadTool = mcp.NewTool("workspace_upload",
		mcp.WithDescription("Create a workspace object and return the URL its content should be uploaded to."),
		tokenArg(),
		mcp.WithString("path",
			mcp.Description("Absolute destination path, e.g. /user@patricbrc.org/home/reads.fastq"),
			mcp.Required(),
		),
		mcp.WithString("type",
			mcp.Description("Workspace object type (default: unspecified)"),
		),
	)

	SearchTool = mcp.NewTool("workspace_search",
		mcp.WithDescription("Search a workspace folder recursively for objects whose name contains the query."),
		tokenArg(),
		mcp.WithString("path",
			mcp.Description("Folder to search"),
			mcp.Required(),
		),
		mcp.WithString("query",
			mcp.Description("Case-insensitive substring of the object name"),
			mcp.Required(),
		),
		mcp.WithString("type",
			mcp.Description("Only return objects of this type"),
		),
	)
)

// Tools binds the workspace tools to a client and a token source.
type Tools struct {
	ws     Workspace
	tokens TokenSource
}

// New returns the workspace tools.
func New(ws Workspace, tokens TokenSource) *Tools {
	return &Tools{ws: ws, tokens: tokens}
}

// Register adds the workspace tools to r.
func (t *Tools) Register(r *operation.Registry) {
	r.RegisterWrite(UploadTool, operation.HandlerFunc(t.upload))
	r.RegisterRead(LsTool, operation.HandlerFunc(t.ls))
	r.RegisterRead(GetMetadataTool, operation.HandlerFunc(t.getMetadata))
	r.RegisterRead(DownloadTool, operation.HandlerFunc(t.download))
	r.RegisterRead(SearchTool, operation.HandlerFunc(t.search))
}

func (t *Tools) token(ctx context.Context, req operation.Request) (string, error) {
	tok, err := t.tokens.Token(ctx, req.String("token"))
	if err != nil {
		core.LoggerFromCtx(ctx).Warn("no workspace token", "tool", req.Tool)
		return "", err
	}
	return tok, nil
}

func (t *Tools) ls(ctx context.Context, req operation.Request) (operation.Result, error) {
	paths, err := req.Strings("paths")
	if err != nil {
		return operation.Result{}, err
	}
	tok, err := t.token(ctx, req)
	if err != nil {
		return operation.Result{}, err
	}
	listing, err := t.ws.Ls(ctx, tok, paths)
	if err != nil {
		return operation.Result{}, fmt.Errorf("list workspace: %w", err)
	}
	return operation.JSON(listing), nil
}

func (t *Tools) getMetadata(ctx context.Context, req operation.Request) (operation.Result, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return operation.Result{}, err
	}
	tok, err := t.token(ctx, req)
	if err != nil {
		return operation.Result{}, err
	}
	obj, err := t.ws.GetMetadata(ctx, tok, path)
	if err != nil {
		return operation.Result{}, fmt.Errorf("get metadata of %s: %w", path, err)
	}
	return operation.JSON(obj), nil
}

func (t *Tools) download(ctx context.Context, req operation.Request) (operation.Result, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return operation.Result{}, err
	}
	tok, err := t.token(ctx, req)
	if err != nil {
		return operation.Result{}, err
	}
	data, err := t.ws.Download(ctx, tok, path)
	if err != nil {
		return operation.Result{}, fmt.Errorf("download %s: %w", path, err)
	}

	out := Download{Path: path, Size: len(data), Encoding: "utf-8", Content: string(data)}
	if !utf8.Valid(data) {
		out.Encoding = "base64"
		out.Content = base64.StdEncoding.EncodeToString(data)
	}
	return operation.JSON(out), nil
}

func (t *Tools) upload(ctx context.Context, req operation.Request) (operation.Result, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return operation.Result{}, err
	}
	tok, err := t.token(ctx, req)
	if err != nil {
		return operation.Result{}, err
	}
	target, err := t.ws.Upload(ctx, tok, path, req.String("type"))
	if err != nil {
		return operation.Result{}, fmt.Errorf("create upload for %s: %w", path, err)
	}
	core.LoggerFromCtx(ctx).Info("upload node created", "path", target.Path)
	return operation.JSON(target), nil
}

func (t *Tools) search(ctx context.Context, req operation.Request) (operation.Result, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return operation.Result{}, err
	}
	query, err := req.RequireString("query")
	if err != nil {
		return operation.Result{}, err
	}
	tok, err := t.token(ctx, req)
	if err != nil {
		return operation.Result{}, err
	}
	found, err := t.ws.Search(ctx, tok, path, query, req.String("type"))
	if err != nil {
		return operation.Result{}, fmt.Errorf("search %s: %w", path, err)
	}
	return operation.JSON(SearchResult{Path: path, Query: query, Count: len(found), Results: found}), nil
}
