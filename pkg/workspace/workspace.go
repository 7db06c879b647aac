package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-training/workspace-mcp/pkg/jsonrpc"

	"github.com/tidwall/gjson"
)

// Remote method names.
const (
	MethodLs             = "Workspace.ls"
	MethodGet            = "Workspace.get"
	MethodGetDownloadURL = "Workspace.get_download_url"
	MethodCreate         = "Workspace.create"
)

const (
	// DefaultMaxDownloadBytes caps how much of a file Download returns.
	DefaultMaxDownloadBytes int64 = 10 << 20
	// DefaultObjectType is used for uploads that do not name a type.
	DefaultObjectType = "unspecified"
)

var (
	// ErrPathRequired is returned when an operation needs a workspace path.
	ErrPathRequired = errors.New("path is required")
	// ErrAbsolutePath is returned when an upload destination is not absolute.
	ErrAbsolutePath = errors.New("path must be an absolute workspace path")
	// ErrQueryRequired is returned when Search gets an empty query.
	ErrQueryRequired = errors.New("query is required")
	// ErrNoDownloadURL is returned when the service does not return a download URL.
	ErrNoDownloadURL = errors.New("workspace returned no download URL")
	// ErrNoUploadURL is returned when the service does not return an upload URL.
	ErrNoUploadURL = errors.New("workspace returned no upload URL")
	// ErrDownloadTooLarge is returned when a file exceeds the download limit.
	ErrDownloadTooLarge = errors.New("file exceeds the download size limit")
)

// Caller performs a JSON-RPC call against the workspace service.
type Caller interface {
	Call(ctx context.Context, method string, params any, token string, opts ...jsonrpc.CallOption) (json.RawMessage, error)
}

// Object is the metadata of a single workspace object.
type Object struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Path         string         `json:"path"`
	CreationTime string         `json:"creation_time,omitempty"`
	ID           string         `json:"id,omitempty"`
	Owner        string         `json:"owner,omitempty"`
	Size         int64          `json:"size"`
	UserMeta     map[string]any `json:"user_metadata,omitempty"`
}

// FullPath joins the object's directory and name.
func (o Object) FullPath() string {
	return strings.TrimRight(o.Path, "/") + "/" + o.Name
}

// UploadTarget describes an object created with an upload node.
type UploadTarget struct {
	Path      string `json:"path"`
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	UploadURL string `json:"upload_url"`
}

// Client implements the workspace operations on top of a JSON-RPC caller.
type Client struct {
	rpc         Caller
	httpClient  *http.Client
	maxDownload int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used to fetch download URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Client) {
		w.httpClient = c
	}
}

// WithMaxDownloadBytes sets the download size limit.
func WithMaxDownloadBytes(n int64) Option {
	return func(w *Client) {
		if n > 0 {
			w.maxDownload = n
		}
	}
}

// NewClient creates a workspace client.
func NewClient(rpc Caller, opts ...Option) *Client {
	c := &Client{
		rpc:         rpc,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxDownload: DefaultMaxDownloadBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ls lists the direct children of each path. An empty list asks the
// service for the caller's top-level workspaces.
func (c *Client) Ls(ctx context.Context, token string, paths []string) (map[string][]Object, error) {
	if paths == nil {
		paths = []string{}
	}
	result, err := c.rpc.Call(ctx, MethodLs, map[string]any{
		"paths":          paths,
		"Recursive":      false,
		"includeSubDirs": false,
	}, token)
	if err != nil {
		return nil, err
	}
	return parseListing(result), nil
}

// GetMetadata returns the metadata of the object at path.
func (c *Client) GetMetadata(ctx context.Context, token, path string) (*Object, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	result, err := c.rpc.Call(ctx, MethodGet, map[string]any{
		"objects":       []string{path},
		"metadata_only": true,
	}, token)
	if err != nil {
		return nil, err
	}

	// Result: [[[meta, data], ...]], one entry per requested object.
	tuple := gjson.GetBytes(result, "0.0.0")
	if !tuple.IsArray() {
		return nil, fmt.Errorf("unexpected %s result for %s", MethodGet, path)
	}
	obj := parseObject(tuple)
	return &obj, nil
}

// Download fetches the content of the object at path through its download URL.
func (c *Client) Download(ctx context.Context, token, path string) ([]byte, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	result, err := c.rpc.Call(ctx, MethodGetDownloadURL, map[string]any{
		"objects": []string{path},
	}, token)
	if err != nil {
		return nil, err
	}

	// Result: [[url, ...]]
	downloadURL := gjson.GetBytes(result, "0.0").String()
	if downloadURL == "" {
		return nil, ErrNoDownloadURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s failed with status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("read download %s: %w", path, err)
	}
	if int64(len(data)) > c.maxDownload {
		return nil, fmt.Errorf("%w (%d bytes)", ErrDownloadTooLarge, c.maxDownload)
	}
	return data, nil
}

// Upload creates an object at path backed by an upload node and returns the
// URL the content should be sent to.
func (c *Client) Upload(ctx context.Context, token, path, objType string) (*UploadTarget, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	if !strings.HasPrefix(path, "/") {
		return nil, ErrAbsolutePath
	}
	if objType == "" {
		objType = DefaultObjectType
	}

	result, err := c.rpc.Call(ctx, MethodCreate, map[string]any{
		"objects":           [][]any{{path, objType, map[string]any{}, ""}},
		"createUploadNodes": true,
		"overwrite":         false,
	}, token, jsonrpc.NoRetry())
	if err != nil {
		return nil, err
	}

	// Result: [[meta, ...]]; the upload node URL is the last meta field.
	tuple := gjson.GetBytes(result, "0.0")
	obj := parseObject(tuple)
	uploadURL := tuple.Get("11").String()
	if uploadURL == "" {
		return nil, ErrNoUploadURL
	}
	return &UploadTarget{
		Path:      obj.FullPath(),
		ID:        obj.ID,
		Type:      obj.Type,
		UploadURL: uploadURL,
	}, nil
}

// Search lists path recursively and returns the objects whose name contains
// query, case-insensitively. A non-empty objType restricts the object type.
func (c *Client) Search(ctx context.Context, token, path, query, objType string) ([]Object, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryRequired
	}

	result, err := c.rpc.Call(ctx, MethodLs, map[string]any{
		"paths":          []string{path},
		"Recursive":      true,
		"includeSubDirs": true,
	}, token)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	matches := []Object{}
	for _, objects := range parseListing(result) {
		for _, obj := range objects {
			if !strings.Contains(strings.ToLower(obj.Name), needle) {
				continue
			}
			if objType != "" && obj.Type != objType {
				continue
			}
			matches = append(matches, obj)
		}
	}
	return matches, nil
}

// parseListing decodes an ls result: [{path: [meta, ...]}].
func parseListing(result json.RawMessage) map[string][]Object {
	listing := map[string][]Object{}
	r := gjson.ParseBytes(result)
	if r.IsArray() {
		r = r.Get("0")
	}
	r.ForEach(func(key, value gjson.Result) bool {
		objects := []Object{}
		value.ForEach(func(_, tuple gjson.Result) bool {
			objects = append(objects, parseObject(tuple))
			return true
		})
		listing[key.String()] = objects
		return true
	})
	return listing
}

// parseObject decodes a metadata tuple:
// [name, type, path, creation_time, id, owner, size, user_meta, auto_meta, ...].
func parseObject(tuple gjson.Result) Object {
	obj := Object{
		Name:         tuple.Get("0").String(),
		Type:         tuple.Get("1").String(),
		Path:         tuple.Get("2").String(),
		CreationTime: tuple.Get("3").String(),
		ID:           tuple.Get("4").String(),
		Owner:        tuple.Get("5").String(),
		Size:         tuple.Get("6").Int(),
	}
	if meta, ok := tuple.Get("7").Value().(map[string]any); ok && len(meta) > 0 {
		obj.UserMeta = meta
	}
	return obj
}
