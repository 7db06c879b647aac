package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/jsonrpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	method  string
	params  map[string]any
	token   string
	options jsonrpc.CallOptions
}

type fakeCaller struct {
	calls  []recordedCall
	result string
	err    error
}

func (f *fakeCaller) Call(_ context.Context, method string, params any, token string, opts ...jsonrpc.CallOption) (json.RawMessage, error) {
	raw, _ := json.Marshal(params)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	var o jsonrpc.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	f.calls = append(f.calls, recordedCall{method: method, params: decoded, token: token, options: o})
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.result), nil
}

const listing = `[{"/alice@patricbrc.org/home/":[
 ["reads.fastq","reads","/alice@patricbrc.org/home/","2024-01-02T03:04:05Z","id-1","alice@patricbrc.org",1024,{"sample":"A"},{},"o","n",""],
 ["Genomes","folder","/alice@patricbrc.org/home/","2024-01-01T00:00:00Z","id-2","alice@patricbrc.org",0,{},{},"o","n",""],
 ["notes.txt","txt","/alice@patricbrc.org/home/","2024-01-03T00:00:00Z","id-3","alice@patricbrc.org",12,{},{},"o","n",""]
]}]`

func TestClient_Ls(t *testing.T) {
	rpc := &fakeCaller{result: listing}
	c := NewClient(rpc)

	got, err := c.Ls(context.Background(), "tok", nil)
	require.NoError(t, err)

	require.Len(t, rpc.calls, 1)
	call := rpc.calls[0]
	assert.Equal(t, MethodLs, call.method)
	assert.Equal(t, "tok", call.token)
	assert.Equal(t, []any{}, call.params["paths"])
	assert.Equal(t, false, call.params["Recursive"])
	assert.Equal(t, false, call.params["includeSubDirs"])
	assert.False(t, call.options.NoRetry)

	objects := got["/alice@patricbrc.org/home/"]
	require.Len(t, objects, 3)
	assert.Equal(t, "reads.fastq", objects[0].Name)
	assert.Equal(t, "reads", objects[0].Type)
	assert.Equal(t, int64(1024), objects[0].Size)
	assert.Equal(t, map[string]any{"sample": "A"}, objects[0].UserMeta)
	assert.Equal(t, "/alice@patricbrc.org/home/reads.fastq", objects[0].FullPath())
	assert.Nil(t, objects[1].UserMeta)
}

func TestClient_RemoteErrorPropagates(t *testing.T) {
	remote := &jsonrpc.Error{Code: -32603, Message: "permission denied", Method: MethodLs}
	c := NewClient(&fakeCaller{err: remote})

	_, err := c.Ls(context.Background(), "tok", []string{"/bob/home"})
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "permission denied", rpcErr.Message)
}

func TestClient_GetMetadata(t *testing.T) {
	rpc := &fakeCaller{result: `[[[["notes.txt","txt","/alice/home/","2024-01-03T00:00:00Z","id-3","alice",12,{},{},"o","n",""],""]]]`}
	c := NewClient(rpc)

	obj, err := c.GetMetadata(context.Background(), "tok", "/alice/home/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", obj.Name)
	assert.Equal(t, "id-3", obj.ID)
	assert.Equal(t, int64(12), obj.Size)

	assert.Equal(t, MethodGet, rpc.calls[0].method)
	assert.Equal(t, []any{"/alice/home/notes.txt"}, rpc.calls[0].params["objects"])
	assert.Equal(t, true, rpc.calls[0].params["metadata_only"])

	_, err = c.GetMetadata(context.Background(), "tok", "")
	assert.ErrorIs(t, err, ErrPathRequired)

	_, err = NewClient(&fakeCaller{result: `[[]]`}).GetMetadata(context.Background(), "tok", "/x")
	assert.Error(t, err)
}

func TestClient_Download(t *testing.T) {
	var gotAuth string
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/small":
			_, _ = w.Write([]byte("hello workspace"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer files.Close()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{"small file", "/small", "hello workspace", nil},
		{"too large", "/big", "", ErrDownloadTooLarge},
		{"missing", "/missing", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := &fakeCaller{result: `[["` + files.URL + tt.path + `"]]`}
			c := NewClient(rpc, WithMaxDownloadBytes(32))

			data, err := c.Download(context.Background(), "tok", "/alice/home/file")
			if tt.want == "" {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
			assert.Equal(t, "tok", gotAuth)
			assert.Equal(t, MethodGetDownloadURL, rpc.calls[0].method)
		})
	}

	_, err := NewClient(&fakeCaller{result: `[[]]`}).Download(context.Background(), "tok", "/x")
	assert.ErrorIs(t, err, ErrNoDownloadURL)
}

func TestClient_Upload(t *testing.T) {
	rpc := &fakeCaller{result: `[[["data.csv","csv","/alice/home/","2024-01-03T00:00:00Z","id-9","alice",0,{},{},"o","n","https://shock.example/node/abc"]]]`}
	c := NewClient(rpc)

	target, err := c.Upload(context.Background(), "tok", "/alice/home/data.csv", "csv")
	require.NoError(t, err)
	assert.Equal(t, "/alice/home/data.csv", target.Path)
	assert.Equal(t, "id-9", target.ID)
	assert.Equal(t, "https://shock.example/node/abc", target.UploadURL)

	call := rpc.calls[0]
	assert.Equal(t, MethodCreate, call.method)
	assert.Equal(t, true, call.params["createUploadNodes"])
	assert.True(t, call.options.NoRetry, "create is not idempotent")
	assert.Equal(t, []any{[]any{"/alice/home/data.csv", "csv", map[string]any{}, ""}}, call.params["objects"])

	_, err = c.Upload(context.Background(), "tok", "relative.csv", "")
	assert.ErrorIs(t, err, ErrAbsolutePath)
	_, err = c.Upload(context.Background(), "tok", "", "")
	assert.ErrorIs(t, err, ErrPathRequired)

	_, err = NewClient(&fakeCaller{result: `[[["a","b","/c/","","","",0,{},{},"o","n",""]]]`}).
		Upload(context.Background(), "tok", "/c/a", "")
	assert.ErrorIs(t, err, ErrNoUploadURL)
}

func TestClient_Search(t *testing.T) {
	rpc := &fakeCaller{result: listing}
	c := NewClient(rpc)

	got, err := c.Search(context.Background(), "tok", "/alice@patricbrc.org/home/", "READS", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "reads.fastq", got[0].Name)
	assert.Equal(t, true, rpc.calls[0].params["Recursive"])

	got, err = c.Search(context.Background(), "tok", "/alice@patricbrc.org/home/", "e", "txt")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "notes.txt", got[0].Name)

	got, err = c.Search(context.Background(), "tok", "/alice@patricbrc.org/home/", "nothing-matches", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.Search(context.Background(), "tok", "/x", "  ", "")
	assert.ErrorIs(t, err, ErrQueryRequired)
}

func TestTokenProvider(t *testing.T) {
	withCtx := core.WithToken(context.Background(), "from-request")
	emptyCtx := core.WithToken(context.Background(), "")

	tests := []struct {
		name     string
		fallback string
		ctx      context.Context
		explicit string
		want     string
		wantErr  error
	}{
		{"explicit wins", "fallback", withCtx, "explicit", "explicit", nil},
		{"explicit bearer is stripped", "", context.Background(), "Bearer explicit", "explicit", nil},
		{"context before fallback", "fallback", withCtx, "", "from-request", nil},
		{"fallback when context empty", "fallback", emptyCtx, "", "fallback", nil},
		{"fallback without context", "fallback", context.Background(), "", "fallback", nil},
		{"nothing available", "", emptyCtx, "", "", ErrNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTokenProvider(tt.fallback)
			got, err := p.Token(tt.ctx, tt.explicit)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, NewTokenProvider(" x ").HasFallback())
	assert.False(t, NewTokenProvider("").HasFallback())
}
