package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestCaller_Call(t *testing.T) {
	var seen struct {
		contentType string
		auth        string
		body        []byte
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.contentType = r.Header.Get("Content-Type")
		seen.auth = r.Header.Get("Authorization")
		seen.body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[{"/alice/home":[]}]}`))
	}))
	defer srv.Close()

	c := NewCaller(srv.URL + "/")
	result, err := c.Call(context.Background(), "Workspace.ls", map[string]any{"paths": []string{"/alice/home"}}, "un=alice|sig=x")
	require.NoError(t, err)

	assert.JSONEq(t, `[{"/alice/home":[]}]`, string(result))
	assert.Equal(t, ContentType, seen.contentType)
	assert.Equal(t, "un=alice|sig=x", seen.auth, "token is sent without a Bearer prefix")
	assert.Equal(t, "2.0", gjson.GetBytes(seen.body, "jsonrpc").String())
	assert.Equal(t, "Workspace.ls", gjson.GetBytes(seen.body, "method").String())
	assert.Equal(t, "/alice/home", gjson.GetBytes(seen.body, "params.paths.0").String())
	assert.Equal(t, srv.URL, c.URL())
}

func TestCaller_RemoteErrorIsTyped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32603, "message": "Object not found"},
		})
	}))
	defer srv.Close()

	_, err := NewCaller(srv.URL, WithInitialInterval(time.Millisecond)).Call(context.Background(), "Workspace.get", nil, "t")
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32603, rpcErr.Code)
	assert.Equal(t, "Object not found", rpcErr.Message)
	assert.Equal(t, "Workspace.get", rpcErr.Method)
	assert.Equal(t, int32(1), calls.Load(), "remote errors are not retried")
}

func TestCaller_RetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":["ok"]}`))
	}))
	defer srv.Close()

	result, err := NewCaller(srv.URL, WithInitialInterval(time.Millisecond)).Call(context.Background(), "Workspace.ls", nil, "t")
	require.NoError(t, err)
	assert.JSONEq(t, `["ok"]`, string(result))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCaller_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewCaller(srv.URL, WithMaxTries(2), WithInitialInterval(time.Millisecond)).
		Call(context.Background(), "Workspace.ls", nil, "t")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCaller_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewCaller(srv.URL, WithInitialInterval(time.Millisecond)).
		Call(context.Background(), "Workspace.create", nil, "t", NoRetry())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, int32(1), calls.Load(), "a call without retries makes one attempt")
}

func TestCaller_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not found status", http.StatusNotFound, "nope", nil},
		{"empty result", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":null}`, ErrEmptyResult},
		{"invalid json", http.StatusOK, `<html>`, ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewCaller(srv.URL, WithInitialInterval(time.Millisecond)).Call(context.Background(), "m", nil, "")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCaller_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewCaller(srv.URL).Call(ctx, "m", nil, "")
	assert.Error(t, err)
}
