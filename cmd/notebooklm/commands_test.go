package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/notebooklm/pkg/auth"
	"github.com/entrhq/notebooklm/pkg/browser"
	"github.com/entrhq/notebooklm/pkg/config"
	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/notebooks"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

type fakeSession struct {
	rpcID   string
	params  []any
	result  any
	err     error
	raw     string
	chunks  []any
	request browser.Request
}

func (f *fakeSession) CallRPC(_ context.Context, rpcID string, params []any) (any, error) {
	f.rpcID, f.params = rpcID, params
	return f.result, f.err
}

func (f *fakeSession) CallRaw(_ context.Context, req browser.Request) (string, error) {
	f.request = req
	return f.raw, f.err
}

func (f *fakeSession) StreamRaw(_ context.Context, req browser.Request) ([]any, int, error) {
	f.request = req
	return f.chunks, 1, f.err
}

func newEnv(t *testing.T, s *fakeSession) (*env, *bytes.Buffer) {
	t.Helper()
	store, err := auth.NewFileStore(filepath.Join(t.TempDir(), "auth.json"), logging.Nop())
	require.NoError(t, err)
	var out bytes.Buffer
	return &env{
		cfg:       config.DefaultConfig(),
		store:     store,
		session:   s,
		notebooks: notebooks.NewClient(s, logging.Nop()),
		out:       &out,
	}, &out
}

func TestLookupCommand(t *testing.T) {
	c, err := lookupCommand("auth-check")
	require.NoError(t, err)
	assert.True(t, c.offline)

	c, err = lookupCommand("list")
	require.NoError(t, err)
	assert.False(t, c.offline)

	_, err = lookupCommand("explode")
	assert.Error(t, err)
}

func TestAuthCheck(t *testing.T) {
	e, out := newEnv(t, &fakeSession{})
	assert.Error(t, authCheck(context.Background(), e, nil))

	require.NoError(t, e.store.Save([]auth.Cookie{
		{Name: "SID", Value: "a", Domain: ".google.com"},
		{Name: "HSID", Value: "b", Domain: ".google.com"},
		{Name: "SSID", Value: "c", Domain: ".google.com"},
	}, "tok"))

	out.Reset()
	require.NoError(t, authCheck(context.Background(), e, nil))
	assert.Contains(t, out.String(), "valid until")
	assert.Contains(t, out.String(), "warning: some login cookies are missing")
}

func TestImportCookies(t *testing.T) {
	e, out := newEnv(t, &fakeSession{})
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cookies": [
		{"name": "SID", "value": "a", "domain": ".google.com", "httpOnly": true, "sameSite": "None"},
		{"name": "HSID", "value": "b", "domain": ".google.com"},
		{"name": "SSID", "value": "c", "domain": ".google.com"},
		{"name": "other", "value": "d", "domain": "example.com"}
	]}`), 0600))

	require.NoError(t, importCookies(context.Background(), e, []string{path}))
	assert.Contains(t, out.String(), "stored credentials")

	cookies, err := e.store.Cookies()
	require.NoError(t, err)
	assert.Len(t, cookies, 3)
	assert.True(t, cookies[0].HTTPOnly)
	assert.Equal(t, "None", cookies[0].SameSite)

	assert.Error(t, importCookies(context.Background(), e, nil))
	assert.Error(t, importCookies(context.Background(), e, []string{filepath.Join(t.TempDir(), "missing.json")}))
}

func TestPrintConfig(t *testing.T) {
	e, out := newEnv(t, &fakeSession{})
	require.NoError(t, printConfig(context.Background(), e, nil))
	assert.Contains(t, out.String(), "max_attempts: 3")

	assert.Error(t, printConfig(context.Background(), e, []string{"xml"}))
}

func TestListNotebooks(t *testing.T) {
	s := &fakeSession{result: []any{[]any{
		[]any{"nb-1", "Research", nil, []any{[]any{"s"}}},
	}}}
	e, out := newEnv(t, s)

	require.NoError(t, listNotebooks(context.Background(), e, nil))
	assert.Equal(t, notebooks.RPCList, s.rpcID)
	assert.Contains(t, out.String(), "nb-1")
	assert.Contains(t, out.String(), "Research")
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	s := &fakeSession{}
	e, out := newEnv(t, s)

	assert.Error(t, deleteNotebooks(context.Background(), e, []string{"nb-1"}))
	assert.Empty(t, s.rpcID)

	require.NoError(t, deleteNotebooks(context.Background(), e, []string{"-yes", "nb-1"}))
	assert.Equal(t, notebooks.RPCDelete, s.rpcID)
	assert.Contains(t, out.String(), "nb-1\tdeleted")
}

func TestDeleteReportsFailures(t *testing.T) {
	s := &fakeSession{err: rpc.ClassifyStatus(500, "Internal Server Error", "")}
	e, out := newEnv(t, s)

	err := deleteNotebooks(context.Background(), e, []string{"-yes", "nb-1"})
	assert.Error(t, err)
	assert.Contains(t, out.String(), "failed")
}

func TestCallRPC(t *testing.T) {
	s := &fakeSession{result: map[string]any{"ok": true}}
	e, out := newEnv(t, s)

	require.NoError(t, callRPC(context.Background(), e, []string{"abc123", `[null, 1, "x"]`}))
	assert.Equal(t, "abc123", s.rpcID)
	assert.Equal(t, []any{nil, float64(1), "x"}, s.params)
	assert.JSONEq(t, `{"ok": true}`, out.String())

	assert.Error(t, callRPC(context.Background(), e, []string{"abc123", `{"not": "array"}`}))
	assert.Error(t, callRPC(context.Background(), e, nil))

	s.err = errors.New("boom")
	assert.Error(t, callRPC(context.Background(), e, []string{"abc123"}))
}

func TestCallRaw(t *testing.T) {
	s := &fakeSession{raw: "body", chunks: []any{[]any{"a"}, []any{"b"}}}
	e, out := newEnv(t, s)

	require.NoError(t, callRaw(context.Background(), e, []string{"/_/endpoint"}))
	assert.Equal(t, "body", out.String())
	assert.Equal(t, "GET", s.request.Method)

	out.Reset()
	require.NoError(t, callRaw(context.Background(), e, []string{"-stream", "-method", "POST", "-body", "x=1", "/_/stream"}))
	assert.Equal(t, "POST", s.request.Method)
	assert.Equal(t, "x=1", s.request.Body)
	assert.Contains(t, out.String(), "1 malformed chunks dropped")

	assert.Error(t, callRaw(context.Background(), e, nil))
}

func TestApplyLogLevel(t *testing.T) {
	t.Setenv(logging.EnvLogLevel, "")
	require.NoError(t, os.Unsetenv(logging.EnvLogLevel))

	var buf bytes.Buffer
	l := logging.NewConsole("cli", &buf)
	require.NoError(t, applyLogLevel(l, "error"))
	l.Warnf("filtered")
	l.Errorf("shown")
	assert.NotContains(t, buf.String(), "filtered")
	assert.Contains(t, buf.String(), "shown")
	_, set := os.LookupEnv(logging.EnvLogLevel)
	assert.False(t, set, "the environment is left alone")

	assert.Error(t, applyLogLevel(l, "loud"))

	// An explicit environment level wins over the file.
	t.Setenv(logging.EnvLogLevel, "debug")
	buf.Reset()
	l = logging.NewConsole("cli", &buf)
	require.NoError(t, applyLogLevel(l, "error"))
	l.Debugf("debug line")
	assert.Contains(t, buf.String(), "debug line")
}
