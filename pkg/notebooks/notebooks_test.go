package notebooks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/notebooklm/pkg/rpc"
)

type call struct {
	id     string
	params []any
}

type fakeCaller struct {
	mu      sync.Mutex
	calls   []call
	results map[string]any
	errs    map[string]error
}

func (f *fakeCaller) CallRPC(_ context.Context, rpcID string, params []any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{rpcID, params})
	if err := f.errs[rpcID]; err != nil {
		return nil, err
	}
	return f.results[rpcID], nil
}

func TestList(t *testing.T) {
	f := &fakeCaller{results: map[string]any{
		RPCList: []any{
			[]any{
				[]any{"nb-1", "Research", float64(1700000000000), []any{[]any{"s1"}, []any{"s2"}}},
				[]any{"nb-2", ""},
				"garbage",
			},
		},
	}}
	c := NewClient(f, nil)

	got, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "nb-1", got[0].ID)
	assert.Equal(t, "Research", got[0].Name)
	assert.Equal(t, 2, got[0].SourceCount)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got[0].CreatedAt)
	assert.Equal(t, "Untitled", got[1].Name)

	assert.Equal(t, []any{nil, 1, nil, []any{2}}, f.calls[0].params)
}

func TestList_EmptyShapes(t *testing.T) {
	for _, result := range []any{nil, []any{}, []any{"x"}} {
		c := NewClient(&fakeCaller{results: map[string]any{RPCList: result}}, nil)
		got, err := c.List(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestCreate(t *testing.T) {
	f := &fakeCaller{results: map[string]any{RPCCreate: []any{"nb-9", "Project"}}}
	c := NewClient(f, nil)

	nb, err := c.Create(context.Background(), "  Project  ")
	require.NoError(t, err)
	assert.Equal(t, Notebook{ID: "nb-9", Name: "Project"}, nb)
	assert.Equal(t, []any{"Project", nil, nil, []any{2}, []any{}}, f.calls[0].params)

	_, err = c.Create(context.Background(), "   ")
	assert.Error(t, err)
	_, err = c.Create(context.Background(), strings.Repeat("x", MaxNameLength+1))
	assert.Error(t, err)
	assert.Len(t, f.calls, 1)

	// Length is counted in characters, not bytes.
	wide := strings.Repeat("笔", MaxNameLength)
	_, err = c.Create(context.Background(), wide)
	require.NoError(t, err)
	require.Len(t, f.calls, 2)
	assert.Equal(t, wide, f.calls[1].params[0])
	_, err = c.Create(context.Background(), wide+"笔")
	assert.Error(t, err)
	assert.Len(t, f.calls, 2)
}

func TestGetNotFound(t *testing.T) {
	f := &fakeCaller{errs: map[string]error{RPCGet: rpc.ClassifyStatus(404, "Not Found", "")}}
	c := NewClient(f, nil)

	_, err := c.Get(context.Background(), "nb-x")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, rpc.ErrClientError))

	ok, err := c.Exists(context.Background(), "nb-x")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsPropagatesOtherErrors(t *testing.T) {
	f := &fakeCaller{errs: map[string]error{RPCGet: rpc.ClassifyStatus(500, "Internal Server Error", "")}}
	c := NewClient(f, nil)

	ok, err := c.Exists(context.Background(), "nb-1")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, rpc.ErrServerError))
}

func TestRenameFetchesUpdatedNotebook(t *testing.T) {
	f := &fakeCaller{results: map[string]any{
		RPCRename: []any{},
		RPCGet:    []any{"nb-1", "New name"},
	}}
	c := NewClient(f, nil)

	nb, err := c.Rename(context.Background(), "nb-1", "New name")
	require.NoError(t, err)
	assert.Equal(t, "New name", nb.Name)
	require.Len(t, f.calls, 2)
	assert.Equal(t, RPCRename, f.calls[0].id)
	assert.Equal(t, []any{"nb-1", "New name", []any{2}}, f.calls[0].params)
	assert.Equal(t, RPCGet, f.calls[1].id)
}

func TestDelete(t *testing.T) {
	f := &fakeCaller{}
	c := NewClient(f, nil)

	require.NoError(t, c.Delete(context.Background(), "nb-1"))
	assert.Equal(t, []any{[]any{[]any{"nb-1"}}, nil, []any{2}}, f.calls[0].params)
	assert.Error(t, c.Delete(context.Background(), ""))
}

func TestBatchDelete(t *testing.T) {
	f := &fakeCaller{}
	c := NewClient(f, nil)

	results, err := c.BatchDelete(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for id, err := range results {
		assert.NoError(t, err, id)
	}
	assert.Len(t, f.calls, 3)

	_, err = c.BatchDelete(context.Background(), nil)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	_, err := Parse("nope")
	assert.Error(t, err)
	_, err = Parse([]any{"only-id"})
	assert.Error(t, err)

	nb, err := Parse([]any{"id", "name", float64(1700000000)})
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), nb.CreatedAt)
}

func TestRPCTable(t *testing.T) {
	assert.Equal(t, "wXbhsf", RPC["list"])
	assert.Len(t, RPC, 5)
}
