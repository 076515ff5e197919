// Package notebooks provides typed notebook operations on top of the
// batch-RPC session.
package notebooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

// RPC identifiers for notebook operations.
const (
	RPCList   = "wXbhsf"
	RPCCreate = "CCqFvf"
	RPCGet    = "GkrRBf"
	RPCRename = "cBavhb"
	RPCDelete = "oPkhIc"
)

// RPC maps operation names to their RPC identifiers.
var RPC = map[string]string{
	"list":   RPCList,
	"create": RPCCreate,
	"get":    RPCGet,
	"rename": RPCRename,
	"delete": RPCDelete,
}

// MaxNameLength bounds notebook names, in characters.
const MaxNameLength = 200

// ErrNotFound is returned when the host reports an unknown notebook.
var ErrNotFound = errors.New("notebook not found")

// Caller executes one RPC. *session.Session implements it.
type Caller interface {
	CallRPC(ctx context.Context, rpcID string, params []any) (any, error)
}

// Notebook is the structural view of a notebook entry.
type Notebook struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	SourceCount int
}

// Client performs notebook operations.
type Client struct {
	caller Caller
	logger *logging.Logger

	// Concurrency bounds BatchDelete.
	Concurrency int
}

// NewClient creates a client over caller.
func NewClient(caller Caller, logger *logging.Logger) *Client {
	return &Client{caller: caller, logger: logger, Concurrency: 4}
}

// List returns every notebook in the account. Entries that cannot be parsed
// are skipped.
func (c *Client) List(ctx context.Context) ([]Notebook, error) {
	result, err := c.caller.CallRPC(ctx, RPCList, []any{nil, 1, nil, []any{2}})
	if err != nil {
		return nil, fmt.Errorf("listing notebooks: %w", err)
	}

	top, ok := result.([]any)
	if !ok || len(top) == 0 {
		return nil, nil
	}
	entries, ok := top[0].([]any)
	if !ok {
		return nil, nil
	}

	notebooks := make([]Notebook, 0, len(entries))
	for _, raw := range entries {
		nb, err := Parse(raw)
		if err != nil {
			c.logger.Warnf("Failed to parse notebook: %v", err)
			continue
		}
		notebooks = append(notebooks, nb)
	}
	c.logger.Debugf("Found %d notebooks", len(notebooks))
	return notebooks, nil
}

// Create makes a new notebook named name.
func (c *Client) Create(ctx context.Context, name string) (Notebook, error) {
	name, err := validName(name)
	if err != nil {
		return Notebook{}, err
	}
	result, err := c.caller.CallRPC(ctx, RPCCreate, []any{name, nil, nil, []any{2}, []any{}})
	if err != nil {
		return Notebook{}, fmt.Errorf("creating notebook: %w", err)
	}
	nb, err := Parse(result)
	if err != nil {
		return Notebook{}, fmt.Errorf("creating notebook: %w", err)
	}
	c.logger.Infof("Created notebook %s (%s)", nb.Name, nb.ID)
	return nb, nil
}

// Get fetches one notebook.
func (c *Client) Get(ctx context.Context, id string) (Notebook, error) {
	if id == "" {
		return Notebook{}, errors.New("notebook id cannot be empty")
	}
	result, err := c.caller.CallRPC(ctx, RPCGet, []any{nil, []any{[]any{id}}, []any{2}})
	if err != nil {
		return Notebook{}, notFound(id, err)
	}
	nb, err := Parse(result)
	if err != nil {
		return Notebook{}, fmt.Errorf("getting notebook %s: %w", id, err)
	}
	return nb, nil
}

// Rename changes a notebook's name and returns the updated notebook.
func (c *Client) Rename(ctx context.Context, id, name string) (Notebook, error) {
	if id == "" {
		return Notebook{}, errors.New("notebook id cannot be empty")
	}
	name, err := validName(name)
	if err != nil {
		return Notebook{}, err
	}
	if _, err := c.caller.CallRPC(ctx, RPCRename, []any{id, name, []any{2}}); err != nil {
		return Notebook{}, notFound(id, err)
	}
	return c.Get(ctx, id)
}

// Delete removes a notebook.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("notebook id cannot be empty")
	}
	if _, err := c.caller.CallRPC(ctx, RPCDelete, []any{[]any{[]any{id}}, nil, []any{2}}); err != nil {
		return notFound(id, err)
	}
	c.logger.Infof("Deleted notebook %s", id)
	return nil
}

// BatchDelete deletes ids concurrently and reports the outcome per id.
// Individual failures do not stop the batch.
func (c *Client) BatchDelete(ctx context.Context, ids []string) (map[string]error, error) {
	if len(ids) == 0 {
		return nil, errors.New("notebook ids cannot be empty")
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := c.Delete(gctx, id)
			mu.Lock()
			results[id] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Exists reports whether a notebook can be fetched.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Parse reads a notebook entry shaped [id, name, created, sources, ...].
func Parse(data any) (Notebook, error) {
	fields, ok := data.([]any)
	if !ok || len(fields) < 2 {
		return Notebook{}, fmt.Errorf("invalid notebook response format: %T", data)
	}

	nb := Notebook{Name: "Untitled"}
	if id, ok := fields[0].(string); ok {
		nb.ID = id
	}
	if name, ok := fields[1].(string); ok && name != "" {
		nb.Name = name
	}
	if len(fields) > 2 {
		if ts, ok := fields[2].(float64); ok && ts > 0 {
			nb.CreatedAt = fromTimestamp(ts)
		}
	}
	if len(fields) > 3 {
		if sources, ok := fields[3].([]any); ok {
			nb.SourceCount = len(sources)
		}
	}
	return nb, nil
}

// fromTimestamp accepts seconds or milliseconds since the epoch.
func fromTimestamp(ts float64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(int64(ts)).UTC()
	}
	return time.Unix(int64(ts), 0).UTC()
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("notebook name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("notebook name cannot exceed %d characters", MaxNameLength)
	}
	return name, nil
}

// notFound maps a 404 or "not found" failure to ErrNotFound, keeping the cause.
func notFound(id string, err error) error {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.StatusCode == 404 {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	}
	return fmt.Errorf("notebook %s: %w", id, err)
}
