package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/entrhq/notebooklm/pkg/auth"
	"github.com/entrhq/notebooklm/pkg/browser"
	"github.com/entrhq/notebooklm/pkg/config"
	"github.com/entrhq/notebooklm/pkg/notebooks"
)

// rpcSession is the part of session.Session the commands use.
type rpcSession interface {
	CallRPC(ctx context.Context, rpcID string, params []any) (any, error)
	CallRaw(ctx context.Context, req browser.Request) (string, error)
	StreamRaw(ctx context.Context, req browser.Request) ([]any, int, error)
}

type env struct {
	cfg       *config.Config
	store     *auth.FileStore
	session   rpcSession
	notebooks *notebooks.Client
	out       io.Writer
}

type command struct {
	name  string
	usage string
	help  string

	// offline commands run without launching a browser.
	offline bool
	run     func(ctx context.Context, e *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{name: "auth-check", usage: "auth-check", help: "Report whether stored credentials are usable", offline: true, run: authCheck},
		{name: "import", usage: "import <storage-state.json>", help: "Store cookies exported from a logged-in browser", offline: true, run: importCookies},
		{name: "logout", usage: "logout", help: "Remove stored credentials", offline: true, run: logout},
		{name: "config", usage: "config [yaml|toml]", help: "Print the effective configuration", offline: true, run: printConfig},
		{name: "list", usage: "list", help: "List notebooks", run: listNotebooks},
		{name: "get", usage: "get <id>", help: "Show one notebook", run: getNotebook},
		{name: "create", usage: "create <name>", help: "Create a notebook", run: createNotebook},
		{name: "rename", usage: "rename <id> <name>", help: "Rename a notebook", run: renameNotebook},
		{name: "delete", usage: "delete -yes <id> [id...]", help: "Delete notebooks", run: deleteNotebooks},
		{name: "rpc", usage: "rpc <rpc-id> <json-params>", help: "Call a batch RPC and print the decoded result", run: callRPC},
		{name: "raw", usage: "raw [-stream] <url>", help: "Fetch a URL inside the authenticated page", run: callRaw},
	}
}

func lookupCommand(name string) (command, error) {
	for _, c := range commands {
		if c.name == name {
			return c, nil
		}
	}
	return command{}, fmt.Errorf("unknown command %q", name)
}

func authCheck(_ context.Context, e *env, _ []string) error {
	fmt.Fprintf(e.out, "credentials: %s\n", e.store.Path())
	if !e.store.IsValid() {
		return errors.New("credentials missing or expired; log in again")
	}
	fmt.Fprintf(e.out, "valid until: %s\n", e.store.ExpiresAt().Format(time.RFC3339))
	if !e.store.HasEssentialCookies() {
		fmt.Fprintln(e.out, "warning: some login cookies are missing")
	}
	fmt.Fprintln(e.out, "ok")
	return nil
}

// storageState matches the browser storage-state export format.
type storageState struct {
	Cookies []struct {
		Name     string   `json:"name"`
		Value    string   `json:"value"`
		Domain   string   `json:"domain"`
		Path     string   `json:"path"`
		Expires  *float64 `json:"expires"`
		HTTPOnly bool     `json:"httpOnly"`
		Secure   bool     `json:"secure"`
		SameSite string   `json:"sameSite"`
	} `json:"cookies"`
}

func importCookies(_ context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: import <storage-state.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read storage state: %w", err)
	}
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse storage state: %w", err)
	}

	cookies := make([]auth.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookies = append(cookies, auth.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
		})
	}
	if err := e.store.Save(cookies, ""); err != nil {
		return err
	}
	if !e.store.IsValid() {
		return errors.New("imported cookies do not include SID, HSID and SSID")
	}
	fmt.Fprintf(e.out, "stored credentials in %s\n", e.store.Path())
	return nil
}

func logout(_ context.Context, e *env, _ []string) error {
	if err := e.store.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "logged out")
	return nil
}

func printConfig(_ context.Context, e *env, args []string) error {
	format := "yaml"
	if len(args) > 0 {
		format = args[0]
	}
	data, err := e.cfg.Encode(format)
	if err != nil {
		return err
	}
	_, err = e.out.Write(data)
	return err
}

func listNotebooks(ctx context.Context, e *env, _ []string) error {
	list, err := e.notebooks.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSOURCES\tCREATED")
	for _, nb := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", nb.ID, nb.Name, nb.SourceCount, created(nb))
	}
	return tw.Flush()
}

func getNotebook(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <id>")
	}
	nb, err := e.notebooks.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printNotebook(e.out, nb)
	return nil
}

func createNotebook(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: create <name>")
	}
	nb, err := e.notebooks.Create(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	printNotebook(e.out, nb)
	return nil
}

func renameNotebook(ctx context.Context, e *env, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: rename <id> <name>")
	}
	nb, err := e.notebooks.Rename(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	printNotebook(e.out, nb)
	return nil
}

func deleteNotebooks(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	yes := fs.Bool("yes", false, "confirm deletion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := fs.Args()
	if len(ids) == 0 {
		return errors.New("usage: delete -yes <id> [id...]")
	}
	if !*yes {
		return errors.New("deletion must be confirmed with -yes")
	}

	results, err := e.notebooks.BatchDelete(ctx, ids)
	if err != nil {
		return err
	}
	failed := 0
	for _, id := range ids {
		if derr := results[id]; derr != nil {
			failed++
			fmt.Fprintf(e.out, "%s\tfailed: %v\n", id, derr)
			continue
		}
		fmt.Fprintf(e.out, "%s\tdeleted\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(ids))
	}
	return nil
}

func callRPC(ctx context.Context, e *env, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: rpc <rpc-id> <json-params>")
	}
	params := []any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("params must be a JSON array: %w", err)
		}
	}
	result, err := e.session.CallRPC(ctx, args[0], params)
	if err != nil {
		return err
	}
	return writeJSON(e.out, result)
}

func callRaw(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("raw", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	stream := fs.Bool("stream", false, "decode the body as a chunked stream")
	method := fs.String("method", "GET", "HTTP method")
	body := fs.String("body", "", "request body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: raw [-stream] [-method M] [-body B] <url>")
	}
	req := browser.Request{URL: fs.Arg(0), Method: *method, Body: *body}

	if *stream {
		chunks, dropped, err := e.session.StreamRaw(ctx, req)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			if err := writeJSON(e.out, c); err != nil {
				return err
			}
		}
		if dropped > 0 {
			fmt.Fprintf(e.out, "# %d malformed chunks dropped\n", dropped)
		}
		return nil
	}

	text, err := e.session.CallRaw(ctx, req)
	if err != nil {
		return err
	}
	_, err = io.WriteString(e.out, text)
	return err
}

func printNotebook(w io.Writer, nb notebooks.Notebook) {
	fmt.Fprintf(w, "id:      %s\nname:    %s\nsources: %d\ncreated: %s\n",
		nb.ID, nb.Name, nb.SourceCount, created(nb))
}

func created(nb notebooks.Notebook) string {
	if nb.CreatedAt.IsZero() {
		return "-"
	}
	return nb.CreatedAt.Format(time.RFC3339)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
