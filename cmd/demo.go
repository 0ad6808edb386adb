package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/backends/memory"
	"github.com/ebogdum/hnsfs/client"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	hnslog "github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/locks"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/transport/rest"
)

const demoContent = "hnsfs sample content appended by the demo\n"

type demoOptions struct {
	local       bool
	deleteAfter bool
}

func newDemoCmd() *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through every client operation against a store",
		Long: `demo creates directories and files under client.base_path, appends,
reads, changes permissions, concatenates and renames, printing each result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.local, "local", false, "Run against an in-process memory store")
	cmd.Flags().BoolVar(&opts.deleteAfter, "delete-after", false, "Recursively delete the demo tree when done")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, opts demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := hnslog.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	c, closeFn, err := newDemoClient(ctx, cfg, opts.local, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	err = walkthrough(ctx, out, c, cfg.Client.BasePath, opts.deleteAfter)
	if err != nil {
		printError(out, err)
	}
	return err
}

// newDemoClient builds a client for the configured server, or for an
// in-process engine over a memory store when local is set.
func newDemoClient(ctx context.Context, appCfg config.AppConfig, local bool, logger *zap.Logger) (*client.StoreClient, func(), error) {
	cfg := appCfg.Client
	if local {
		engine := core.NewEngine(memory.New(), core.BackendMemory, locks.NewLocalManager(), core.Options{}, logger)
		c, err := client.New(client.Config{Endpoint: "local", WriteBufferSize: cfg.WriteBufferSize}, engine, auth.NewStaticTokenProvider("local"), logger)
		if err != nil {
			engine.Close()
			return nil, nil, err
		}
		return c, func() { engine.Close() }, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	tokens, err := newTokenProvider(ctx, cfg, appCfg.Auth.JWTIssuer)
	if err != nil {
		return nil, nil, err
	}
	transport, err := rest.New(rest.Config{
		Endpoint:      cfg.Endpoint,
		Timeout:       cfg.Timeout,
		SkipTLSVerify: cfg.SkipTLSVerify,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(client.Config{Endpoint: cfg.Endpoint, WriteBufferSize: cfg.WriteBufferSize}, transport, tokens, logger)
	if err != nil {
		transport.Close()
		return nil, nil, err
	}
	return c, func() { transport.Close() }, nil
}

// newTokenProvider picks the first configured credential: OAuth2 client
// credentials, then a shared signing key, then a static API key. Shared-key
// tokens carry the issuer the server expects.
func newTokenProvider(ctx context.Context, cfg config.ClientConfig, issuer string) (auth.TokenProvider, error) {
	switch {
	case cfg.TokenURL != "":
		return auth.NewClientCredentialsProvider(ctx, auth.ClientCredentialsConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		})
	case cfg.SharedKey != "":
		subject := cfg.Subject
		if subject == "" {
			subject = metadata.DefaultOwner
		}
		return auth.NewSharedKeyTokenProvider([]byte(cfg.SharedKey), subject, issuer, 15*time.Minute)
	default:
		return auth.NewStaticTokenProvider(cfg.APIKey), nil
	}
}

func walkthrough(ctx context.Context, out io.Writer, c *client.StoreClient, base string, deleteAfter bool) error {
	p := func(rel string) string { return pathutil.Join(base, rel) }

	if err := c.CreateDirectory(ctx, base); err != nil {
		return err
	}
	if err := listDirectory(ctx, out, c, base); err != nil {
		return err
	}

	if err := c.CreateDirectory(ctx, p("a/b/w")); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created directory %s\n", p("a/b/w"))

	if err := writeFile(ctx, c, p("a/b/c.txt"), metadata.Overwrite, "first line\n"); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", p("a/b/c.txt"))

	if err := c.SetPermission(ctx, p("a/b/c.txt"), "744"); err != nil {
		return err
	}
	fmt.Fprintf(out, "Set permission 744 on %s\n", p("a/b/c.txt"))

	w, err := c.AppendStream(ctx, p("a/b/c.txt"))
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, demoContent); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Appended to %s\n", p("a/b/c.txt"))

	r, err := c.ReadStream(ctx, p("a/b/c.txt"))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Content of %s:\n", p("a/b/c.txt"))
	_, err = io.Copy(out, r)
	r.Close()
	if err != nil {
		return err
	}

	entry, err := c.GetEntry(ctx, p("a/b/c.txt"))
	if err != nil {
		return err
	}
	printEntry(out, entry)

	if err := writeFile(ctx, c, p("a/b/d.txt"), metadata.Overwrite, "second file\n"); err != nil {
		return err
	}
	if err := c.Concatenate(ctx, p("a/b/f.txt"), []string{p("a/b/c.txt"), p("a/b/d.txt")}); err != nil {
		return err
	}
	fmt.Fprintf(out, "Concatenated into %s\n", p("a/b/f.txt"))

	if err := c.Rename(ctx, p("a/b/f.txt"), p("a/b/g.txt")); err != nil {
		return err
	}
	fmt.Fprintf(out, "Renamed %s to %s\n", p("a/b/f.txt"), p("a/b/g.txt"))

	if err := listDirectory(ctx, out, c, p("a/b")); err != nil {
		return err
	}

	if deleteAfter {
		if err := c.DeleteRecursive(ctx, p("a")); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %s\n", p("a"))
	}
	return nil
}

func writeFile(ctx context.Context, c *client.StoreClient, path string, policy metadata.IfExists, content string) error {
	w, err := c.CreateFile(ctx, path, policy)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, content); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func listDirectory(ctx context.Context, out io.Writer, c *client.StoreClient, dir string) error {
	entries, err := c.ListDirectory(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Listing %s: %d entries\n", dir, len(entries))
	for _, e := range entries {
		printEntry(out, e)
	}
	return nil
}

func printEntry(out io.Writer, e *metadata.Entry) {
	fmt.Fprintf(out, "Entry %s\n", e.Path)
	fmt.Fprintf(out, "  name:        %s\n", e.Name)
	fmt.Fprintf(out, "  type:        %s\n", e.Type)
	fmt.Fprintf(out, "  length:      %d\n", e.Length)
	fmt.Fprintf(out, "  owner:       %s\n", e.Owner)
	fmt.Fprintf(out, "  group:       %s\n", e.Group)
	fmt.Fprintf(out, "  permission:  %s\n", e.Permission)
	fmt.Fprintf(out, "  modified:    %s\n", e.ModTime.Format(time.RFC3339))
	fmt.Fprintf(out, "  accessed:    %s\n", e.AccessTime.Format(time.RFC3339))
}

// printError reports a failure: store errors with their remote details,
// anything else with its type and message.
func printError(out io.Writer, err error) {
	var remote *metadata.RemoteError
	if errors.As(err, &remote) {
		printRemoteError(out, remote)
		return
	}
	fmt.Fprintln(out, "Operation failed")
	fmt.Fprintf(out, "  type:    %T\n", err)
	fmt.Fprintf(out, "  message: %s\n", err)
}

func printRemoteError(out io.Writer, e *metadata.RemoteError) {
	fmt.Fprintln(out, "Remote operation failed")
	fmt.Fprintf(out, "  message:           %s\n", e.Message)
	fmt.Fprintf(out, "  status code:       %d\n", e.StatusCode)
	fmt.Fprintf(out, "  exception name:    %s\n", e.RemoteExceptionName)
	fmt.Fprintf(out, "  exception message: %s\n", e.RemoteExceptionMessage)
	fmt.Fprintf(out, "  request id:        %s\n", e.RequestID)
}
