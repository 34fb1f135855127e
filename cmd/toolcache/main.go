// Command toolcache memoizes tool operations from the command line. It
// reads one operation request as JSON and prints the outcome as JSON, so
// it slots into shell pipelines and editor hooks.
//
// Usage:
//
//	toolcache lookup < request.json
//	toolcache store --ok < result.json
//	toolcache invalidate < request.json
//	toolcache cleanup
//	toolcache clear
//	toolcache stats
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/toolmesh/toolcache/pkg/cache"
	"github.com/toolmesh/toolcache/pkg/observability"
)

// storeInput is the stdin document for the store command: the request
// plus the payload the operation produced.
type storeInput struct {
	Kind       cache.OperationKind `json:"kind"`
	Parameters map[string]any      `json:"parameters"`
	WorkingDir string              `json:"working_dir,omitempty"`
	Payload    any                 `json:"payload"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "toolcache: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("toolcache", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a config file")
	workingDir := flags.String("dir", "", "project directory (defaults to the working directory)")
	succeeded := flags.Bool("ok", true, "whether the operation being stored succeeded")
	verbose := flags.Bool("verbose", false, "enable debug logging")

	if len(args) == 0 {
		flags.Usage()
		return fmt.Errorf("missing command")
	}
	command := args[0]
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := observability.NewStandardLogger("toolcache")
	if *verbose {
		if std, ok := logger.(*observability.StandardLogger); ok {
			logger = std.WithLevel(observability.LogLevelDebug)
		}
	}

	var metrics observability.MetricsClient = observability.NewNoopMetricsClient()
	if cfg.EnableMetrics {
		metrics = observability.NewPrometheusMetricsClient("toolcache")
	}

	manager, err := cache.NewManager(cfg, *workingDir, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command {
	case "lookup":
		req, err := readRequest(os.Stdin)
		if err != nil {
			return err
		}
		return printJSON(manager.Lookup(ctx, req))

	case "store":
		var in storeInput
		if err := readJSON(os.Stdin, &in); err != nil {
			return err
		}
		req := cache.OperationRequest{Kind: in.Kind, Parameters: in.Parameters, WorkingDir: in.WorkingDir}
		key := manager.Store(ctx, req, in.Payload, *succeeded)
		return printJSON(map[string]any{"stored": key != "", "key": key})

	case "invalidate":
		req, err := readRequest(os.Stdin)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"invalidated": manager.Invalidate(ctx, req)})

	case "cleanup":
		removed := manager.Cleanup(ctx)
		return printJSON(map[string]any{"removed": removed})

	case "clear":
		removed := manager.Clear(ctx)
		return printJSON(map[string]any{"removed": removed})

	case "stats":
		return printJSON(manager.Stats(ctx))

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func loadConfig(path string) (*cache.Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return cache.LoadFromViper(v)
}

func readRequest(r io.Reader) (cache.OperationRequest, error) {
	var req cache.OperationRequest
	err := readJSON(r, &req)
	return req, err
}

func readJSON(r io.Reader, out any) error {
	data, err := io.ReadAll(io.LimitReader(r, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("expected a JSON document on stdin")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse input: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
