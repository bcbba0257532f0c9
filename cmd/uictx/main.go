// Command uictx runs a context selection over a UI snapshot file and prints
// the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"uicontext-mcp-server/internal/config"
	"uicontext-mcp-server/internal/element"
	"uicontext-mcp-server/internal/element/snapshot"
	"uicontext-mcp-server/internal/logging"
	"uicontext-mcp-server/internal/recorder"
	"uicontext-mcp-server/internal/selection"

	"go.uber.org/zap"
)

type options struct {
	snapshot   string
	anchors    string
	budget     int
	policy     string
	save       string
	configPath string
	verbose    bool
}

type output struct {
	*selection.Result
	TraversalID   string `json:"traversal_id,omitempty"`
	TraversalPath string `json:"traversal_path,omitempty"`
	Error         string `json:"error,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "uictx: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("uictx", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.snapshot, "snapshot", "", "Snapshot document (YAML or JSON)")
	fs.StringVar(&opts.anchors, "anchor", "", "Comma separated anchor ids (default: snapshot root)")
	fs.IntVar(&opts.budget, "budget", 0, "Token budget (default: selection.default_budget)")
	fs.StringVar(&opts.policy, "policy", "", "Over-budget policy: prune or skip")
	fs.StringVar(&opts.save, "save", "", "Directory to save the traversal session in")
	fs.StringVar(&opts.configPath, "config", "", "Optional config file")
	fs.BoolVar(&opts.verbose, "v", false, "Debug logging to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.snapshot == "" {
		fs.Usage()
		return errors.New("-snapshot is required")
	}

	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	if opts.policy != "" {
		cfg.Selection.Policy = opts.policy
	}
	budget := opts.budget
	if budget == 0 {
		budget = cfg.Selection.DefaultBudget
	}

	logger := zap.NewNop()
	if opts.verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Format = "console"
		cfg.Log.Output = []string{"stderr"}
		var err error
		if logger, err = logging.New(cfg.Log); err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}

	engine, err := selection.NewEngineFromConfig(cfg.Selection, logger)
	if err != nil {
		return err
	}
	tree, err := snapshot.Load(opts.snapshot)
	if err != nil {
		return err
	}
	anchors, err := resolveAnchors(tree, opts.anchors)
	if err != nil {
		return err
	}

	var rec *recorder.Recorder
	req := selection.Request{Anchors: anchors, Budget: budget}
	if opts.save != "" {
		rec = recorder.New(selection.Algorithm, budget)
		req.Observer = rec
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Selection.GetTimeout())
	defer cancel()
	res, selErr := engine.Select(ctx, req)
	if selErr != nil && !errors.Is(selErr, selection.ErrCancelled) {
		return selErr
	}

	out := output{Result: res}
	if selErr != nil {
		out.Error = selErr.Error()
	}
	if rec != nil {
		store, err := recorder.NewStore(opts.save, cfg.Recorder.MaxFiles)
		if err != nil {
			return err
		}
		path, err := store.Save(rec)
		if err != nil {
			return fmt.Errorf("save traversal: %w", err)
		}
		out.TraversalID = rec.ID()
		out.TraversalPath = path
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func resolveAnchors(tree *snapshot.Tree, ids string) ([]element.Element, error) {
	if strings.TrimSpace(ids) == "" {
		return []element.Element{tree.Root()}, nil
	}
	var anchors []element.Element
	for _, id := range strings.Split(ids, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		el, ok := tree.Find(id)
		if !ok {
			return nil, fmt.Errorf("unknown anchor %q", id)
		}
		anchors = append(anchors, el)
	}
	return anchors, nil
}
