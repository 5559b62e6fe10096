// Command pipelinectl is the operator CLI over the enqueue adapter:
// submit, status, cancel and history, run directly against the
// coordination store. It exists because the web API the enqueue adapter
// would otherwise sit behind is explicitly out of scope; this gives the
// adapter an exercised, scriptable entry point instead. Subcommand layout
// is grounded on the teacher's cmd/daemon (one file per subcommand,
// status_cmd.go/report_cmd.go/...), reimplemented over stdlib flag
// instead of cobra to match the rest of this module's CLI surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Joshi004/moments-pipeline/internal/app"
	"github.com/Joshi004/moments-pipeline/internal/config"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/enqueue"
	xglog "github.com/Joshi004/moments-pipeline/internal/log"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	xglog.Configure(xglog.Config{Level: "warn", Service: "pipelinectl"})

	configPath := os.Getenv("MOMENTS_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl: load config: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl: connect: %v\n", err)
		return 1
	}
	defer func() { _ = container.Store.Close() }()

	switch args[0] {
	case "submit":
		return cmdSubmit(ctx, container.Enqueue, args[1:])
	case "status":
		return cmdStatus(ctx, container.Enqueue, args[1:])
	case "cancel":
		return cmdCancel(ctx, container.Enqueue, args[1:])
	case "history":
		return cmdHistory(ctx, container.Enqueue, args[1:])
	default:
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipelinectl <submit|status|cancel|history> [flags]")
}

func cmdSubmit(ctx context.Context, a *enqueue.Adapter, args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	subjectID := fs.String("subject-id", "", "subject id to run the pipeline against (required)")
	genModel := fs.String("generation-model", "", "generation model key (required)")
	refModel := fs.String("refinement-model", "", "refinement model key (required)")
	padLeft := fs.Float64("padding-left-seconds", 0, "clip padding before the moment start")
	padRight := fs.Float64("padding-right-seconds", 0, "clip padding after the moment end")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *subjectID == "" || *genModel == "" || *refModel == "" {
		fmt.Fprintln(os.Stderr, "pipelinectl submit: --subject-id, --generation-model and --refinement-model are required")
		return 2
	}

	cfg := domain.RunConfig{
		GenerationModel:     *genModel,
		RefinementModel:     *refModel,
		PaddingLeftSeconds:  *padLeft,
		PaddingRightSeconds: *padRight,
	}

	accepted, err := a.Submit(ctx, *subjectID, cfg)
	if err != nil {
		switch {
		case errors.Is(err, enqueue.ErrValidation):
			fmt.Fprintf(os.Stderr, "pipelinectl submit: invalid config: %v\n", err)
			return 2
		case errors.Is(err, enqueue.ErrConflict):
			fmt.Fprintf(os.Stderr, "pipelinectl submit: %v\n", err)
			return 1
		default:
			fmt.Fprintf(os.Stderr, "pipelinectl submit: %v\n", err)
			return 1
		}
	}
	return printJSON(accepted)
}

func cmdStatus(ctx context.Context, a *enqueue.Adapter, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	subjectID := fs.String("subject-id", "", "subject id (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *subjectID == "" {
		fmt.Fprintln(os.Stderr, "pipelinectl status: --subject-id is required")
		return 2
	}
	snap, err := a.GetStatus(ctx, *subjectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl status: %v\n", err)
		return 1
	}
	if snap == nil {
		fmt.Fprintln(os.Stderr, "pipelinectl status: no run found for subject")
		return 1
	}
	return printJSON(snap)
}

func cmdCancel(ctx context.Context, a *enqueue.Adapter, args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	subjectID := fs.String("subject-id", "", "subject id (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *subjectID == "" {
		fmt.Fprintln(os.Stderr, "pipelinectl cancel: --subject-id is required")
		return 2
	}
	if err := a.Cancel(ctx, *subjectID); err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl cancel: %v\n", err)
		return 1
	}
	fmt.Println("cancellation requested")
	return 0
}

func cmdHistory(ctx context.Context, a *enqueue.Adapter, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	subjectID := fs.String("subject-id", "", "subject id (required)")
	limit := fs.Int64("limit", 10, "max number of archived runs to return")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *subjectID == "" {
		fmt.Fprintln(os.Stderr, "pipelinectl history: --subject-id is required")
		return 2
	}
	runs, err := a.History(ctx, *subjectID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl history: %v\n", err)
		return 1
	}
	return printJSON(runs)
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl: encode output: %v\n", err)
		return 1
	}
	return 0
}
