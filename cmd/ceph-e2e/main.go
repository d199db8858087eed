package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/harness"
	"ceph-e2e/common/runner"

	flags "github.com/jessevdk/go-flags"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

const (
	exitFailed = 1
	exitUsage  = 2
)

type options struct {
	Config    string   `short:"c" long:"config" env:"e2e_config_file" description:"Path to the e2e configuration file"`
	Scenarios []string `short:"s" long:"scenario" description:"Scenario to run, may be repeated"`
	List      bool     `short:"l" long:"list" description:"List the scenarios and exit"`
	SkipCheck bool     `long:"skip-precheck" description:"Do not check node reachability and cluster health first"`
	Debug     bool     `long:"debug" description:"Verbose logging"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "ceph e2e"
	parser.LongDescription = "Runs ceph end to end scenarios against a cephadm deployed cluster"
	if _, err := parser.ParseArgs(args); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, err)
			return 0
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if opts.List {
		for _, name := range runner.Names() {
			fmt.Fprintln(stdout, name)
		}
		return 0
	}
	if opts.Config == "" {
		fmt.Fprintln(stderr, "no configuration file, use --config or e2e_config_file")
		return exitUsage
	}
	if len(opts.Scenarios) == 0 {
		fmt.Fprintln(stderr, "no scenario selected, use --scenario, --list shows them")
		return exitUsage
	}
	for _, name := range opts.Scenarios {
		if !runner.Known(name) {
			fmt.Fprintf(stderr, "unknown scenario %q\n", name)
			return exitUsage
		}
	}

	cfg, err := e2e_config.Load(opts.Config)
	logf.SetLogger(zap.New(zap.UseDevMode(opts.Debug || cfg.Debug), zap.WriteTo(stderr)))
	log := logf.Log.WithName("ceph-e2e")
	if err != nil {
		log.Error(err, "Invalid configuration")
		return exitFailed
	}

	scenarios, err := runner.Select(cfg, opts.Scenarios)
	if err != nil {
		log.Error(err, "Cannot select scenarios")
		return exitFailed
	}
	r, err := runner.FromConfig(cfg, logf.Log)
	if err != nil {
		log.Error(err, "Cannot connect to the cluster")
		return exitFailed
	}
	if !opts.SkipCheck {
		if err := r.Precheck(ctx); err != nil {
			log.Error(err, "Cluster is not fit to run scenarios")
			return exitFailed
		}
	}

	outcomes := r.RunAll(ctx, scenarios)
	if err := r.PushMetrics(); err != nil {
		log.Error(err, "Failed to push metrics")
	}
	report(stdout, outcomes)
	return runner.Code(outcomes)
}

func report(w io.Writer, outcomes []harness.Outcome) {
	for _, o := range outcomes {
		line := fmt.Sprintf("%-32s %-4s reached=%s run=%s duration=%s", o.Scenario, o.Result(), o.Reached, o.RunID, o.Duration.Round(time.Second))
		switch {
		case o.Skipped:
			line += " skipped: " + o.SkipReason
		case !o.Passed():
			line += " error: " + o.Aggregate().Error()
		}
		fmt.Fprintln(w, line)
	}
}
