// jitrt CLI - runs the helper scenario suite against the reference runtime
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/jitrt/config"
	"github.com/chazu/jitrt/stats"
	"github.com/chazu/jitrt/vm"
	"github.com/chazu/jitrt/vm/framedump"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("jitrt.cli")

type cliOptions struct {
	configPath string
	verbose    bool
	table      bool
	run        string
	threads    int
	iterations int
	dump       string
	statsDB    string
}

func main() {
	var o cliOptions
	flag.StringVar(&o.configPath, "config", "", "Configuration file (default: jitrt.toml in this or a parent directory)")
	flag.BoolVar(&o.verbose, "v", false, "Verbose output")
	flag.BoolVar(&o.table, "table", false, "Print the helper table")
	flag.StringVar(&o.run, "run", "", "Run scenarios: all, or a comma-separated list of "+scenarioNames())
	flag.IntVar(&o.threads, "threads", 4, "Worker threads for -run")
	flag.IntVar(&o.iterations, "n", 100, "Iterations of each scenario per worker")
	flag.StringVar(&o.dump, "dump", "", "Write CBOR stack snapshots to this file after -run")
	flag.StringVar(&o.statsDB, "stats-db", "", "Record helper counters in this SQLite database (overrides [stats] database)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jitrt [options]\n\n")
		fmt.Fprintf(os.Stderr, "Exercises the JIT runtime helpers against the reference runtime.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jitrt -table                         # List helpers\n")
		fmt.Fprintf(os.Stderr, "  jitrt -run all -threads 8            # Run every scenario on 8 threads\n")
		fmt.Fprintf(os.Stderr, "  jitrt -run monitor -dump stacks.cbor # Run one scenario, dump stacks\n")
		fmt.Fprintf(os.Stderr, "  jitrt -run all -stats-db runs.db     # Keep the counters\n")
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o cliOptions, out io.Writer) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.verbose {
		cfg.Log.Verbosity = 2
	}
	cfg.ConfigureLogging()
	if o.statsDB != "" {
		cfg.Stats.Database = o.statsDB
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	m, err := vm.New(opts)
	if err != nil {
		return fmt.Errorf("creating runtime: %w", err)
	}
	if o.verbose {
		fmt.Fprintf(out, "Config: %s\n", describeConfig(cfg))
	}

	if o.table {
		if err := printTable(out, m.Helpers); err != nil {
			return err
		}
	}
	if o.run == "" {
		if !o.table {
			flag.Usage()
		}
		return nil
	}
	list, err := selectScenarios(o.run)
	if err != nil {
		return err
	}
	if o.threads < 1 {
		return fmt.Errorf("-threads must be at least 1")
	}

	w, err := newWorkload(m)
	if err != nil {
		return fmt.Errorf("setting up workload: %w", err)
	}
	started := time.Now()
	workers, err := w.runSuite(ctx, list, o.threads, o.iterations)
	if err != nil {
		return err
	}
	elapsed := time.Since(started)
	log.Infof("suite finished in %s", elapsed)

	if err := printProfile(out, m.Profiler, elapsed); err != nil {
		return err
	}
	if o.dump != "" {
		if err := writeDump(o.dump, w.snapshots(workers)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote stack snapshots to %s\n", o.dump)
	}
	if cfg.Stats.Database != "" {
		id, err := recordStats(ctx, cfg, opts, o.threads, m.Profiler)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Recorded run %s in %s\n", id, cfg.Stats.Database)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

func describeConfig(cfg *config.Config) string {
	src := cfg.Path
	if src == "" {
		src = "defaults"
	}
	return fmt.Sprintf("%s (java %d, heap %d, convention %s)",
		src, cfg.Runtime.JavaSpecVersion, cfg.Heap.Size, cfg.JIT.CallingConvention)
}

func scenarioNames() string {
	var s string
	for i, sc := range scenarios {
		if i > 0 {
			s += ", "
		}
		s += sc.name
	}
	return s
}

func printTable(out io.Writer, ht *vm.HelperTable) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHELPER\tPARMS\tFAST\tSLOW")
	for id, e := range ht.All() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", id, e.Name, e.ParmCount, yesNo(e.Fast != nil), yesNo(e.Slow != nil))
	}
	return tw.Flush()
}

func printProfile(out io.Writer, p *vm.Profiler, elapsed time.Duration) error {
	s := p.Stats()
	fmt.Fprintf(out, "Ran in %s: %d calls to %d helpers, %d fast, %d slow, %d hot\n",
		elapsed.Round(time.Millisecond), s.Calls, s.Helpers, s.FastHits, s.SlowEntries, s.HotHelpers)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HELPER\tCALLS\tFAST\tSLOW\tTHROWS\tREDIRECTS")
	for _, c := range p.TopSlowPaths(10) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", c.Helper, c.Calls, c.FastHits, c.SlowEntries, c.Throws, c.Redirects)
	}
	return tw.Flush()
}

func writeDump(path string, snaps []*framedump.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := framedump.Write(f, snaps...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func recordStats(ctx context.Context, cfg *config.Config, opts vm.Options, threads int, p *vm.Profiler) (string, error) {
	store, err := stats.Open(cfg.Stats.Database)
	if err != nil {
		return "", err
	}
	defer store.Close()
	id, err := store.Record(ctx, stats.Run{
		Label:      cfg.Stats.Label,
		Convention: opts.Convention.Name(),
		Threads:    threads,
	}, p)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
