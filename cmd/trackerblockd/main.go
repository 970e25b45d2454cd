package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haukened/trackerblock/internal/blocker/common/clock"
	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/config"
	"github.com/haukened/trackerblock/internal/blocker/domain"
	"github.com/haukened/trackerblock/internal/blocker/gateways/fetch"
	"github.com/haukened/trackerblock/internal/blocker/repos/fetchmeta"
	"github.com/haukened/trackerblock/internal/blocker/repos/filterlists"
	"github.com/haukened/trackerblock/internal/blocker/repos/listfile"
	"github.com/haukened/trackerblock/internal/blocker/repos/parsedcache"
	"github.com/haukened/trackerblock/internal/blocker/repos/settings"
	"github.com/haukened/trackerblock/internal/blocker/repos/trackers"
	"github.com/haukened/trackerblock/internal/blocker/services/compiler"
	"github.com/haukened/trackerblock/internal/blocker/services/engine"
	"github.com/haukened/trackerblock/internal/blocker/services/loader"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "trackerblockd"
)

const usage = `usage: trackerblockd <command> [flags]

commands:
  update                       fetch and persist every block-list once
  status                       show persisted lists, fetch history and settings
  check -url U -top T [-type]  classify one resource load
  serve                        refresh lists on a schedule; SIGHUP refreshes now
  enable | disable             toggle protection
  whitelist add|remove|list    manage whitelisted sites
  export <name>                print banned-trackers or a filter list for embedding
`

// errUsage marks command line errors; they exit with status 2.
var errUsage = errors.New("usage error")

// Application holds all the components of the blocker.
type Application struct {
	config    *config.AppConfig
	clock     clock.Clock
	logger    log.Logger
	out       io.Writer
	files     *listfile.Store
	meta      *fetchmeta.Store
	directory *trackers.Directory
	lists     *filterlists.Store
	cache     *parsedcache.Cache
	settings  *settings.Store
	loader    *loader.Loader
	session   *engine.Session
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}
	if args[0] == "version" {
		fmt.Fprintf(stdout, "%s %s\n", appName, version)
		return 0
	}

	// Load configuration from defaults, the optional file and environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Configure global logging
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(stderr, "Logging configuration error: %v\n", err)
		return 1
	}

	app, err := buildApplication(cfg, stdout)
	if err != nil {
		log.Error(map[string]any{"error": err}, "Failed to build application")
		return 1
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Dispatch(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(stderr, usage)
			return 2
		}
		return 1
	}
	return 0
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig, out io.Writer) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	app := &Application{config: cfg, clock: clk, logger: logger, out: out}

	if err := app.buildRepositories(); err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	fetcher := fetch.NewHTTPFetcher(fetch.Options{
		Timeout:  cfg.FetchTimeout,
		MaxBytes: cfg.MaxListBytes,
	})

	l, err := loader.New(loader.Options{
		Sources: []loader.Source{
			{Kind: domain.ListTrackerDirectory, URL: cfg.TrackerDirectoryURL},
			{Kind: domain.ListGeneral, URL: cfg.GeneralListURL},
			{Kind: domain.ListPrivacy, URL: cfg.PrivacyListURL},
		},
		Fetcher:     fetcher,
		Directory:   app.directory,
		FilterLists: app.lists,
		Meta:        app.meta,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}
	app.loader = l

	host := engine.NewDispatcher(engine.DispatcherOptions{
		Cache:       app.cache,
		Timer:       clock.NewPerfTimer(clk, logger),
		OnDetection: app.reportDetection,
		Logger:      logger,
	})
	session, err := engine.NewSession(engine.SessionOptions{
		Lists:             app.lists,
		Directory:         app.directory,
		Cache:             app.cache,
		Compiler:          compiler.New(cfg.FalsePositiveRate, logger),
		Host:              host,
		DecisionCacheSize: cfg.DecisionCacheSize,
		Timing:            cfg.Timing,
		Clock:             clk,
		Logger:            logger,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	app.session = session

	log.Info(map[string]any{
		"version":           version,
		"env":               cfg.Env,
		"data_dir":          cfg.DataDir,
		"has_data":          app.loader.HasData(),
		"directory_size":    app.directory.Count(),
		"decision_cache":    cfg.DecisionCacheSize,
		"banned_categories": cfg.BannedCategories,
	}, "Blocker initialized")
	return app, nil
}

// buildRepositories opens the persisted state under the data directory.
func (app *Application) buildRepositories() error {
	cfg := app.config
	files, err := listfile.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	app.files = files

	meta, err := fetchmeta.Open(cfg.FetchMetaPath())
	if err != nil {
		return fmt.Errorf("failed to open fetch metadata: %w", err)
	}
	app.meta = meta

	app.directory = trackers.New(trackers.Options{
		Files:            files,
		BannedCategories: cfg.BannedCategories,
		Logger:           app.logger,
	})
	app.directory.Load()

	app.cache = parsedcache.New()
	app.lists = filterlists.New(files, app.logger)
	app.lists.OnPersist(app.cache.InvalidateList)

	app.settings = settings.New(cfg.SettingsPath())
	return nil
}

// Close releases the fetch metadata database.
func (app *Application) Close() {
	if app.meta != nil {
		if err := app.meta.Close(); err != nil {
			log.Warn(map[string]any{"error": err}, "Error closing fetch metadata")
		}
		app.meta = nil
	}
}

// Dispatch runs the named command.
func (app *Application) Dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "update":
		return app.update(ctx)
	case "status":
		return app.status()
	case "check":
		return app.check(args)
	case "serve":
		return app.Serve(ctx, nil)
	case "enable":
		return app.settings.SetEnabled(true)
	case "disable":
		return app.settings.SetEnabled(false)
	case "whitelist":
		return app.whitelist(args)
	case "export":
		return app.export(args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (app *Application) update(ctx context.Context) error {
	res := app.loader.Run(ctx)
	for _, o := range res.Lists {
		if o.Err != nil {
			fmt.Fprintf(app.out, "%-18s failed  %v\n", o.Kind, o.Err)
			continue
		}
		fmt.Fprintf(app.out, "%-18s ok      %d bytes sha256:%s\n", o.Kind, o.Bytes, shortDigest(o.Digest))
	}
	fmt.Fprintf(app.out, "has data: %t\n", res.HasData)
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d lists failed", len(failed), len(res.Lists))
	}
	return nil
}

func (app *Application) status() error {
	records, err := app.meta.All()
	if err != nil {
		return err
	}
	urls := map[domain.ListKind]string{
		domain.ListTrackerDirectory: app.config.TrackerDirectoryURL,
		domain.ListGeneral:          app.config.GeneralListURL,
		domain.ListPrivacy:          app.config.PrivacyListURL,
	}
	for _, kind := range domain.AllListKinds {
		src, err := app.files.Source(kind, urls[kind])
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "%s\n  url:   %s\n  file:  %s (%d bytes)\n", kind, src.URL, src.Path, len(src.Raw))
		if rec, ok := records[kind]; ok {
			fmt.Fprintf(app.out, "  fetch: attempted %s", rec.LastAttempt.Format(time.RFC3339))
			if !rec.LastSuccess.IsZero() {
				fmt.Fprintf(app.out, ", succeeded %s", rec.LastSuccess.Format(time.RFC3339))
			}
			if rec.LastError != "" {
				fmt.Fprintf(app.out, ", error: %s", rec.LastError)
			}
			fmt.Fprintln(app.out)
		} else {
			fmt.Fprintln(app.out, "  fetch: never")
		}
	}
	fmt.Fprintf(app.out, "trackers: %d\n", app.directory.Count())
	fmt.Fprintf(app.out, "has data: %t\n", app.loader.HasData())

	cfg, err := app.settings.Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "protection: %s\n", onOff(cfg.Enabled()))
	fmt.Fprintf(app.out, "whitelist: %s\n", strings.Join(cfg.Whitelist(), ", "))
	return nil
}

func (app *Application) check(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	target := fs.String("url", "", "resource URL as written by the page")
	top := fs.String("top", "", "top-level document URL")
	kind := fs.String("type", "other", "element type (script, image, stylesheet, xmlhttprequest, ...)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *target == "" || *top == "" {
		return fmt.Errorf("%w: -url and -top are required", errUsage)
	}
	elementType, err := domain.ParseElementType(*kind)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := app.settings.Load()
	if err != nil {
		return err
	}
	e, err := app.session.OpenPage(cfg, *top)
	if err != nil {
		return err
	}
	outcome := e.Classify(domain.NetworkLoadEvent{URL: *target, TopURL: *top, ElementType: elementType})
	fmt.Fprintln(app.out, outcome)
	return nil
}

// Serve refreshes the block-lists at startup, then on schedule and on SIGHUP, until
// ctx is done. ready, when set, receives the refresher before the first pass.
func (app *Application) Serve(ctx context.Context, ready func(*loader.Refresher)) error {
	refresher := loader.NewRefresher(app.loader, loader.RefresherOptions{
		Interval:        app.config.RefreshInterval,
		TriggerInterval: app.config.TriggerInterval,
		OnResult: func(res loader.Result) {
			for _, o := range res.Failed() {
				app.logger.Warn(map[string]any{"list": o.Kind.String(), "error": o.Err}, "block_list_stale")
			}
		},
		Logger: app.logger,
	})
	if ready != nil {
		ready(refresher)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if !refresher.Trigger() {
					app.logger.Info(nil, "refresh_request_throttled")
				}
			}
		}
	}()

	log.Info(map[string]any{"interval": app.config.RefreshInterval.String()}, "Refresher started")
	err := refresher.Run(ctx)
	log.Info(nil, "Refresher stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (app *Application) whitelist(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: whitelist needs add, remove or list", errUsage)
	}
	switch args[0] {
	case "list":
		cfg, err := app.settings.Load()
		if err != nil {
			return err
		}
		for _, d := range cfg.Whitelist() {
			fmt.Fprintln(app.out, d)
		}
		return nil
	case "add", "remove":
		if len(args) != 2 {
			return fmt.Errorf("%w: whitelist %s <domain>", errUsage, args[0])
		}
		if args[0] == "add" {
			return app.settings.AddWhitelist(args[1])
		}
		return app.settings.RemoveWhitelist(args[1])
	default:
		return fmt.Errorf("%w: unknown whitelist action %q", errUsage, args[0])
	}
}

func (app *Application) export(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: export <banned-trackers|easylist|easylist_privacy>", errUsage)
	}
	if args[0] == "banned-trackers" {
		fmt.Fprintln(app.out, app.directory.BannedTrackersJSON())
		return nil
	}
	kind, err := domain.ParseListKind(args[0])
	if err != nil || !kind.IsFilterList() {
		return fmt.Errorf("%w: cannot export %q", errUsage, args[0])
	}
	fmt.Fprint(app.out, app.lists.Load(kind))
	return nil
}

func (app *Application) reportDetection(d domain.TrackerDetection) {
	parent := d.ParentDomain
	if !d.HasParent() {
		parent = "-"
	}
	fmt.Fprintf(app.out, "detected %s parent=%s method=%s blocked=%t\n", d.URL, parent, d.Method, d.Blocked)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
