// Command odatalens inspects OData services from the command line and serves the
// JSON API.
//
// Usage:
//
//	odatalens [-config file] <command> [flags]
//
// Commands:
//
//	parse   -url URL | -file FILE          print the parsed schema as JSON
//	detect  -url URL | -file FILE          print the OData version
//	colors  -url URL | -file FILE [-theme] print entity color indices
//	tasks   -url URL -set NAME -input FILE list selected rows of a query response
//	delete  -url URL -set NAME -input FILE [-dry-run] [-batch]
//	query   -url URL -set NAME [-filter] [-select] [-top] [-count]
//	stored  [-hash HASH]                   list stored services or print a document
//	serve   [-addr ADDR]                   run the HTTP API
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/odatalens/odatalens"
	"github.com/odatalens/odatalens/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "odatalens:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("odatalens", flag.ContinueOnError)
	configPath := global.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	explorer := odatalens.NewExplorerWithConfig(odatalens.ExplorerConfig{
		ProbeTimeout:   cfg.Client.ProbeTimeout,
		RequestTimeout: cfg.Client.RequestTimeout,
		CacheSize:      cfg.Cache.MaxEntries,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		KeepDocuments:  cfg.Store.KeepDocuments,
	})
	if err := explorer.SetLogger(logger); err != nil {
		return err
	}
	defer func() {
		if cerr := explorer.Close(); cerr != nil {
			logger.Warn("Failed to close explorer", "error", cerr)
		}
	}()
	if cfg.Store.DSN != "" {
		if err := explorer.EnableStore(cfg.Store.Dialect, cfg.Store.DSN); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := global.Arg(0), global.Args()[1:]
	c := &cli{explorer: explorer, cfg: cfg, logger: logger, out: stdout}
	switch cmd {
	case "parse":
		return c.parse(ctx, rest)
	case "detect":
		return c.detect(ctx, rest)
	case "colors":
		return c.colors(ctx, rest)
	case "tasks":
		return c.tasks(ctx, rest)
	case "delete":
		return c.delete(ctx, rest)
	case "query":
		return c.query(rest)
	case "stored":
		return c.stored(ctx, rest)
	case "serve":
		return c.serve(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

type cli struct {
	explorer *odatalens.Explorer
	cfg      *config.Config
	logger   *slog.Logger
	out      io.Writer
}

// source holds the -url/-file flags shared by schema commands.
type source struct {
	url  string
	file string
}

func (s *source) register(fs *flag.FlagSet) {
	fs.StringVar(&s.url, "url", "", "OData service URL")
	fs.StringVar(&s.file, "file", "", "metadata document file")
}

func (s *source) schema(ctx context.Context, e *odatalens.Explorer) (*odatalens.ParsedSchema, error) {
	switch {
	case s.file != "":
		data, err := os.ReadFile(s.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata file: %w", err)
		}
		return e.ParseMetadata(ctx, data)
	case s.url != "":
		return e.LoadSchema(ctx, "", s.url)
	}
	return nil, errors.New("-url or -file is required")
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) parse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	var src source
	src.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	schema, err := src.schema(ctx, c.explorer)
	if err != nil {
		return err
	}
	return c.printJSON(schema)
}

func (c *cli) detect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	var src source
	src.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var v odatalens.Version
	switch {
	case src.file != "":
		data, err := os.ReadFile(src.file)
		if err != nil {
			return fmt.Errorf("failed to read metadata file: %w", err)
		}
		v = c.explorer.DetectVersion(ctx, string(data), true)
	case src.url != "":
		v = c.explorer.DetectVersion(ctx, src.url, false)
	default:
		return errors.New("-url or -file is required")
	}
	_, err := fmt.Fprintln(c.out, v)
	return err
}

func (c *cli) colors(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("colors", flag.ContinueOnError)
	var src source
	src.register(fs)
	theme := fs.String("theme", "light", "palette: light or dark")
	if err := fs.Parse(args); err != nil {
		return err
	}
	schema, err := src.schema(ctx, c.explorer)
	if err != nil {
		return err
	}

	colors := c.explorer.Colors(schema, odatalens.ParseTheme(*theme))
	names := make([]string, 0, len(colors))
	for name := range colors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(c.out, "%s\t%d\n", name, colors[name]); err != nil {
			return err
		}
	}
	return nil
}

// readBody decodes a saved query response, keeping numbers exact.
func readBody(path string) (any, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}
	return body, nil
}

func (c *cli) tasks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	var src source
	src.register(fs)
	set := fs.String("set", "", "entity set the response was queried from")
	input := fs.String("input", "-", "query response JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	schema, err := src.schema(ctx, c.explorer)
	if err != nil {
		return err
	}
	body, err := readBody(*input)
	if err != nil {
		return err
	}

	for _, task := range c.explorer.SelectedTasks(body, *set, schema) {
		typeName := "?"
		if task.EntityType != nil {
			typeName = task.EntityType.Name
		}
		if _, err := fmt.Fprintf(c.out, "%s\t%s\t%v\n", orUnknown(task.EntitySet), typeName, task.Resolved()); err != nil {
			return err
		}
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func (c *cli) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	var src source
	src.register(fs)
	set := fs.String("set", "", "entity set the response was queried from")
	input := fs.String("input", "-", "query response JSON file, - for stdin")
	dryRun := fs.Bool("dry-run", false, "print the plan without sending it")
	batch := fs.Bool("batch", c.cfg.Client.UseBatch, "send all requests in one $batch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if src.url == "" {
		return errors.New("-url is required")
	}
	schema, err := src.schema(ctx, c.explorer)
	if err != nil {
		return err
	}
	body, err := readBody(*input)
	if err != nil {
		return err
	}

	planner := c.explorer.NewPlanner(schema, src.url, odatalens.VersionUnknown, *set)
	plan, err := planner.PlanDelete(odatalens.Rows(body))
	if err != nil {
		return err
	}
	if *dryRun {
		return c.printJSON(plan)
	}

	report, err := c.explorer.ExecutePlan(ctx, plan, *batch)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(c.out, report.Summary()); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", report.Failed, report.Failed+report.Succeeded)
	}
	return nil
}

func (c *cli) query(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	serviceURL := fs.String("url", "", "OData service URL")
	ver := fs.String("version", "V4", "protocol version")
	set := fs.String("set", "", "entity set")
	filter := fs.String("filter", "", "$filter expression")
	sel := fs.String("select", "", "comma separated $select fields")
	expand := fs.String("expand", "", "comma separated $expand paths")
	top := fs.Int("top", -1, "$top, negative to omit")
	skip := fs.Int("skip", 0, "$skip")
	count := fs.Bool("count", false, "request the total count")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *serviceURL == "" || *set == "" {
		return errors.New("-url and -set are required")
	}

	b := c.explorer.Query(*serviceURL, odatalens.ParseVersion(*ver)).
		EntitySet(*set).
		Filter(*filter).
		Skip(*skip).
		Count(*count)
	if *sel != "" {
		b.Select(strings.Split(*sel, ",")...)
	}
	if *expand != "" {
		b.Expand(strings.Split(*expand, ",")...)
	}
	if *top >= 0 {
		b.Top(*top)
	}
	_, err := fmt.Fprintln(c.out, b.Build())
	return err
}

func (c *cli) stored(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stored", flag.ContinueOnError)
	hash := fs.String("hash", "", "print the stored document with this hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !c.explorer.IsStoreEnabled() {
		return errors.New("no store configured, set store.dsn")
	}

	if *hash != "" {
		doc, ok, err := c.explorer.StoredDocument(ctx, *hash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no stored document with hash %s", *hash)
		}
		_, err = io.WriteString(c.out, doc.Content)
		return err
	}

	services, err := c.explorer.StoredServices(ctx)
	if err != nil {
		return err
	}
	for _, s := range services {
		if _, err := fmt.Fprintln(c.out, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", c.cfg.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := c.explorer.SetObservability(odatalens.ObservabilityConfig{
		ServiceName:        c.cfg.Observability.ServiceName,
		EnableServerTiming: c.cfg.Observability.ServerTiming,
	}); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         *addr,
		Handler:      c.explorer.Handler(),
		ReadTimeout:  c.cfg.Server.ReadTimeout,
		WriteTimeout: c.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("Serving odatalens API", "addr", *addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	c.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
