// Command domguard keeps one kind of element out of live pages.
//
// Usage:
//
//	domguard -config domguard.yaml                          # guard pages from YAML config
//	domguard -url https://example.com -selector 'div[data-x="y"]'
//	domguard -db pages.db -http :8090                       # pages from SQLite, hot reload
//	domguard -file page.html -selector 'div[data-x="y"]'    # clean a saved page, print it
//	domguard -config domguard.yaml -mcp stdio               # MCP control on stdin/stdout
//	domguard -config domguard.yaml -mcp quic -mcp-addr :9444
//	domguard -remote host:9444 -call domguard_status        # drive a -mcp quic daemon
//	domguard -remote host:9444 -call domguard_release -args '{"id":"a"}'
//	domguard -hash-token "$TOKEN"                           # print http.token_hash value
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
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domguard"
	"github.com/hazyhaar/domguard/dbopen"
	"github.com/hazyhaar/domguard/idgen"
	"github.com/hazyhaar/domguard/mcpquic"
	"github.com/hazyhaar/domguard/shield"
	"github.com/hazyhaar/domguard/signature"
)

type options struct {
	config, url, file, db  string
	httpAddr, mcp, mcpAddr string
	tlsCert, tlsKey        string
	strategy, selector     string
	remote, call, args     string
	insecure               bool
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "path to domguard.yaml")
	flag.StringVar(&o.url, "url", "", "guard a single URL")
	flag.StringVar(&o.file, "file", "", "clean a saved HTML file (- for stdin) and print it")
	flag.StringVar(&o.db, "db", "", "SQLite database with the guard_pages table (hot reloaded)")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP control address, e.g. :8090")
	flag.StringVar(&o.mcp, "mcp", "", "MCP control transport: stdio | quic")
	flag.StringVar(&o.mcpAddr, "mcp-addr", ":9444", "UDP address for -mcp quic")
	flag.StringVar(&o.tlsCert, "tls-cert", "", "certificate for -mcp quic (self-signed if empty)")
	flag.StringVar(&o.tlsKey, "tls-key", "", "key for -mcp quic")
	flag.StringVar(&o.strategy, "strategy", "", "remove | hide (overrides config)")
	flag.StringVar(&o.selector, "selector", "", `target, e.g. div[data-automation-id="shareButton"] (overrides config)`)
	flag.StringVar(&o.remote, "remote", "", "address of a -mcp quic daemon to control")
	flag.StringVar(&o.call, "call", "", "tool to call with -remote (lists tools when empty)")
	flag.StringVar(&o.args, "args", "", "JSON arguments for -call")
	flag.BoolVar(&o.insecure, "insecure", false, "skip certificate verification with -remote")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	hashToken := flag.String("hash-token", "", "print the bcrypt hash of a control API token and exit")
	flag.Parse()

	if *hashToken != "" {
		h, err := shield.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("domguard: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if o.remote != "" {
		return runRemote(ctx, o)
	}
	cfg := &domguard.Config{}
	if o.config != "" {
		var err error
		if cfg, err = domguard.LoadConfigFile(o.config); err != nil {
			return err
		}
	}
	if o.selector != "" {
		cfg.Target = signature.Spec{Selector: o.selector}
	}
	if o.strategy != "" {
		cfg.Strategy = o.strategy
	}
	cfg.ApplyDefaults()

	if o.file != "" {
		return runFile(ctx, cfg, o.file)
	}
	if o.url != "" {
		cfg.Pages = append(cfg.Pages, domguard.PageConfig{ID: idgen.Page(), URL: o.url})
	}
	if o.httpAddr != "" {
		cfg.HTTP.Addr = o.httpAddr
	}
	if len(cfg.Pages) == 0 && o.db == "" && cfg.HTTP.Addr == "" && o.mcp == "" {
		fmt.Fprintln(os.Stderr, "usage: domguard -config <file> | -url <url> | -db <file> | -file <html> [-selector <sel>]")
		os.Exit(2)
	}
	return runDaemon(ctx, logger, cfg, o)
}

func runFile(ctx context.Context, cfg *domguard.Config, path string) error {
	sig, err := signature.New(cfg.Target)
	if err != nil {
		return err
	}
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	sinks, err := domguard.BuildSinks(cfg.Sinks, os.Stderr, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()
	n, err := domguard.CleanHTML(ctx, in, os.Stdout, sig, cfg.Strategy, sinks...)
	if err != nil {
		return err
	}
	slog.Info("domguard: cleaned", "file", path, "suppressed", n)
	return nil
}

// runRemote calls one tool on a remote guard and prints its output.
func runRemote(ctx context.Context, o options) error {
	c, err := mcpquic.Dial(ctx, o.remote, mcpquic.ClientTLSConfig(o.insecure))
	if err != nil {
		return err
	}
	defer c.Close()

	if o.call == "" {
		tools, err := c.Tools(ctx)
		if err != nil {
			return err
		}
		for _, t := range tools {
			fmt.Println(t)
		}
		return nil
	}
	var args json.RawMessage
	if o.args != "" {
		if !json.Valid([]byte(o.args)) {
			return fmt.Errorf("-args is not valid JSON")
		}
		args = json.RawMessage(o.args)
	}
	out, err := c.Call(ctx, o.call, args)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runDaemon(ctx context.Context, logger *slog.Logger, cfg *domguard.Config, o options) error {
	// stdout carries the MCP protocol in stdio mode.
	var eventOut io.Writer = os.Stdout
	if o.mcp == "stdio" {
		eventOut = os.Stderr
	}
	sinkCfgs := cfg.Sinks
	if len(sinkCfgs) == 0 {
		sinkCfgs = []domguard.SinkConfig{{Type: "stdout"}}
	}
	sinks, err := domguard.BuildSinks(sinkCfgs, eventOut, logger)
	if err != nil {
		return err
	}

	g, err := domguard.New(cfg, logger, sinks...)
	if err != nil {
		return err
	}
	if err := g.Start(ctx); err != nil {
		return err
	}
	defer g.Stop()

	if o.db != "" {
		if err := watchPages(ctx, logger, g, cfg.Pages, o.db); err != nil {
			return err
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           g.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("domguard: http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("domguard: http", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if o.mcp != "" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "domguard", Version: "1.0.0"}, nil)
		g.RegisterMCP(mcpSrv)
		switch o.mcp {
		case "stdio":
			return mcpSrv.Run(ctx, &mcp.StdioTransport{})
		case "quic":
			if err := serveQUIC(ctx, logger, mcpSrv, o); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown -mcp transport %q", o.mcp)
		}
	}

	<-ctx.Done()
	return nil
}

func serveQUIC(ctx context.Context, logger *slog.Logger, srv *mcp.Server, o options) error {
	tlsCfg, err := mcpquic.SelfSignedTLSConfig()
	if o.tlsCert != "" && o.tlsKey != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(o.tlsCert, o.tlsKey)
	}
	if err != nil {
		return err
	}
	l, err := mcpquic.Listen(o.mcpAddr, tlsCfg, srv, logger)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	go func() {
		if err := l.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("domguard: mcp quic", "error", err)
		}
	}()
	return nil
}

// watchPages guards the active rows of guard_pages next to the static
// pages, and follows the table.
func watchPages(ctx context.Context, logger *slog.Logger, g *domguard.Guard, static []domguard.PageConfig, path string) error {
	db, err := dbopen.Open(path, dbopen.WithSchema(domguard.PageSchema))
	if err != nil {
		return err
	}
	reload := func(ctx context.Context) error {
		pages, err := domguard.LoadPages(ctx, db)
		if err != nil {
			return err
		}
		return g.SyncPages(ctx, append(append([]domguard.PageConfig(nil), static...), pages...))
	}
	if err := reload(ctx); err != nil {
		logger.Error("domguard: initial page sync", "error", err)
	}
	go func() {
		defer db.Close()
		domguard.WatchPages(db, logger).OnChange(ctx, reload)
	}()
	return nil
}
