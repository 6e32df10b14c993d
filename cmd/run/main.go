package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-scripting/hostapi"
	"github.com/wippyai/wasm-scripting/linker"
	"github.com/wippyai/wasm-scripting/runtime"
)

func main() {
	var (
		configFile  = flag.String("config", "", "YAML host configuration")
		resource    = flag.String("resource", "cli", "Resource the positional scripts are loaded into")
		noMain      = flag.Bool("no-main", false, "Load scripts without running main")
		callName    = flag.String("call", "", "Shared function to call after loading")
		callArgs    = flag.String("args", "", "Comma-separated arguments for -call")
		list        = flag.Bool("list", false, "List shared functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
		logFile     = flag.String("log-file", "", "Also write JSON logs to this file, rotated")
		logSize     = flag.Int("log-max-size", 10, "Log file size in megabytes before rotation")
		logJSON     = flag.Bool("log-json", false, "Log JSON to stderr")
		logLevel    = zap.LevelFlag("log-level", zapcore.InfoLevel, "Minimum log level")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: run [flags] <script.wasm|script.wat>...")
		fmt.Fprintln(os.Stderr, "       run -config host.yaml [-i]")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configFile == "" && flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(logOptions{
		level:   *logLevel,
		json:    *logJSON,
		file:    *logFile,
		maxSize: *logSize,
		// the TUI owns the terminal
		quiet: *interactive,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := runOptions{
		configFile:  *configFile,
		resource:    *resource,
		files:       flag.Args(),
		noMain:      *noMain,
		callName:    *callName,
		callArgs:    *callArgs,
		list:        *list,
		interactive: *interactive,
		metricsAddr: *metricsAddr,
	}
	if err := run(ctx, logger, opts); err != nil {
		logger.Error("run failed", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

type runOptions struct {
	configFile  string
	resource    string
	files       []string
	noMain      bool
	callName    string
	callArgs    string
	list        bool
	interactive bool
	metricsAddr string
}

func run(ctx context.Context, logger *zap.Logger, opts runOptions) error {
	cfg := runtime.DefaultConfig()
	if opts.configFile != "" {
		var err error
		if cfg, err = runtime.LoadConfig(opts.configFile); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	stdout := os.Stdout
	hostOpts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithRegisterer(reg),
		runtime.WithOutput(stdout, os.Stderr),
	}
	h, err := runtime.New(ctx, cfg, hostOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			logger.Warn("close host", zap.Error(err))
		}
	}()

	if err := hostapi.Register(h.Registry(), hostapi.Options{Output: stdout}); err != nil {
		return err
	}

	if opts.metricsAddr != "" {
		srv := serveMetrics(logger, opts.metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	loadErr := h.LoadConfigured(ctx)
	if len(opts.files) > 0 {
		_, err := h.LoadResource(ctx, opts.resource, opts.files, !opts.noMain)
		loadErr = multierr.Append(loadErr, err)
	}
	for _, err := range multierr.Errors(loadErr) {
		logger.Warn("script not loaded", zap.Error(err))
	}

	switch {
	case opts.interactive:
		return runInteractive(ctx, h)
	case opts.callName != "":
		return callShared(ctx, h, opts.callName, opts.callArgs)
	case opts.list:
		for _, resource := range h.Resources() {
			c := h.Context(resource)
			for _, name := range c.GlobalFunctionNames() {
				fmt.Printf("%s\t%s\t%s\n", resource, name, c.GlobalFunction(name).Signature().Describe())
			}
		}
	}
	if loadErr != nil && opts.metricsAddr == "" {
		return loadErr
	}
	if opts.metricsAddr != "" {
		logger.Info("serving metrics until interrupted", zap.String("addr", opts.metricsAddr))
		<-ctx.Done()
	}
	return nil
}

func serveMetrics(logger *zap.Logger, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

// findShared looks a shared function up across resources, first match wins.
func findShared(h *runtime.Host, name string) (string, *linker.FunctionBinding) {
	for _, resource := range h.Resources() {
		if f := h.Context(resource).GlobalFunction(name); f != nil {
			return resource, f
		}
	}
	return "", nil
}

func callShared(ctx context.Context, h *runtime.Host, name, rawArgs string) error {
	_, f := findShared(h, name)
	if f == nil {
		return fmt.Errorf("shared function %q not found", name)
	}
	var texts []string
	if rawArgs != "" {
		texts = strings.Split(rawArgs, ",")
	}
	args, err := parseArgs(f.Signature(), texts)
	if err != nil {
		return err
	}
	results, err := f.Call(ctx, args...)
	if err != nil {
		return err
	}
	fmt.Println(formatResults(results))
	return nil
}

// parseArgs converts text arguments to values of the signature's parameter
// kinds. Missing trailing arguments are left to the callee's defaults.
func parseArgs(sig linker.Signature, texts []string) ([]linker.Value, error) {
	if len(texts) > len(sig.Params) {
		return nil, fmt.Errorf("too many arguments: %d given, %s takes %d", len(texts), sig.Describe(), len(sig.Params))
	}
	args := make([]linker.Value, 0, len(texts))
	for i, text := range texts {
		v, err := linker.ParseValue(sig.Params[i], strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func formatResults(results []linker.Value) string {
	if len(results) == 0 {
		return "()"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
