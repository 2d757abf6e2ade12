// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/z5labs/mgbridge"
	"github.com/z5labs/mgbridge/internal/fixedpool"
	"github.com/z5labs/mgbridge/lifecycle"
	"github.com/z5labs/mgbridge/native/engine"
	"github.com/z5labs/mgbridge/option"
	"github.com/z5labs/mgbridge/pkg/health"
	"github.com/z5labs/mgbridge/pkg/logging"
	"github.com/z5labs/mgbridge/pkg/otelconfig"
	"github.com/z5labs/mgbridge/pkg/promstats"
	"github.com/z5labs/mgbridge/pkg/slogfield"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type serveFlags struct {
	config      string
	watch       bool
	logLevel    string
	logFormat   string
	metricsAddr string
	telemetry   string
}

func serveCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, opts, err := loadConfig(f.config)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Logging.Level = f.logLevel
			}
			if flags.Changed("log-format") {
				cfg.Logging.Format = f.logFormat
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Addr = f.metricsAddr
			}
			if flags.Changed("telemetry") {
				cfg.Telemetry.Exporter = f.telemetry
			}

			p := &process{
				cfg:        cfg,
				configPath: f.config,
				watch:      f.watch,
				out:        cmd.OutOrStdout(),
				errOut:     cmd.ErrOrStderr(),
			}
			return p.run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.config, "config", "c", "", "YAML config file")
	flags.BoolVar(&f.watch, "watch", false, "apply option changes when the config file changes")
	flags.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.StringVar(&f.logFormat, "log-format", "text", "text or json")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	flags.StringVar(&f.telemetry, "telemetry", "none", "stdout or none")
	return cmd
}

// process is one invocation of serve.
type process struct {
	cfg        Config
	configPath string
	watch      bool
	out        io.Writer
	errOut     io.Writer
}

func (p *process) run(ctx context.Context, opts option.Table) (err error) {
	log, err := p.logger()
	if err != nil {
		return err
	}

	var lc lifecycle.Context
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err = errors.Join(err, lc.Shutdown(sctx))
	}()

	providers, err := p.telemetry(ctx)
	if err != nil {
		return err
	}
	providers.Install()
	lc.OnShutdown(lifecycle.HookFunc(providers.Shutdown))

	eng := engine.New(engine.WithLogger(log.With(slogfield.String("component", "engine"))))
	srv, err := mgbridge.Start(
		ctx,
		eng,
		opts,
		demoHandler(log),
		mgbridge.WithLogger(log),
		mgbridge.WithDrainTimeout(p.cfg.DrainTimeout),
		mgbridge.WithTracerProvider(providers.Tracer),
		mgbridge.WithMeterProvider(providers.Meter),
	)
	if err != nil {
		return err
	}
	for _, spec := range srv.ValidOptions() {
		v, err := srv.Option(spec.Name)
		if err == nil && v != "" {
			log.DebugContext(ctx, "option", slogfield.Option(spec.Name, v))
		}
	}

	tasks := []fixedpool.Task{srv.Run}
	if p.cfg.Metrics.Addr != "" {
		tasks = append(tasks, serveMetrics(p.cfg.Metrics.Addr, metricsHandler(srv, providers), log))
	}
	if p.watch && p.configPath != "" {
		tasks = append(tasks, watchConfig(p.configPath, srv, opts, log))
	}

	err = fixedpool.Wait(ctx, tasks...)
	if !srv.Stopped() {
		err = errors.Join(err, srv.Close())
	}
	return err
}

func (p *process) logger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(p.cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(p.cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(p.errOut, logging.Options{
		Level:     level,
		Format:    format,
		AddSource: p.cfg.Logging.AddSource,
	}), nil
}

// UnknownExporterError is returned for a telemetry exporter other than
// stdout or none.
type UnknownExporterError struct {
	Name string
}

// Error implements the [builtin.error] interface.
func (e UnknownExporterError) Error() string {
	return "unknown telemetry exporter: " + e.Name
}

func (p *process) telemetry(ctx context.Context) (otelconfig.Providers, error) {
	switch p.cfg.Telemetry.Exporter {
	case "", "none":
		return otelconfig.Noop(), nil
	case "stdout":
		return otelconfig.Stdout(ctx, otelconfig.StdoutConfig{
			ServiceName: "mgserve",
			Out:         p.out,
			Interval:    p.cfg.Telemetry.Interval,
		})
	default:
		return otelconfig.Providers{}, UnknownExporterError{Name: p.cfg.Telemetry.Exporter}
	}
}

// metricsHandler serves Prometheus metrics and a health check. Every
// request is traced and measured with the given providers.
func metricsHandler(srv *mgbridge.Server, providers otelconfig.Providers) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		promstats.New(srv),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	route := func(path string, h http.Handler) {
		mux.Handle(path, otelhttp.WithRouteTag(path, h))
	}
	route("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	route("/healthz", health.NewHandler(health.Running(srv)))

	return otelhttp.NewHandler(
		mux,
		"mgserve.metrics",
		otelhttp.WithTracerProvider(providers.Tracer),
		otelhttp.WithMeterProvider(providers.Meter),
	)
}

// serveMetrics serves h on addr until ctx is done.
func serveMetrics(addr string, h http.Handler, log *slog.Logger) fixedpool.Task {
	return func(ctx context.Context) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		hs := &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelError),
		}
		log.InfoContext(ctx, "serving metrics", slogfield.String("addr", ln.Addr().String()))

		err = fixedpool.Wait(
			ctx,
			func(ctx context.Context) error {
				return hs.Serve(ln)
			},
			func(ctx context.Context) error {
				<-ctx.Done()
				return hs.Shutdown(context.Background())
			},
		)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
