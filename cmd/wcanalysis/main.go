// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command wcanalysis drives worst-case analysis: recording and guided
// explorations of scripted programs, offline policy unification, cost
// sample management and trend fitting.
//
// Usage:
//
//	wcanalysis explore sort.yaml --mode record
//	wcanalysis explore sort.yaml --mode guided
//	wcanalysis unify -o all.pol a.pol b.pol
//	wcanalysis fit --target Sort.run
//	wcanalysis policy inspect ser/heuristicPolicy/Sort.run.pol
//	wcanalysis samples list
//
// Exit status is 0 on success and 2 on any failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/worstcase/pkg/logging"
	"github.com/AleutianAI/worstcase/services/worstcase/config"
)

const serviceName = "wcanalysis"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app holds what every command needs once the root command has loaded
// the configuration.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath  string
	traceStdout bool
	metricsFile string
	jsonOutput  bool

	cfg    config.Config
	logger *logging.Logger

	shutdownTracing func(context.Context) error
}

// run executes one CLI invocation and returns its exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(context.Background()); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return OutputError(stdout, stderr, a.jsonOutput, err)
	}
	return CLIExitSuccess
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Policy-guided worst-case complexity analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "wca.yaml", "configuration file (YAML or JSON); a missing file means defaults")
	flags.BoolVar(&a.traceStdout, "trace-stdout", false, "export OpenTelemetry spans to stderr")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file on exit")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newUnifyCmd(a),
		newFitCmd(a),
		newExploreCmd(a),
		newPolicyCmd(a),
		newSamplesCmd(a),
	)
	return root
}

// setup loads the configuration and builds the logger and tracer.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	format := logging.FormatAuto
	if cfg.LogJSON {
		format = logging.FormatJSON
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: serviceName,
		Format:  format,
		Output:  a.stderr,
	})
	slog.SetDefault(a.logger.Slog())

	if a.traceStdout {
		shutdown, err := initStdoutTracing(a.stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.shutdownTracing = shutdown
	}
	return nil
}

// close flushes spans, writes the metrics file and closes the log file.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		a.shutdownTracing = nil
	}
	if a.metricsFile != "" && a.logger != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, prometheus.DefaultGatherer); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// slogger returns the configured logger for packages that take *slog.Logger.
func (a *app) slogger() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// initStdoutTracing installs a tracer provider that pretty-prints spans
// to w.
func initStdoutTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", serviceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
