package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/seclabs/report-collector/collector"
	"github.com/seclabs/report-collector/config"
	"github.com/seclabs/report-collector/report"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	oltpgrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

var (
	configFile    = flag.String("config", "", "Path to a YAML config file; flags override its values.")
	listenAddr    = flag.String("listen", "", "Port (and optionally host) to listen for HTTP requests on.")
	metricsAddr   = flag.String("metrics_listen", "", "Optional address for the Prometheus /metrics listener.")
	readTimeout   = flag.Int("read_timeout", 0, "Seconds to wait for HTTP reads to finish.")
	writeTimeout  = flag.Int("write_timeout", 0, "Seconds to wait for HTTP writes to finish.")
	maxMsgSize    = flag.Int64("max_message_size", 0, "Maximum number of bytes allowed in a report POST request.")
	maxAge        = flag.Int("max_age", 0, "Drop buffered reports older than this many seconds; 0 keeps everything.")
	ignoreExt     = flag.Bool("ignore_browser_extensions", false, "Drop CSP violations caused by browser extensions.")
	allowedOrigin = flag.String("allowed_origin", "", "Origin allowed to POST cross-origin ('*' for any).")
	strict        = flag.Bool("strict", false, "Answer malformed or invalid reports with error statuses instead of 200.")
	debug         = flag.Bool("debug", false, "Log every accepted report.")
	trace         = flag.Bool("trace", false, "Enable otel tracing.")
)

func initTracer() (*sdktrace.TracerProvider, error) {
	exporter, err := oltpgrpc.New(context.Background())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// loadConfig merges the optional config file with flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsListen = *metricsAddr
	}
	if *readTimeout > 0 {
		cfg.ReadTimeout = *readTimeout
	}
	if *writeTimeout > 0 {
		cfg.WriteTimeout = *writeTimeout
	}
	if *maxMsgSize > 0 {
		cfg.MaxMessageSize = *maxMsgSize
	}
	if *maxAge > 0 {
		cfg.MaxAge = *maxAge
	}
	if *ignoreExt {
		cfg.IgnoreBrowserExtensions = true
	}
	if *allowedOrigin != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, *allowedOrigin)
	}
	if *strict {
		cfg.Strict = true
	}
	if *debug {
		cfg.Debug = true
	}
	if *trace {
		cfg.Trace = true
	}
	return cfg, nil
}

// logReport is the default report sink: one structured log line per
// report, with the typed body rendered as JSON.
func logReport(r *report.Report, req *http.Request) {
	body, err := json.Marshal(r.Body)
	if err != nil {
		slog.Error("Unable to marshal report body", "error", err)
		return
	}
	slog.Info("report",
		"type", r.Type,
		"url", r.URL,
		"age", r.Age,
		"format", r.Format,
		"version", r.Version,
		"user_agent", r.UserAgent,
		"body", string(body),
	)
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if cfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// Set up otel tracing
	if cfg.Trace {
		tp, err := initTracer()
		if err != nil {
			slog.Error("Unable to initialize otel tracer", "error", err)
			os.Exit(1)
		}
		defer func() {
			tp.Shutdown(context.Background())
		}()
	}

	patterns, err := cfg.OriginPatterns()
	if err != nil {
		slog.Error("Unable to compile origin patterns", "error", err)
		os.Exit(1)
	}

	handler := &collector.Handler{
		OnReport: logReport,
		OnValidationError: func(err error, raw map[string]any, _ *http.Request) {
			slog.Warn("invalid report", "error", err, "raw", raw)
		},
		IgnoreBrowserExtensions: cfg.IgnoreBrowserExtensions,
		MaxAge:                  cfg.MaxAge,
		Strict:                  cfg.Strict,
		MaxBytes:                cfg.MaxMessageSize,
		Debug:                   cfg.Debug,
	}
	if len(cfg.AllowedOrigins) > 0 || len(patterns) > 0 {
		handler.AllowedOrigins = collector.NewOriginAllowlist(cfg.AllowedOrigins, patterns...)
	}

	var h http.Handler = handler
	if cfg.Trace {
		h = otelhttp.NewHandler(handler, "report-collector")
	}

	if cfg.MetricsListen != "" {
		go func() {
			if err := collector.RunMetricsServer(cfg.MetricsListen); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	s := &http.Server{
		Addr:           cfg.Listen,
		Handler:        h,
		ReadTimeout:    time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	slog.Info("Listening", "addr", s.Addr)
	err = s.ListenAndServe()
	if err != nil {
		panic(err)
	}
}
