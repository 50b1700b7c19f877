// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/containers/nri-memsim/pkg/apis/config/v1alpha1/metrics"
	logger "github.com/containers/nri-memsim/pkg/log"
	"github.com/containers/nri-memsim/pkg/metrics"
)

type (
	Option func() error
)

const (
	httpExporter = "otlp-http"
	grpcExporter = "otlp-grpc"

	// shutdownTimeout bounds flushing pending metrics at Stop.
	shutdownTimeout = 5 * time.Second
)

var (
	exporter     string
	provider     *metric.MeterProvider
	readers      []metric.Reader
	enabled      []string
	reportPeriod time.Duration
	log          = logger.Get("metrics")
)

// WithExporter sets the type of metrics exporter to use.
func WithExporter(v string) Option {
	return func() error {
		if v != "" && exporter != "" && v != exporter {
			return fmt.Errorf("conflicting metrics exporter: %q and %q requested",
				exporter, v)
		}

		if v != "" {
			exporter = v
		}
		return nil
	}
}

// WithReportPeriod sets the reporting period for periodic metric
// exporters (otlp-http and otlp-grpc).
func WithReportPeriod(v time.Duration) Option {
	return func() error {
		reportPeriod = v
		return nil
	}
}

// WithMetrics sets the enabled metrics.
func WithMetrics(cfg *config.Config) Option {
	return func() error {
		if cfg != nil {
			enabled = cfg.Enabled
		} else {
			enabled = nil
		}
		return nil
	}
}

// WithReader adds a reader to collect metrics with, besides the exporter.
func WithReader(r metric.Reader) Option {
	return func() error {
		readers = append(readers, r)
		return nil
	}
}

// Start metrics collection and exporting.
func Start(resource *resource.Resource, opts ...Option) error {
	Stop()

	for _, opt := range opts {
		if err := opt(); err != nil {
			return err
		}
	}

	metrics.Configure(enabled)

	if exporter == "" && len(readers) == 0 {
		log.Info("no metrics exporter configured, metrics export disabled")
		metrics.SetProvider(nil)
		return nil
	}

	var (
		ctx     = context.Background()
		options = []metric.Option{metric.WithResource(resource)}
	)

	switch exporter {
	case "":
	case httpExporter:
		log.Info("using OpenTelemetry HTTP exporter")

		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry HTTP exporter: %w", err)
		}

		options = append(options,
			metric.WithReader(
				metric.NewPeriodicReader(exp, metric.WithInterval(reportPeriod)),
			),
		)

	case grpcExporter:
		log.Info("using OpenTelemetry gRPC exporter")

		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry gRPC exporter: %w", err)
		}

		options = append(options,
			metric.WithReader(
				metric.NewPeriodicReader(exp, metric.WithInterval(reportPeriod)),
			),
		)

	default:
		return fmt.Errorf("unsupported metrics exporter %q", exporter)
	}

	for _, r := range readers {
		options = append(options, metric.WithReader(r))
	}

	log.Info("starting metrics exporter...")

	provider = metric.NewMeterProvider(options...)
	metrics.SetProvider(provider)

	return nil
}

// Stop metrics collection and exporting, flushing pending metrics.
func Stop() {
	if provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := provider.Shutdown(ctx); err != nil {
			log.Error("failed to shut down metrics provider: %v", err)
		}
		provider = nil
	}

	metrics.SetProvider(nil)
	metrics.Configure(nil)

	exporter = ""
	readers = nil
	enabled = nil
	reportPeriod = 0
}
