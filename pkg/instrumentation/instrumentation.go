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

package instrumentation

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgapi "github.com/containers/nri-memsim/pkg/apis/config/v1alpha1/instrumentation"
	otelmetrics "github.com/containers/nri-memsim/pkg/instrumentation/metrics"
	"github.com/containers/nri-memsim/pkg/instrumentation/tracing"
	logger "github.com/containers/nri-memsim/pkg/log"
	"github.com/containers/nri-memsim/pkg/metrics"
)

const (
	// ServiceName is our service name in external tracing and metrics services.
	ServiceName = "memsim"
)

var (
	// Our runtime configuration.
	cfg = &cfgapi.Config{}
	// Lock to protect against reconfiguration.
	lock sync.Mutex
	// Our HTTP server instance.
	srv = newServer()
	// Our logger instance.
	log = logger.NewLogger("instrumentation")
)

// HTTPAddress returns the address our HTTP server is listening on, or an
// empty string if it is not running.
func HTTPAddress() string {
	return srv.address()
}

// Start our instrumentation services with the given configuration.
func Start(newCfg *cfgapi.Config) error {
	log.Info("starting instrumentation services...")

	lock.Lock()
	defer lock.Unlock()

	if newCfg != nil {
		cfg = newCfg
	}

	if err := start(); err != nil {
		stop()
		return err
	}

	return nil
}

// Stop our instrumentation services.
func Stop() {
	lock.Lock()
	defer lock.Unlock()

	stop()
}

// Reconfigure our instrumentation services.
func Reconfigure(newCfg *cfgapi.Config) error {
	lock.Lock()
	defer lock.Unlock()

	stop()
	cfg = newCfg

	err := start()
	if err != nil {
		log.Error("failed to restart instrumentation: %v", err)
	}

	return err
}

func start() error {
	resource, err := GetResource()
	if err != nil {
		return err
	}

	if err := tracing.Start(
		tracing.WithServiceName(ServiceName),
		tracing.WithResource(resource),
		tracing.WithCollectorEndpoint(cfg.TracingCollector),
		tracing.WithSamplingRatio(float64(cfg.SamplingRatePerMillion)/float64(1000000)),
	); err != nil {
		return errors.Wrap(err, "failed to start tracing")
	}

	var (
		exporter   = cfg.MetricsExporter
		promExport = cfg.PrometheusExport
		enabled    []string
	)
	if exporter == "prometheus" {
		promExport = true
		exporter = ""
	}
	if cfg.Metrics != nil {
		enabled = cfg.Metrics.Enabled
	}

	if err := otelmetrics.Start(
		resource,
		otelmetrics.WithExporter(exporter),
		otelmetrics.WithReportPeriod(cfg.ReportPeriod.Duration),
		otelmetrics.WithMetrics(cfg.Metrics),
	); err != nil {
		return errors.Wrap(err, "failed to start metrics exporter")
	}

	if cfg.HTTPEndpoint == "" {
		log.Info("HTTP endpoint disabled")
		return nil
	}

	if promExport {
		g, err := metrics.NewGatherer(
			metrics.WithNamespace(ServiceName),
			metrics.WithMetrics(enabled),
		)
		if err != nil {
			return errors.Wrap(err, "failed to set up metrics gatherer")
		}
		srv.handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	if err := srv.start(cfg.HTTPEndpoint); err != nil {
		return errors.Wrap(err, "failed to start HTTP server")
	}

	return nil
}

func stop() {
	srv.stop()
	otelmetrics.Stop()
	tracing.Stop()
}
