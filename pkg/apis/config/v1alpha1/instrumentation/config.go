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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/containers/nri-memsim/pkg/apis/config/v1alpha1/metrics"
)

// Config provides runtime configuration for instrumentation.
type Config struct {
	// SamplingRatePerMillion is the number of samples to collect per million spans.
	// +optional
	SamplingRatePerMillion int `json:"samplingRatePerMillion,omitempty"`
	// TracingCollector defines the external endpoint for tracing data collection.
	// Endpoints are specified as full URLs, or as plain URL schemes which then
	// imply scheme-specific defaults. The supported schemes and their default
	// URLs are:
	//   - otlp-http, http: localhost:4318
	//   - otlp-grpc, grpc: localhost:4317
	// +optional
	TracingCollector string `json:"tracingCollector,omitempty"`
	// MetricsExporter defines which exporter is used to export metrics.
	// The supported exporters are:
	//   - prometheus: serve /metrics at HTTPEndpoint, same as PrometheusExport
	//   - otlp-http: push to an OpenTelemetry collector over HTTP
	//   - otlp-grpc: push to an OpenTelemetry collector over gRPC
	// The OTLP exporters are configured by the standard OTEL_EXPORTER_OTLP_*
	// environment variables.
	// +optional
	MetricsExporter string `json:"metricsExporter,omitempty"`
	// ReportPeriod is the interval between pushing metrics with an OTLP
	// exporter.
	// +optional
	ReportPeriod metav1.Duration `json:"reportPeriod,omitempty"`
	// HTTPEndpoint is the address our HTTP server listens on. Prometheus
	// metrics are served at /metrics when PrometheusExport is set.
	// +optional
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport enables exporting /metrics for Prometheus.
	// +optional
	PrometheusExport bool `json:"prometheusExport,omitempty"`
	// Metrics defines which metrics to collect.
	// +optional
	Metrics *metrics.Config `json:"metrics,omitempty"`
}
