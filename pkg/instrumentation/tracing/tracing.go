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

package tracing

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	logger "github.com/containers/nri-memsim/pkg/log"
	"github.com/containers/nri-memsim/pkg/version"
)

// Option represents an option which can be applied to tracing.
type Option func(*tracing) error

type tracing struct {
	sync.RWMutex
	service  string
	endpoint string
	sampling float64
	resource *resource.Resource
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

var (
	log = logger.Get("tracing")
	trc = &tracing{
		service: filepath.Base(os.Args[0]),
	}
)

const (
	// timeout for flushing and shutting down the provider
	shutdownTimeout = 5 * time.Second
)

// WithCollectorEndpoint sets the collector endpoint. An empty endpoint
// disables tracing.
func WithCollectorEndpoint(endpoint string) Option {
	return func(t *tracing) error {
		t.endpoint = endpoint
		return nil
	}
}

// WithSamplingRatio sets the ratio of sampled traces, in [0, 1].
func WithSamplingRatio(ratio float64) Option {
	return func(t *tracing) error {
		if ratio < 0.0 || ratio > 1.0 {
			return errors.Errorf("invalid sampling ratio %f", ratio)
		}
		t.sampling = ratio
		return nil
	}
}

// WithResource sets the resource reported for tracing.
func WithResource(r *resource.Resource) Option {
	return func(t *tracing) error {
		t.resource = r
		return nil
	}
}

// WithServiceName sets the service name reported for tracing.
func WithServiceName(name string) Option {
	return func(t *tracing) error {
		t.service = name
		return nil
	}
}

// Start tracing.
func Start(options ...Option) error {
	return trc.start(options...)
}

// Stop tracing, flushing any pending spans.
func Stop() {
	trc.shutdown()
}

// Enabled returns true if spans are being exported.
func Enabled() bool {
	trc.RLock()
	defer trc.RUnlock()
	return trc.provider != nil
}

func (t *tracing) start(options ...Option) error {
	t.shutdown()

	t.Lock()
	defer t.Unlock()

	for _, opt := range options {
		if err := opt(t); err != nil {
			return errors.Wrap(err, "failed to set tracing option")
		}
	}

	switch {
	case t.endpoint == "":
		log.Info("tracing disabled, no endpoint set")
		return nil
	case t.sampling == 0.0:
		log.Info("tracing disabled, sampling ratio is 0.0")
		return nil
	}

	log.Info("starting tracing exporter for %s...", t.endpoint)

	exporter, err := getExporter(t.endpoint)
	if err != nil {
		return errors.Wrap(err, "failed to start tracing exporter")
	}

	res := t.resource
	if res == nil {
		hostname, _ := os.Hostname()
		res = resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(t.service),
			semconv.HostNameKey.String(hostname),
			semconv.ProcessPIDKey.Int64(int64(os.Getpid())),
			attribute.String("Version", version.Version),
			attribute.String("Build", version.Build),
		)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.sampling))),
	)
	t.tracer = t.provider.Tracer(t.service, trace.WithSchemaURL(semconv.SchemaURL))

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return nil
}

func (t *tracing) shutdown() {
	t.Lock()
	p := t.provider
	t.provider = nil
	t.tracer = nil
	t.Unlock()

	if p == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := p.ForceFlush(ctx); err != nil {
		log.Error("failed to flush tracer provider: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		log.Error("failed to shut down tracer provider: %v", err)
	}
}

func (t *tracing) getTracer() trace.Tracer {
	t.RLock()
	defer t.RUnlock()
	return t.tracer
}

// getExporter creates an exporter for the endpoint. The endpoint is either
// a URL or a bare scheme, in which case the exporter defaults apply:
// localhost:4318 for otlp-http and localhost:4317 for otlp-grpc.
func getExporter(endpoint string) (sdktrace.SpanExporter, error) {
	var (
		u   *url.URL
		err error
	)

	switch endpoint {
	case "otlp-http", "http", "otlp-grpc", "grpc":
		u = &url.URL{Scheme: endpoint}
	default:
		u, err = url.Parse(endpoint)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid tracing endpoint %q", endpoint)
		}
	}

	switch u.Scheme {
	case "otlp-http", "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if u.Host != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(u.Host))
		}
		return otlptracehttp.New(context.Background(), opts...)
	case "otlp-grpc", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if u.Host != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(u.Host))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	}

	return nil, errors.Errorf("unsupported tracing endpoint %q", endpoint)
}
