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
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	otelresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/containers/nri-memsim/pkg/version"
)

var (
	resource *otelresource.Resource
	resErr   error
	resOnce  sync.Once
)

// GetResource returns the OpenTelemetry resource describing this process.
func GetResource() (*otelresource.Resource, error) {
	resOnce.Do(func() {
		hostname, _ := os.Hostname()
		resource, resErr = otelresource.Merge(
			otelresource.Default(),
			otelresource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(ServiceName),
				semconv.HostNameKey.String(hostname),
				semconv.ProcessPIDKey.Int64(int64(os.Getpid())),
				attribute.String("Version", version.Version),
				attribute.String("Build", version.Build),
			),
		)
	})

	if resErr != nil {
		return nil, errors.Wrap(resErr, "failed to create OTEL resource")
	}

	return resource, nil
}
