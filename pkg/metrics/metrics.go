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
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"

	logger "github.com/containers/nri-memsim/pkg/log"
)

var (
	log = logger.Get("metrics")
)

const (
	// DefaultGroup is the group collectors are registered to by default.
	DefaultGroup = "default"
)

// Collector is a named prometheus.Collector which can be enabled or disabled.
type Collector struct {
	collector prometheus.Collector
	name      string
	group     string
	enabled   bool
	prefixed  bool
	spaced    bool
}

// Name returns the fully qualified name of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// IsEnabled returns true if the collector is enabled.
func (c *Collector) IsEnabled() bool {
	return c.enabled
}

// Matches returns true if the collector matches the given glob. A glob is
// matched against the group, the collector and the fully qualified name.
func (c *Collector) Matches(glob string) bool {
	return matches(glob, c.group, c.name)
}

// matches returns true if glob matches group, name or group/name.
func matches(glob, group, name string) bool {
	for _, n := range []string{group, name, group + "/" + name} {
		if glob == n {
			return true
		}
		ok, err := path.Match(glob, n)
		if err != nil {
			log.Warn("invalid glob pattern %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if !c.enabled {
		return
	}
	c.collector.Collect(ch)
}

// RegisterOption is an option for registering a collector.
type RegisterOption func(*Collector)

// WithGroup registers a collector in the given group.
func WithGroup(name string) RegisterOption {
	return func(c *Collector) {
		if name == "" {
			name = DefaultGroup
		}
		c.group = name
	}
}

// WithoutSubsystem disables prefixing the metrics of a collector with its group.
func WithoutSubsystem() RegisterOption {
	return func(c *Collector) {
		c.prefixed = false
	}
}

// WithoutNamespace disables prefixing the metrics of a collector with the
// common namespace of the gatherer.
func WithoutNamespace() RegisterOption {
	return func(c *Collector) {
		c.spaced = false
	}
}

// Registry is a set of named collectors.
type Registry struct {
	sync.Mutex
	collectors map[string]*Collector
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[string]*Collector),
	}
}

// Register registers a collector with the registry.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	c := &Collector{
		collector: collector,
		name:      name,
		group:     DefaultGroup,
		enabled:   true,
		prefixed:  true,
		spaced:    true,
	}
	for _, o := range opts {
		o(c)
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.collectors[c.Name()]; ok {
		return errors.Errorf("collector %q already registered", c.Name())
	}
	r.collectors[c.Name()] = c
	log.Info("registered collector %q", c.Name())

	return nil
}

// Unregister removes a collector from the registry.
func (r *Registry) Unregister(group, name string) {
	r.Lock()
	defer r.Unlock()
	delete(r.collectors, group+"/"+name)
}

// Collectors returns the registered collectors sorted by name.
func (r *Registry) Collectors() []*Collector {
	r.Lock()
	defer r.Unlock()

	collectors := make([]*Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		collectors = append(collectors, c)
	}
	sort.Slice(collectors, func(i, j int) bool {
		return collectors[i].Name() < collectors[j].Name()
	})

	return collectors
}

// Configure enables the collectors matching any of the given globs and
// disables the rest. An empty glob list enables every collector.
func (r *Registry) Configure(enabled []string) error {
	log.Info("configuring collectors, enabled=[%s]", strings.Join(enabled, ","))

	matched := make(map[string]bool)
	for _, c := range r.Collectors() {
		c.enabled = len(enabled) == 0
		for _, glob := range enabled {
			if c.Matches(glob) {
				matched[glob] = true
				c.enabled = true
			}
		}
		log.Debug("collector %q enabled: %v", c.Name(), c.enabled)
	}

	var unmatched []string
	for _, glob := range enabled {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return errors.Errorf("no collectors match globs %s", strings.Join(unmatched, ", "))
	}

	return nil
}

// Gatherer is a prometheus.Gatherer for the enabled collectors of a registry.
type Gatherer struct {
	*prometheus.Registry
	lock sync.Mutex
}

// GathererOption is an option for a gatherer.
type GathererOption func(*gathererOptions)

type gathererOptions struct {
	namespace string
	enabled   []string
}

// WithNamespace sets a common prefix for all gathered metrics.
func WithNamespace(namespace string) GathererOption {
	return func(o *gathererOptions) {
		o.namespace = namespace
	}
}

// WithMetrics sets the globs of the collectors to enable.
func WithMetrics(enabled []string) GathererOption {
	return func(o *gathererOptions) {
		o.enabled = enabled
	}
}

// NewGatherer creates a gatherer for the registry.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	o := &gathererOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if err := r.Configure(o.enabled); err != nil {
		return nil, err
	}

	g := &Gatherer{
		Registry: prometheus.NewPedanticRegistry(),
	}
	ns := prefixedRegisterer(o.namespace, g.Registry)

	for _, c := range r.Collectors() {
		var reg prometheus.Registerer = g.Registry
		if c.spaced {
			reg = ns
		}
		if c.prefixed {
			reg = prefixedRegisterer(c.group, reg)
		}
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrapf(err, "failed to register collector %q", c.Name())
		}
	}

	return g, nil
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.Registry.Gather()
}

func prefixedRegisterer(prefix string, reg prometheus.Registerer) prometheus.Registerer {
	if prefix == "" {
		return reg
	}
	return prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
}

var (
	defaultRegistry = NewRegistry()
)

// Default returns the default registry.
func Default() *Registry {
	return defaultRegistry
}

// Register registers a collector with the default registry.
func Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	return defaultRegistry.Register(name, collector, opts...)
}

// MustRegister registers a collector with the default registry, panicking on error.
func MustRegister(name string, collector prometheus.Collector, opts ...RegisterOption) {
	if err := Register(name, collector, opts...); err != nil {
		panic(err)
	}
}

// NewGatherer creates a gatherer for the default registry.
func NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	return defaultRegistry.NewGatherer(opts...)
}
