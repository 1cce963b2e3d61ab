// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tsmetrics realizes the "Exported statistics" table of spec §6 as
// concrete, scoped instruments instead of a textual list: a tally.Scope
// fronting a Prometheus registry, the same combination
// other_examples/m3db-m3's client session and the Prometheus remote-write
// queue manager reach for.
package tsmetrics

import (
	"io"
	"time"

	"github.com/m3db/prometheus_client_golang/prometheus"
	"github.com/uber-go/tally"
	promreporter "github.com/uber-go/tally/prometheus"
)

const reportingInterval = time.Second

// Registry roots every metric the client emits. One Registry is shared by a
// whole Client; per-region and global instrument sets are derived from it.
type Registry struct {
	scope  tally.Scope
	closer io.Closer
}

// New builds a Registry that reports into reg. Pass prometheus.DefaultRegisterer
// to export alongside the process's other metrics, or a fresh
// prometheus.NewRegistry() to isolate the client's instruments for tests.
func New(reg prometheus.Registerer) *Registry {
	reporter := promreporter.NewReporter(promreporter.Options{
		Registerer: reg,
	})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         "beringei_client",
		Tags:           map[string]string{},
		CachedReporter: reporter,
		Separator:      promreporter.DefaultSeparator,
	}, reportingInterval)
	return &Registry{scope: scope, closer: closer}
}

// Close stops the background reporting loop.
func (r *Registry) Close() error {
	return r.closer.Close()
}

// RegionMetrics is the per-region instrument set: one of these is created
// per WritePipeline / per read region, tagged with that region's service
// name so instruments from different regions don't collide.
type RegionMetrics struct {
	Enqueued       tally.Counter
	EnqueueDropped tally.Counter
	Put            tally.Counter
	PutDropped     tally.Counter
	PutRetry       tally.Counter
	UsPerPut       tally.Timer
	QueueSize      tally.Gauge
}

// RegionMetrics returns the instrument set for service, tagging every
// derived instrument with it.
func (r *Registry) RegionMetrics(service string) *RegionMetrics {
	scope := r.scope.Tagged(map[string]string{"service": service})
	return &RegionMetrics{
		Enqueued:       scope.Counter("enqueued"),
		EnqueueDropped: scope.Counter("enqueue_dropped"),
		Put:            scope.Counter("put"),
		PutDropped:     scope.Counter("put_dropped"),
		PutRetry:       scope.Counter("put_retry"),
		UsPerPut:       scope.Timer("us_per_put"),
		QueueSize:      scope.Gauge("queue_size"),
	}
}

// GlobalMetrics is the client-wide instrument set: not specific to any one
// region.
type GlobalMetrics struct {
	ReadFailover            tally.Counter
	RetryQueueSize          tally.Gauge
	RetryQueueWriteFailures tally.Counter
	BadReadServices         tally.Counter
	RedirectForMissingData  tally.Counter
}

// GlobalMetrics returns the client-wide instrument set.
func (r *Registry) GlobalMetrics() *GlobalMetrics {
	return &GlobalMetrics{
		ReadFailover:            r.scope.Counter("read_failover"),
		RetryQueueSize:          r.scope.Gauge("retry_queue_size"),
		RetryQueueWriteFailures: r.scope.Counter("retry_queue_write_failures"),
		BadReadServices:         r.scope.Counter("bad_read_services"),
		RedirectForMissingData:  r.scope.Counter("redirect_for_missing_data"),
	}
}
