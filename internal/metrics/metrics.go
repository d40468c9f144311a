// Package metrics exposes prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts dispatched enrichment jobs by kind and outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_total",
		Help: "Enrichment jobs by kind and outcome.",
	}, []string{"kind", "outcome"})

	// JobDuration observes end-to-end job duration by kind.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_job_duration_seconds",
		Help:    "Enrichment job duration by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// SignedURLLookups counts signed-URL cache lookups by result (hit/miss).
	SignedURLLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_signed_url_lookups_total",
		Help: "Signed-URL cache lookups by result.",
	}, []string{"result"})

	// UploadsTotal counts uploaded files by outcome.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_uploads_total",
		Help: "Uploaded files by outcome.",
	}, []string{"outcome"})

	// DeletesTotal counts record deletions by outcome.
	DeletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_deletes_total",
		Help: "Record deletions by outcome.",
	}, []string{"outcome"})
)
