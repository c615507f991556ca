package openfinance

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	syncTracer     = otel.Tracer("koffers/sync")
	syncMeter      = otel.Meter("koffers/sync")
	syncPages, _   = syncMeter.Int64Counter("sync.pages", metric.WithDescription("Provider pages committed"))
	syncRecords, _ = syncMeter.Int64Counter("sync.records", metric.WithDescription("Transaction records applied by outcome"))
	syncRuns, _    = syncMeter.Int64Counter("sync.runs", metric.WithDescription("Sync runs by kind and outcome"))
)
