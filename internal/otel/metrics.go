package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the pipeline's metric instruments.
type Metrics struct {
	RequestDuration   metric.Float64Histogram
	MessagesIngested  metric.Int64Counter
	SourceFetchErrors metric.Int64Counter
	LinkResolutions   metric.Int64Counter
	LinkCacheHits     metric.Int64Counter
	LLMCallDuration   metric.Float64Histogram
	SSESubscribers    metric.Int64UpDownCounter
	TopicsGenerated   metric.Int64Counter
	InsightsGenerated metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("newshack.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesIngested, err = meter.Int64Counter("newshack.ingest.messages",
		metric.WithDescription("Messages newly recorded by the ingestor"),
	)
	if err != nil {
		return nil, err
	}

	m.SourceFetchErrors, err = meter.Int64Counter("newshack.ingest.fetch_errors",
		metric.WithDescription("Per-source fetch failures"),
	)
	if err != nil {
		return nil, err
	}

	m.LinkResolutions, err = meter.Int64Counter("newshack.links.resolutions",
		metric.WithDescription("Upstream link resolution calls"),
	)
	if err != nil {
		return nil, err
	}

	m.LinkCacheHits, err = meter.Int64Counter("newshack.links.cache_hits",
		metric.WithDescription("Link summaries served from the store"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("newshack.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SSESubscribers, err = meter.Int64UpDownCounter("newshack.sse.subscribers",
		metric.WithDescription("Currently connected progress subscribers"),
	)
	if err != nil {
		return nil, err
	}

	m.TopicsGenerated, err = meter.Int64Counter("newshack.summaries.topics",
		metric.WithDescription("Topic summaries persisted"),
	)
	if err != nil {
		return nil, err
	}

	m.InsightsGenerated, err = meter.Int64Counter("newshack.insights.records",
		metric.WithDescription("Insight records persisted"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
