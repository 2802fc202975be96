package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    defaultRegistry     *prometheus.Registry
    onceDefaultRegistry sync.Once
)

func DefaultRegistry() *prometheus.Registry {
    onceDefaultRegistry.Do(func() {
        r := prometheus.NewRegistry()
        r.MustRegister(prometheus.NewGoCollector())
        r.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
        defaultRegistry = r
    })
    return defaultRegistry
}

type HTTPMetrics struct {
    RequestsTotal    *prometheus.CounterVec
    RequestDuration  *prometheus.HistogramVec
    InflightRequests *prometheus.GaugeVec
}

func NewHTTPMetrics(reg *prometheus.Registry, namespace, service string) *HTTPMetrics {
    reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "http_requests_total",
        Help:      "Total number of HTTP requests",
    }, []string{"service", "route", "method", "status"})
    reqDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: namespace,
        Name:      "http_request_duration_seconds",
        Help:      "HTTP request duration in seconds",
        Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
    }, []string{"service", "route", "method", "status"})
    inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "http_inflight_requests",
        Help:      "Current number of inflight HTTP requests",
    }, []string{"service"})

    reg.MustRegister(reqTotal, reqDur, inflight)
    inflight.WithLabelValues(service).Set(0)

    return &HTTPMetrics{
        RequestsTotal:    reqTotal,
        RequestDuration:  reqDur,
        InflightRequests: inflight,
    }
}

type BusinessMetrics struct {
    IngestTotal        *prometheus.CounterVec
    IngestDuration     *prometheus.HistogramVec
    ExpandTotal        *prometheus.CounterVec
    ExpandDuration     *prometheus.HistogramVec
    ChatQueryTotal     *prometheus.CounterVec
    ChatQueryDuration  *prometheus.HistogramVec
    ChunksIndexedTotal *prometheus.CounterVec
}

func NewBusinessMetrics(reg *prometheus.Registry, namespace string) *BusinessMetrics {
    mkCounter := func(name, help string) *prometheus.CounterVec {
        c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, []string{"service", "status"})
        reg.MustRegister(c)
        return c
    }
    mkHist := func(name, help string) *prometheus.HistogramVec {
        h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}}, []string{"service", "status"})
        reg.MustRegister(h)
        return h
    }
    return &BusinessMetrics{
        IngestTotal:        mkCounter("ingest_total", "Total document ingestions"),
        IngestDuration:     mkHist("ingest_duration_seconds", "Document ingestion duration in seconds"),
        ExpandTotal:        mkCounter("expand_total", "Total chunk context expansions"),
        ExpandDuration:     mkHist("expand_duration_seconds", "Chunk context expansion duration in seconds"),
        ChatQueryTotal:     mkCounter("chat_query_total", "Total chat queries"),
        ChatQueryDuration:  mkHist("chat_query_duration_seconds", "Chat query duration in seconds"),
        ChunksIndexedTotal: mkCounter("chunks_indexed_total", "Total chunks written to the vector store"),
    }
}
