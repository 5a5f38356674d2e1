package export

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/honeyhiveai/honeyhive-go/core"
	"github.com/honeyhiveai/honeyhive-go/internal/httpclient"
)

// otlpPath is the backend's OTLP trace ingestion path.
const otlpPath = "/opentelemetry/v1/traces"

// AnnotatedSpan pairs a read-only span snapshot with attributes computed
// after the span ended. Third-party spans are immutable at on-end, so the
// canonical attributes produced there travel beside the span and are merged
// during wire conversion.
type AnnotatedSpan struct {
	Span  sdktrace.ReadOnlySpan
	Extra []attribute.KeyValue
}

// otlpSender serializes span batches to OTLP and POSTs them.
type otlpSender struct {
	http    *httpclient.Client
	useJSON bool
}

func (s *otlpSender) Send(ctx context.Context, batch []AnnotatedSpan) error {
	req := toProtoRequest(batch)

	var body []byte
	var contentType string
	var err error
	if s.useJSON {
		body, err = protojson.Marshal(req)
		contentType = "application/json"
	} else {
		body, err = proto.Marshal(req)
		contentType = "application/x-protobuf"
	}
	if err != nil {
		return core.NewError("export.otlp", core.ErrExportPermanent, "marshal payload", err)
	}

	return s.http.Post(ctx, otlpPath, contentType, body)
}

// SpanExporter ships span batches to {server_url}/opentelemetry/v1/traces
// with bearer auth plus project and source headers.
type SpanExporter struct {
	queue *Queue[AnnotatedSpan]
	http  *httpclient.Client
}

// SpanExporterConfig wires a SpanExporter.
type SpanExporterConfig struct {
	ServerURL   string
	APIKey      string
	Project     string
	Source      string
	UseJSON     bool
	HTTPTimeout time.Duration
	Queue       Options
}

// NewSpanExporter creates the exporter and starts its workers.
func NewSpanExporter(cfg SpanExporterConfig) *SpanExporter {
	cfg.Queue.Mode = "otlp"
	client := httpclient.New(
		httpclient.WithBaseURL(cfg.ServerURL),
		httpclient.WithBearerToken(cfg.APIKey),
		httpclient.WithHeader("X-Project", cfg.Project),
		httpclient.WithHeader("X-Source", cfg.Source),
		httpclient.WithTimeout(cfg.HTTPTimeout),
		httpclient.WithMaxIdleConns(max(cfg.Queue.Workers, 1)),
	)
	return &SpanExporter{
		queue: NewQueue[AnnotatedSpan](&otlpSender{http: client, useJSON: cfg.UseJSON}, cfg.Queue),
		http:  client,
	}
}

// Export offers a span to the queue without blocking.
func (e *SpanExporter) Export(span sdktrace.ReadOnlySpan, extra []attribute.KeyValue) bool {
	return e.queue.Enqueue(AnnotatedSpan{Span: span, Extra: extra})
}

// SetDisabled toggles degraded mode.
func (e *SpanExporter) SetDisabled(disabled bool) {
	e.queue.SetDisabled(disabled)
}

// Flush drains pending spans until empty or ctx expires.
func (e *SpanExporter) Flush(ctx context.Context) FlushResult {
	return e.queue.Flush(ctx)
}

// Shutdown flushes, stops the workers, and closes the HTTP client.
// Idempotent.
func (e *SpanExporter) Shutdown(ctx context.Context) {
	e.queue.Shutdown(ctx)
	e.http.Close()
}

// Stats returns the exporter's counters.
func (e *SpanExporter) Stats() Stats {
	return e.queue.Stats()
}

// toProtoRequest converts a batch into one OTLP export request. Spans share
// the SDK resource, so the batch maps to a single ResourceSpans grouping
// scopes by name and version.
func toProtoRequest(batch []AnnotatedSpan) *coltracepb.ExportTraceServiceRequest {
	if len(batch) == 0 {
		return &coltracepb.ExportTraceServiceRequest{}
	}

	rs := &tracepb.ResourceSpans{
		Resource: &resourcepb.Resource{
			Attributes: kvsToProto(batch[0].Span.Resource().Attributes()),
		},
	}

	scopeIndex := make(map[string]*tracepb.ScopeSpans)
	for _, item := range batch {
		scope := item.Span.InstrumentationScope()
		key := scope.Name + "\x00" + scope.Version
		ss, ok := scopeIndex[key]
		if !ok {
			ss = &tracepb.ScopeSpans{
				Scope: &commonpb.InstrumentationScope{
					Name:    scope.Name,
					Version: scope.Version,
				},
			}
			scopeIndex[key] = ss
			rs.ScopeSpans = append(rs.ScopeSpans, ss)
		}
		ss.Spans = append(ss.Spans, toProtoSpan(item))
	}

	return &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{rs},
	}
}

func toProtoSpan(item AnnotatedSpan) *tracepb.Span {
	s := item.Span
	sc := s.SpanContext()
	traceID := sc.TraceID()
	spanID := sc.SpanID()

	out := &tracepb.Span{
		TraceId:           traceID[:],
		SpanId:            spanID[:],
		Name:              s.Name(),
		Kind:              tracepb.Span_SpanKind(s.SpanKind()),
		StartTimeUnixNano: uint64(s.StartTime().UnixNano()),
		EndTimeUnixNano:   uint64(s.EndTime().UnixNano()),
		Attributes:        kvsToProto(append(s.Attributes(), item.Extra...)),
		Status:            toProtoStatus(s.Status()),
	}
	if parent := s.Parent(); parent.IsValid() {
		parentID := parent.SpanID()
		out.ParentSpanId = parentID[:]
	}
	return out
}

func toProtoStatus(status sdktrace.Status) *tracepb.Status {
	out := &tracepb.Status{Message: status.Description}
	switch status.Code {
	case codes.Ok:
		out.Code = tracepb.Status_STATUS_CODE_OK
	case codes.Error:
		out.Code = tracepb.Status_STATUS_CODE_ERROR
	default:
		out.Code = tracepb.Status_STATUS_CODE_UNSET
	}
	return out
}

func kvsToProto(kvs []attribute.KeyValue) []*commonpb.KeyValue {
	out := make([]*commonpb.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, &commonpb.KeyValue{
			Key:   string(kv.Key),
			Value: anyValueToProto(kv.Value),
		})
	}
	return out
}

func anyValueToProto(v attribute.Value) *commonpb.AnyValue {
	switch v.Type() {
	case attribute.BOOL:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: v.AsBool()}}
	case attribute.INT64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: v.AsInt64()}}
	case attribute.FLOAT64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: v.AsFloat64()}}
	case attribute.STRING:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v.AsString()}}
	case attribute.BOOLSLICE:
		vals := v.AsBoolSlice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, b := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: b}}
		}
		return arrayValue(arr)
	case attribute.INT64SLICE:
		vals := v.AsInt64Slice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, n := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: n}}
		}
		return arrayValue(arr)
	case attribute.FLOAT64SLICE:
		vals := v.AsFloat64Slice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, f := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: f}}
		}
		return arrayValue(arr)
	case attribute.STRINGSLICE:
		vals := v.AsStringSlice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, s := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
		}
		return arrayValue(arr)
	default:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v.Emit()}}
	}
}

func arrayValue(vals []*commonpb.AnyValue) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{
		ArrayValue: &commonpb.ArrayValue{Values: vals},
	}}
}
