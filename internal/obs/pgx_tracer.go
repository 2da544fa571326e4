package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

type querySpanKey struct{}

// PGXTracer is a pgx.QueryTracer opening one client span per statement on the
// order store. Spans carry the order the surrounding request is about.
type PGXTracer struct{}

var _ pgx.QueryTracer = PGXTracer{}

// TraceQueryStart opens the statement span.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	statement := strings.Join(strings.Fields(data.SQL), " ")
	operation := "QUERY"
	if fields := strings.Fields(statement); len(fields) > 0 {
		operation = strings.ToUpper(fields[0])
	}
	ctx, span := Tracer("store").Start(ctx, "store "+operation, trace.WithSpanKind(trace.SpanKindClient))
	if len(statement) > maxStatementLen {
		statement = statement[:maxStatementLen] + "..."
	}
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
		attribute.String("db.statement", statement),
	)
	if _, orderID, _ := TagsFrom(ctx).Snapshot(); orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
	return context.WithValue(ctx, querySpanKey{}, span)
}

// TraceQueryEnd records the affected rows or the error and closes the span.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(querySpanKey{}).(trace.Span)
	if !ok {
		return
	}
	defer span.End()
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, "query failed")
		return
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
}
