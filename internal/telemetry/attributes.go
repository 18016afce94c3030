// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans.
const (
	FeedIDKey     = "feed.id"
	DownloadIDKey = "download.id"
	PhaseKey      = "pipeline.phase"
	ContextIDKey  = "context.id"

	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// FeedAttributes builds feed-scoped span attributes.
func FeedAttributes(feedID, contextID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(FeedIDKey, feedID)}
	if contextID != "" {
		attrs = append(attrs, attribute.String(ContextIDKey, contextID))
	}
	return attrs
}

// DownloadAttributes builds item-scoped span attributes.
func DownloadAttributes(feedID, downloadID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(FeedIDKey, feedID),
		attribute.String(DownloadIDKey, downloadID),
	}
}

// HTTPAttributes builds request span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ErrorAttributes marks a span failed with a classification.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
