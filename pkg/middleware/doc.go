// Package middleware provides HTTP middleware for the roomverse
// server: Prometheus request metrics and OpenTelemetry tracing. Both
// label by the chi route pattern rather than the raw URL, so metric
// cardinality stays bounded.
package middleware
