// Package metrics exposes gateway metrics in the Prometheus text format.
package metrics
