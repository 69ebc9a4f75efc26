// Package server exposes the operational HTTP surface of a long-running
// mailauth process: Prometheus metrics and Kubernetes-style health probes.
//
// Readiness follows the background token keeper. The process reports ready
// once the first keeper pass over stored accounts has finished, and not
// ready again once shutdown has begun.
package server
