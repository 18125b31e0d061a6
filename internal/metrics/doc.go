// Package metrics defines the Recorder used by the build pipeline, the VCS
// layer, the checkout lock and the serving resolver.
//
// Components take a Recorder and default to NoopRecorder. The daemon injects a
// PrometheusRecorder and exposes it through HTTPHandler.
package metrics
