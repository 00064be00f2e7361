// Package metrics provides observability hooks for the memory daemon.
//
// Components receive a Recorder through injection and default to
// NoopRecorder, so nothing needs nil checks:
//
//	d := daemon.New(cfg, daemon.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// When metrics.listen_addr is configured the daemon serves the registry
// through HTTPHandler on /metrics next to a /healthz probe.
package metrics
