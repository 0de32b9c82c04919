// Package metric provides the worker's Prometheus metric registry and the
// exporters that move it out of the process.
//
// # Architecture
//
//  1. Core Metrics: worker-level metrics registered up front (Metrics type)
//  2. Component Registry: extensible registration for component-specific metrics (MetricsRegistrar interface)
//  3. Exporters: a Pusher for push-gateway delivery, or a Server for scraping
//
// A Collector bundles one registry with the exporter selected by its mode.
// The collector is installed once into the process Environment, which runs
// the exporter as a background task and cancels it at teardown.
//
// # Push mode
//
//	collector, err := metric.NewCollector(metric.CollectorConfig{
//	    Mode: metric.ModePush,
//	    Push: metric.PusherConfig{
//	        Address:  "127.0.0.1:9091",
//	        Job:      "runtime-worker",
//	        Instance: "worker-1",
//	        Interval: 5 * time.Second,
//	    },
//	}, logger)
//
// Every tick the Pusher gathers the registry, encodes it in the text
// exposition format and PUTs it to /metrics/job/<job>/instance/<instance>.
// A failed push only affects that tick. With EscalateAfter set, a long
// failure streak is logged at error level and reported through the
// runtime_worker_pusher_escalated gauge and the OnEscalate hook.
//
// # Core Metrics
//
//   - runtime_worker_process_state{state}: 1 for the current lifecycle state
//   - runtime_worker_protocol_requests_total{method,status}
//   - runtime_worker_protocol_request_duration_seconds{method}
//   - runtime_worker_protocol_pending_calls
//   - runtime_worker_transport_frames_total{direction}
//   - runtime_worker_storage_operations_total{layer,op,result}
//   - runtime_worker_worker_calls_total{method,status}
//   - runtime_worker_worker_call_duration_seconds{method}
//   - runtime_worker_pusher_attempts_total{result}
//   - runtime_worker_pusher_consecutive_failures
//   - runtime_worker_pusher_escalated
//
// Go runtime and process collectors are registered as well.
//
// # Thread Safety
//
// Registration is guarded by a mutex. Metric updates and Gather are safe
// for concurrent use; a gathered snapshot is never mutated afterwards.
package metric
