// telemetry provides metrics for the steps of a deployment run.
// Supported metrics includes:
// - number of steps started(*_started_total)
// - success/failure count(*_handled_total)
// - latency histogram(*_handling_seconds_bucket)
//
// A run is a short-lived process, so metrics are pushed to a Prometheus pushgateway
// at the end of the run rather than scraped.
package telemetry
