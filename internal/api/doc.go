// Package api serves the EventSync HTTP surface: the /chat endpoint used by
// the web front end, the asynchronous task endpoints, run history, the tool
// catalogue, health checks and Prometheus metrics.
package api
