package store

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	openDatabases = metrics.NewCounter("txkv_databases_opened_total")
	openWatches   = metrics.NewCounter("txkv_watch_open_total")
	dequeued      = metrics.NewCounter("txkv_queue_dequeue_total")
)

// observe records the duration and outcome of a request layer operation
func observe(op string, start time.Time, err error) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`txkv_request_duration_seconds{op=%q}`, op)).UpdateDuration(start)
	metrics.GetOrCreateCounter(fmt.Sprintf(`txkv_requests_total{op=%q,result=%q}`, op, resultLabel(err))).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := err.(*Error); ok {
		return e.Code.String()
	}
	return "error"
}
