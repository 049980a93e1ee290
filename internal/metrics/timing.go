package metrics

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Time starts timing op. Call the returned func with a pointer to the
// operation's error, usually deferred:
//
//	defer metrics.Time(ctx, "store.load_jobs")(&err)
func Time(ctx context.Context, op string) func(errp *error) {
	start := time.Now()
	return func(errp *error) {
		dur := time.Since(start)
		status := "ok"
		if errp != nil && *errp != nil {
			status = "error"
		}
		OpDuration.WithLabelValues(op, status).Observe(dur.Seconds())

		var ev *zerolog.Event
		if status == "error" {
			ev = log.Warn().Err(*errp)
		} else {
			ev = log.Debug()
		}
		if id := middleware.GetReqID(ctx); id != "" {
			ev = ev.Str("req_id", id)
		}
		ev.Str("op", op).Dur("dur", dur).Msg("op")
	}
}
