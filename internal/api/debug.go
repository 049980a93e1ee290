package api

import (
	"net/http"
	"time"

	"fieldroute/internal/buildinfo"
)

// debugInfo reports build metadata and the non-secret parts of the config.
func (s *Server) debugInfo(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                     c.Port,
			"AUTH_MODE":                c.Auth.Mode,
			"RATE_RPS":                 c.RateRPS,
			"RATE_BURST":               c.RateBurst,
			"AUTO_ASSIGN_CRON":         c.AutoAssignCron,
			"AUTO_ASSIGN_HORIZON_DAYS": c.AutoAssignHorizonDays,
			"PLANNING_TZ":              c.Engine.Timezone,
			"WEBHOOK_MAX_ATTEMPTS":     c.WebhookMaxAttempts,
			"HAS_WEBHOOK_URL":          c.WebhookURL != "",
			"HAS_DATABASE_URL":         c.DatabaseURL != "",
			"HAS_REDIS_URL":            c.RedisURL != "",
		},
	})
}
