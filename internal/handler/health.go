package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/peervest/lending-engine/pkg/response"
)

const dependencyProbeTimeout = 5 * time.Second

type HealthHandler struct {
	db    *sqlx.DB
	redis *redis.Client
}

func NewHealthHandler(db *sqlx.DB, redis *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type readiness struct {
	Ready        bool              `json:"ready"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// Health answers liveness: the process is up and serving.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{"status": "up"})
}

// Ready probes the database and Redis. A failed dependency yields 503 so
// the load balancer stops routing until it recovers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	result := readiness{
		Ready:        true,
		Dependencies: make(map[string]string),
		CheckedAt:    time.Now().UTC(),
	}

	probe := func(name string, check func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(r.Context(), dependencyProbeTimeout)
		defer cancel()
		if err := check(ctx); err != nil {
			result.Ready = false
			result.Dependencies[name] = err.Error()
			return
		}
		result.Dependencies[name] = "ok"
	}

	probe("postgres", h.db.PingContext)
	probe("redis", func(ctx context.Context) error { return h.redis.Ping(ctx).Err() })

	if !result.Ready {
		response.Error(w, http.StatusServiceUnavailable, "Dependencies unavailable", nil)
		return
	}

	response.Success(w, result)
}
