package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/campuscoin/coin-service/internal/handler"
	"github.com/campuscoin/coin-service/internal/infrastructure/auth"
	"github.com/campuscoin/coin-service/internal/infrastructure/redis"
	"github.com/campuscoin/coin-service/internal/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Use the route template so path ids don't explode label cardinality.
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := fmt.Sprintf("%d", recorder.status)
		RequestCounter.WithLabelValues(r.Method, endpoint, status).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// SetupRouter wires the public, authenticated, staff and admin surfaces.
func SetupRouter(h *handler.Handler, redisClient redis.RedisClient, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	public := r.NewRoute().Subrouter()
	h.RegisterPublicRoutes(public)

	authMiddleware := auth.Middleware(redisClient, jwtSecret)

	protected := r.NewRoute().Subrouter()
	protected.Use(authMiddleware)
	h.RegisterProtectedRoutes(protected)

	staff := r.PathPrefix("/staff").Subrouter()
	staff.Use(authMiddleware, auth.RequireRoles(models.RoleInstructor, models.RoleAdmin))
	h.RegisterStaffRoutes(staff)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(authMiddleware, auth.RequireRoles(models.RoleAdmin))
	h.RegisterAdminRoutes(admin)

	r.Handle("/metrics", promhttp.Handler())
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
