package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/accent-coach/backend/internal/handler/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/handler/lesson"
	"github.com/zhouzirui/accent-coach/backend/internal/handler/phrase"
	"github.com/zhouzirui/accent-coach/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/accent-coach/backend/internal/middleware"
	coachService "github.com/zhouzirui/accent-coach/backend/internal/service/coach"
	lessonService "github.com/zhouzirui/accent-coach/backend/internal/service/lesson"
	"github.com/zhouzirui/accent-coach/backend/pkg/utils"
)

// Dependencies 路由所需的服务，Dialer 或 Phrases 为 nil 时对应接口返回 503
type Dependencies struct {
	Lessons        lessonService.Store
	CoachConfig    coachService.Config
	Dialer         coachService.Dialer
	Sessions       *coach.Registry
	Phrases        phrase.Synthesizer
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	options := coach.DefaultOptions()
	if len(deps.AllowedOrigins) > 0 {
		options.AllowedOrigins = deps.AllowedOrigins
	}
	coachHandler := coach.New(deps.CoachConfig, deps.Dialer, deps.Sessions, deps.Metrics, options)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"coach":    deps.Dialer != nil,
				"phrases":  deps.Phrases != nil,
				"sessions": coachHandler.SessionCount(),
			})
		})

		if deps.Lessons != nil {
			lesson.New(deps.Lessons).RegisterRoutes(api)
		}

		// Register coach routes
		coachHandler.RegisterRoutes(api)

		// Phrase synthesis needs its own key or the server key
		if deps.Phrases != nil {
			phrase.New(deps.Phrases, deps.Metrics).RegisterRoutes(api)
		} else {
			api.Post("/phrases/synthesize", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "phrase synthesis unavailable")
			})
		}
	})

	return r
}
