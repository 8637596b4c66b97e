package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/voltaforge/dlmmbot/internal/eventbus"
	"github.com/voltaforge/dlmmbot/internal/orchestrator"
	"github.com/voltaforge/dlmmbot/internal/predictor"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

// Server bundles the collaborators every handler needs: the store for
// direct CRUD the orchestrator itself doesn't own, the orchestrator for
// lifecycle operations, the bus for the SSE bridge, and the predictor for
// the /ml/* passthrough endpoints.
type Server struct {
	store        *storage.Store
	orchestrator *orchestrator.Orchestrator
	bus          *eventbus.Bus
	predictor    *predictor.Client
	tokens       *TokenIssuer
}

// Deps bundles the constructor arguments for New.
type Deps struct {
	Store        *storage.Store
	Orchestrator *orchestrator.Orchestrator
	Bus          *eventbus.Bus
	Predictor    *predictor.Client // nil when no predictor is configured
	Tokens       *TokenIssuer

	CORSOrigins []string
	Environment string
}

// New builds the full chi router for the service, grounded in
// volaticloud's cmd/server chi+cors+middleware wiring, generalised with
// go-chi/httprate rate limiting in place of volaticloud's bespoke
// per-endpoint limiter since httprate is the library this module's pack
// carries for that concern.
func New(d Deps) http.Handler {
	s := &Server{store: d.Store, orchestrator: d.Orchestrator, bus: d.Bus, predictor: d.Predictor, tokens: d.Tokens}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(httprate.LimitByRealIP(100, time.Minute))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/", func(r chi.Router) {
		r.Use(s.tokens.RequireAuth)

		r.Route("/bot", func(r chi.Router) {
			r.Post("/create", s.createBot)
			r.Get("/list", s.listBots)
			r.Route("/{botId}", func(r chi.Router) {
				r.Get("/", s.getBot)
				r.Put("/config", s.updateBotConfig)
				r.Post("/start", s.startBot)
				r.Post("/stop", s.stopBot)
				r.Post("/emergency", s.emergencyStopBot)
				r.Delete("/", s.deleteBot)
			})
		})

		r.Route("/position", func(r chi.Router) {
			r.Get("/active", s.listActivePositions)
			r.Get("/history", s.listPositionHistory)
			r.Get("/bot/{botId}", s.listPositionsForBot)
			r.Get("/{positionId}", s.getPosition)
			r.Post("/{positionId}/close", s.closePosition)
		})

		r.Get("/events/stream", s.eventsStream)

		r.Route("/ml", func(r chi.Router) {
			r.Get("/health", s.mlHealth)
			r.Post("/predict", s.mlPredict)
			r.Post("/reload", s.mlReload)
			r.Get("/feedback", s.mlFeedback)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) logError(msg string, err error, args ...any) {
	slog.Error(msg, append([]any{"error", err}, args...)...)
}
