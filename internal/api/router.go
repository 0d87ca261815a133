package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		apiHandler.recorder,
		apiHandler.injector,
		collectors.NewGoCollector(),
	)

	instrumentation := NewInstrumentation(apiHandler.recorder, apiHandler.logger, apiHandler.serverID)

	r := chi.NewRouter()

	r.Use(instrumentation.Middleware) // Must run first to time and count every request
	r.Use(Recover(apiHandler.recorder, apiHandler.logger))
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(Chaos(apiHandler.injector, apiHandler.recorder))

	r.Get("/health", apiHandler.HealthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", apiHandler.MetricsHandler)
		r.Get("/chaos/enable", apiHandler.EnableChaosHandler)
		r.Get("/chaos/disable", apiHandler.DisableChaosHandler)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", apiHandler.ListConversationsHandler)
			r.Post("/create", apiHandler.CreateConversationHandler)
			r.Get("/{conversationID}/messages", apiHandler.GetMessagesHandler)
			r.Post("/{conversationID}/typing", apiHandler.TypingHandler)
			r.Get("/{conversationID}/media", apiHandler.ListMediaHandler)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/send", apiHandler.SendMessageHandler)
			r.Get("/unread", apiHandler.UnreadCountHandler)
			r.Get("/search", apiHandler.SearchHandler)
			r.Put("/{messageID}/read", apiHandler.MarkReadHandler)
			r.Delete("/{messageID}", apiHandler.DeleteMessageHandler)
		})
	})

	return r
}
