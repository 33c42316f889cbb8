package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	uploadHandler := handlers.NewUploadHandler(s.deps.Photos, s.deps.Credits, s.deps.Sessions, s.deps.Queue, s.deps.Coordinator)
	progressHandler := handlers.NewProgressHandler(s.deps.Sessions)
	creditsHandler := handlers.NewCreditsHandler(s.deps.Credits, s.deps.Config.Pricing)
	clusterHandler := handlers.NewClusterHandler(s.deps.Scheduler)
	photosHandler := handlers.NewPhotosHandler(s.deps.Photos, s.deps.Bibs, s.deps.Faces, s.deps.Store)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Uploads and progress
		r.Post("/events/{eventID}/photos", uploadHandler.Upload)
		r.Get("/uploads/{sessionID}/events", progressHandler.Events)

		// Photos
		r.Get("/photos/{photoID}", photosHandler.Get)
		r.Get("/photos/{photoID}/download", photosHandler.Download)

		// Clustering
		r.Post("/events/{eventID}/cluster", clusterHandler.Run)

		// Credits
		r.Get("/credits", creditsHandler.Balance)
		r.Get("/credits/packs", creditsHandler.Packs)
		r.Post("/admin/credits/adjust", creditsHandler.Adjust)
	})
}
