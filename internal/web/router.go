// Package web serves the browser front end: the generation form, the
// generate endpoint, artifact playback and download, health and metrics.
package web

import (
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions toggles optional middleware.
type RouterOptions struct {
	Sentry bool
}

// NewRouter wires the handler routes and middleware.
func NewRouter(handler *Handler, log *logger.Logger, opts RouterOptions) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())

	if opts.Sentry {
		router.Use(SentryMiddleware())
	}

	router.Use(RequestTracking(log))

	router.GET("/", handler.Index)
	router.POST("/generate", handler.Generate)
	router.GET("/outputs/:name", handler.Output)
	router.GET("/healthz", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
