package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bull/pdfchat/internal/logger"
)

type RouterConfig struct {
	Handler     *Handler
	Logger      *logger.Logger
	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(CORS(cfg.CORSOrigins))
	}

	// Public
	router.GET("/health", cfg.Handler.Health)
	router.GET("/job/:id", cfg.Handler.GetJobStatus)

	// Caller identity required
	protected := router.Group("/")
	protected.Use(RequireUser())
	{
		protected.POST("/upload/pdf", cfg.Handler.UploadPDF)
		protected.GET("/pdfs", cfg.Handler.ListPDFs)
		protected.DELETE("/pdf/:collectionName", cfg.Handler.DeletePDF)
	}

	return router
}
