package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/manupriyaaa/tracelens/internal/api/handlers/auth"
	"github.com/manupriyaaa/tracelens/internal/api/handlers/image"
	"github.com/manupriyaaa/tracelens/internal/middleware"
)

func Setup(ah *auth.Handler, ih *image.Handler, jwtSecret []byte) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.GET("/health", func(c *ginext.Context) {
		c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api.POST("/auth/send-otp", ah.SendOTP)
	api.POST("/auth/login", ah.Login)

	protected := api.Group("/")
	protected.Use(middleware.Auth(jwtSecret))

	protected.GET("/auth/me", ah.Me)

	protected.POST("/upload", ih.Upload)
	protected.POST("/detect-faces", ih.DetectFaces)
	protected.GET("/images", ih.List)
	protected.GET("/images/stats", ih.Stats)
	protected.GET("/image/:id", ih.GetMeta)
	protected.GET("/image/:id/file", ih.GetFile)
	protected.GET("/image/:id/annotated", ih.Annotated)
	protected.DELETE("/image/:id", ih.Delete)
	protected.POST("/images/bulk-delete", ih.BulkDelete)

	return r
}
