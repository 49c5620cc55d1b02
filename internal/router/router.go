package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/salonsano/internal/handler"
)

const sessionName = "salonsano_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(api.LocaleMiddleware())

	r.GET("/ping", api.Ping)

	public := r.Group("/api")
	{
		public.GET("/site", api.ShowSite)
		public.POST("/booking", api.CreateBooking)
		public.GET("/gallery", api.ExistingReplicaMiddleware(), api.ShowGallery)
	}

	// 后台管理路由
	admin := r.Group("/admin/api")
	admin.Use(api.ReplicaMiddleware())
	{
		admin.GET("/session", api.Session)
		admin.POST("/login", api.Login)
		admin.POST("/logout", api.Logout)
		admin.POST("/password", api.ChangePassword)
		admin.POST("/password/reset", api.ResetPassword)
		admin.GET("/debug", api.ShowDebug)
		admin.POST("/debug/clear", api.ClearAllData)

		// 需要认证的后台路由
		auth := admin.Group("")
		auth.Use(api.AuthRequired())
		{
			auth.GET("/dashboard", api.ShowDashboard)
			auth.GET("/posts", api.GetPosts)
			auth.POST("/posts", api.CreatePost)
			auth.DELETE("/posts", api.ClearPosts)
			auth.GET("/posts/:id", api.GetPost)
			auth.PUT("/posts/:id", api.UpdatePost)
			auth.DELETE("/posts/:id", api.DeletePost)
			auth.POST("/upload/image", api.UploadImage)
		}
	}

	return r
}
