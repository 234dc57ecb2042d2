package routers

import (
	"net/http"
	"time"

	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/routers/api"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// requestLogger 用 logrus 记录每个请求
func requestLogger() gin.HandlerFunc {
	log := logger.Get("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}

func InitRouter(allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if len(allowOrigins) > 0 {
		r.Use(cors.New(corsConfig(allowOrigins)))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1/api")
	{
		v1.GET("/state", api.GetState)
		v1.GET("/projects", api.ListProjects)
		v1.POST("/projects/new", api.NewProject)
		v1.POST("/projects/save", api.SaveProject)
		v1.POST("/projects/:project_id/load", api.LoadProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.PUT("/settings", api.UpdateSettings)
		v1.PUT("/references", api.UpdateReferences)

		v1.POST("/concept", api.RefineConcept)
		v1.POST("/storyboard", api.GenerateStoryboard)

		v1.POST("/shots/reorder", api.ReorderShots)
		v1.GET("/shots/:shot_id", api.GetShotDetail)
		v1.POST("/shots/:shot_id/generate", api.GenerateShotImage)
		v1.POST("/shots/:shot_id/edit", api.EditShotImage)
		v1.POST("/shots/:shot_id/animate", api.AnimateShot)
		v1.POST("/shots/:shot_id/revert", api.RevertShotImage)
		v1.PUT("/shots/:shot_id/character", api.AssignShotCharacter)
		v1.PUT("/shots/:shot_id/items", api.AssignShotItems)
		v1.PUT("/shots/:shot_id/base-reference", api.SetShotBaseReference)

		v1.POST("/characters", api.CreateCharacter)
		v1.PUT("/characters/:character_id", api.UpdateCharacter)
		v1.DELETE("/characters/:character_id", api.DeleteCharacter)
		v1.POST("/characters/:character_id/reference", api.GenerateCharacterReference)
		v1.POST("/characters/:character_id/alternates/:index", api.SelectAlternateImage)

		v1.POST("/items", api.CreateItem)
		v1.PUT("/items/:item_id", api.UpdateItem)
		v1.DELETE("/items/:item_id", api.DeleteItem)

		v1.GET("/library", api.SearchLibrary)
		v1.POST("/library/import", api.ImportFromLibrary)
		v1.POST("/library/save", api.SaveToLibrary)
		v1.POST("/library/delete", api.DeleteFromLibrary)

		v1.POST("/chat", api.Chat)
		v1.GET("/chat", api.GetChatHistory)
		v1.PUT("/auth/key", api.UpdateAPIKey)

		v1.GET("/events/wss", api.ShotEventsWebSocket)
	}
	return r
}
