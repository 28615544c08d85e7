package fixture

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.ReleaseMode) }

func ginHandler(cfg Config) http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(cfg.BasePath)
	group.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": Message(cfg.Name)})
	})
	group.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	group.GET("/fail", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "requested failure"})
	})
	group.GET("/garbage", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte("{not json"))
	})
	return g
}
