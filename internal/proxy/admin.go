package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AdminRouter builds the gin router exposed on Config.AdminListen: a status
// snapshot, prometheus scrape endpoint, and reload controls. Gin is the
// teacher's HTTP library of choice for its own worker-facing surface
// (orchestrator/worker.go talks to a worker's own gin-style JSON API); this
// reuses it for the control plane the distilled spec left unspecified
// (SPEC_FULL.md §10.3).
func (p *Proxy) AdminRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), p.ginLogger())

	r.GET("/status", p.handleStatus)
	r.POST("/reload", p.handleStartReload)
	r.POST("/reload/stop", p.handleStopReload)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (p *Proxy) ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			p.log.Warn("admin request error",
				zap.String("path", c.Request.URL.Path),
				zap.String("errors", c.Errors.String()))
		}
	}
}

func (p *Proxy) handleStatus(c *gin.Context) {
	snap := p.dispatcher.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"reloading":   snap.Reloading,
		"queue_depth": snap.QueueDepth,
		"idle_count":  snap.IdleCount,
		"busy_count":  snap.BusyCount,
	})
}

func (p *Proxy) handleStartReload(c *gin.Context) {
	if p.dispatcher.Reloading() {
		c.JSON(http.StatusConflict, gin.H{"error": "reload already in progress"})
		return
	}
	p.dispatcher.StartReload()
	c.JSON(http.StatusAccepted, gin.H{"status": "reload started"})
}

func (p *Proxy) handleStopReload(c *gin.Context) {
	p.dispatcher.StopReload()
	c.JSON(http.StatusOK, gin.H{"status": "reload cancelled"})
}
