package metrics

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "metrics")

// StatusProvider 返回当前运行状态快照（由引擎实现）
type StatusProvider func() map[string]interface{}

// Server 只读 HTTP 状态服务
type Server struct {
	srv *http.Server
}

// NewServer 创建状态服务。addr 形如 ":8080"。
func NewServer(addr string, status StatusProvider) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status())
	})

	// expvar 计数器透出
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start 启动（非阻塞）
func (s *Server) Start() {
	go func() {
		log.Infof("[Metrics] 状态服务监听 %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("[Metrics] 状态服务异常退出: %v", err)
		}
	}()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("[Metrics] 状态服务关闭失败: %v", err)
	}
}
