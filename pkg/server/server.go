package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
	"github.com/f5qa/respool/pkg/server/commands"
	"github.com/f5qa/respool/pkg/utils"
)

const loggerKey = "logger"

type RespoolAPI struct {
	factory *respool.Factory
	// access token -> comma separated list of pools
	tokens map[string]string
	router *gin.Engine
	port   string
	logger logr.Logger
}

func NewRespoolAPI(port string, factory *respool.Factory, tokens map[string]string, logger logr.Logger) *RespoolAPI {
	return &RespoolAPI{
		factory: factory,
		tokens:  tokens,
		port:    port,
		logger:  logger,
	}
}

func (o *RespoolAPI) Init() error {
	if o.factory == nil {
		return errors.New("a pool factory is required")
	}

	// Setup the server
	r := gin.New()
	r.Use(gin.Recovery(), o.requestID, o.authorize)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Group("/v1").
		GET("/pools", o.handleListPools).
		GET("/pools/:pool", o.handleGetPool).
		POST("/pools/:pool", o.handleAcquire).
		DELETE("/pools/:pool", o.handleReleaseAll).
		DELETE("/pools/:pool/items", o.handleReleaseItem).
		DELETE("/pools/:pool/items/:name", o.handleRelease).
		POST("/ranges/:range/next", o.handleRangeNext)

	o.router = r
	return nil
}

func (o *RespoolAPI) Handler() http.Handler {
	return o.router
}

// Run serves the API until ctx is done
func (o *RespoolAPI) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", o.port),
		Handler:           o.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			o.logger.Error(err, "server shutdown")
		}
	}()

	o.logger.Info("serving", "port", o.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (o *RespoolAPI) requestID(c *gin.Context) {
	id := c.GetHeader(clientv1.RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(clientv1.RequestIDHeader, id)

	logger := o.logger.WithValues("requestID", id)
	c.Set(loggerKey, logger)

	start := time.Now()
	c.Next()
	logger.V(1).Info("request", "method", c.Request.Method, "path", c.Request.URL.Path,
		"status", c.Writer.Status(), "duration", time.Since(start))
}

// authorize records the pools the caller can use. Without tokens
// configured every pool is open.
func (o *RespoolAPI) authorize(c *gin.Context) {
	if len(o.tokens) == 0 {
		c.Set(utils.ValidPoolsKey, utils.AllPools)
		return
	}
	if pools, ok := o.tokens[c.GetHeader(clientv1.TokenHeader)]; ok {
		c.Set(utils.ValidPoolsKey, pools)
	}
}

func (o *RespoolAPI) run(c *gin.Context, cmd commands.Command) {
	if err := cmd.Run(); err != nil {
		logger := o.logger
		if l, ok := c.Get(loggerKey); ok {
			logger = l.(logr.Logger)
		}
		logger.Error(err, "request failed", "path", c.Request.URL.Path)
		commands.WriteError(c, err)
	}
}

func (o *RespoolAPI) handleListPools(c *gin.Context) {
	o.run(c, commands.NewListCmd(c, o.factory))
}

func (o *RespoolAPI) handleGetPool(c *gin.Context) {
	o.run(c, commands.NewStatusCmd(c, o.factory, c.Param("pool")))
}

func (o *RespoolAPI) handleAcquire(c *gin.Context) {
	o.run(c, commands.NewAcquireCmd(c, o.factory, c.Param("pool")))
}

func (o *RespoolAPI) handleRelease(c *gin.Context) {
	o.run(c, commands.NewReleaseCmd(c, o.factory, c.Param("pool"), c.Param("name")))
}

func (o *RespoolAPI) handleReleaseItem(c *gin.Context) {
	o.run(c, commands.NewReleaseItemCmd(c, o.factory, c.Param("pool")))
}

func (o *RespoolAPI) handleReleaseAll(c *gin.Context) {
	o.run(c, commands.NewReleaseAllCmd(c, o.factory, c.Param("pool")))
}

func (o *RespoolAPI) handleRangeNext(c *gin.Context) {
	o.run(c, commands.NewRangeNextCmd(c, o.factory, c.Param("range")))
}
