// Package api exposes the platform's control surface: a JSON-RPC 2.0
// endpoint for scrapers and tasks, health probe and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarryd/quarry/internal/logger"
)

// RPCPath is where the JSON-RPC endpoint is mounted.
const RPCPath = "/api/v1/jsonrpc"

// NewRouter builds the gin engine with the RPC endpoint, health probe and
// metrics handler.
func NewRouter(service *Service, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST(RPCPath, rpcHandler(service, log))
	return router
}

// rpcHandler decodes the envelope, dispatches the method and encodes the
// reply. Transport always answers 200; failures live in the error member.
func rpcHandler(service *Service, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rpcRequest
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.JSON(http.StatusOK, errorResponse(nil, codeParseError, "parse error"))
			return
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			c.JSON(http.StatusOK, errorResponse(req.ID, codeInvalidRequest, "invalid request"))
			return
		}

		result, err := service.dispatch(c.Request.Context(), req.Method, req.Params)
		switch {
		case errors.Is(err, errUnknownMethod):
			c.JSON(http.StatusOK, errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method))
		case errors.Is(err, errInvalidParams):
			c.JSON(http.StatusOK, errorResponse(req.ID, codeInvalidParams, err.Error()))
		case err != nil:
			log.Warn("rpc method failed",
				logger.String("method", req.Method), logger.Error(err))
			c.JSON(http.StatusOK, methodError(req.ID, err))
		default:
			c.JSON(http.StatusOK, resultResponse(req.ID, result))
		}
	}
}
