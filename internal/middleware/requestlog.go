package middleware

import (
	"context"

	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/scraper"
)

// RequestLogConfig toggles request and response logging.
type RequestLogConfig struct {
	LogRequest  bool `mapstructure:"log_request"`
	LogResponse bool `mapstructure:"log_response"`
}

// DefaultRequestLogConfig logs both requests and responses.
func DefaultRequestLogConfig() RequestLogConfig {
	return RequestLogConfig{LogRequest: true, LogResponse: true}
}

// RequestLog logs every dispatched request and received response.
type RequestLog struct {
	defaults RequestLogConfig
	log      logger.Logger
}

// NewRequestLog creates the request logging middleware.
func NewRequestLog(defaults RequestLogConfig, log logger.Logger) *RequestLog {
	return &RequestLog{defaults: defaults, log: log}
}

// Name implements scraper.Middleware.
func (m *RequestLog) Name() string {
	return "requests_logging"
}

// OnRequest logs the outgoing request.
func (m *RequestLog) OnRequest(_ context.Context, req *scraper.Request, overrides map[string]any) (*scraper.Request, error) {
	var cfg RequestLogConfig
	if err := scraper.MergeConfig(m.defaults, overrides, &cfg); err != nil {
		return nil, err
	}
	if cfg.LogRequest {
		m.log.Info("dispatching request",
			logger.String("method", req.Method),
			logger.String("url", req.URL))
	}
	return req, nil
}

// OnResponse logs the received response.
func (m *RequestLog) OnResponse(_ context.Context, req *scraper.Request, resp *scraper.Response, overrides map[string]any) (*scraper.Response, error) {
	var cfg RequestLogConfig
	if err := scraper.MergeConfig(m.defaults, overrides, &cfg); err != nil {
		return nil, err
	}
	if cfg.LogResponse {
		m.log.Info("received response",
			logger.String("method", req.Method),
			logger.String("url", req.URL),
			logger.Int("status", resp.StatusCode),
			logger.Int("body_bytes", len(resp.Body)))
	}
	return resp, nil
}
