package server

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"videoterror/internal/config"
	"videoterror/internal/exector"
	"videoterror/internal/model"
	"videoterror/internal/notify"
	"videoterror/internal/probe"
	"videoterror/internal/storage"
	"videoterror/pkg/log"
)

type Server struct {
	conf       *config.Config
	store      *model.Store
	storage    storage.Storage
	prober     probe.Prober
	analyzer   exector.Analyzer
	notifier   *notify.Notifier
	manager    *exector.Manager
	metrics    *metrics
	handlers   map[string]handler
	httpServer *http.Server
	// runMu serialises the busy check and the start of a process.
	runMu  sync.Mutex
	logger *logrus.Entry
}

type Option func(s *Server)

func WithStorage(st storage.Storage) Option {
	return func(s *Server) {
		s.storage = st
	}
}

func WithProber(p probe.Prober) Option {
	return func(s *Server) {
		s.prober = p
	}
}

func WithAnalyzer(a exector.Analyzer) Option {
	return func(s *Server) {
		s.analyzer = a
	}
}

func WithNotifier(n *notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// NewServer serves the operation catalog over store. The caller keeps
// ownership of store and closes it after Shutdown.
func NewServer(ctx context.Context, conf *config.Config, store *model.Store, opts ...Option) (*Server, error) {
	s := &Server{
		conf:   conf,
		store:  store,
		logger: log.GetLogger(ctx).WithField("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.storage == nil {
		s.storage, err = storage.New(ctx, conf.Storage)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}
	if s.prober == nil {
		s.prober = probe.NewProber(conf.Probe)
	}
	if s.analyzer == nil {
		s.analyzer = exector.NewCannedAnalyzer(store)
	}
	if s.notifier == nil {
		s.notifier, err = notify.New(conf.NSQ, s.logger)
		if err != nil {
			return nil, err
		}
	}
	s.manager = exector.NewManager(ctx, conf.Runner, store, s.analyzer, s.notifier)
	s.metrics = newMetrics(s.manager.Running)
	s.handlers = s.operationHandlers()

	return s, nil
}

func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader(log.HttpXRequestId)
		if requestId == "" {
			requestId = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		c.Header(log.HttpXRequestId, requestId)
		c.Request = c.Request.WithContext(log.WithRequestId(c.Request.Context(), requestId))
		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		latency := time.Since(t)
		status := c.Writer.Status()

		operation := c.Param("operation")
		log.GetLogger(c.Request.Context()).Info("ip: ", c.ClientIP(), " method: ", c.Request.Method, " path: ",
			c.Request.URL.Path, " status: ", status, " latency: ", latency, " operation: ", operation)
	}
}

func (s *Server) Start() {
	gin.SetMode(gin.ReleaseMode)
	router := s.SetUpRouter()
	pprof.Register(router)
	s.httpServer = &http.Server{
		Addr:    s.conf.Addr,
		Handler: router,
	}

	var err error
	if s.conf.SSLCert != "" && s.conf.SSLKey != "" {
		s.logger.Infof("start https server on %s", s.conf.Addr)
		err = s.httpServer.ListenAndServeTLS(s.conf.SSLCert, s.conf.SSLKey)
	} else {
		s.logger.Infof("start http server on %s", s.conf.Addr)
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		s.logger.Fatal(err)
	}
}

// Shutdown stops the HTTP server, then every running process.
func (s *Server) Shutdown() {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.WithError(err).Error("server forced to shutdown")
		}
	}
	s.manager.Shutdown()
	s.notifier.Stop()
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error: err.Error(),
	})
}
