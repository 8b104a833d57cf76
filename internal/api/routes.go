package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"policy-claims/backend/internal/embedding"
	"policy-claims/backend/internal/ingest"
	"policy-claims/backend/internal/pipeline"
	"policy-claims/backend/internal/reasoner"
	"policy-claims/backend/internal/retrieval"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
	"policy-claims/backend/internal/store"
)

// Config defines server dependencies.
type Config struct {
	DBPath         string
	UploadDir      string
	RulesPath      string
	AllowedOrigins []string
	SilentDB       bool
	AIConfig       reasoner.Config
	DisableAI      bool
	Embedding      embedding.Config
	TopK           int
	// Registerer and Gatherer default to the global Prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server wires HTTP handlers with retrieval, the claim pipeline and persistence.
type Server struct {
	db             *store.Database
	retrieval      *retrieval.Service
	pipeline       *pipeline.Pipeline
	engine         *rules.Engine
	notifier       *EventNotifier
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	aiEnabled      bool
}

// NewServer constructs the API server and restores the last ingested document.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	rulesCfg, err := rules.LoadConfig(cfg.RulesPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	engine := rules.New(rulesCfg)

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	retriever, err := retrieval.NewService(retrieval.Config{UploadDir: cfg.UploadDir, TopK: cfg.TopK}, embedder, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := retriever.Restore(context.Background()); err != nil {
		logrus.WithError(err).Warn("restore retrieval index")
	}

	var r reasoner.Reasoner = reasoner.NewOffline()
	aiEnabled := false
	if cfg.DisableAI {
		logrus.Info("AI reasoner disabled via configuration")
	} else if client, err := reasoner.NewClient(cfg.AIConfig); err == nil {
		r = reasoner.WithFallback(client, reasoner.NewOffline())
		aiEnabled = true
	} else if errors.Is(err, reasoner.ErrDisabled) {
		logrus.Warn("no OpenAI credentials configured, using offline reasoner")
	} else {
		db.Close()
		return nil, fmt.Errorf("reasoner client: %w", err)
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	notifier := NewEventNotifier()
	p, err := pipeline.New(slots.NewExtractor(nil, nil), retriever, r, engine, pipeline.NewSQLStore(db), pipeline.Options{
		TopK:     cfg.TopK,
		Metrics:  pipeline.MustNewMetrics(registerer),
		Notifier: notifier,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"embedder":   embedder.Name(),
		"rules":      engine.Rules(),
		"ai_enabled": aiEnabled,
		"segments":   retriever.SegmentCount(),
	}).Info("claim service configured")

	return &Server{
		db:             db,
		retrieval:      retriever,
		pipeline:       p,
		engine:         engine,
		notifier:       notifier,
		gatherer:       gatherer,
		allowedOrigins: cfg.AllowedOrigins,
		aiEnabled:      aiEnabled,
	}, nil
}

// Pipeline exposes the claim pipeline for in-process callers.
func (s *Server) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Retrieval exposes the retrieval service for in-process callers.
func (s *Server) Retrieval() *retrieval.Service { return s.retrieval }

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/events", s.handleEvents)

	r.POST("/ingest_document", s.handleIngest)
	r.POST("/process_query", s.handleProcessQuery)
	r.POST("/evaluate_rules", s.handleEvaluateRules)
	r.GET("/queries", s.handleListQueries)
	r.GET("/get_summaries/:id", s.handleSummaries)
	r.GET("/get_chain_of_thought/:id", s.handleChainOfThought)
	r.GET("/get_rules/:id", s.handleRules)
	r.GET("/get_full_result/:id", s.handleFullResult)

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Segments: s.retrieval.SegmentCount(),
		Document: s.retrieval.ActiveDocument(),
		Reasoner: s.aiEnabled,
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, http.StatusBadRequest, errors.New("file is required"))
		} else {
			s.renderError(c, http.StatusBadRequest, err)
		}
		return
	}
	if _, err := ingest.DetectFormat(fileHeader.Filename); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	defer src.Close()

	result, err := s.retrieval.Ingest(c.Request.Context(), fileHeader.Filename, src)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ingest.ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		s.renderError(c, status, err)
		return
	}

	s.notifier.Broadcast(StreamEvent{
		Type:     "ingested",
		Document: result.Filename,
		Segments: result.Segments,
	})
	c.JSON(http.StatusOK, IngestResponse{DocID: result.Filename, SegmentsCount: result.Segments})
}

func (s *Server) handleProcessQuery(c *gin.Context) {
	var req ProcessQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is required")
		}
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if req.TopK < 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("top_k must not be negative"))
		return
	}

	result, err := s.pipeline.Process(c.Request.Context(), pipeline.Query{
		Text:   req.Query,
		Domain: req.Domain,
		TopK:   req.TopK,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ProcessQueryResponse{QueryID: result.QueryID})
}

func (s *Server) handleSummaries(c *gin.Context) {
	summaries, err := s.pipeline.Summaries(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, SummariesResponse{Summaries: summaries})
}

func (s *Server) handleChainOfThought(c *gin.Context) {
	cot, err := s.pipeline.ChainOfThought(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, cot)
}

func (s *Server) handleRules(c *gin.Context) {
	outcome, err := s.pipeline.Rules(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, RulesResponse{Rules: outcome})
}

func (s *Server) handleFullResult(c *gin.Context) {
	result, err := s.pipeline.Full(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListQueries(c *gin.Context) {
	offset, err := parseIntParam(c.Query("offset"), 0)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid offset: %w", err))
		return
	}
	limit, err := parseIntParam(c.Query("limit"), 25)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid limit: %w", err))
		return
	}
	if limit > 200 {
		limit = 200
	}

	decision, overridden, err := pipeline.ParseListFilters(c.Query("final_decision"), c.Query("overridden"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	items, total, err := s.pipeline.List(c.Request.Context(), pipeline.ListOptions{
		Offset:        offset,
		Limit:         limit,
		FinalDecision: decision,
		Overridden:    overridden,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, QueryListResponse{Items: items, Total: total, Offset: offset, Limit: limit})
}

func (s *Server) handleEvaluateRules(c *gin.Context) {
	var req EvaluateRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	decision := req.Decision
	decision.Decision = rules.ParseVerdict(string(decision.Decision))
	if decision.Amount != nil && *decision.Amount < 0 {
		decision.Amount = nil
	}
	if req.Slots == nil {
		req.Slots = slots.Set{}
	}
	c.JSON(http.StatusOK, s.engine.Evaluate(req.Slots, decision))
}

func (s *Server) handleEvents(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("event websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("event websocket closed")
			} else {
				logrus.WithError(err).Warn("event websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) renderLookupError(c *gin.Context, err error) {
	if errors.Is(err, pipeline.ErrNotFound) {
		s.renderError(c, http.StatusNotFound, err)
		return
	}
	s.renderError(c, http.StatusInternalServerError, err)
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseIntParam(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if parsed < 0 {
		return 0, errors.New("must not be negative")
	}
	return parsed, nil
}
