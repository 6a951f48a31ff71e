package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"followup-engine/backend/internal/conversation"
	"followup-engine/backend/internal/prompts"
	"followup-engine/backend/internal/store"
	"followup-engine/backend/internal/worker"
)

// Config defines server options.
type Config struct {
	AllowedOrigins []string
	ModelEnabled   bool
	Dispatcher     string
}

// Server wires HTTP handlers with persistence and the orchestrator.
type Server struct {
	db             *store.Database
	orchestrator   *conversation.Orchestrator
	runner         *worker.Runner
	events         *EventHub
	allowedOrigins []string
	modelEnabled   bool
	dispatcher     string
}

// NewServer constructs the API server.
func NewServer(cfg Config, db *store.Database, orchestrator *conversation.Orchestrator, runner *worker.Runner, events *EventHub) (*Server, error) {
	if db == nil || orchestrator == nil || runner == nil {
		return nil, errors.New("api server requires a database, orchestrator and runner")
	}
	if events == nil {
		events = NewEventHub()
	}
	return &Server{
		db:             db,
		orchestrator:   orchestrator,
		runner:         runner,
		events:         events,
		allowedOrigins: cfg.AllowedOrigins,
		modelEnabled:   cfg.ModelEnabled,
		dispatcher:     cfg.Dispatcher,
	}, nil
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

	r.GET("/api/healthz", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/customers", s.handleCreateCustomer)
		api.GET("/customers/:id", s.handleGetCustomer)
		api.POST("/leads", s.handleCreateLead)
		api.POST("/conversations", s.handleCreateConversation)
		api.GET("/conversations/:id", s.handleGetConversation)
		api.POST("/conversations/:id/messages", s.handleMessage)
		api.POST("/conversations/:id/start", s.handleStart)
		api.GET("/conversations/:id/foresights", s.handleForesights)
		api.POST("/interactions", s.handleCreateInteraction)
		api.GET("/interactions/:id", s.handleGetInteraction)
		api.GET("/tasks", s.handleTasks)
		api.GET("/stats", s.handleStats)
		api.GET("/events", s.handleEvents)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"model_enabled": s.modelEnabled,
		"dispatcher":    s.dispatcher,
	})
}

func (s *Server) handleCreateCustomer(c *gin.Context) {
	var req CustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	customer := &store.Customer{
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        strings.TrimSpace(req.Email),
		Language:     strings.TrimSpace(req.Language),
		DoNotContact: req.DoNotContact,
	}
	if req.Consent {
		now := time.Now().UTC()
		customer.ConsentAt = &now
	}
	if err := s.db.CreateCustomer(c.Request.Context(), customer); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (s *Server) handleGetCustomer(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	customer, err := s.db.GetCustomer(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (s *Server) handleCreateLead(c *gin.Context) {
	var req LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	lead := &store.Lead{
		CustomerID:        req.CustomerID,
		PolicyID:          strings.TrimSpace(req.PolicyID),
		PolicyType:        strings.TrimSpace(req.PolicyType),
		PolicyValue:       req.PolicyValue,
		OutstandingAmount: req.OutstandingAmount,
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
		lead.DueDate = &due
	}
	if err := s.db.CreateLead(c.Request.Context(), lead); err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	agent, err := prompts.ParseAgentType(req.AgentType)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	convo := &store.Conversation{
		CustomerID: req.CustomerID,
		LeadID:     req.LeadID,
		AgentType:  string(agent),
		Language:   strings.TrimSpace(req.Language),
	}
	if err := s.db.CreateConversation(c.Request.Context(), convo); err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, ConversationFromModel(*convo, nil))
}

func (s *Server) handleGetConversation(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	loaded, err := s.db.LoadConversation(ctx, id)
	if err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	messages, err := s.db.ListMessages(ctx, id)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ConversationFromModel(loaded.Conversation, messages))
}

func (s *Server) handleMessage(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	var result conversation.Result
	err = s.runner.Do(c.Request.Context(), worker.ConversationKey(id), func(ctx context.Context) error {
		var turnErr error
		result, turnErr = s.orchestrator.HandleTurn(ctx, id, req.Text, req.Language)
		return turnErr
	})
	if err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStart(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}

	loaded, err := s.db.LoadConversation(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	if !loaded.Customer.Contactable() {
		s.renderError(c, http.StatusForbidden, conversation.ErrNotEligible)
		return
	}
	if loaded.Conversation.Status != store.ConversationActive {
		s.renderError(c, http.StatusConflict, fmt.Errorf("conversation %d is %s", id, loaded.Conversation.Status))
		return
	}

	job, err := s.startOutbound(id, req.Language)
	if err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleForesights(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := s.db.LoadConversation(ctx, id); err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	foresights, err := s.orchestrator.Foresights(ctx, id)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "foresights": foresights})
}

func (s *Server) handleCreateInteraction(c *gin.Context) {
	var req InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := s.db.GetCustomer(ctx, req.CustomerID); err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}

	interaction := &store.Interaction{
		CustomerID: req.CustomerID,
		Channel:    req.Channel,
		Transcript: req.Transcript,
	}
	if err := s.db.CreateInteraction(ctx, interaction); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	job, err := s.analyzeInteraction(interaction.ID)
	if err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"interaction": InteractionFromModel(*interaction), "job": job})
}

func (s *Server) handleGetInteraction(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	interaction, err := s.db.GetInteraction(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, InteractionFromModel(*interaction))
}

func (s *Server) handleTasks(c *gin.Context) {
	tasks, err := s.db.ListTasks(c.Request.Context(), c.Query("status"))
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	c.JSON(http.StatusOK, TasksResponse{Items: tasks, Total: len(tasks)})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.db.Stats(c.Request.Context())
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
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

	client := s.events.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("events websocket connected")
	defer s.events.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("events websocket closed")
			} else {
				logrus.WithError(err).Warn("events websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, prompts.ErrUnknownAgentType):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseUintParam(value string) (uint, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("identifier is required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier: %w", err)
	}
	if parsed == 0 {
		return 0, errors.New("identifier must be greater than zero")
	}
	return uint(parsed), nil
}
