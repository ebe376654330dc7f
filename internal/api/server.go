// Package api exposes the marketplace over HTTP. Reads are served
// from the sync engine's local snapshots; writes go through the
// engine's optimistic mutation paths.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/auth"
	"github.com/neighborly/volunteerhub/internal/models"
	"github.com/neighborly/volunteerhub/internal/sync"
)

type Server struct {
	Engine      *sync.Engine
	AuthService *auth.Service
	Echo        *echo.Echo
	Log         *zap.Logger
}

func NewServer(engine *sync.Engine, authService *auth.Service, corsOrigins []string, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Engine:      engine,
		AuthService: authService,
		Echo:        e,
		Log:         log,
	}

	s.routes()
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(port int) error {
	return s.Echo.Start(fmt.Sprintf(":%d", port))
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Public browse
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/opportunities/:id", s.handleGetOpportunity)
	api.GET("/categories", s.handleListCategories)

	// Protected Routes
	protected := api.Group("")
	protected.Use(s.AuthService.Middleware)
	protected.POST("/opportunities", s.handleCreateOpportunity)
	protected.PATCH("/opportunities/:id", s.handleUpdateOpportunity)
	protected.DELETE("/opportunities/:id", s.handleDeleteOpportunity)
	protected.GET("/opportunities/:id/applications", s.handleListOpportunityApplications)
	protected.POST("/opportunities/:id/applications", s.handleCreateApplication)
	protected.GET("/applications", s.handleListMyApplications)
	protected.PATCH("/applications/:id/status", s.handleChangeApplicationStatus)
	protected.GET("/applications/:id/messages", s.handleListMessages)
	protected.POST("/applications/:id/messages", s.handleSendMessage)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Email and password are required"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

// parseDay accepts a bare date or a full timestamp.
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	filter := sync.Filter{
		Query:    c.QueryParam("q"),
		Location: c.QueryParam("location"),
		Category: c.QueryParam("category"),
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := parseDay(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid date"})
		}
		filter.Date = d
	}
	if filter.Category != "" && filter.Category != sync.CategoryAll && !models.ValidCategory(filter.Category) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unknown category"})
	}

	return c.JSON(http.StatusOK, s.Engine.SearchOpportunities(filter))
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}
	opp, ok := s.Engine.Opportunity(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleListCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, models.Categories)
}

type opportunityRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Organization   string   `json:"organization"`
	Location       string   `json:"location"`
	Date           string   `json:"date"`
	TimeSlot       string   `json:"time_slot"`
	Category       string   `json:"category"`
	RequiredSkills []string `json:"required_skills"`
	ContactEmail   string   `json:"contact_email"`
	ContactPhone   string   `json:"contact_phone"`
}

func (r opportunityRequest) toModel() (models.Opportunity, error) {
	date, err := parseDay(r.Date)
	if err != nil {
		return models.Opportunity{}, err
	}
	return models.Opportunity{
		Title:          r.Title,
		Description:    r.Description,
		Organization:   r.Organization,
		Location:       r.Location,
		Date:           date,
		TimeSlot:       r.TimeSlot,
		Category:       r.Category,
		RequiredSkills: r.RequiredSkills,
		ContactEmail:   r.ContactEmail,
		ContactPhone:   r.ContactPhone,
	}, nil
}

func (s *Server) handleCreateOpportunity(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	var req opportunityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	opp, err := req.toModel()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid date"})
	}
	opp.CreatorID = userID

	created, err := s.Engine.CreateOpportunity(c.Request().Context(), opp)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateOpportunity(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}

	var req opportunityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	opp, err := req.toModel()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid date"})
	}
	opp.ID = id

	if err := s.Engine.UpdateOpportunity(c.Request().Context(), userID, opp); err != nil {
		return s.mutationError(c, err)
	}
	// Edits can push the opportunity out of the local visible set;
	// fall back to echoing the accepted payload.
	updated, ok := s.Engine.Opportunity(id)
	if !ok {
		updated = opp
		updated.CreatorID = userID
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteOpportunity(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}

	if err := s.Engine.DeleteOpportunity(c.Request().Context(), userID, id); err != nil {
		return s.mutationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListOpportunityApplications(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}

	opp, ok := s.Engine.Opportunity(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if opp.CreatorID != userID {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Only the creator can view applications"})
	}
	return c.JSON(http.StatusOK, s.Engine.ApplicationsForOpportunity(id))
}

type applicationRequest struct {
	ApplicantName  string `json:"applicant_name"`
	ApplicantEmail string `json:"applicant_email"`
	Phone          string `json:"phone"`
	Message        string `json:"message"`
}

func (s *Server) handleCreateApplication(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	oppID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}

	var req applicationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.ApplicantEmail == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Applicant email is required"})
	}

	created, err := s.Engine.CreateApplication(c.Request().Context(), models.Application{
		OpportunityID:  oppID,
		UserID:         userID,
		ApplicantName:  req.ApplicantName,
		ApplicantEmail: req.ApplicantEmail,
		Phone:          req.Phone,
		Message:        req.Message,
	})
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListMyApplications(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	return c.JSON(http.StatusOK, s.Engine.ApplicationsByUser(userID))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleChangeApplicationStatus(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if err := s.Engine.ChangeApplicationStatus(c.Request().Context(), userID, id, req.Status); err != nil {
		return s.mutationError(c, err)
	}
	app, _ := s.Engine.Application(id)
	return c.JSON(http.StatusOK, app)
}

func (s *Server) handleListMessages(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}

	app, ok := s.Engine.Application(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	opp, ok := s.Engine.Opportunity(app.OpportunityID)
	if !ok || (userID != app.UserID && userID != opp.CreatorID) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Not a participant"})
	}
	return c.JSON(http.StatusOK, s.Engine.MessagesForApplication(id))
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid id"})
	}

	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	msg, err := s.Engine.SendMessage(c.Request().Context(), userID, id, req.Content)
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// mutationError maps engine errors to HTTP statuses.
func (s *Server) mutationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, sync.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	case errors.Is(err, sync.ErrNotOwner):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
	case errors.Is(err, sync.ErrNotParticipant):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Not a participant"})
	case errors.Is(err, sync.ErrAlreadyApplied):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, sync.ErrInvalidStatus):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.Log.Error("mutation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
}
