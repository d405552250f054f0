// Package web is the JSON surface a UI drives the engine through. It
// owns no review logic: every handler delegates to the repository, the
// resolver, or a session.
package web

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/recalldeck/internal/access"
	"github.com/conorfennell/recalldeck/internal/cards"
	"github.com/conorfennell/recalldeck/internal/config"
	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/logger"
	"github.com/conorfennell/recalldeck/internal/session"
	"github.com/conorfennell/recalldeck/internal/srs"
	"github.com/conorfennell/recalldeck/internal/stats"
)

// Server holds the dependencies for the HTTP API.
type Server struct {
	engine   *gin.Engine
	repo     *cards.Repository
	resolver *access.Resolver
	policy   *srs.Params
	collab   stats.Collaborator
	log      *logger.Logger
	validate *validator.Validate
	defaults config.SessionConfig

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewServer creates and configures the API server.
func NewServer(repo *cards.Repository, resolver *access.Resolver, collab stats.Collaborator, defaults config.SessionConfig, log *logger.Logger) *Server {
	s := &Server{
		engine:   gin.New(),
		repo:     repo,
		resolver: resolver,
		policy:   srs.DefaultParams(),
		collab:   collab,
		log:      log,
		validate: validator.New(),
		defaults: defaults,
		sessions: make(map[string]*session.Session),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Run blocks serving on addr.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// ServeHTTP implements http.Handler, mostly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) routes() {
	api := s.engine.Group("/api", s.requireUser)

	api.GET("/folders", s.handleListFolders)
	api.GET("/folders/watch", s.handleWatchFolders)
	api.POST("/folders", s.handleCreateFolder)
	api.DELETE("/folders/:folderId", s.handleDeleteFolder)
	api.POST("/folders/:folderId/shares", s.handleGrantShare)
	api.DELETE("/folders/:folderId/shares/:uid", s.handleRevokeShare)

	api.POST("/cards", s.handleCreateCard)
	api.POST("/cards/:cardId/move", s.handleMoveCard)
	api.DELETE("/cards/:cardId", s.handleDeleteCard)

	api.POST("/sessions", s.handleStartSession)
	api.GET("/sessions/:sessionId/current", s.handleCurrentCard)
	api.POST("/sessions/:sessionId/reveal", s.handleReveal)
	api.POST("/sessions/:sessionId/rate", s.handleRate)
	api.POST("/sessions/:sessionId/skip", s.handleSkip)
}

// requireUser pulls the caller identity set by the fronting UI layer.
// Authentication itself happens before requests reach this API.
func (s *Server) requireUser(c *gin.Context) {
	uid := c.GetHeader("X-User-ID")
	if uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID"})
		return
	}
	c.Set("uid", uid)
	c.Next()
}

func callerUID(c *gin.Context) string {
	return c.GetString("uid")
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNothingToReview):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "nothing to review"})
	case errors.Is(err, cards.ErrFolderNotFound), errors.Is(err, cards.ErrCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, cards.ErrBadRole), errors.Is(err, session.ErrNotRevealed), errors.Is(err, session.ErrNoActiveCard):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, access.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		s.log.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) session(c *gin.Context) (*session.Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("sessionId")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return nil, false
	}
	return sess, true
}

// editorRole verifies the caller may write cards under owner/folder.
func (s *Server) editorRole(c *gin.Context, ownerUID, folderID string) bool {
	role, err := s.resolver.RoleFor(c.Request.Context(), callerUID(c), ownerUID, folderID)
	if err != nil {
		s.fail(c, err)
		return false
	}
	if !role.CanWrite() {
		s.fail(c, access.ErrPermissionDenied)
		return false
	}
	return true
}

func (s *Server) handleStartSession(c *gin.Context) {
	var opts session.Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if opts.MaxNew == 0 && opts.MaxReviews == 0 {
		opts.MaxNew = s.defaults.MaxNew
		opts.MaxReviews = s.defaults.MaxReviews
	}
	if err := s.validate.Struct(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := session.New(callerUID(c), s.repo, s.resolver, s.policy, s.collab, s.log)
	queue, err := sess.BuildQueue(c.Request.Context(), opts)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": sess.ID,
		"size":      len(queue),
	})
}

func (s *Server) handleCurrentCard(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	qc, phase, ok := sess.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"done": true})
		return
	}
	// the back stays hidden until revealed
	c.JSON(http.StatusOK, gin.H{
		"cardId":    qc.ID,
		"type":      qc.Type,
		"front":     qc.Front,
		"tags":      qc.Tags,
		"phase":     phase,
		"remaining": sess.Remaining(),
	})
}

func (s *Server) handleReveal(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	qc, err := sess.Reveal()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cardId": qc.ID,
		"front":  qc.Front,
		"back":   qc.Back,
	})
}

func (s *Server) handleRate(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req struct {
		Rating string `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rating, err := domain.ParseRating(req.Rating)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	card, err := sess.Rate(c.Request.Context(), rating)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cardId":    card.ID,
		"srs":       card.Srs,
		"remaining": sess.Remaining(),
	})
}

func (s *Server) handleSkip(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.Skip(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": sess.Remaining()})
}
