package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/conorfennell/recalldeck/internal/domain"
)

// Card content writes target the owner's tree. The owner defaults to
// the caller; an editor on a shared folder passes ownerUid explicitly.

func (s *Server) handleCreateCard(c *gin.Context) {
	var req struct {
		OwnerUID string   `json:"ownerUid"`
		FolderID string   `json:"folderId" binding:"required"`
		Type     string   `json:"type" binding:"required,oneof=basic cloze ordering"`
		Front    string   `json:"front" binding:"required"`
		Back     string   `json:"back"`
		Tags     []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner := req.OwnerUID
	if owner == "" {
		owner = callerUID(c)
	}
	if !s.editorRole(c, owner, req.FolderID) {
		return
	}
	card, err := s.repo.CreateCard(c.Request.Context(), owner, req.FolderID,
		domain.CardType(req.Type), req.Front, req.Back, req.Tags, time.Now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (s *Server) handleMoveCard(c *gin.Context) {
	var req struct {
		OwnerUID string `json:"ownerUid"`
		FolderID string `json:"folderId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner := req.OwnerUID
	if owner == "" {
		owner = callerUID(c)
	}
	if !s.editorRole(c, owner, req.FolderID) {
		return
	}
	if err := s.repo.MoveCard(c.Request.Context(), owner, c.Param("cardId"), req.FolderID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteCard(c *gin.Context) {
	ctx := c.Request.Context()
	owner := c.Query("ownerUid")
	if owner == "" {
		owner = callerUID(c)
	}
	card, err := s.repo.GetCard(ctx, owner, c.Param("cardId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if card == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}
	if !s.editorRole(c, owner, card.FolderID) {
		return
	}
	if err := s.repo.DeleteCard(ctx, owner, card.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
