package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/store"
)

// watchTimeout bounds a folder watch long-poll.
const watchTimeout = 25 * time.Second

func (s *Server) handleListFolders(c *gin.Context) {
	ctx := c.Request.Context()
	uid := callerUID(c)

	own, err := s.repo.ListFolders(ctx, uid)
	if err != nil {
		s.fail(c, err)
		return
	}
	shares, err := s.repo.ListSharedWith(ctx, uid)
	if err != nil {
		s.fail(c, err)
		return
	}

	type sharedFolder struct {
		domain.Folder
		Role domain.Role `json:"role"`
	}
	shared := make([]sharedFolder, 0, len(shares))
	for _, share := range shares {
		folder, err := s.repo.GetFolder(ctx, share.OwnerUID, share.FolderID)
		if err != nil {
			s.fail(c, err)
			return
		}
		if folder == nil {
			continue // share outlived the folder
		}
		shared = append(shared, sharedFolder{Folder: *folder, Role: share.Role})
	}

	c.JSON(http.StatusOK, gin.H{"own": own, "shared": shared})
}

// handleWatchFolders long-polls until the caller's folder listing (own
// folders or shares granted to them) changes, or the timeout passes.
func (s *Server) handleWatchFolders(c *gin.Context) {
	uid := callerUID(c)
	st := s.repo.Store()

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	cancelOwn := st.Subscribe(store.Join("users", uid, "folders"), notify)
	defer cancelOwn()
	cancelShared := st.Subscribe(store.Join("sharedWithUser", uid), notify)
	defer cancelShared()

	select {
	case <-changed:
		c.JSON(http.StatusOK, gin.H{"changed": true})
	case <-time.After(watchTimeout):
		c.JSON(http.StatusOK, gin.H{"changed": false})
	case <-c.Request.Context().Done():
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleCreateFolder(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	folder, err := s.repo.CreateFolder(c.Request.Context(), callerUID(c), req.Name, req.Path)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, folder)
}

func (s *Server) handleDeleteFolder(c *gin.Context) {
	if err := s.repo.DeleteFolder(c.Request.Context(), callerUID(c), c.Param("folderId")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGrantShare(c *gin.Context) {
	var req struct {
		SharedUID string `json:"sharedUid" binding:"required"`
		Role      string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.repo.GrantShare(c.Request.Context(), callerUID(c), c.Param("folderId"), req.SharedUID, domain.Role(req.Role))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRevokeShare(c *gin.Context) {
	err := s.repo.RevokeShare(c.Request.Context(), callerUID(c), c.Param("folderId"), c.Param("uid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
