// Package access resolves the sources a review session may pull from
// and the role the caller holds on each.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/conorfennell/recalldeck/internal/cards"
	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/logger"
)

// ErrPermissionDenied is returned when a write is attempted under a role
// that does not permit it. It is raised before any I/O happens.
var ErrPermissionDenied = errors.New("permission denied")

// Selection values understood by Resolve:
//
//	"" or "all"                     all folders owned by the caller
//	"folder:<folderId>"             one of the caller's folders
//	"share:<ownerUid>:<folderId>"   a folder shared with the caller
const (
	selAll    = "all"
	selFolder = "folder:"
	selShare  = "share:"
)

// FolderSelection formats the selection value for one of the caller's
// own folders.
func FolderSelection(folderID string) string {
	return selFolder + folderID
}

// ShareSelection formats the selection value for a shared folder.
func ShareSelection(ownerUID, folderID string) string {
	return selShare + ownerUID + ":" + folderID
}

// Resolver answers "who owns this source and what may the caller do".
type Resolver struct {
	repo *cards.Repository
	log  *logger.Logger
}

func NewResolver(repo *cards.Repository, log *logger.Logger) *Resolver {
	return &Resolver{repo: repo, log: log}
}

// Resolve maps one selection value onto a pull source. It returns nil
// (no error) when the selection no longer exists: a deleted folder or a
// revoked share is dropped from the session transparently.
func (r *Resolver) Resolve(ctx context.Context, callerUID, value string) (*domain.ReviewSelection, error) {
	switch {
	case value == "" || value == selAll:
		return &domain.ReviewSelection{OwnerUID: callerUID, Role: domain.RoleOwner}, nil

	case strings.HasPrefix(value, selFolder):
		folderID := strings.TrimPrefix(value, selFolder)
		folder, err := r.repo.GetFolder(ctx, callerUID, folderID)
		if err != nil {
			return nil, err
		}
		if folder == nil {
			r.log.Debugw("selection dropped: folder gone", "folder_id", folderID)
			return nil, nil
		}
		return &domain.ReviewSelection{
			OwnerUID: callerUID,
			FolderID: folderID,
			Role:     domain.RoleOwner,
		}, nil

	case strings.HasPrefix(value, selShare):
		rest := strings.TrimPrefix(value, selShare)
		ownerUID, folderID, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("malformed share selection %q", value)
		}
		role, err := r.repo.GetShareRole(ctx, ownerUID, folderID, callerUID)
		if err != nil {
			return nil, err
		}
		if role == domain.RoleNone {
			r.log.Debugw("selection dropped: share revoked", "folder_id", folderID)
			return nil, nil
		}
		folder, err := r.repo.GetFolder(ctx, ownerUID, folderID)
		if err != nil {
			return nil, err
		}
		if folder == nil {
			r.log.Debugw("selection dropped: shared folder gone", "folder_id", folderID)
			return nil, nil
		}
		return &domain.ReviewSelection{
			OwnerUID: ownerUID,
			FolderID: folderID,
			Role:     role,
			Shared:   true,
		}, nil

	default:
		return nil, fmt.Errorf("malformed selection %q", value)
	}
}

// ResolveAll resolves every selection value, silently skipping the ones
// that no longer exist.
func (r *Resolver) ResolveAll(ctx context.Context, callerUID string, values []string) ([]domain.ReviewSelection, error) {
	out := make([]domain.ReviewSelection, 0, len(values))
	for _, value := range values {
		sel, err := r.Resolve(ctx, callerUID, value)
		if err != nil {
			return nil, err
		}
		if sel != nil {
			out = append(out, *sel)
		}
	}
	return out, nil
}

// RoleFor returns the caller's role on a folder: owner for their own
// folders, otherwise whatever share exists.
func (r *Resolver) RoleFor(ctx context.Context, callerUID, ownerUID, folderID string) (domain.Role, error) {
	if callerUID == ownerUID {
		return domain.RoleOwner, nil
	}
	return r.repo.GetShareRole(ctx, ownerUID, folderID, callerUID)
}
