package cards

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/store"
)

// GrantShare gives sharedUID the role on one of ownerUID's folders. The
// forward entry (for role lookups) and the reverse entry (for "shared
// with me" listings) are written atomically.
func (r *Repository) GrantShare(ctx context.Context, ownerUID, folderID, sharedUID string, role domain.Role) error {
	if role != domain.RoleViewer && role != domain.RoleEditor {
		return ErrBadRole
	}
	folder, err := r.GetFolder(ctx, ownerUID, folderID)
	if err != nil {
		return err
	}
	if folder == nil {
		return ErrFolderNotFound
	}

	share := domain.Share{
		OwnerUID:  ownerUID,
		FolderID:  folderID,
		SharedUID: sharedUID,
		Role:      role,
	}
	err = r.st.Update(ctx, map[string]any{
		sharePath(ownerUID, folderID, sharedUID):      share,
		sharedWithPath(sharedUID, ownerUID, folderID): share,
	})
	if err != nil {
		return fmt.Errorf("failed to grant share on folder %s: %w", folderID, err)
	}
	return nil
}

// RevokeShare removes both sides of the share.
func (r *Repository) RevokeShare(ctx context.Context, ownerUID, folderID, sharedUID string) error {
	err := r.st.Update(ctx, map[string]any{
		sharePath(ownerUID, folderID, sharedUID):      nil,
		sharedWithPath(sharedUID, ownerUID, folderID): nil,
	})
	if err != nil {
		return fmt.Errorf("failed to revoke share on folder %s: %w", folderID, err)
	}
	return nil
}

// GetShareRole returns RoleNone when no share exists.
func (r *Repository) GetShareRole(ctx context.Context, ownerUID, folderID, sharedUID string) (domain.Role, error) {
	raw, err := r.st.Get(ctx, sharePath(ownerUID, folderID, sharedUID))
	if err != nil {
		return domain.RoleNone, fmt.Errorf("failed to read share on folder %s: %w", folderID, err)
	}
	if raw == nil {
		return domain.RoleNone, nil
	}
	var share domain.Share
	if err := json.Unmarshal(raw, &share); err != nil {
		return domain.RoleNone, fmt.Errorf("corrupt share on folder %s: %w", folderID, err)
	}
	return share.Role, nil
}

// ListFolderShares returns every share on one folder.
func (r *Repository) ListFolderShares(ctx context.Context, ownerUID, folderID string) ([]domain.Share, error) {
	kvs, err := r.st.GetRange(ctx, store.Join("shares", ownerUID, folderID), "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares on folder %s: %w", folderID, err)
	}
	return decodeShares(kvs)
}

// ListSharedWith returns every share granted to uid by any owner.
func (r *Repository) ListSharedWith(ctx context.Context, uid string) ([]domain.Share, error) {
	kvs, err := r.st.GetRange(ctx, store.Join("sharedWithUser", uid), "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares for %s: %w", uid, err)
	}
	return decodeShares(kvs)
}

func decodeShares(kvs []store.KV) ([]domain.Share, error) {
	shares := make([]domain.Share, 0, len(kvs))
	for _, kv := range kvs {
		var share domain.Share
		if err := json.Unmarshal(kv.Value, &share); err != nil {
			return nil, fmt.Errorf("corrupt share %s: %w", kv.Key, err)
		}
		shares = append(shares, share)
	}
	return shares, nil
}
