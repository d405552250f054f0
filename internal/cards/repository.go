// Package cards persists folders, cards, and shares. Every card
// mutation is written together with its due-order index transition in a
// single atomic multi-path update, so the index can never partially
// reflect a change.
package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/dueindex"
	"github.com/conorfennell/recalldeck/internal/logger"
	"github.com/conorfennell/recalldeck/internal/srs"
	"github.com/conorfennell/recalldeck/internal/store"
)

var (
	ErrFolderNotFound = errors.New("folder not found")
	ErrCardNotFound   = errors.New("card not found")
	ErrBadRole        = errors.New("share role must be viewer or editor")
)

// Repository is the storage layer for one Store.
type Repository struct {
	st  store.Store
	log *logger.Logger
}

func NewRepository(st store.Store, log *logger.Logger) *Repository {
	return &Repository{st: st, log: log}
}

// Store exposes the underlying store for subscription-only consumers.
func (r *Repository) Store() store.Store {
	return r.st
}

func folderPath(uid, folderID string) string {
	return store.Join("users", uid, "folders", folderID)
}

func cardPath(uid, cardID string) string {
	return store.Join("users", uid, "cards", cardID)
}

func sharePath(ownerUID, folderID, sharedUID string) string {
	return store.Join("shares", ownerUID, folderID, sharedUID)
}

func sharedWithPath(sharedUID, ownerUID, folderID string) string {
	return store.Join("sharedWithUser", sharedUID, ownerUID+"_"+folderID)
}

// CreateFolder creates an empty folder owned by uid.
func (r *Repository) CreateFolder(ctx context.Context, uid, name, path string) (domain.Folder, error) {
	folder := domain.Folder{
		ID:       uuid.NewString(),
		OwnerUID: uid,
		Name:     name,
		Path:     path,
	}
	if err := r.st.Set(ctx, folderPath(uid, folder.ID), folder); err != nil {
		return domain.Folder{}, fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	return folder, nil
}

// GetFolder returns nil when the folder does not exist.
func (r *Repository) GetFolder(ctx context.Context, uid, folderID string) (*domain.Folder, error) {
	raw, err := r.st.Get(ctx, folderPath(uid, folderID))
	if err != nil {
		return nil, fmt.Errorf("failed to read folder %s: %w", folderID, err)
	}
	if raw == nil {
		return nil, nil
	}
	var folder domain.Folder
	if err := json.Unmarshal(raw, &folder); err != nil {
		return nil, fmt.Errorf("corrupt folder %s: %w", folderID, err)
	}
	return &folder, nil
}

// ListFolders returns all folders owned by uid in id order.
func (r *Repository) ListFolders(ctx context.Context, uid string) ([]domain.Folder, error) {
	kvs, err := r.st.GetRange(ctx, store.Join("users", uid, "folders"), "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders for %s: %w", uid, err)
	}
	folders := make([]domain.Folder, 0, len(kvs))
	for _, kv := range kvs {
		var folder domain.Folder
		if err := json.Unmarshal(kv.Value, &folder); err != nil {
			return nil, fmt.Errorf("corrupt folder %s: %w", kv.Key, err)
		}
		folders = append(folders, folder)
	}
	return folders, nil
}

// DeleteFolder removes the folder record and its shares. Cards are not
// cascade-deleted; selections pointing at the folder resolve to nothing
// once the record is gone.
func (r *Repository) DeleteFolder(ctx context.Context, uid, folderID string) error {
	m := map[string]any{
		folderPath(uid, folderID):           nil,
		store.Join("shares", uid, folderID): nil,
	}
	shares, err := r.ListFolderShares(ctx, uid, folderID)
	if err != nil {
		return err
	}
	for _, share := range shares {
		m[sharedWithPath(share.SharedUID, uid, folderID)] = nil
	}
	if err := r.st.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", folderID, err)
	}
	return nil
}

// CreateCard creates a card in bucket "new", due immediately, and
// indexes it in the same write that bumps the folder's card count.
func (r *Repository) CreateCard(ctx context.Context, uid, folderID string, typ domain.CardType, front, back string, tags []string, now time.Time) (domain.Card, error) {
	folder, err := r.GetFolder(ctx, uid, folderID)
	if err != nil {
		return domain.Card{}, err
	}
	if folder == nil {
		return domain.Card{}, ErrFolderNotFound
	}

	card := domain.Card{
		ID:        uuid.NewString(),
		FolderID:  folderID,
		Type:      typ,
		Front:     front,
		Back:      back,
		Tags:      tags,
		Srs:       srs.NewCardState(now),
		CreatedAt: now.UnixMilli(),
	}
	folder.CardCount++

	m := map[string]any{
		cardPath(uid, card.ID):    card,
		folderPath(uid, folderID): folder,
	}
	dueindex.Transition(m, uid, card.ID, "", nil, folderID, &dueindex.Entry{
		Bucket: card.Srs.Bucket,
		DueAt:  card.Srs.DueAt,
	})

	if err := r.st.Update(ctx, m); err != nil {
		return domain.Card{}, fmt.Errorf("failed to create card: %w", err)
	}
	return card, nil
}

// GetCard returns nil when the card does not exist.
func (r *Repository) GetCard(ctx context.Context, uid, cardID string) (*domain.Card, error) {
	raw, err := r.st.Get(ctx, cardPath(uid, cardID))
	if err != nil {
		return nil, fmt.Errorf("failed to read card %s: %w", cardID, err)
	}
	if raw == nil {
		return nil, nil
	}
	var card domain.Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("corrupt card %s: %w", cardID, err)
	}
	return &card, nil
}

// MoveCard reparents a card. Its schedule is untouched; only the
// per-folder index entry and the two card counts move.
func (r *Repository) MoveCard(ctx context.Context, uid, cardID, toFolderID string) error {
	card, err := r.GetCard(ctx, uid, cardID)
	if err != nil {
		return err
	}
	if card == nil {
		return ErrCardNotFound
	}
	if card.FolderID == toFolderID {
		return nil
	}
	target, err := r.GetFolder(ctx, uid, toFolderID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrFolderNotFound
	}

	entry := &dueindex.Entry{Bucket: card.Srs.Bucket, DueAt: card.Srs.DueAt}
	fromFolderID := card.FolderID
	card.FolderID = toFolderID
	target.CardCount++

	m := map[string]any{
		cardPath(uid, cardID):       card,
		folderPath(uid, toFolderID): target,
	}
	if source, err := r.GetFolder(ctx, uid, fromFolderID); err != nil {
		return err
	} else if source != nil {
		if source.CardCount > 0 {
			source.CardCount--
		}
		m[folderPath(uid, fromFolderID)] = source
	}
	dueindex.Transition(m, uid, cardID, fromFolderID, entry, toFolderID, entry)

	if err := r.st.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to move card %s: %w", cardID, err)
	}
	return nil
}

// DeleteCard removes the card and both of its index entries atomically.
func (r *Repository) DeleteCard(ctx context.Context, uid, cardID string) error {
	card, err := r.GetCard(ctx, uid, cardID)
	if err != nil {
		return err
	}
	if card == nil {
		return ErrCardNotFound
	}

	m := map[string]any{cardPath(uid, cardID): nil}
	dueindex.Transition(m, uid, cardID, card.FolderID, &dueindex.Entry{
		Bucket: card.Srs.Bucket,
		DueAt:  card.Srs.DueAt,
	}, "", nil)
	if folder, err := r.GetFolder(ctx, uid, card.FolderID); err != nil {
		return err
	} else if folder != nil {
		if folder.CardCount > 0 {
			folder.CardCount--
		}
		m[folderPath(uid, card.FolderID)] = folder
	}

	if err := r.st.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to delete card %s: %w", cardID, err)
	}
	return nil
}

// ApplyRating writes the card's post-review scheduling state together
// with the index transition out of its previous slot.
func (r *Repository) ApplyRating(ctx context.Context, uid string, card domain.Card, next domain.SrsState) (domain.Card, error) {
	prev := &dueindex.Entry{Bucket: card.Srs.Bucket, DueAt: card.Srs.DueAt}
	card.Srs = next

	m := map[string]any{cardPath(uid, card.ID): card}
	dueindex.Transition(m, uid, card.ID, card.FolderID, prev, card.FolderID, &dueindex.Entry{
		Bucket: next.Bucket,
		DueAt:  next.DueAt,
	})

	if err := r.st.Update(ctx, m); err != nil {
		return domain.Card{}, fmt.Errorf("failed to commit rating for card %s: %w", card.ID, err)
	}
	return card, nil
}

// ScanFolderCards reads every card owned by uid and returns those in the
// folder. This is the unindexed fallback path; normal reads go through
// the due-order index.
func (r *Repository) ScanFolderCards(ctx context.Context, uid, folderID string) ([]domain.Card, error) {
	kvs, err := r.st.GetRange(ctx, store.Join("users", uid, "cards"), "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cards for %s: %w", uid, err)
	}
	var out []domain.Card
	for _, kv := range kvs {
		var card domain.Card
		if err := json.Unmarshal(kv.Value, &card); err != nil {
			return nil, fmt.Errorf("corrupt card %s: %w", kv.Key, err)
		}
		if card.FolderID == folderID {
			out = append(out, card)
		}
	}
	return out, nil
}

// RebuildFolderIndex re-inserts the index entries for every card in the
// folder, in one write. Existing entries are overwritten in place, so
// running it against a healthy folder changes nothing.
func (r *Repository) RebuildFolderIndex(ctx context.Context, uid, folderID string) (int, error) {
	found, err := r.ScanFolderCards(ctx, uid, folderID)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, nil
	}
	m := map[string]any{}
	for _, card := range found {
		dueindex.Transition(m, uid, card.ID, "", nil, folderID, &dueindex.Entry{
			Bucket: card.Srs.Bucket,
			DueAt:  card.Srs.DueAt,
		})
	}
	if err := r.st.Update(ctx, m); err != nil {
		return 0, fmt.Errorf("failed to rebuild index for folder %s: %w", folderID, err)
	}
	r.log.Infow("rebuilt folder index", "folder_id", folderID, "cards", len(found))
	return len(found), nil
}
