package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajramos/mailsweep/internal/mail"
)

// MoveServiceImpl implements MoveService over a MailStore.
type MoveServiceImpl struct {
	store MailStore
}

// NewMoveService creates a new move service.
func NewMoveService(store MailStore) *MoveServiceImpl {
	return &MoveServiceImpl{store: store}
}

// Move relocates one item into dest. Authorization failures carry a
// user-actionable message distinct from generic remote failure, so callers
// can prompt for re-auth instead of blaming the network.
func (s *MoveServiceImpl) Move(ctx context.Context, itemID, revisionToken string, dest mail.FolderRef) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("itemID cannot be empty")
	}
	if strings.TrimSpace(dest.ID) == "" {
		return fmt.Errorf("destination folder cannot be empty")
	}

	if err := s.store.MoveMessage(ctx, itemID, revisionToken, dest); err != nil {
		if IsAuthError(err) {
			return fmt.Errorf("move %s: access token expired, re-authenticate and retry: %w", itemID, err)
		}
		return fmt.Errorf("move %s to %q: %w", itemID, dest.DisplayName, err)
	}
	return nil
}
