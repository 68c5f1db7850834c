package collab

import (
	"context"
	"fmt"
	"time"
)

// Authority resolves a user's role on a document and gates collaborator
// management. Owner comes from the document row; Editor/Viewer come from the
// permission directory. The two are mutually exclusive: an owner is never a
// directory row, and adding the owner as a collaborator is rejected.
type Authority struct {
	store DocumentStore
	dir   PermissionDirectory
}

func NewAuthority(store DocumentStore, dir PermissionDirectory) *Authority {
	return &Authority{store: store, dir: dir}
}

// ResolveRole returns the user's role on the document, RoleNone if the user
// is neither the owner nor a listed collaborator.
func (a *Authority) ResolveRole(ctx context.Context, docID, userID string) (Role, error) {
	doc, err := a.store.Load(ctx, docID)
	if err != nil {
		return RoleNone, err
	}
	if doc.OwnerID == userID {
		return RoleOwner, nil
	}
	return a.dir.GetRole(ctx, docID, userID)
}

// AddCollaborator grants targetUserID a role on the document. Owner-only;
// rejects duplicates, the owner included.
func (a *Authority) AddCollaborator(ctx context.Context, docID, actingUserID, targetUserID, role string) (*Collaborator, error) {
	parsed, err := ParseCollaboratorRole(role)
	if err != nil {
		return nil, err
	}
	if err := a.requireOwner(ctx, docID, actingUserID); err != nil {
		return nil, err
	}

	existing, err := a.ResolveRole(ctx, docID, targetUserID)
	if err != nil {
		return nil, err
	}
	if existing != RoleNone {
		return nil, fmt.Errorf("%w: user %s is already %s", ErrDuplicateCollaborator, targetUserID, existing)
	}

	c := Collaborator{
		DocID:   docID,
		UserID:  targetUserID,
		Role:    parsed,
		AddedAt: time.Now().UTC(),
	}
	if err := a.dir.UpsertCollaborator(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ChangeRole toggles an existing collaborator between editor and viewer.
// Owner-only; the owner's own role is fixed and cannot be changed.
func (a *Authority) ChangeRole(ctx context.Context, docID, actingUserID, targetUserID, role string) (*Collaborator, error) {
	parsed, err := ParseCollaboratorRole(role)
	if err != nil {
		return nil, err
	}
	if err := a.requireOwner(ctx, docID, actingUserID); err != nil {
		return nil, err
	}

	current, err := a.dir.GetRole(ctx, docID, targetUserID)
	if err != nil {
		return nil, err
	}
	if current == RoleNone {
		return nil, ErrCollaboratorNotFound
	}

	c := Collaborator{
		DocID:   docID,
		UserID:  targetUserID,
		Role:    parsed,
		AddedAt: time.Now().UTC(),
	}
	if err := a.dir.UpsertCollaborator(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// RemoveCollaborator revokes a collaborator's role. Owner-only.
func (a *Authority) RemoveCollaborator(ctx context.Context, docID, actingUserID, targetUserID string) error {
	if err := a.requireOwner(ctx, docID, actingUserID); err != nil {
		return err
	}

	current, err := a.dir.GetRole(ctx, docID, targetUserID)
	if err != nil {
		return err
	}
	if current == RoleNone {
		return ErrCollaboratorNotFound
	}
	return a.dir.DeleteCollaborator(ctx, docID, targetUserID)
}

// ListCollaborators returns the directory rows for a document. Any user
// with a role on the document may list.
func (a *Authority) ListCollaborators(ctx context.Context, docID, actingUserID string) ([]Collaborator, error) {
	role, err := a.ResolveRole(ctx, docID, actingUserID)
	if err != nil {
		return nil, err
	}
	if role == RoleNone {
		return nil, ErrAccessDenied
	}
	return a.dir.ListCollaborators(ctx, docID)
}

func (a *Authority) requireOwner(ctx context.Context, docID, userID string) error {
	role, err := a.ResolveRole(ctx, docID, userID)
	if err != nil {
		return err
	}
	if !role.CanManageCollaborators() {
		return ErrForbidden
	}
	return nil
}
