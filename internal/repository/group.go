package repository

import (
	"context"
	"time"

	"github.com/talosprotocol/a2a-relay-go/internal/database"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
)

type GroupRepository interface {
	FindByID(ctx context.Context, id string) (*model.Group, error)
	Create(ctx context.Context, params model.CreateGroupParams) (*model.Group, error)
	SetState(ctx context.Context, id string, state model.GroupState) (*model.Group, error)
}

type groupRepo struct {
	q database.DBTX
}

func NewGroupRepository(q database.DBTX) GroupRepository {
	return &groupRepo{q: q}
}

func (r *groupRepo) FindByID(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	err := r.q.GetContext(ctx, &group, `SELECT * FROM groups WHERE group_id = $1`, id)
	return HandleNotFound(&group, err)
}

func (r *groupRepo) Create(ctx context.Context, params model.CreateGroupParams) (*model.Group, error) {
	var group model.Group
	err := r.q.GetContext(ctx, &group, `
		INSERT INTO groups (group_id, owner_id, state)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.GroupID, params.OwnerID, model.GroupStateActive)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *groupRepo) SetState(ctx context.Context, id string, state model.GroupState) (*model.Group, error) {
	var group model.Group
	err := r.q.GetContext(ctx, &group, `
		UPDATE groups SET state = $2
		WHERE group_id = $1
		RETURNING *
	`, id, state)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// RetentionRepository gathers the bulk-delete operations used by the
// retention job. The managers never delete; this is the only deletion
// surface in the module.
type RetentionRepository interface {
	DeleteEventsOfClosedSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type retentionRepo struct {
	q database.DBTX
}

func NewRetentionRepository(q database.DBTX) RetentionRepository {
	return &retentionRepo{q: q}
}

func (r *retentionRepo) DeleteEventsOfClosedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		DELETE FROM session_events
		WHERE session_id IN (
			SELECT session_id FROM sessions
			WHERE state = 'closed' AND updated_at < $1
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
