package service

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/talosprotocol/a2a-relay-go/internal/database"
	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
	"github.com/talosprotocol/a2a-relay-go/internal/ledger"
	"github.com/talosprotocol/a2a-relay-go/internal/lock"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
	"github.com/talosprotocol/a2a-relay-go/internal/repository"
	"github.com/talosprotocol/a2a-relay-go/internal/util"
)

// GroupService coordinates group membership. The groups row holds only the
// owner and lifecycle state; membership itself is never stored as rows — it
// is derived by replaying the group's event chain, so the chain is the
// single source of truth.
type GroupService struct {
	db     *database.DB
	ledger *ledger.Ledger

	newID func() string
}

func NewGroupService(db *database.DB, groupLedger *ledger.Ledger) *GroupService {
	return &GroupService{
		db:     db,
		ledger: groupLedger,
		newID:  util.NewID,
	}
}

// CreateGroup creates an active group owned by ownerID. The name is a
// display label only: it is logged but not persisted, and carries no
// protocol meaning.
func (s *GroupService) CreateGroup(ctx context.Context, ownerID, name string) (*model.Group, error) {
	if ownerID == "" {
		return nil, apperrors.ValidationError("owner_id is required")
	}

	groupID := s.newID()

	var group *model.Group
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		group, err = repository.NewGroupRepository(tx).Create(ctx, model.CreateGroupParams{
			GroupID: groupID,
			OwnerID: ownerID,
		})
		if err != nil {
			return apperrors.Database(err)
		}

		// Two chained events: creation, then the owner's own membership.
		// The owner is always member zero.
		created, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  groupID,
			EventType: string(model.EventGroupCreated),
			ActorID:   ownerID,
		})
		if err != nil {
			return err
		}
		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:           groupID,
			EventType:          string(model.EventMemberAdded),
			ActorID:            ownerID,
			TargetID:           &ownerID,
			ExpectedPrevDigest: &created.Digest,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("groupId", group.GroupID).Str("ownerId", ownerID).Str("name", name).Msg("group created")
	return group, nil
}

func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*model.Group, error) {
	group, err := repository.NewGroupRepository(s.db.DB).FindByID(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if group == nil {
		return nil, apperrors.GroupNotFound(groupID)
	}
	return group, nil
}

func (s *GroupService) AddMember(ctx context.Context, groupID, callerID, memberID string) error {
	if memberID == "" {
		return apperrors.ValidationError("member_id is required")
	}

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		group, members, err := s.loadLocked(ctx, tx, groupID)
		if err != nil {
			return err
		}

		if group.State != model.GroupStateActive {
			return apperrors.GroupStateInvalid(string(group.State), "add_member")
		}
		if callerID != group.OwnerID {
			return apperrors.MemberNotAllowed("Only the group owner can add members")
		}
		if members[memberID] {
			// Adding an existing member is a no-op.
			return nil
		}

		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  groupID,
			EventType: string(model.EventMemberAdded),
			ActorID:   callerID,
			TargetID:  &memberID,
		})
		return err
	})
	if err != nil {
		return err
	}

	log.Info().Str("groupId", groupID).Str("memberId", memberID).Msg("member added")
	return nil
}

func (s *GroupService) RemoveMember(ctx context.Context, groupID, callerID, memberID string) error {
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		group, members, err := s.loadLocked(ctx, tx, groupID)
		if err != nil {
			return err
		}

		if group.State != model.GroupStateActive {
			return apperrors.GroupStateInvalid(string(group.State), "remove_member")
		}
		// Owner removes anyone; everyone else may only remove themselves.
		if callerID != group.OwnerID && callerID != memberID {
			return apperrors.MemberNotAllowed("Only the owner or the member themselves can remove a member")
		}
		if memberID == group.OwnerID {
			return apperrors.MemberNotAllowed("The owner cannot be removed; close the group instead")
		}
		if !members[memberID] {
			return apperrors.MemberNotAllowed("Not a group member")
		}

		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  groupID,
			EventType: string(model.EventMemberRemoved),
			ActorID:   callerID,
			TargetID:  &memberID,
		})
		return err
	})
	if err != nil {
		return err
	}

	log.Info().Str("groupId", groupID).Str("memberId", memberID).Msg("member removed")
	return nil
}

func (s *GroupService) CloseGroup(ctx context.Context, groupID, callerID string) (*model.Group, error) {
	var updated *model.Group
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		group, _, err := s.loadLocked(ctx, tx, groupID)
		if err != nil {
			return err
		}

		if group.State == model.GroupStateClosed {
			updated = group
			return nil
		}
		if callerID != group.OwnerID {
			return apperrors.PermissionDenied("Only the group owner can close the group")
		}

		updated, err = repository.NewGroupRepository(tx).SetState(ctx, groupID, model.GroupStateClosed)
		if err != nil {
			return apperrors.Database(err)
		}

		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  groupID,
			EventType: string(model.EventGroupClosed),
			ActorID:   callerID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("groupId", groupID).Str("actorId", callerID).Msg("group closed")
	return updated, nil
}

// ListMembers returns the current member set, derived by replaying the
// group's event chain, in lexicographic order.
func (s *GroupService) ListMembers(ctx context.Context, groupID string) ([]string, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	events, err := s.ledger.List(ctx, s.db.DB, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	members := replayMembership(events)

	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ListGroupEvents returns the group's full event chain in seq order.
func (s *GroupService) ListGroupEvents(ctx context.Context, groupID string) ([]model.ChainEvent, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	events, err := s.ledger.List(ctx, s.db.DB, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return events, nil
}

// VerifyGroupChain replays the group's event chain and checks digests,
// linkage and sequence contiguity.
func (s *GroupService) VerifyGroupChain(ctx context.Context, groupID string) error {
	events, err := s.ListGroupEvents(ctx, groupID)
	if err != nil {
		return err
	}
	return s.ledger.Verify(events)
}

func (s *GroupService) loadLocked(ctx context.Context, tx *sqlx.Tx, groupID string) (*model.Group, map[string]bool, error) {
	if err := lock.TryAcquire(ctx, tx, lock.NamespaceGroup, groupID); err != nil {
		return nil, nil, err
	}
	group, err := repository.NewGroupRepository(tx).FindByID(ctx, groupID)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	if group == nil {
		return nil, nil, apperrors.GroupNotFound(groupID)
	}
	events, err := s.ledger.List(ctx, tx, groupID)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	return group, replayMembership(events), nil
}

// replayMembership folds member_added/member_removed events into the
// current member set.
func replayMembership(events []model.ChainEvent) map[string]bool {
	members := make(map[string]bool)
	for _, ev := range events {
		if ev.TargetID == nil {
			continue
		}
		var payload struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(ev.EventJSON, &payload); err != nil {
			continue
		}
		switch payload.EventType {
		case string(model.EventMemberAdded):
			members[*ev.TargetID] = true
		case string(model.EventMemberRemoved):
			delete(members, *ev.TargetID)
		}
	}
	return members
}
