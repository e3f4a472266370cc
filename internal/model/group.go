package model

import (
	"time"
)

type Group struct {
	GroupID   string     `db:"group_id" json:"groupId"`
	OwnerID   string     `db:"owner_id" json:"ownerId"`
	State     GroupState `db:"state" json:"state"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

type CreateGroupParams struct {
	GroupID string
	OwnerID string
}
