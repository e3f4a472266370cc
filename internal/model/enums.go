package model

type SessionState string

const (
	SessionStatePending SessionState = "pending"
	SessionStateActive  SessionState = "active"
	SessionStateClosed  SessionState = "closed"
)

type GroupState string

const (
	GroupStateActive GroupState = "active"
	GroupStateClosed GroupState = "closed"
)

type SessionEventType string

const (
	EventSessionOpened   SessionEventType = "session_opened"
	EventSessionAccepted SessionEventType = "session_accepted"
	EventSessionRotated  SessionEventType = "session_rotated"
	EventSessionClosed   SessionEventType = "session_closed"
)

type GroupEventType string

const (
	EventGroupCreated  GroupEventType = "group_created"
	EventMemberAdded   GroupEventType = "member_added"
	EventMemberRemoved GroupEventType = "member_removed"
	EventGroupClosed   GroupEventType = "group_closed"
)

// Consistency selects the data source for reads. It is purely a selector
// between the primary store and a read replica; it carries no protocol
// semantics.
type Consistency string

const (
	ConsistencyStrong   Consistency = "strong"
	ConsistencyEventual Consistency = "eventual"
)
