package model

import (
	"encoding/json"
	"time"
)

// ClosedReason records which path closed a shift.
type ClosedReason string

const (
	ClosedByPhoto     ClosedReason = "BY_PHOTO"
	ClosedAutoTimeout ClosedReason = "AUTO_TIMEOUT"
)

// ViolationType classifies shift violations. At most one violation of a
// given type exists per shift.
type ViolationType string

const (
	ViolationNotClosedInTime ViolationType = "NOT_CLOSED_IN_TIME"
	ViolationShortShift      ViolationType = "SHORT_SHIFT"
)

// PendingActionType is the shift transition a pending action will perform
// once confirmed.
type PendingActionType string

const (
	ActionStart PendingActionType = "START"
	ActionEnd   PendingActionType = "END"
)

// PendingActionStatus is monotonic: once a pending action leaves PENDING it
// never changes status again.
type PendingActionStatus string

const (
	PendingStatusPending   PendingActionStatus = "PENDING"
	PendingStatusConfirmed PendingActionStatus = "CONFIRMED"
	PendingStatusCancelled PendingActionStatus = "CANCELLED"
	PendingStatusExpired   PendingActionStatus = "EXPIRED"
)

// QueueStatus defines the state of an update queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueDone       QueueStatus = "done"
	QueueFailed     QueueStatus = "failed"
)

// RoleOverride marks an employee as privileged beyond the default role.
type RoleOverride string

const (
	RoleNone  RoleOverride = "NONE"
	RoleAdmin RoleOverride = "ADMIN"
)

// Employee is the identity-directory record. The core only references it;
// onboarding owns creation and updates beyond the upsert-on-contact.
type Employee struct {
	ID             int64        `json:"id"`
	TelegramUserID string       `json:"telegramUserId"`
	Username       string       `json:"username,omitempty"`
	FirstName      string       `json:"firstName,omitempty"`
	LastName       string       `json:"lastName,omitempty"`
	DisplayName    string       `json:"displayName"`
	IsActive       bool         `json:"isActive"`
	RoleOverride   RoleOverride `json:"roleOverride"`
}

// Shift is a work interval. EndTime nil means the shift is open; at most one
// open shift exists per employee at any time.
type Shift struct {
	ID               int64         `json:"id"`
	EmployeeID       int64         `json:"employeeId"`
	StartTime        time.Time     `json:"startTime"`
	EndTime          *time.Time    `json:"endTime,omitempty"`
	StartPhotoFileID *string       `json:"startPhotoFileId,omitempty"`
	EndPhotoFileID   *string       `json:"endPhotoFileId,omitempty"`
	StartMessageID   int64         `json:"startMessageId"`
	StartChatID      string        `json:"startChatId"`
	EndMessageID     *int64        `json:"endMessageId,omitempty"`
	EndChatID        *string       `json:"endChatId,omitempty"`
	ClosedReason     *ClosedReason `json:"closedReason,omitempty"`
	DurationMinutes  *int          `json:"durationMinutes,omitempty"`
	AutoClosedAt     *time.Time    `json:"autoClosedAt,omitempty"`
	AlertedAt        *time.Time    `json:"alertedAt,omitempty"`
	PhotosPurgedAt   *time.Time    `json:"photosPurgedAt,omitempty"`
}

// Open reports whether the shift has not been closed yet.
func (s *Shift) Open() bool {
	return s.EndTime == nil
}

type ShiftViolation struct {
	ID        int64         `json:"id"`
	ShiftID   int64         `json:"shiftId"`
	Type      ViolationType `json:"type"`
	CreatedAt time.Time     `json:"createdAt"`
}

// PendingAction is a short-lived confirmation request tied to one inbound
// photo message. Only the actor that produced the photo may confirm or
// cancel it.
type PendingAction struct {
	ID             int64               `json:"id"`
	EmployeeID     int64               `json:"employeeId"`
	TelegramUserID string              `json:"telegramUserId"`
	ChatID         string              `json:"chatId"`
	ActionType     PendingActionType   `json:"actionType"`
	PhotoFileID    string              `json:"photoFileId"`
	PhotoMessageID int64               `json:"photoMessageId"`
	CreatedAt      time.Time           `json:"createdAt"`
	ExpiresAt      time.Time           `json:"expiresAt"`
	Status         PendingActionStatus `json:"status"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// UpdateQueueEntry is one durably recorded inbound update. UpdateID is the
// source system's own identifier and is globally unique; redelivery never
// creates a second row.
type UpdateQueueEntry struct {
	ID        int64           `json:"id"`
	UpdateID  int64           `json:"updateId"`
	Payload   json.RawMessage `json:"payload"`
	Status    QueueStatus     `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"lastError,omitempty"`
	NextRunAt time.Time       `json:"nextRunAt"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventLogEntry is one persisted operational event. Fingerprint is set only
// on error-level entries and is used to suppress duplicates inside the
// dedupe window.
type EventLogEntry struct {
	ID            int64           `json:"id"`
	CorrelationID string          `json:"correlationId"`
	Level         string          `json:"level"`
	Kind          string          `json:"kind"`
	UpdateID      *int64          `json:"updateId,omitempty"`
	ChatID        *string         `json:"chatId,omitempty"`
	FromID        *string         `json:"fromId,omitempty"`
	MessageID     *int64          `json:"messageId,omitempty"`
	UpdateType    *string         `json:"updateType,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	ErrorName     *string         `json:"errorName,omitempty"`
	ErrorMsg      *string         `json:"errorMsg,omitempty"`
	ErrorStack    *string         `json:"errorStack,omitempty"`
	Fingerprint   *string         `json:"fingerprint,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}
