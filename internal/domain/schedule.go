package domain

import (
	"context"
	"time"
)

// ChangeEventType is the mutation kind carried by a change-feed record.
type ChangeEventType string

const (
	ChangeInsert ChangeEventType = "INSERT"
	ChangeModify ChangeEventType = "MODIFY"
	ChangeRemove ChangeEventType = "REMOVE"
)

// ChangeImage is the subset of a guess row the registrar looks at.
type ChangeImage struct {
	ID       string `json:"id"`
	SettleAt string `json:"settleAt"`
	Status   string `json:"status"`
}

// ChangeRecord is one record from the guess table's change feed. The feed
// delivers every mutation type at least once.
type ChangeRecord struct {
	EventType ChangeEventType `json:"eventType"`
	NewImage  *ChangeImage    `json:"newImage,omitempty"`
}

// OneShotTrigger describes a timer that fires once and then deletes itself.
type OneShotTrigger struct {
	Name                  string
	GroupName             string
	FireAt                time.Time
	Timezone              string
	TargetID              string
	TargetAuth            string
	PayloadJSON           string
	AutoDeleteAfterFiring bool
}

// TriggerService creates one-shot triggers. Create returns an error wrapping
// ErrAlreadyExists when a trigger with the same name is already registered.
type TriggerService interface {
	CreateOneShot(ctx context.Context, trigger OneShotTrigger) error
}
