package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Types d'événements d'audit.
const (
	EventBsdCreated             = "BsdCreated"
	EventBsdSigned              = "BsdSigned"
	EventBsdDeleted             = "BsdDeleted"
	EventRevisionCreated        = "RevisionCreated"
	EventRevisionApplied        = "RevisionApplied"
	EventRevisionRefused        = "RevisionRefused"
	EventRevisionCancelled      = "RevisionCancelled"
	EventSecurityCodeRenewed    = "SecurityCodeRenewed"
	EventVerificationLetterSent = "VerificationLetterSent"
)

// Event est une ligne d'audit immuable : chaque mutation d'un bordereau ou
// d'une demande de révision en écrit une dans la même transaction.
type Event struct {
	gorm.Model
	// StreamID est l'identifiant de l'objet concerné (bordereau, révision).
	StreamID string            `gorm:"index" json:"stream_id"`
	Type     string            `json:"type"`
	ActorID  uint              `json:"actor_id"`
	Data     datatypes.JSONMap `json:"data"`
}
