package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RevisionStatus string

const (
	RevisionPending  RevisionStatus = "PENDING"
	RevisionAccepted RevisionStatus = "ACCEPTED"
	RevisionRefused  RevisionStatus = "REFUSED"
	RevisionCanceled RevisionStatus = "CANCELED"
)

// RevisionRequest propose une modification des champs d'un bordereau déjà
// signé. Le diff n'est appliqué que si toutes les approbations sont ACCEPTED.
type RevisionRequest struct {
	ID                 string            `gorm:"primaryKey" json:"id"`
	BsdID              string            `gorm:"index" json:"bsd_id"`
	AuthoringCompanyID uint              `json:"authoring_company_id"`
	Content            datatypes.JSONMap `json:"content"`
	Comment            string            `json:"comment"`
	Status             RevisionStatus    `json:"status"`

	Approvals []RevisionApproval `json:"approvals,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RevisionApproval est le vote d'un établissement approbateur.
type RevisionApproval struct {
	gorm.Model
	RevisionRequestID string         `gorm:"index;uniqueIndex:idx_revision_approver" json:"revision_request_id"`
	ApproverOrgID     string         `gorm:"uniqueIndex:idx_revision_approver" json:"approver_org_id"`
	Status            RevisionStatus `json:"status"`
	Comment           string         `json:"comment"`
}
