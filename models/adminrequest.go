package models

import (
	"time"

	"gorm.io/gorm"
)

type AdminRequestStatus string

const (
	AdminRequestPending  AdminRequestStatus = "PENDING"
	AdminRequestAccepted AdminRequestStatus = "ACCEPTED"
	AdminRequestRefused  AdminRequestStatus = "REFUSED"
	AdminRequestBlocked  AdminRequestStatus = "BLOCKED"
	AdminRequestExpired  AdminRequestStatus = "EXPIRED"
)

type AdminRequestValidationMethod string

const (
	ValidationSendMail             AdminRequestValidationMethod = "SEND_MAIL"
	ValidationAdminApproval        AdminRequestValidationMethod = "REQUEST_ADMIN_APPROVAL"
	ValidationCollaboratorApproval AdminRequestValidationMethod = "REQUEST_COLLABORATOR_APPROVAL"
)

// AdminRequest est une demande d'un utilisateur pour devenir administrateur
// d'un établissement déjà inscrit. PENDING est le seul état non terminal.
type AdminRequest struct {
	gorm.Model
	UserID           uint                         `json:"user_id"`
	CompanyID        uint                         `json:"company_id"`
	CollaboratorID   *uint                        `json:"collaborator_id,omitempty"`
	ValidationMethod AdminRequestValidationMethod `json:"validation_method"`
	Status           AdminRequestStatus           `json:"status"`
	// Code n'est renseigné que pour la validation SEND_MAIL.
	Code         string `json:"-"`
	CodeAttempts int    `json:"code_attempts"`
	// AdminOnlyEndDate : avant cette date, seuls les administrateurs
	// existants de l'établissement peuvent accepter la demande.
	AdminOnlyEndDate *time.Time `json:"admin_only_end_date,omitempty"`

	User         User    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Company      Company `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Collaborator *User   `gorm:"foreignKey:CollaboratorID" json:"-"`
}

// IsTerminal indique si le statut ne peut plus évoluer.
func (s AdminRequestStatus) IsTerminal() bool {
	return s != AdminRequestPending
}
