package models

import (
	"time"

	"gorm.io/gorm"
)

// UserRole est le rôle d'un utilisateur au sein d'un établissement.
// Chaque niveau inclut les droits du précédent.
type UserRole string

const (
	RoleReader UserRole = "READER"
	RoleDriver UserRole = "DRIVER"
	RoleMember UserRole = "MEMBER"
	RoleAdmin  UserRole = "ADMIN"
)

type Company struct {
	gorm.Model
	// OrgID est le SIRET, ou le numéro de TVA pour les entreprises
	// étrangères. C'est la clé d'acteur partagée avec les autres systèmes.
	OrgID string `gorm:"uniqueIndex" json:"org_id"`
	Name  string `json:"name"`
	// SecurityCode permet la signature par code (terrain, sans compte).
	SecurityCode int  `json:"-"`
	Verified     bool `json:"verified"`
	// VerificationCode est envoyé par courrier postal aux établissements en
	// attente de vérification manuelle.
	VerificationCode         string     `json:"-"`
	VerificationLetterSentAt *time.Time `json:"-"`
}

// CompanyAssociation relie un utilisateur à un établissement avec un rôle.
// Unique par couple (utilisateur, établissement).
type CompanyAssociation struct {
	gorm.Model
	UserID    uint     `gorm:"uniqueIndex:idx_user_company" json:"user_id"`
	CompanyID uint     `gorm:"uniqueIndex:idx_user_company" json:"company_id"`
	Role      UserRole `json:"role"`

	User    User    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Company Company `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
