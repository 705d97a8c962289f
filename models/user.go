package models

import "gorm.io/gorm"

type User struct {
	gorm.Model
	Name     string `json:"name"`
	Email    string `gorm:"uniqueIndex" json:"email"`
	Password string `json:"-"`
	// IsAdmin marque les agents de la plateforme, pas les administrateurs
	// d'établissement (voir CompanyAssociation).
	IsAdmin bool `json:"is_admin"`

	Associations []CompanyAssociation `json:"associations,omitempty"`
}
