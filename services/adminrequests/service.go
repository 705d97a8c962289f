package adminrequests

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// Service porte le cycle de vie des demandes d'administration :
// création sous verrou distribué, acceptation par code ou par approbation,
// refus, et balayage d'expiration.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Cfg   config.Config

	validate *validator.Validate
}

func NewService(db *gorm.DB, rdb *redis.Client, cfg config.Config) *Service {
	v := validator.New()
	v.RegisterStructValidation(validateCreateInput, CreateInput{})

	return &Service{DB: db, Redis: rdb, Cfg: cfg, validate: v}
}

// lockName est le verrou par utilisateur qui ferme la course TOCTOU sur le
// quota de demandes en cours.
func lockName(userID uint) string {
	return fmt.Sprintf("user-admin-requests:%d", userID)
}

func (s *Service) getByID(id uint) (*models.AdminRequest, error) {
	var request models.AdminRequest
	err := s.DB.Preload("Company").Preload("User").First(&request, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("La demande n'existe pas.")
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// getByAuthorAndOrgID résout la demande en cours d'un auteur pour un
// établissement donné (parcours code-par-courrier, sans identifiant).
func (s *Service) getByAuthorAndOrgID(userID uint, orgID string) (*models.AdminRequest, error) {
	var company models.Company
	if err := s.DB.Where("org_id = ?", orgID).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewUserInputError("L'établissement avec l'identifiant %s n'existe pas.", orgID)
		}
		return nil, err
	}

	var request models.AdminRequest
	err := s.DB.Preload("Company").Preload("User").
		Where("user_id = ? AND company_id = ?", userID, company.ID).
		Order("created_at DESC").
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("La demande n'existe pas.")
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}
