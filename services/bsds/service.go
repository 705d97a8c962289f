package bsds

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/indexer"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// Service porte le cycle de vie des bordereaux : création, progression
// des signatures, suppression logique.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Cfg   config.Config

	validate *validator.Validate
}

func NewService(db *gorm.DB, rdb *redis.Client, cfg config.Config) *Service {
	return &Service{DB: db, Redis: rdb, Cfg: cfg, validate: validator.New()}
}

// getBsd résout un bordereau non supprimé avec ses transporteurs et
// signatures.
func (s *Service) getBsd(id string) (*models.Bsd, error) {
	var bsd models.Bsd
	err := s.DB.
		Preload("Transporters", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Signatures").
		Where("id = ? AND is_deleted = ?", id, false).
		First(&bsd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("Le bordereau %s n'existe pas.", id)
	}
	if err != nil {
		return nil, err
	}
	return &bsd, nil
}

// bsdOrgIDs liste tous les établissements mentionnés sur le bordereau.
func bsdOrgIDs(bsd *models.Bsd) []string {
	orgIDs := []string{bsd.EmitterOrgID, bsd.DestinationOrgID}
	if bsd.WorkerOrgID != "" {
		orgIDs = append(orgIDs, bsd.WorkerOrgID)
	}
	for _, t := range bsd.Transporters {
		orgIDs = append(orgIDs, t.OrgID)
	}
	return orgIDs
}

// Get renvoie le bordereau si l'appelant a le droit de le lire. Un
// brouillon n'est visible que des établissements listés sur celui-ci :
// pour les autres il n'existe pas.
func (s *Service) Get(ctx context.Context, caller *models.User, id string) (*models.Bsd, error) {
	bsd, err := s.getBsd(id)
	if err != nil {
		return nil, err
	}

	if bsd.IsDraft {
		roles, err := permissions.UserRoles(ctx, s.DB, s.Redis, caller.ID)
		if err != nil {
			return nil, err
		}
		for _, orgID := range bsd.CanAccessDraftOrgIDs {
			if _, ok := roles[orgID]; ok {
				return bsd, nil
			}
		}
		return nil, utils.NewNotFoundError("Le bordereau %s n'existe pas.", id)
	}

	if err := permissions.CheckUserIsAdminOrPermissions(ctx, s.DB, s.Redis, caller,
		bsdOrgIDs(bsd), permissions.BsdCanRead,
		"Vous n'êtes pas autorisé à consulter ce bordereau."); err != nil {
		return nil, err
	}
	return bsd, nil
}

// linkedBsdIDs renvoie les bordereaux dont des champs dénormalisés
// dépendent de celui-ci : parent de regroupement, cible de réexpédition,
// et enfants pointant vers lui. Leur réindexation accompagne chaque
// mutation.
func (s *Service) linkedBsdIDs(bsd *models.Bsd) []string {
	var ids []string
	if bsd.GroupedInID != nil {
		ids = append(ids, *bsd.GroupedInID)
	}
	if bsd.ForwardingID != nil {
		ids = append(ids, *bsd.ForwardingID)
	}

	var children []models.Bsd
	s.DB.Select("id").
		Where("(grouped_in_id = ? OR forwarding_id = ?) AND is_deleted = ?", bsd.ID, bsd.ID, false).
		Find(&children)
	for _, child := range children {
		ids = append(ids, child.ID)
	}
	return ids
}

// reindexWithLinks met en file la réindexation du bordereau et de tous
// ses liens. Fire-and-forget, à n'appeler qu'après commit.
func (s *Service) reindexWithLinks(ctx context.Context, bsd *models.Bsd, linked []string) {
	indexer.EnqueueUpdatedBsd(ctx, s.Redis, bsd.ID)
	for _, id := range linked {
		indexer.EnqueueUpdatedBsd(ctx, s.Redis, id)
	}
}
