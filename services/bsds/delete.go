package bsds

import (
	"context"

	"gorm.io/datatypes"

	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/indexer"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// Delete marque le bordereau supprimé et nettoie les références des
// bordereaux liés. Suppression logique uniquement : la ligne reste en
// base, le bordereau disparaît de l'index de recherche.
func (s *Service) Delete(ctx context.Context, caller *models.User, id string) error {
	bsd, err := s.getBsd(id)
	if err != nil {
		return err
	}

	if err := permissions.CheckUserIsAdminOrPermissions(ctx, s.DB, s.Redis, caller,
		bsdOrgIDs(bsd), permissions.BsdCanDelete,
		"Vous n'êtes pas autorisé à supprimer ce bordereau."); err != nil {
		return err
	}

	if bsd.GroupedInID != nil {
		return utils.NewUserInputError("Ce bordereau est regroupé dans le bordereau %s et ne peut pas être supprimé.", *bsd.GroupedInID)
	}

	// Enfants dont le pointeur de regroupement doit être remis à zéro.
	var siblings []models.Bsd
	if err := s.DB.Select("id").
		Where("grouped_in_id = ? AND is_deleted = ?", bsd.ID, false).
		Find(&siblings).Error; err != nil {
		return err
	}

	return txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Model(bsd).Updates(map[string]any{
			"is_deleted":    true,
			"forwarding_id": nil,
		}).Error; err != nil {
			return err
		}

		if err := t.DB.Model(&models.Bsd{}).
			Where("grouped_in_id = ?", bsd.ID).
			Update("grouped_in_id", nil).Error; err != nil {
			return err
		}

		event := models.Event{
			StreamID: bsd.ID,
			Type:     models.EventBsdDeleted,
			ActorID:  caller.ID,
			Data:     datatypes.JSONMap{"kind": string(bsd.Kind)},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}

		t.AddAfterCommit(func() {
			indexer.EnqueueBsdToDelete(ctx, s.Redis, bsd.ID)
			for _, sibling := range siblings {
				indexer.EnqueueUpdatedBsd(ctx, s.Redis, sibling.ID)
			}
		})
		return nil
	})
}
