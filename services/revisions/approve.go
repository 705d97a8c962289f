package revisions

import (
	"context"

	"gorm.io/datatypes"

	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/indexer"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// revisableFields associe les clés du contenu d'une révision aux colonnes
// du bordereau. Les clés hors de cette table (identifiant, statut,
// horodatages) sont ignorées : le diff ne contient que des champs
// déclaratifs.
var revisableFields = map[string]string{
	"wasteCode":        "waste_code",
	"quantity":         "quantity",
	"cap":              "cap",
	"emitterOrgId":     "emitter_org_id",
	"workerOrgId":      "worker_org_id",
	"destinationOrgId": "destination_org_id",
}

// buildDiff extrait du contenu les colonnes applicables, en écartant les
// valeurs nulles et les clés non révisables. Un diff vide court-circuite
// en mise à jour "vide" sans effet.
func buildDiff(content datatypes.JSONMap) map[string]any {
	diff := map[string]any{}
	for key, value := range content {
		column, ok := revisableFields[key]
		if !ok || value == nil {
			continue
		}
		diff[column] = value
	}
	return diff
}

// Accept enregistre l'accord d'un approbateur. La dernière approbation
// acceptée déclenche, dans la même transaction, le passage de la demande
// à ACCEPTED et l'application du diff au bordereau.
func (s *Service) Accept(ctx context.Context, caller *models.User, requestID, comment string) (*models.RevisionRequest, error) {
	request, err := s.getRequest(requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RevisionPending {
		return nil, utils.NewUserInputError("La demande de révision n'est plus en attente.")
	}

	approval, err := s.callerApproval(ctx, caller, request)
	if err != nil {
		return nil, err
	}

	err = txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Model(approval).Updates(map[string]any{
			"status":  models.RevisionAccepted,
			"comment": comment,
		}).Error; err != nil {
			return err
		}

		var pending int64
		if err := t.DB.Model(&models.RevisionApproval{}).
			Where("revision_request_id = ? AND status = ? AND id <> ?",
				request.ID, models.RevisionPending, approval.ID).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}

		// Dernier accord : consensus atteint, le diff s'applique.
		if err := t.DB.Model(request).Update("status", models.RevisionAccepted).Error; err != nil {
			return err
		}

		diff := buildDiff(request.Content)
		if len(diff) > 0 {
			if err := t.DB.Model(&models.Bsd{}).
				Where("id = ?", request.BsdID).
				Updates(diff).Error; err != nil {
				return err
			}
		}

		event := models.Event{
			StreamID: request.BsdID,
			Type:     models.EventRevisionApplied,
			ActorID:  caller.ID,
			Data:     datatypes.JSONMap{"revisionRequestId": request.ID},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}

		t.AddAfterCommit(func() {
			indexer.EnqueueUpdatedBsd(ctx, s.Redis, request.BsdID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.getRequest(requestID)
}

// Refuse enregistre le refus d'un approbateur : toutes les approbations
// encore PENDING passent à CANCELED, la demande à REFUSED, et le diff
// n'est jamais appliqué.
func (s *Service) Refuse(ctx context.Context, caller *models.User, requestID, comment string) (*models.RevisionRequest, error) {
	request, err := s.getRequest(requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RevisionPending {
		return nil, utils.NewUserInputError("La demande de révision n'est plus en attente.")
	}

	approval, err := s.callerApproval(ctx, caller, request)
	if err != nil {
		return nil, err
	}

	err = txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Model(approval).Updates(map[string]any{
			"status":  models.RevisionRefused,
			"comment": comment,
		}).Error; err != nil {
			return err
		}
		if err := t.DB.Model(&models.RevisionApproval{}).
			Where("revision_request_id = ? AND status = ?", request.ID, models.RevisionPending).
			Update("status", models.RevisionCanceled).Error; err != nil {
			return err
		}
		if err := t.DB.Model(request).Update("status", models.RevisionRefused).Error; err != nil {
			return err
		}

		event := models.Event{
			StreamID: request.BsdID,
			Type:     models.EventRevisionRefused,
			ActorID:  caller.ID,
			Data:     datatypes.JSONMap{"revisionRequestId": request.ID},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}

		t.AddAfterCommit(func() {
			indexer.EnqueueUpdatedBsd(ctx, s.Redis, request.BsdID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.getRequest(requestID)
}

// Cancel retire une demande encore PENDING. Réservé à l'établissement
// auteur. Les approbations puis la demande sont supprimées ; le bordereau
// est réindexé car son badge de révision change.
func (s *Service) Cancel(ctx context.Context, caller *models.User, requestID string) error {
	request, err := s.getRequest(requestID)
	if err != nil {
		return err
	}
	if request.Status != models.RevisionPending {
		return utils.NewUserInputError("La demande de révision n'est plus en attente.")
	}

	var authoringCompany models.Company
	if err := s.DB.First(&authoringCompany, request.AuthoringCompanyID).Error; err != nil {
		return err
	}
	if err := permissions.CheckUserPermissions(ctx, s.DB, s.Redis, caller,
		[]string{authoringCompany.OrgID}, permissions.RevisionCanCreate,
		"Seul l'établissement auteur peut annuler cette révision."); err != nil {
		return err
	}

	return txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Unscoped().
			Where("revision_request_id = ?", request.ID).
			Delete(&models.RevisionApproval{}).Error; err != nil {
			return err
		}
		if err := t.DB.Delete(request).Error; err != nil {
			return err
		}

		event := models.Event{
			StreamID: request.BsdID,
			Type:     models.EventRevisionCancelled,
			ActorID:  caller.ID,
			Data:     datatypes.JSONMap{"revisionRequestId": request.ID},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}

		t.AddAfterCommit(func() {
			indexer.EnqueueUpdatedBsd(ctx, s.Redis, request.BsdID)
		})
		return nil
	})
}
