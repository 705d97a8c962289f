package bsds

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/indexer"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

type CreateInput struct {
	Kind             models.BsdKind `json:"kind" validate:"required"`
	IsDraft          bool           `json:"isDraft"`
	EmitterOrgID     string         `json:"emitterOrgId" validate:"required"`
	WorkerOrgID      string         `json:"workerOrgId"`
	DestinationOrgID string         `json:"destinationOrgId" validate:"required"`
	// TransporterOrgIDs dans l'ordre de prise en charge ; la numérotation
	// 1..N est assignée à la création.
	TransporterOrgIDs []string `json:"transporterOrgIds" validate:"min=1"`
	// GroupingIDs : bordereaux regroupés dans celui-ci.
	GroupingIDs []string `json:"groupingIds"`
	// ForwardingID : bordereau initial réexpédié après entreposage.
	ForwardingID *string `json:"forwardingId"`
}

// Create insère un nouveau bordereau. L'identifiant est préfixé par la
// famille ; les relations de regroupement et de réexpédition sont
// validées (même famille, pas de double regroupement, pas de cycle).
func (s *Service) Create(ctx context.Context, caller *models.User, input CreateInput) (*models.Bsd, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, utils.NewUserInputError("Le bordereau est invalide : %s", err.Error())
	}

	wf, ok := workflows[input.Kind]
	if !ok {
		return nil, utils.NewUserInputError("Famille de bordereau inconnue : %s", input.Kind)
	}

	bsd := &models.Bsd{
		ID:               fmt.Sprintf("%s-%s", wf.Prefix, strings.ToUpper(uuid.NewString())),
		Kind:             input.Kind,
		Status:           models.BsdInitial,
		IsDraft:          input.IsDraft,
		EmitterOrgID:     input.EmitterOrgID,
		WorkerOrgID:      input.WorkerOrgID,
		DestinationOrgID: input.DestinationOrgID,
		ForwardingID:     input.ForwardingID,
	}
	for i, orgID := range input.TransporterOrgIDs {
		bsd.Transporters = append(bsd.Transporters, models.BsdTransporter{
			OrgID:  orgID,
			Number: i + 1,
		})
	}

	roles, err := permissions.UserRoles(ctx, s.DB, s.Redis, caller.ID)
	if err != nil {
		return nil, err
	}
	if err := permissions.CheckUserPermissions(ctx, s.DB, s.Redis, caller,
		bsdOrgIDs(bsd), permissions.BsdCanCreate,
		"Vous devez figurer sur le bordereau pour le créer."); err != nil {
		return nil, err
	}

	if bsd.IsDraft {
		bsd.CanAccessDraftOrgIDs = draftOrgIDs(bsd, roles)
	}

	err = txn.Run(s.DB, func(t *txn.Tx) error {
		grouped, err := s.checkRelations(t, bsd, input)
		if err != nil {
			return err
		}
		// La ligne parente est insérée avant la pose des liens : la clé
		// étrangère grouped_in_id exige que le parent existe déjà.
		if err := t.DB.Create(bsd).Error; err != nil {
			return err
		}
		for i := range grouped {
			if err := t.DB.Model(&grouped[i]).Update("grouped_in_id", bsd.ID).Error; err != nil {
				return err
			}
		}

		event := models.Event{
			StreamID: bsd.ID,
			Type:     models.EventBsdCreated,
			ActorID:  caller.ID,
			Data:     datatypes.JSONMap{"kind": string(bsd.Kind), "isDraft": bsd.IsDraft},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}

		linked := append([]string{}, input.GroupingIDs...)
		if input.ForwardingID != nil {
			linked = append(linked, *input.ForwardingID)
		}
		t.AddAfterCommit(func() {
			indexer.EnqueueCreatedBsd(ctx, s.Redis, bsd.ID)
			for _, id := range linked {
				indexer.EnqueueUpdatedBsd(ctx, s.Redis, id)
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bsd, nil
}

// draftOrgIDs restreint la visibilité du brouillon aux établissements du
// créateur qui figurent aussi sur le bordereau.
func draftOrgIDs(bsd *models.Bsd, roles map[string]models.UserRole) datatypes.JSONSlice[string] {
	onBsd := map[string]bool{}
	for _, orgID := range bsdOrgIDs(bsd) {
		onBsd[orgID] = true
	}

	var visible []string
	for orgID := range roles {
		if onBsd[orgID] {
			visible = append(visible, orgID)
		}
	}
	return visible
}

// checkRelations valide les liens de regroupement et de réexpédition et
// renvoie les bordereaux à regrouper, sans rien écrire. Les arêtes
// parent→enfant restent acycliques : un bordereau ne peut être regroupé
// ni réexpédié dans lui-même ou un de ses descendants.
func (s *Service) checkRelations(t *txn.Tx, bsd *models.Bsd, input CreateInput) ([]models.Bsd, error) {
	var grouped []models.Bsd
	for _, childID := range input.GroupingIDs {
		var child models.Bsd
		if err := t.DB.Where("id = ? AND is_deleted = ?", childID, false).First(&child).Error; err != nil {
			return nil, utils.NewUserInputError("Le bordereau %s n'existe pas ou a été supprimé.", childID)
		}
		if child.Kind != bsd.Kind {
			return nil, utils.NewUserInputError("Le bordereau %s n'est pas de la même famille.", childID)
		}
		if child.GroupedInID != nil {
			return nil, utils.NewUserInputError("Le bordereau %s est déjà regroupé.", childID)
		}
		if err := checkNoCycle(t, bsd.ID, childID); err != nil {
			return nil, err
		}
		grouped = append(grouped, child)
	}

	if input.ForwardingID != nil {
		targetID := *input.ForwardingID
		var target models.Bsd
		if err := t.DB.Where("id = ? AND is_deleted = ?", targetID, false).First(&target).Error; err != nil {
			return nil, utils.NewUserInputError("Le bordereau %s n'existe pas ou a été supprimé.", targetID)
		}
		if target.Kind != bsd.Kind {
			return nil, utils.NewUserInputError("Le bordereau %s n'est pas de la même famille.", targetID)
		}
		var forwardedBy int64
		t.DB.Model(&models.Bsd{}).
			Where("forwarding_id = ? AND is_deleted = ?", targetID, false).
			Count(&forwardedBy)
		if forwardedBy > 0 {
			return nil, utils.NewUserInputError("Le bordereau %s est déjà réexpédié.", targetID)
		}
		if err := checkNoCycle(t, bsd.ID, targetID); err != nil {
			return nil, err
		}
	}

	return grouped, nil
}

// checkNoCycle remonte la chaîne parentale de l'enfant pour vérifier que
// le nouveau parent n'y figure pas déjà.
func checkNoCycle(t *txn.Tx, parentID, childID string) error {
	if parentID == childID {
		return utils.NewUserInputError("Un bordereau ne peut pas être regroupé dans lui-même.")
	}

	seen := map[string]bool{childID: true}
	currentID := childID
	for {
		var current models.Bsd
		if err := t.DB.Select("id", "grouped_in_id", "forwarding_id").
			Where("id = ?", currentID).First(&current).Error; err != nil {
			return nil
		}

		var nextID string
		switch {
		case current.GroupedInID != nil:
			nextID = *current.GroupedInID
		case current.ForwardingID != nil:
			nextID = *current.ForwardingID
		default:
			return nil
		}

		if nextID == parentID || seen[nextID] {
			return utils.NewUserInputError("Cette relation créerait un cycle entre bordereaux.")
		}
		seen[nextID] = true
		currentID = nextID
	}
}
