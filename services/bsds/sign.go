package bsds

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

type SignInput struct {
	BsdID string                `json:"bsdId" validate:"required"`
	Stage models.SignatureStage `json:"stage" validate:"required"`
	// Author est le nom du signataire physique, reporté sur le bordereau.
	Author string `json:"author" validate:"required"`
	// SecurityCode est le chemin d'autorisation de secours : le code
	// signature de l'établissement habilité, pour les signatures sur le
	// terrain sans compte rattaché.
	SecurityCode *int `json:"securityCode"`
	// NoTraceability : le traitement final autorise une sortie de
	// traçabilité (uniquement à l'étape de traitement).
	NoTraceability bool `json:"noTraceability"`
}

// Sign enregistre la signature d'une étape et fait avancer le statut du
// bordereau. La progression est strictement monotone : chaque étape exige
// que toutes les précédentes soient signées, et aucune signature ne
// s'annule.
func (s *Service) Sign(ctx context.Context, caller *models.User, input SignInput) (*models.Bsd, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, utils.NewUserInputError("La signature est invalide : %s", err.Error())
	}

	bsd, err := s.getBsd(input.BsdID)
	if err != nil {
		return nil, err
	}

	wf := workflows[bsd.Kind]
	idx := stageIndex(wf, input.Stage)
	if idx < 0 {
		return nil, utils.NewUserInputError("L'étape %s n'existe pas pour un %s.", stageLabels[input.Stage], bsd.Kind)
	}

	// Le transport épuisé est tranché avant la permission : stageOrgIDs ne
	// désigne plus aucun établissement quand tous les transporteurs ont signé.
	number := 0
	if input.Stage == models.StageTransport {
		next := nextTransporter(bsd)
		if next == nil {
			return nil, utils.NewUserInputError("Tous les transporteurs ont déjà signé ce bordereau.")
		}
		number = next.Number
	}

	orgIDs := stageOrgIDs(bsd, input.Stage)
	if err := s.checkCanSign(ctx, caller, input, orgIDs); err != nil {
		return nil, err
	}

	if input.Stage != models.StageTransport && stageSigned(bsd, input.Stage) {
		return nil, utils.NewUserInputError("L'étape %s a déjà été signée.", stageLabels[input.Stage])
	}

	for _, prior := range wf.Stages[:idx] {
		if !stageComplete(bsd, prior) {
			return nil, utils.NewUserInputError("Impossible de signer l'étape %s : l'étape %s n'a pas encore été signée.",
				stageLabels[input.Stage], stageLabels[prior])
		}
	}

	if input.Stage == models.StageOperation && bsd.GroupedInID != nil {
		return nil, utils.NewUserInputError("Ce bordereau est regroupé dans le bordereau %s et ne peut pas être traité indépendamment.", *bsd.GroupedInID)
	}

	newStatus := statusForStage[input.Stage]
	if input.Stage == models.StageOperation && input.NoTraceability {
		newStatus = models.BsdNoTraceability
	}

	signature := models.BsdSignature{
		BsdID:    bsd.ID,
		Stage:    input.Stage,
		Number:   number,
		AuthorID: caller.ID,
		Author:   input.Author,
		SignedAt: time.Now(),
	}

	linked := s.linkedBsdIDs(bsd)

	err = txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Create(&signature).Error; err != nil {
			return err
		}
		if err := t.DB.Model(bsd).Updates(map[string]any{
			"status":   newStatus,
			"is_draft": false,
		}).Error; err != nil {
			return err
		}

		event := models.Event{
			StreamID: bsd.ID,
			Type:     models.EventBsdSigned,
			ActorID:  caller.ID,
			Data: datatypes.JSONMap{
				"stage":  string(input.Stage),
				"number": number,
				"author": input.Author,
			},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}

		t.AddAfterCommit(func() {
			s.reindexWithLinks(ctx, bsd, linked)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	bsd.Status = newStatus
	bsd.Signatures = append(bsd.Signatures, signature)
	return bsd, nil
}

// checkCanSign vérifie la permission de l'appelant sur les établissements
// habilités. En cas d'échec avec un code signature fourni, le code est
// confronté à celui des établissements habilités : premier succès gagnant,
// sinon l'erreur de permission initiale est restituée.
func (s *Service) checkCanSign(ctx context.Context, caller *models.User, input SignInput, orgIDs []string) error {
	permErr := permissions.CheckUserIsAdminOrPermissions(ctx, s.DB, s.Redis, caller,
		orgIDs, permissionForStage[input.Stage],
		"Vous n'êtes pas autorisé à signer cette étape.")
	if permErr == nil {
		return nil
	}

	if input.SecurityCode != nil {
		var count int64
		s.DB.Model(&models.Company{}).
			Where("org_id IN ? AND security_code = ?", orgIDs, *input.SecurityCode).
			Count(&count)
		if count > 0 {
			return nil
		}
	}

	return permErr
}
