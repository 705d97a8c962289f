package revisions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/indexer"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// Service porte le processus d'approbation des demandes de révision :
// le diff n'est appliqué au bordereau que si chaque approbateur accepte,
// un seul refus annule tout.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Cfg   config.Config
}

func NewService(db *gorm.DB, rdb *redis.Client, cfg config.Config) *Service {
	return &Service{DB: db, Redis: rdb, Cfg: cfg}
}

type CreateInput struct {
	BsdID   string            `json:"bsdId"`
	Content datatypes.JSONMap `json:"content"`
	Comment string            `json:"comment"`
}

// Create ouvre une demande de révision sur un bordereau signé, avec une
// approbation PENDING par établissement approbateur (ceux du bordereau,
// moins celui de l'auteur).
func (s *Service) Create(ctx context.Context, caller *models.User, input CreateInput) (*models.RevisionRequest, error) {
	var bsd models.Bsd
	err := s.DB.Preload("Transporters").
		Where("id = ? AND is_deleted = ?", input.BsdID, false).
		First(&bsd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("Le bordereau %s n'existe pas.", input.BsdID)
	}
	if err != nil {
		return nil, err
	}

	// La révision amende un bordereau déjà signé ; un bordereau encore à
	// l'état initial se corrige directement.
	if bsd.IsDraft || bsd.Status == models.BsdInitial {
		return nil, utils.NewUserInputError("Ce bordereau n'a pas encore été signé et peut être modifié directement.")
	}

	if len(input.Content) == 0 {
		return nil, utils.NewUserInputError("La révision ne contient aucune modification.")
	}

	roles, err := permissions.UserRoles(ctx, s.DB, s.Redis, caller.ID)
	if err != nil {
		return nil, err
	}

	// L'établissement auteur est le premier établissement de l'appelant
	// figurant sur le bordereau avec le droit de créer une révision.
	var authoringOrgID string
	for _, orgID := range revisionOrgIDs(&bsd) {
		if role, ok := roles[orgID]; ok && permissions.Can(role, permissions.RevisionCanCreate) {
			authoringOrgID = orgID
			break
		}
	}
	if authoringOrgID == "" {
		return nil, utils.NewForbiddenError("Vous n'êtes pas autorisé à réviser ce bordereau.")
	}

	var authoringCompany models.Company
	if err := s.DB.Where("org_id = ?", authoringOrgID).First(&authoringCompany).Error; err != nil {
		return nil, err
	}

	request := &models.RevisionRequest{
		ID:                 uuid.NewString(),
		BsdID:              bsd.ID,
		AuthoringCompanyID: authoringCompany.ID,
		Content:            input.Content,
		Comment:            input.Comment,
		Status:             models.RevisionPending,
	}
	for _, orgID := range revisionOrgIDs(&bsd) {
		if orgID == authoringOrgID {
			continue
		}
		request.Approvals = append(request.Approvals, models.RevisionApproval{
			ApproverOrgID: orgID,
			Status:        models.RevisionPending,
		})
	}
	if len(request.Approvals) == 0 {
		return nil, utils.NewUserInputError("Aucun établissement approbateur sur ce bordereau.")
	}

	err = txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Create(request).Error; err != nil {
			return err
		}
		event := models.Event{
			StreamID: request.ID,
			Type:     models.EventRevisionCreated,
			ActorID:  caller.ID,
			Data:     datatypes.JSONMap{"bsdId": bsd.ID},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}
		t.AddAfterCommit(func() {
			indexer.EnqueueUpdatedBsd(ctx, s.Redis, bsd.ID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// revisionOrgIDs liste les établissements parties prenantes d'une révision
// (émetteur, destinataire, entreprise de travaux), dédupliqués.
func revisionOrgIDs(bsd *models.Bsd) []string {
	seen := map[string]bool{}
	var orgIDs []string
	for _, orgID := range []string{bsd.EmitterOrgID, bsd.DestinationOrgID, bsd.WorkerOrgID} {
		if orgID != "" && !seen[orgID] {
			seen[orgID] = true
			orgIDs = append(orgIDs, orgID)
		}
	}
	return orgIDs
}

func (s *Service) getRequest(id string) (*models.RevisionRequest, error) {
	var request models.RevisionRequest
	err := s.DB.Preload("Approvals").Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("La demande de révision n'existe pas.")
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// callerApproval trouve l'approbation PENDING que l'appelant est habilité
// à traiter.
func (s *Service) callerApproval(ctx context.Context, caller *models.User, request *models.RevisionRequest) (*models.RevisionApproval, error) {
	roles, err := permissions.UserRoles(ctx, s.DB, s.Redis, caller.ID)
	if err != nil {
		return nil, err
	}
	for i := range request.Approvals {
		approval := &request.Approvals[i]
		role, ok := roles[approval.ApproverOrgID]
		if !ok || !permissions.Can(role, permissions.RevisionCanApprove) {
			continue
		}
		if approval.Status != models.RevisionPending {
			return nil, utils.NewUserInputError("Cette approbation a déjà été traitée.")
		}
		return approval, nil
	}
	return nil, utils.NewForbiddenError("Vous n'êtes pas approbateur de cette révision.")
}
