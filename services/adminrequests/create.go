package adminrequests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/lock"
	"github.com/MTES-MCT/trackdechets-sub030/logger"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/services/mailer"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

type CreateInput struct {
	CompanyOrgID      string                              `json:"companyOrgId" validate:"required"`
	ValidationMethod  models.AdminRequestValidationMethod `json:"validationMethod" validate:"required,oneof=SEND_MAIL REQUEST_ADMIN_APPROVAL REQUEST_COLLABORATOR_APPROVAL"`
	CollaboratorEmail string                              `json:"collaboratorEmail" validate:"omitempty,email"`
}

// L'email du collaborateur est obligatoire quand la validation passe par
// l'approbation d'un collaborateur. Validation inter-champs.
func validateCreateInput(sl validator.StructLevel) {
	input := sl.Current().Interface().(CreateInput)
	if input.ValidationMethod == models.ValidationCollaboratorApproval && input.CollaboratorEmail == "" {
		sl.ReportError(input.CollaboratorEmail, "collaboratorEmail", "CollaboratorEmail", "required_if_collaborator", "")
	}
}

// collaboratorLookup distingue explicitement "trouvé" de "vérifié mais en
// échec, volontairement non propagé" : un échec de ce contrôle ne doit
// jamais révéler à l'appelant l'existence ou non d'un compte.
type collaboratorLookup struct {
	user      *models.User
	swallowed bool
}

func (s *Service) lookupCollaborator(company *models.Company, email string) collaboratorLookup {
	var user models.User
	if err := s.DB.Where("email = ?", email).First(&user).Error; err != nil {
		return collaboratorLookup{swallowed: true}
	}

	var association models.CompanyAssociation
	err := s.DB.Where("user_id = ? AND company_id = ?", user.ID, company.ID).First(&association).Error
	if err != nil {
		return collaboratorLookup{swallowed: true}
	}

	return collaboratorLookup{user: &user}
}

const verificationCodeLength = 8

// Create enregistre une nouvelle demande d'administration pour caller.
// Le quota de demandes en cours est recompté sous verrou distribué : deux
// créations concurrentes ne peuvent pas toutes les deux passer un comptage
// périmé.
func (s *Service) Create(ctx context.Context, caller *models.User, input CreateInput) (*models.AdminRequest, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, utils.NewUserInputError("La demande est invalide : %s", err.Error())
	}

	var company models.Company
	if err := s.DB.Where("org_id = ?", input.CompanyOrgID).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewUserInputError("L'établissement avec l'identifiant %s n'existe pas.", input.CompanyOrgID)
		}
		return nil, err
	}

	var existing models.CompanyAssociation
	err := s.DB.Where("user_id = ? AND company_id = ?", caller.ID, company.ID).First(&existing).Error
	if err == nil && existing.Role == models.RoleAdmin {
		return nil, utils.NewUserInputError("Vous êtes déjà administrateur de cet établissement.")
	}

	var duplicate int64
	s.DB.Model(&models.AdminRequest{}).
		Where("user_id = ? AND company_id = ? AND status = ?", caller.ID, company.ID, models.AdminRequestPending).
		Count(&duplicate)
	if duplicate > 0 {
		return nil, utils.NewUserInputError("Une demande est déjà en cours pour cet établissement.")
	}

	request := models.AdminRequest{
		UserID:           caller.ID,
		CompanyID:        company.ID,
		ValidationMethod: input.ValidationMethod,
		Status:           models.AdminRequestPending,
	}

	// Le résultat de la recherche du collaborateur n'influe jamais sur le
	// succès de la création (anti-énumération de comptes).
	var collaborator collaboratorLookup
	if input.CollaboratorEmail != "" {
		collaborator = s.lookupCollaborator(&company, input.CollaboratorEmail)
		if collaborator.user != nil {
			id := collaborator.user.ID
			request.CollaboratorID = &id
		}
	}

	if input.ValidationMethod == models.ValidationSendMail {
		request.Code = utils.RandomCode(verificationCodeLength)
	}

	if input.ValidationMethod != models.ValidationAdminApproval {
		endDate := time.Now().Add(s.Cfg.AdminOnlyWindow)
		request.AdminOnlyEndDate = &endDate
	}

	err = lock.WithLock(ctx, s.Redis, lockName(caller.ID), s.Cfg.AdminRequestLockTTL, s.Cfg.AdminRequestLockTimeout, func() error {
		var pending int64
		if err := s.DB.Model(&models.AdminRequest{}).
			Where("user_id = ? AND status = ?", caller.ID, models.AdminRequestPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending >= int64(s.Cfg.MaxPendingAdminRequests) {
			return utils.NewForbiddenError("Il n'est pas possible d'avoir plus de %d demandes en cours.", s.Cfg.MaxPendingAdminRequests)
		}
		return s.DB.Create(&request).Error
	})
	if err != nil {
		return nil, err
	}

	// Notifications hors verrou : non transactionnelles avec la création.
	s.notifyCreated(ctx, caller, &company, &request, collaborator)

	request.Company = company
	return &request, nil
}

func (s *Service) notifyCreated(ctx context.Context, caller *models.User, company *models.Company, request *models.AdminRequest, collaborator collaboratorLookup) {
	if request.ValidationMethod == models.ValidationSendMail {
		mailer.SendLetter(ctx, s.Redis, mailer.Letter{
			CompanyOrgID: company.OrgID,
			CompanyName:  company.Name,
			Code:         request.Code,
		})
	}

	admins, err := s.companyAdmins(company.ID)
	if err != nil {
		logger.Get().WithError(err).Warn("impossible de notifier les administrateurs")
	}
	for _, admin := range admins {
		mailer.SendMail(mailer.Mail{
			To:      []string{admin.Email},
			Subject: fmt.Sprintf("Demande de droits administrateur sur %s", company.Name),
			Body: fmt.Sprintf("%s a demandé à devenir administrateur de l'établissement %s (%s).",
				caller.Name, company.Name, company.OrgID),
		})
	}

	if request.ValidationMethod == models.ValidationCollaboratorApproval && collaborator.user != nil {
		mailer.SendMail(mailer.Mail{
			To:      []string{collaborator.user.Email},
			Subject: fmt.Sprintf("Demande de droits administrateur sur %s", company.Name),
			Body: fmt.Sprintf("%s a demandé à devenir administrateur de l'établissement %s. Vous pouvez approuver cette demande.",
				caller.Name, company.Name),
		})
	}

	mailer.SendMail(mailer.Mail{
		To:      []string{caller.Email},
		Subject: "Votre demande de droits administrateur a été enregistrée",
		Body:    fmt.Sprintf("Votre demande concernant l'établissement %s est en cours de validation.", company.Name),
	})
}

func (s *Service) companyAdmins(companyID uint) ([]models.User, error) {
	var admins []models.User
	err := s.DB.
		Joins("JOIN company_associations ON company_associations.user_id = users.id").
		Where("company_associations.company_id = ? AND company_associations.role = ? AND company_associations.deleted_at IS NULL", companyID, models.RoleAdmin).
		Find(&admins).Error
	return admins, err
}
