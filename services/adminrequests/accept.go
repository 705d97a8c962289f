package adminrequests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/mailer"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

type AcceptInput struct {
	// AdminRequestID identifie la demande pour le parcours membre.
	AdminRequestID *uint `json:"adminRequestId"`
	// CompanyOrgID identifie la demande de l'auteur lui-même pour le
	// parcours code-par-courrier.
	CompanyOrgID string `json:"companyOrgId"`
	Code         string `json:"code"`
}

// Accept fait avancer la demande vers ACCEPTED et promeut l'auteur
// administrateur de l'établissement. Idempotent si la demande est déjà
// acceptée. Les gardes sont évaluées dans l'ordre, chaque échec interrompt
// immédiatement.
func (s *Service) Accept(ctx context.Context, caller *models.User, input AcceptInput) (*models.AdminRequest, error) {
	request, err := s.resolve(caller, input)
	if err != nil {
		return nil, err
	}

	switch request.Status {
	case models.AdminRequestRefused:
		return nil, utils.NewUserInputError("La demande a déjà été refusée.")
	case models.AdminRequestBlocked, models.AdminRequestExpired:
		return nil, utils.NewUserInputError("La demande n'est plus modifiable.")
	case models.AdminRequestAccepted:
		// Déjà acceptée : on renvoie l'existant, sans effet de bord.
		return request, nil
	}

	// Passe-droit plateforme : uniquement avec un identifiant explicite.
	platformBypass := caller.IsAdmin && input.AdminRequestID != nil

	if !platformBypass {
		if err := s.checkCanAccept(ctx, caller, request, input.Code); err != nil {
			return nil, err
		}
	}

	if err := s.promote(ctx, request); err != nil {
		return nil, err
	}

	request.Status = models.AdminRequestAccepted
	return request, nil
}

func (s *Service) resolve(caller *models.User, input AcceptInput) (*models.AdminRequest, error) {
	if input.AdminRequestID != nil {
		return s.getByID(*input.AdminRequestID)
	}
	if input.CompanyOrgID != "" {
		return s.getByAuthorAndOrgID(caller.ID, input.CompanyOrgID)
	}
	return nil, utils.NewUserInputError("Un identifiant de demande ou d'établissement est requis.")
}

func (s *Service) checkCanAccept(ctx context.Context, caller *models.User, request *models.AdminRequest, suppliedCode string) error {
	roles, err := permissions.UserRoles(ctx, s.DB, s.Redis, caller.ID)
	if err != nil {
		return err
	}
	callerRole, hasAssociation := roles[request.Company.OrgID]
	isCompanyAdmin := hasAssociation && callerRole == models.RoleAdmin

	isAuthorByMail := caller.ID == request.UserID &&
		request.ValidationMethod == models.ValidationSendMail

	// Pendant la fenêtre admin-only, seuls les administrateurs existants
	// peuvent accepter ; le parcours code-par-courrier de l'auteur reste
	// ouvert, le code faisant office de preuve.
	if request.AdminOnlyEndDate != nil && time.Now().Before(*request.AdminOnlyEndDate) &&
		!isCompanyAdmin && !isAuthorByMail {
		return utils.NewForbiddenError("Seuls les administrateurs actuels de l'établissement peuvent accepter la demande pour le moment.")
	}

	if caller.ID == request.UserID && request.ValidationMethod != models.ValidationSendMail {
		return utils.NewForbiddenError("Vous ne pouvez pas accepter votre propre demande.")
	}

	if !hasAssociation && request.ValidationMethod != models.ValidationSendMail {
		return utils.NewForbiddenError("Vous n'êtes pas autorisé à accepter cette demande.")
	}

	if request.ValidationMethod == models.ValidationSendMail && !isCompanyAdmin {
		return s.checkCode(request, suppliedCode)
	}

	return nil
}

// checkCode vérifie le code reçu par courrier. Chaque échec incrémente le
// compteur ; au dernier échec autorisé la demande passe à BLOCKED et plus
// rien ne la fait avancer, même le bon code.
func (s *Service) checkCode(request *models.AdminRequest, supplied string) error {
	if supplied != "" && supplied == request.Code {
		return nil
	}

	attempts := request.CodeAttempts + 1
	if attempts >= s.Cfg.MaxCodeAttempts {
		if err := s.DB.Model(request).Updates(map[string]any{
			"code_attempts": attempts,
			"status":        models.AdminRequestBlocked,
		}).Error; err != nil {
			return err
		}
		return utils.NewUserInputError("Le code est erroné. La demande est désormais bloquée.")
	}

	if err := s.DB.Model(request).Update("code_attempts", attempts).Error; err != nil {
		return err
	}
	return utils.NewUserInputError("Le code est erroné. Il vous reste %d tentative(s).", s.Cfg.MaxCodeAttempts-attempts)
}

// promote crée ou élève l'association de l'auteur au rôle ADMIN puis passe
// la demande à ACCEPTED, dans la même transaction. Les mails partent après
// commit.
func (s *Service) promote(ctx context.Context, request *models.AdminRequest) error {
	err := txn.Run(s.DB, func(t *txn.Tx) error {
		var association models.CompanyAssociation
		err := t.DB.Where("user_id = ? AND company_id = ?", request.UserID, request.CompanyID).
			First(&association).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			association = models.CompanyAssociation{
				UserID:    request.UserID,
				CompanyID: request.CompanyID,
				Role:      models.RoleAdmin,
			}
			if err := t.DB.Create(&association).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case association.Role == models.RoleAdmin:
			// Cas défensif : une demande PENDING pour un utilisateur déjà
			// administrateur ne devrait pas exister.
			return utils.NewUserInputError("L'utilisateur est déjà administrateur de l'établissement.")
		default:
			if err := t.DB.Model(&association).Update("role", models.RoleAdmin).Error; err != nil {
				return err
			}
		}

		if err := t.DB.Model(request).Update("status", models.AdminRequestAccepted).Error; err != nil {
			return err
		}

		t.AddAfterCommit(func() {
			s.notifyAccepted(request)
		})
		return nil
	})
	if err != nil {
		return err
	}

	permissions.InvalidateRoles(ctx, s.Redis, request.UserID)
	return nil
}

func (s *Service) notifyAccepted(request *models.AdminRequest) {
	mailer.SendMail(mailer.Mail{
		To:      []string{request.User.Email},
		Subject: "Votre demande de droits administrateur a été acceptée",
		Body: fmt.Sprintf("Vous êtes désormais administrateur de l'établissement %s (%s).",
			request.Company.Name, request.Company.OrgID),
	})

	admins, err := s.companyAdmins(request.CompanyID)
	if err != nil {
		return
	}
	for _, admin := range admins {
		if admin.ID == request.UserID {
			continue
		}
		mailer.SendMail(mailer.Mail{
			To:      []string{admin.Email},
			Subject: fmt.Sprintf("Nouvel administrateur sur %s", request.Company.Name),
			Body: fmt.Sprintf("%s est désormais administrateur de l'établissement %s.",
				request.User.Name, request.Company.Name),
		})
	}
}
