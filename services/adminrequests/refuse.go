package adminrequests

import (
	"context"
	"fmt"

	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/mailer"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// Refuse passe la demande à REFUSED. Les gardes reflètent celles de
// l'acceptation : statuts terminaux d'abord, passe-droit plateforme avant
// l'exigence d'être administrateur de l'établissement. Idempotent si la
// demande est déjà refusée.
func (s *Service) Refuse(ctx context.Context, caller *models.User, adminRequestID uint) (*models.AdminRequest, error) {
	request, err := s.getByID(adminRequestID)
	if err != nil {
		return nil, err
	}

	switch request.Status {
	case models.AdminRequestAccepted:
		return nil, utils.NewUserInputError("La demande a déjà été acceptée.")
	case models.AdminRequestBlocked, models.AdminRequestExpired:
		return nil, utils.NewUserInputError("La demande n'est plus modifiable.")
	case models.AdminRequestRefused:
		return request, nil
	}

	if !caller.IsAdmin {
		if err := permissions.CheckUserPermissions(ctx, s.DB, s.Redis, caller,
			[]string{request.Company.OrgID}, permissions.CompanyCanManageMembers,
			"Vous n'êtes pas autorisé à refuser cette demande."); err != nil {
			return nil, err
		}
	}

	err = txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Model(request).Update("status", models.AdminRequestRefused).Error; err != nil {
			return err
		}
		t.AddAfterCommit(func() {
			mailer.SendMail(mailer.Mail{
				To:      []string{request.User.Email},
				Subject: "Votre demande de droits administrateur a été refusée",
				Body: fmt.Sprintf("Votre demande concernant l'établissement %s (%s) a été refusée.",
					request.Company.Name, request.Company.OrgID),
			})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	request.Status = models.AdminRequestRefused
	return request, nil
}
