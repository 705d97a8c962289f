package companies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/logger"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
	"github.com/MTES-MCT/trackdechets-sub030/services/mailer"
	"github.com/MTES-MCT/trackdechets-sub030/txn"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// Service porte les opérations d'établissement : renouvellement du code
// signature et envoi des courriers de vérification.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Cfg   config.Config
}

func NewService(db *gorm.DB, rdb *redis.Client, cfg config.Config) *Service {
	return &Service{DB: db, Redis: rdb, Cfg: cfg}
}

// RenewSecurityCode remplace le code signature de l'établissement par un
// nouveau code aléatoire et prévient les administrateurs. Les signatures
// par code en cours avec l'ancien code deviennent caduques.
func (s *Service) RenewSecurityCode(ctx context.Context, caller *models.User, orgID string) (*models.Company, error) {
	var company models.Company
	err := s.DB.Where("org_id = ?", orgID).First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("L'établissement avec l'identifiant %s n'existe pas.", orgID)
	}
	if err != nil {
		return nil, err
	}

	if err := permissions.CheckUserIsAdminOrPermissions(ctx, s.DB, s.Redis, caller,
		[]string{orgID}, permissions.CompanyCanRenewSecurityCode,
		"Vous n'êtes pas autorisé à renouveler le code signature de cet établissement."); err != nil {
		return nil, err
	}

	newCode := utils.RandomSecurityCode()
	for newCode == company.SecurityCode {
		newCode = utils.RandomSecurityCode()
	}

	err = txn.Run(s.DB, func(t *txn.Tx) error {
		if err := t.DB.Model(&company).Update("security_code", newCode).Error; err != nil {
			return err
		}

		event := models.Event{
			StreamID: company.OrgID,
			Type:     models.EventSecurityCodeRenewed,
			ActorID:  caller.ID,
			Data:     datatypes.JSONMap{},
		}
		if err := t.DB.Create(&event).Error; err != nil {
			return err
		}

		t.AddAfterCommit(func() {
			s.notifyRenewal(&company)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	company.SecurityCode = newCode
	return &company, nil
}

func (s *Service) notifyRenewal(company *models.Company) {
	admins, err := s.companyAdmins(company.ID)
	if err != nil {
		logger.Get().WithError(err).Warn("impossible de notifier les administrateurs")
		return
	}
	for _, admin := range admins {
		mailer.SendMail(mailer.Mail{
			To:      []string{admin.Email},
			Subject: fmt.Sprintf("Le code signature de %s a été renouvelé", company.Name),
			Body: fmt.Sprintf("Le code signature de l'établissement %s (%s) a été renouvelé. L'ancien code n'est plus valable.",
				company.Name, company.OrgID),
		})
	}
}

func (s *Service) companyAdmins(companyID uint) ([]models.User, error) {
	var admins []models.User
	err := s.DB.
		Joins("JOIN company_associations ON company_associations.user_id = users.id").
		Where("company_associations.company_id = ? AND company_associations.role = ? AND company_associations.deleted_at IS NULL", companyID, models.RoleAdmin).
		Find(&admins).Error
	return admins, err
}

// SendVerificationLetters envoie par courrier postal leur code de
// vérification aux établissements en attente de vérification manuelle,
// une seule fois chacun. Idempotent : relançable par un script planifié.
func (s *Service) SendVerificationLetters(ctx context.Context) (int64, error) {
	var pending []models.Company
	err := s.DB.
		Where("verified = ? AND verification_letter_sent_at IS NULL", false).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	var sent int64
	for i := range pending {
		company := &pending[i]

		code := company.VerificationCode
		if code == "" {
			code = utils.RandomCode(5)
		}

		err := txn.Run(s.DB, func(t *txn.Tx) error {
			if err := t.DB.Model(company).Updates(map[string]any{
				"verification_code":           code,
				"verification_letter_sent_at": time.Now(),
			}).Error; err != nil {
				return err
			}

			event := models.Event{
				StreamID: company.OrgID,
				Type:     models.EventVerificationLetterSent,
				Data:     datatypes.JSONMap{},
			}
			if err := t.DB.Create(&event).Error; err != nil {
				return err
			}

			t.AddAfterCommit(func() {
				mailer.SendLetter(ctx, s.Redis, mailer.Letter{
					CompanyOrgID: company.OrgID,
					CompanyName:  company.Name,
					Code:         code,
				})
			})
			return nil
		})
		if err != nil {
			logger.Get().WithError(err).WithField("org_id", company.OrgID).Error("échec de l'envoi du courrier de vérification")
			continue
		}
		sent++
	}
	return sent, nil
}
