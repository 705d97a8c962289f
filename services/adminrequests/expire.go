package adminrequests

import (
	"context"
	"time"

	"github.com/MTES-MCT/trackdechets-sub030/logger"
	"github.com/MTES-MCT/trackdechets-sub030/models"
)

// Expire bascule en EXPIRED toutes les demandes PENDING plus anciennes que
// la durée d'expiration (14 jours par défaut). Purement temporel et
// idempotent : un second passage ne touche à rien, les statuts terminaux
// ne sont jamais visités. Invoqué par le ticker du serveur et réutilisable
// par un script planifié.
func (s *Service) Expire(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.Cfg.AdminRequestExpiry)

	result := s.DB.WithContext(ctx).
		Model(&models.AdminRequest{}).
		Where("status = ? AND created_at < ?", models.AdminRequestPending, cutoff).
		Update("status", models.AdminRequestExpired)
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		logger.Get().WithField("count", result.RowsAffected).Info("demandes d'administration expirées")
	}
	return result.RowsAffected, nil
}
