package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/logger"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

// Permission est une action autorisée par un rôle.
type Permission string

const (
	BsdCanRead   Permission = "BsdCanRead"
	BsdCanList   Permission = "BsdCanList"
	BsdCanCreate Permission = "BsdCanCreate"
	BsdCanUpdate Permission = "BsdCanUpdate"
	BsdCanDelete Permission = "BsdCanDelete"

	BsdCanSignEmission  Permission = "BsdCanSignEmission"
	BsdCanSignWork      Permission = "BsdCanSignWork"
	BsdCanSignTransport Permission = "BsdCanSignTransport"
	BsdCanSignReception Permission = "BsdCanSignReception"
	BsdCanSignOperation Permission = "BsdCanSignOperation"

	RevisionCanRead    Permission = "BsdCanReadRevisionRequest"
	RevisionCanCreate  Permission = "BsdCanCreateRevisionRequest"
	RevisionCanApprove Permission = "BsdCanApproveRevisionRequest"

	CompanyCanRead                      Permission = "CompanyCanRead"
	CompanyCanManageMembers             Permission = "CompanyCanManageMembers"
	CompanyCanRenewSecurityCode         Permission = "CompanyCanRenewSecurityCode"
	CompanyCanVerify                    Permission = "CompanyCanVerify"
	CompanyCanManageSignatureAutomation Permission = "CompanyCanManageSignatureAutomation"
)

// Table statique rôle → permissions. Chaque niveau reprend le précédent.
var (
	readerPermissions = []Permission{
		BsdCanRead,
		BsdCanList,
		RevisionCanRead,
		CompanyCanRead,
	}

	driverPermissions = append(append([]Permission{}, readerPermissions...),
		BsdCanSignTransport,
	)

	memberPermissions = append(append([]Permission{}, driverPermissions...),
		BsdCanCreate,
		BsdCanUpdate,
		BsdCanDelete,
		BsdCanSignEmission,
		BsdCanSignWork,
		BsdCanSignReception,
		BsdCanSignOperation,
		RevisionCanCreate,
		RevisionCanApprove,
	)

	adminPermissions = append(append([]Permission{}, memberPermissions...),
		CompanyCanManageMembers,
		CompanyCanRenewSecurityCode,
		CompanyCanVerify,
		CompanyCanManageSignatureAutomation,
	)

	grants = map[models.UserRole][]Permission{
		models.RoleReader: readerPermissions,
		models.RoleDriver: driverPermissions,
		models.RoleMember: memberPermissions,
		models.RoleAdmin:  adminPermissions,
	}
)

// Can indique si le rôle accorde la permission. Consultation pure.
func Can(role models.UserRole, permission Permission) bool {
	for _, p := range grants[role] {
		if p == permission {
			return true
		}
	}
	return false
}

const rolesCacheTTL = 10 * time.Minute

func rolesCacheKey(userID uint) string {
	return fmt.Sprintf("user-roles:%d", userID)
}

// UserRoles renvoie la carte orgID → rôle de l'utilisateur, mise en cache
// 10 minutes dans Redis. Le cache est invalidé à chaque écriture
// d'association (voir InvalidateRoles).
func UserRoles(ctx context.Context, db *gorm.DB, rdb *redis.Client, userID uint) (map[string]models.UserRole, error) {
	key := rolesCacheKey(userID)

	if cached, err := rdb.Get(ctx, key).Result(); err == nil {
		roles := map[string]models.UserRole{}
		if err := json.Unmarshal([]byte(cached), &roles); err == nil {
			return roles, nil
		}
	}

	var associations []models.CompanyAssociation
	if err := db.Preload("Company").Where("user_id = ?", userID).Find(&associations).Error; err != nil {
		return nil, err
	}

	roles := make(map[string]models.UserRole, len(associations))
	for _, a := range associations {
		roles[a.Company.OrgID] = a.Role
	}

	if payload, err := json.Marshal(roles); err == nil {
		if err := rdb.Set(ctx, key, payload, rolesCacheTTL).Err(); err != nil {
			logger.Get().WithError(err).Warn("échec d'écriture du cache des rôles")
		}
	}

	return roles, nil
}

// InvalidateRoles purge le cache après une modification d'association.
func InvalidateRoles(ctx context.Context, rdb *redis.Client, userID uint) {
	if err := rdb.Del(ctx, rolesCacheKey(userID)).Err(); err != nil {
		logger.Get().WithError(err).Warn("échec d'invalidation du cache des rôles")
	}
}

// CheckUserPermissions réussit si l'un des orgIDs fournis accorde la
// permission à l'utilisateur. Sémantique "au moins un" : un bordereau qui
// mentionne plusieurs établissements autorise l'acteur dès qu'il a le droit
// dans l'un d'eux.
func CheckUserPermissions(ctx context.Context, db *gorm.DB, rdb *redis.Client, user *models.User, orgIDs []string, permission Permission, message string) error {
	roles, err := UserRoles(ctx, db, rdb, user.ID)
	if err != nil {
		return err
	}
	for _, orgID := range orgIDs {
		role, ok := roles[orgID]
		if ok && Can(role, permission) {
			return nil
		}
	}
	if message == "" {
		message = "Vous n'êtes pas autorisé à effectuer cette action"
	}
	return utils.NewForbiddenError("%s", message)
}

// CheckUserIsAdminOrPermissions ajoute le passe-droit des agents de la
// plateforme au contrôle ci-dessus.
func CheckUserIsAdminOrPermissions(ctx context.Context, db *gorm.DB, rdb *redis.Client, user *models.User, orgIDs []string, permission Permission, message string) error {
	if user.IsAdmin {
		return nil
	}
	return CheckUserPermissions(ctx, db, rdb, user, orgIDs, permission, message)
}
