package permissions

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

func setup(t *testing.T) (*gorm.DB, *redis.Client) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return db, client
}

func TestGrantsAreAdditive(t *testing.T) {
	// Chaque niveau reprend l'intégralité du précédent.
	tiers := []models.UserRole{models.RoleReader, models.RoleDriver, models.RoleMember, models.RoleAdmin}
	for i := 1; i < len(tiers); i++ {
		for _, p := range grants[tiers[i-1]] {
			assert.True(t, Can(tiers[i], p), "%s devrait hériter de %s pour %s", tiers[i], tiers[i-1], p)
		}
	}
}

func TestCan(t *testing.T) {
	assert.True(t, Can(models.RoleReader, BsdCanRead))
	assert.False(t, Can(models.RoleReader, BsdCanSignEmission))
	assert.True(t, Can(models.RoleDriver, BsdCanSignTransport))
	assert.False(t, Can(models.RoleDriver, BsdCanCreate))
	assert.True(t, Can(models.RoleMember, BsdCanSignOperation))
	assert.False(t, Can(models.RoleMember, CompanyCanManageMembers))
	assert.True(t, Can(models.RoleAdmin, CompanyCanManageMembers))
}

func TestUserRolesCached(t *testing.T) {
	db, rdb := setup(t)
	ctx := context.Background()

	user := models.User{Name: "Jean", Email: "jean@example.org"}
	require.NoError(t, db.Create(&user).Error)
	company := models.Company{OrgID: "11111111111111", Name: "Société A"}
	require.NoError(t, db.Create(&company).Error)
	require.NoError(t, db.Create(&models.CompanyAssociation{
		UserID: user.ID, CompanyID: company.ID, Role: models.RoleMember,
	}).Error)

	roles, err := UserRoles(ctx, db, rdb, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, roles["11111111111111"])

	// Une écriture directe sans invalidation n'est pas visible : le cache
	// de 10 minutes sert la valeur précédente.
	require.NoError(t, db.Model(&models.CompanyAssociation{}).
		Where("user_id = ?", user.ID).Update("role", models.RoleAdmin).Error)

	roles, err = UserRoles(ctx, db, rdb, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, roles["11111111111111"])

	InvalidateRoles(ctx, rdb, user.ID)

	roles, err = UserRoles(ctx, db, rdb, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, roles["11111111111111"])
}

func TestCheckUserPermissionsAnyOf(t *testing.T) {
	db, rdb := setup(t)
	ctx := context.Background()

	user := models.User{Name: "Marie", Email: "marie@example.org"}
	require.NoError(t, db.Create(&user).Error)
	company := models.Company{OrgID: "22222222222222", Name: "Société B"}
	require.NoError(t, db.Create(&company).Error)
	require.NoError(t, db.Create(&models.CompanyAssociation{
		UserID: user.ID, CompanyID: company.ID, Role: models.RoleMember,
	}).Error)

	// Autorisé dès qu'un seul des établissements accorde la permission.
	err := CheckUserPermissions(ctx, db, rdb, &user,
		[]string{"33333333333333", "22222222222222"}, BsdCanCreate, "")
	assert.NoError(t, err)

	err = CheckUserPermissions(ctx, db, rdb, &user,
		[]string{"33333333333333"}, BsdCanCreate, "")
	var forbidden *utils.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestCheckUserIsAdminBypass(t *testing.T) {
	db, rdb := setup(t)
	ctx := context.Background()

	agent := models.User{Name: "Agent", Email: "agent@example.org", IsAdmin: true}
	require.NoError(t, db.Create(&agent).Error)

	err := CheckUserIsAdminOrPermissions(ctx, db, rdb, &agent,
		[]string{"44444444444444"}, CompanyCanManageMembers, "")
	assert.NoError(t, err)
}
