package companies

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

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

func setup(t *testing.T) (*Service, *redis.Client) {
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

	return NewService(db, client, config.Config{}), client
}

func userWithRole(t *testing.T, s *Service, email string, company *models.Company, role models.UserRole) *models.User {
	t.Helper()
	user := models.User{Name: email, Email: email}
	require.NoError(t, s.DB.Create(&user).Error)
	require.NoError(t, s.DB.Create(&models.CompanyAssociation{
		UserID: user.ID, CompanyID: company.ID, Role: role,
	}).Error)
	return &user
}

func TestRenewSecurityCode(t *testing.T) {
	s, _ := setup(t)

	company := models.Company{OrgID: "11111111111111", Name: "Exutoire", SecurityCode: 1234}
	require.NoError(t, s.DB.Create(&company).Error)
	admin := userWithRole(t, s, "admin@example.org", &company, models.RoleAdmin)

	renewed, err := s.RenewSecurityCode(context.Background(), admin, company.OrgID)
	require.NoError(t, err)
	assert.NotEqual(t, 1234, renewed.SecurityCode)
	assert.GreaterOrEqual(t, renewed.SecurityCode, 1000)
	assert.LessOrEqual(t, renewed.SecurityCode, 9999)

	var stored models.Company
	require.NoError(t, s.DB.First(&stored, company.ID).Error)
	assert.Equal(t, renewed.SecurityCode, stored.SecurityCode)

	var events int64
	s.DB.Model(&models.Event{}).
		Where("stream_id = ? AND type = ?", company.OrgID, models.EventSecurityCodeRenewed).
		Count(&events)
	assert.EqualValues(t, 1, events)
}

func TestRenewSecurityCodeRequiresAdmin(t *testing.T) {
	s, _ := setup(t)

	company := models.Company{OrgID: "11111111111111", Name: "Exutoire", SecurityCode: 1234}
	require.NoError(t, s.DB.Create(&company).Error)
	member := userWithRole(t, s, "membre@example.org", &company, models.RoleMember)

	_, err := s.RenewSecurityCode(context.Background(), member, company.OrgID)
	var forbidden *utils.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	var stored models.Company
	require.NoError(t, s.DB.First(&stored, company.ID).Error)
	assert.Equal(t, 1234, stored.SecurityCode)
}

func TestRenewSecurityCodeUnknownCompany(t *testing.T) {
	s, _ := setup(t)

	caller := &models.User{Name: "Quelqu'un", Email: "q@example.org"}
	require.NoError(t, s.DB.Create(caller).Error)

	_, err := s.RenewSecurityCode(context.Background(), caller, "99999999999999")
	var notFound *utils.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestSendVerificationLetters(t *testing.T) {
	s, client := setup(t)

	verified := models.Company{OrgID: "11111111111111", Name: "Vérifié", Verified: true}
	awaiting := models.Company{OrgID: "22222222222222", Name: "En attente"}
	require.NoError(t, s.DB.Create(&verified).Error)
	require.NoError(t, s.DB.Create(&awaiting).Error)

	sent, err := s.SendVerificationLetters(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, sent)

	queued, err := client.LLen(context.Background(), "queue:letters").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, queued)

	var stored models.Company
	require.NoError(t, s.DB.First(&stored, awaiting.ID).Error)
	assert.Len(t, stored.VerificationCode, 5)
	require.NotNil(t, stored.VerificationLetterSentAt)

	// Relance : aucun second courrier pour le même établissement.
	sent, err = s.SendVerificationLetters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	queued, err = client.LLen(context.Background(), "queue:letters").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, queued)
}
