package txn

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type record struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&record{}))
	return db
}

func TestAfterCommitRunsOnCommit(t *testing.T) {
	db := setupDB(t)

	ran := false
	err := Run(db, func(tx *Tx) error {
		if err := tx.DB.Create(&record{Name: "a"}).Error; err != nil {
			return err
		}
		tx.AddAfterCommit(func() { ran = true })
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	var count int64
	db.Model(&record{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestAfterCommitDiscardedOnRollback(t *testing.T) {
	db := setupDB(t)

	ran := false
	err := Run(db, func(tx *Tx) error {
		if err := tx.DB.Create(&record{Name: "a"}).Error; err != nil {
			return err
		}
		tx.AddAfterCommit(func() { ran = true })
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, ran, "un rollback ne doit exécuter aucun callback")

	var count int64
	db.Model(&record{}).Count(&count)
	assert.Zero(t, count)
}

func TestAfterCommitPanicIsContained(t *testing.T) {
	db := setupDB(t)

	second := false
	err := Run(db, func(tx *Tx) error {
		tx.AddAfterCommit(func() { panic("boom") })
		tx.AddAfterCommit(func() { second = true })
		return nil
	})
	require.NoError(t, err)
	assert.True(t, second, "une panique ne doit pas empêcher les callbacks suivants")
}
