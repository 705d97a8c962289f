package database

import (
	"log"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/models"
)

var DB *gorm.DB

func ConnectDB() {
	dsn := config.Load().DatabaseURL
	var dialector gorm.Dialector

	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case dsn != "":
		// Assume postgres DSN even without schema prefix
		dialector = postgres.Open(dsn)
	default:
		dbPath := "trackdechets.db"
		dialector = sqlite.Open(dbPath)
		dsn = dbPath
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("Erreur connexion DB:", err)
	}

	if err := Migrate(database); err != nil {
		log.Fatal("Erreur migration:", err)
	}

	DB = database
	log.Println("📦 DB connectée et migrée sur", dsn)
}

// Migrate applique le schéma. Exposé pour les tests (sqlite en mémoire).
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Company{},
		&models.CompanyAssociation{},
		&models.AdminRequest{},
		&models.Bsd{},
		&models.BsdTransporter{},
		&models.BsdSignature{},
		&models.RevisionRequest{},
		&models.RevisionApproval{},
		&models.Event{},
	)
}
