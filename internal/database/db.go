package database

import (
	"os"
	"path/filepath"
	"time"

	"omg-license-server/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens the sqlite database, migrates the schema, and seeds the
// bootstrap admin account for the dashboard if none exists yet.
func InitDB(dbPath, adminPassword string) {
	var err error
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	DB, err = gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("failed to open database")
	}

	if err := migrate(DB); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	var adminCount int64
	DB.Model(&model.User{}).Where("role = ?", "admin").Count(&adminCount)
	if adminCount == 0 {
		if adminPassword == "" {
			adminPassword = "admin"
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to hash bootstrap admin password")
		}
		admin := &model.User{
			Username:  "admin",
			Password:  string(hashed),
			Email:     "admin@example.com",
			Role:      "admin",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := DB.Create(admin).Error; err != nil {
			log.Fatal().Err(err).Msg("failed to create bootstrap admin account")
		}
		log.Info().Msg("created bootstrap admin account")
	}
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Customer{},
		&model.License{},
		&model.Seat{},
		&model.Subscription{},
		&model.AuditEntry{},
		&model.WebhookEvent{},
		&model.User{},
	)
}
