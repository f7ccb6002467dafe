package database

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitTestDB swaps DB for an in-memory sqlite instance. Shared cache so
// concurrent test goroutines see one database.
func InitTestDB() {
	var err error
	DB, err = gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic("failed to connect test database")
	}

	// A single connection serializes concurrent test transactions;
	// shared-cache sqlite returns SQLITE_LOCKED instead of waiting when
	// two connections contend.
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := migrate(DB); err != nil {
		panic("failed to migrate test database")
	}
}

func CleanTestDB() {
	sqlDB, err := DB.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
