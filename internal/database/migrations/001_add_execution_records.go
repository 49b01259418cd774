package migrations

import (
	"github.com/papertrade/automation-api/internal/types"
	"gorm.io/gorm"
)

// AddExecutionRecords creates the immutable execution audit table ahead of
// the general automigrate so its indexes exist before the engine starts
// appending.
func AddExecutionRecords(db *gorm.DB) error {
	return db.AutoMigrate(&types.ExecutionRecord{})
}
