package infrastructure

import (
	"errors"
	"fmt"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"gorm.io/gorm"
)

// Migration is one ordered schema step. Up must be idempotent: a prior partial
// run may already have left the schema in the target shape.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

// schemaVersion holds the single stored schema version of the replica
type schemaVersion struct {
	ID        int `gorm:"primaryKey"`
	Version   int `gorm:"not null"`
	UpdatedAt time.Time
}

func (schemaVersion) TableName() string { return "schema_versions" }

// Table shapes as of the version that introduced them. Later steps alter
// them; they are never changed in place.

type resourceV1 struct {
	ResourceType string    `gorm:"primaryKey"`
	ResourceID   string    `gorm:"primaryKey"`
	Payload      []byte    `gorm:"type:blob"`
	ETag         string
	Version      int64
	FetchedAt    time.Time `gorm:"not null;index"`
}

func (resourceV1) TableName() string { return "resources" }

type downloadV2 struct {
	ID                   string `gorm:"primaryKey"`
	FileType             string `gorm:"not null"`
	CourseID             string `gorm:"not null;index"`
	ModuleID             string `gorm:"not null"`
	ItemID               string `gorm:"not null"`
	Status               string `gorm:"not null;index"`
	Title                string
	RemoteURI            string `gorm:"not null"`
	LocalPath            string
	BytesDownloadedSoFar int64
	TotalSizeBytes       int64 `gorm:"default:-1"`
	LastError            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

func (downloadV2) TableName() string { return "downloads" }

type preference struct {
	Name      string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (preference) TableName() string { return "preferences" }

// Migrations lists every schema step in order
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create resources",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable(&resourceV1{}) {
				return nil
			}
			return tx.Migrator().CreateTable(&resourceV1{})
		},
	},
	{
		Version: 2,
		Name:    "create downloads",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable(&downloadV2{}) {
				return nil
			}
			return tx.Migrator().CreateTable(&downloadV2{})
		},
	},
	{
		Version: 3,
		Name:    "add downloads remote etag",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn(&domain.Download{}, "RemoteETag") {
				return nil
			}
			return tx.Migrator().AddColumn(&domain.Download{}, "RemoteETag")
		},
	},
	{
		Version: 4,
		Name:    "create preferences",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable(&preference{}) {
				return nil
			}
			return tx.Migrator().CreateTable(&preference{})
		},
	},
}

// LatestSchemaVersion is the version a fully migrated replica reports
func LatestSchemaVersion(migrations []Migration) int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// Migrate applies every step newer than the stored version, each in its own
// transaction together with the version bump.
func Migrate(db *gorm.DB, migrations []Migration) error {
	if err := validateMigrations(migrations); err != nil {
		return &domain.SchemaMigrationError{Name: "validate", Err: err}
	}

	if !db.Migrator().HasTable(&schemaVersion{}) {
		if err := db.Migrator().CreateTable(&schemaVersion{}); err != nil {
			return &domain.SchemaMigrationError{Name: "create schema_versions", Err: err}
		}
	}

	current, err := readSchemaVersion(db)
	if err != nil {
		return &domain.SchemaMigrationError{Name: "read version", Err: err}
	}

	latest := LatestSchemaVersion(migrations)
	if current > latest {
		return &domain.SchemaMigrationError{
			Version: current,
			Name:    "downgrade",
			Err:     fmt.Errorf("stored schema version %d is newer than supported version %d", current, latest),
		}
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		step := m
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Save(&schemaVersion{ID: 1, Version: step.Version, UpdatedAt: time.Now()}).Error
		})
		if err != nil {
			return &domain.SchemaMigrationError{Version: step.Version, Name: step.Name, Err: err}
		}
		current = step.Version
	}

	return nil
}

func readSchemaVersion(db *gorm.DB) (int, error) {
	var row schemaVersion
	err := db.First(&row, "id = ?", 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.Version, nil
}

func validateMigrations(migrations []Migration) error {
	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			return fmt.Errorf("migration %q has version %d, expected greater than %d", m.Name, m.Version, prev)
		}
		if m.Up == nil {
			return fmt.Errorf("migration %d has no Up step", m.Version)
		}
		prev = m.Version
	}
	return nil
}
