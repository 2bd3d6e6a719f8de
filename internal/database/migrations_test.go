package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesVoteTypes(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&laws.Law{}, &laws.Attribution{}, &votes.Vote{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	imported := []votes.Vote{
		{LawID: 1, VoterID: "voter-a", VoteType: votes.Type(" UP "), CreatedAtSeconds: 1700000000},
		{LawID: 1, VoterID: "voter-b", VoteType: votes.TypeDown, CreatedAtSeconds: 1700000000},
		{LawID: 1, VoterID: "voter-c", VoteType: votes.Type("meh"), CreatedAtSeconds: 1700000000},
	}
	if err := database.Create(&imported).Error; err != nil {
		testContext.Fatalf("failed to insert votes: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored []votes.Vote
	if err := database.Order("voter_identifier ASC").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload votes: %v", err)
	}
	if len(stored) != 2 {
		testContext.Fatalf("expected unknown vote type to be dropped, got %+v", stored)
	}
	if stored[0].VoteType != votes.TypeUp || stored[1].VoteType != votes.TypeDown {
		testContext.Fatalf("unexpected vote types %+v", stored)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeVoteTypes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-running migrations should be a no-op: %v", err)
	}
}

func TestApplyMigrationsFoldsImportedSearchColumns(testContext *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "fold.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&laws.Law{}, &laws.Attribution{}, &votes.Vote{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	title := "Ärger"
	imported := laws.Law{Title: &title, Text: "Ärger's law: everything breaks on Friday.", Status: laws.StatusPublished, CreatedAtSeconds: 1700000000}
	raw := database.Session(&gorm.Session{SkipHooks: true})
	if err := raw.Create(&imported).Error; err != nil {
		testContext.Fatalf("failed to insert law: %v", err)
	}
	if err := raw.Create(&laws.Attribution{LawID: imported.ID, Name: "Émile Zola", ContactType: laws.ContactTypeText}).Error; err != nil {
		testContext.Fatalf("failed to insert attribution: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored laws.Law
	if err := database.Take(&stored, imported.ID).Error; err != nil {
		testContext.Fatalf("failed to reload law: %v", err)
	}
	if stored.TextFolded != "ärger's law: everything breaks on friday." || stored.TitleFolded != "ärger" {
		testContext.Fatalf("unexpected folded columns %q %q", stored.TextFolded, stored.TitleFolded)
	}
	var attribution laws.Attribution
	if err := database.Where("law_id = ?", imported.ID).Take(&attribution).Error; err != nil {
		testContext.Fatalf("failed to reload attribution: %v", err)
	}
	if attribution.NameFolded != "émile zola" {
		testContext.Fatalf("unexpected folded name %q", attribution.NameFolded)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "murphy.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"laws", "attributions", "categories", "law_categories", "votes", "law_of_the_day_history", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
}
