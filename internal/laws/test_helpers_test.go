package laws

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const fixtureEpoch = int64(1700000000)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "laws.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Law{}, &Attribution{}, &Category{}, &LawCategory{}, &votes.Vote{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(fixtureEpoch+1000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

type lawFixture struct {
	Title     string
	Text      string
	Status    Status
	CreatedAt int64
}

func mustCreateLaw(t *testing.T, db *gorm.DB, fixture lawFixture) int64 {
	t.Helper()
	status := fixture.Status
	if status == "" {
		status = StatusPublished
	}
	createdAt := fixture.CreatedAt
	if createdAt == 0 {
		createdAt = fixtureEpoch
	}
	law := Law{
		Title:            optionalString(fixture.Title),
		Text:             fixture.Text,
		Status:           status,
		CreatedAtSeconds: createdAt,
	}
	if err := db.Create(&law).Error; err != nil {
		t.Fatalf("failed to create law: %v", err)
	}
	return law.ID
}

func mustVote(t *testing.T, db *gorm.DB, lawID int64, voteType votes.Type, count int, votedAt int64) {
	t.Helper()
	for index := 0; index < count; index++ {
		vote := votes.Vote{
			LawID:            lawID,
			VoterID:          fmt.Sprintf("%s-voter-%d-%d", voteType, lawID, index),
			VoteType:         voteType,
			CreatedAtSeconds: votedAt,
		}
		if err := db.Create(&vote).Error; err != nil {
			t.Fatalf("failed to create vote: %v", err)
		}
	}
}

func mustCreateCategory(t *testing.T, db *gorm.DB, slug, title string) int64 {
	t.Helper()
	category := Category{Slug: slug, Title: title}
	if err := db.Create(&category).Error; err != nil {
		t.Fatalf("failed to create category: %v", err)
	}
	return category.ID
}

func mustLinkCategory(t *testing.T, db *gorm.DB, lawID, categoryID int64) {
	t.Helper()
	if err := db.Create(&LawCategory{LawID: lawID, CategoryID: categoryID}).Error; err != nil {
		t.Fatalf("failed to link category: %v", err)
	}
}

func mustAttribute(t *testing.T, db *gorm.DB, lawID int64, name string) {
	t.Helper()
	attribution := Attribution{LawID: lawID, Name: name, ContactType: ContactTypeText}
	if err := db.Create(&attribution).Error; err != nil {
		t.Fatalf("failed to create attribution: %v", err)
	}
}

func lawIDs(items []LawView) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func assertIDs(t *testing.T, got []LawView, want ...int64) {
	t.Helper()
	gotIDs := lawIDs(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, gotIDs)
	}
	for index := range want {
		if gotIDs[index] != want[index] {
			t.Fatalf("expected ids %v, got %v", want, gotIDs)
		}
	}
}
