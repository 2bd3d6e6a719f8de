package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/daily"
	"github.com/MarcoPoloResearchLab/murphy/internal/database"
	"github.com/MarcoPoloResearchLab/murphy/internal/events"
	"github.com/MarcoPoloResearchLab/murphy/internal/feed"
	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var stackNow = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type testStack struct {
	db        *gorm.DB
	handler   http.Handler
	publisher *recordingPublisher
	voter     string
}

// newTestStack wires the real services over a temporary database. Callers
// may adjust deps before the handler is built.
func newTestStack(t *testing.T, adjust func(deps *Dependencies)) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := func() time.Time { return stackNow }
	lawService, err := laws.NewService(laws.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create law service: %v", err)
	}
	voteService, err := votes.NewService(votes.ServiceConfig{Database: db, Clock: clock, Laws: lawService})
	if err != nil {
		t.Fatalf("failed to create vote service: %v", err)
	}
	scheduler, err := daily.NewScheduler(daily.SchedulerConfig{
		History: daily.NewHistory(db, clock),
		Laws:    lawService,
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	builder, err := feed.NewBuilder(feed.Config{SiteURL: "https://laws.example.com", Title: "Laws", Clock: clock}, scheduler, lawService)
	if err != nil {
		t.Fatalf("failed to create feed builder: %v", err)
	}

	stack := &testStack{db: db, publisher: &recordingPublisher{}, voter: "198.51.100.7"}
	deps := Dependencies{
		Laws:          lawService,
		Votes:         voteService,
		Daily:         scheduler,
		Feed:          builder,
		Events:        stack.publisher,
		VoterIdentity: func(*gin.Context) string { return stack.voter },
		Clock:         clock,
	}
	if adjust != nil {
		adjust(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	stack.handler = handler
	return stack
}

func (s *testStack) mustLaw(t *testing.T, text string, status laws.Status, createdAt int64) int64 {
	t.Helper()
	law := laws.Law{Text: text, Status: status, CreatedAtSeconds: createdAt}
	if err := s.db.Create(&law).Error; err != nil {
		t.Fatalf("failed to create law: %v", err)
	}
	return law.ID
}

func (s *testStack) mustVotes(t *testing.T, lawID int64, voteType votes.Type, count int) {
	t.Helper()
	for index := 0; index < count; index++ {
		vote := votes.Vote{
			LawID:            lawID,
			VoterID:          fmt.Sprintf("seed-%d-%s-%d", lawID, voteType, index),
			VoteType:         voteType,
			CreatedAtSeconds: stackNow.Unix() - 60,
		}
		if err := s.db.Create(&vote).Error; err != nil {
			t.Fatalf("failed to create vote: %v", err)
		}
	}
}

func (s *testStack) mustAttribution(t *testing.T, lawID int64, name string) {
	t.Helper()
	attribution := laws.Attribution{LawID: lawID, Name: name, ContactType: laws.ContactTypeText}
	if err := s.db.Create(&attribution).Error; err != nil {
		t.Fatalf("failed to create attribution: %v", err)
	}
}

func (s *testStack) mustCategory(t *testing.T, slug, title string, lawIDs ...int64) int64 {
	t.Helper()
	category := laws.Category{Slug: slug, Title: title}
	if err := s.db.Create(&category).Error; err != nil {
		t.Fatalf("failed to create category: %v", err)
	}
	for _, lawID := range lawIDs {
		if err := s.db.Create(&laws.LawCategory{LawID: lawID, CategoryID: category.ID}).Error; err != nil {
			t.Fatalf("failed to link category: %v", err)
		}
	}
	return category.ID
}

func (s *testStack) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, s.handler, method, target, body)
}

func serve(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, recorder.Code, recorder.Body.String())
	}
}

func expectErrorCode(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, recorder, status)
	var payload map[string]any
	decode(t, recorder, &payload)
	if payload["error"] != code {
		t.Fatalf("expected error %q, got %v", code, payload["error"])
	}
}

func itoa(value int64) string {
	return strconv.FormatInt(value, 10)
}
