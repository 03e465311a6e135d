// Package testutil builds isolated databases, fixtures and HTTP helpers for tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"assetflow/internal/database"
	"assetflow/internal/model"
	"assetflow/internal/notify"
	"assetflow/internal/policy"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Password is the plain-text password of every seeded user.
const Password = "pass123"

// PNGDataURL is a 1x1 transparent PNG in the form browsers submit.
const PNGDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

var dbCounter atomic.Int64

// SetupTestDB opens a private in-memory sqlite database with the full schema.
// A single connection keeps the memory database alive and serialises writers like a row lock would.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:assetflow_test_%d?mode=memory&cache=shared&_foreign_keys=on", dbCounter.Add(1))
	db, err := database.Open(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

var (
	hashOnce sync.Once
	hash     []byte
)

func passwordHash(t *testing.T) string {
	hashOnce.Do(func() {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("Failed to hash password: %v", err)
		}
	})
	return string(hash)
}

// SeedUser creates a user with the given employee code and role. The email is derived from the code.
func SeedUser(t *testing.T, db *gorm.DB, code string, role policy.Role) *model.User {
	t.Helper()
	email := code + "@example.com"
	u := &model.User{
		EmployeeCode: code,
		Name:         "User " + code,
		Email:        &email,
		Role:         role.String(),
		PasswordHash: passwordHash(t),
		SalesOffice:  "SO-" + code,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("Failed to seed user %s: %v", code, err)
	}
	return u
}

// SeedDBUser creates a distributor login linked to d.
func SeedDBUser(t *testing.T, db *gorm.DB, code string, d *model.Distributor) *model.User {
	t.Helper()
	u := SeedUser(t, db, code, policy.RoleDB)
	u.DistributorID = &d.ID
	if err := db.Save(u).Error; err != nil {
		t.Fatalf("Failed to link DB user %s: %v", code, err)
	}
	return u
}

// SeedDistributor creates a distributor with optional SE, BM and RH assignments.
func SeedDistributor(t *testing.T, db *gorm.DB, code, name string, se, bm, rh *model.User) *model.Distributor {
	t.Helper()
	d := &model.Distributor{Code: code, Name: name, City: "City " + code, State: "State"}
	if se != nil {
		d.SEID = &se.ID
	}
	if bm != nil {
		d.BMID = &bm.ID
	}
	if rh != nil {
		d.RHID = &rh.ID
	}
	if err := db.Omit("SE", "BM", "RH").Create(d).Error; err != nil {
		t.Fatalf("Failed to seed distributor %s: %v", code, err)
	}
	return d
}

// ActorFor mirrors the identity a login would put in the session token.
func ActorFor(u *model.User) policy.Actor {
	role, _ := policy.ParseRole(u.Role)
	actor := policy.Actor{ID: u.ID, Role: role}
	if role == policy.RoleDB {
		actor.DistributorID = u.DistributorID
	}
	return actor
}

// RecordingNotifier keeps every published event.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *RecordingNotifier) Publish(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *RecordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// Last returns the most recent event, or false if nothing was published.
func (r *RecordingNotifier) Last() (notify.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return notify.Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// SetupRouter creates a bare gin engine in test mode.
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// DoRequest performs a JSON request against router. An empty token sends no Authorization header.
func DoRequest(t *testing.T, router http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// Envelope is the decoded response body.
type Envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

func Decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("Failed to decode response data: %v", err)
		}
	}
	return env
}
