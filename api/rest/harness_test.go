package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/api/rest"
	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/config"
	mw "github.com/kasuganosora/raidloot/server/middleware"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/acquisition"
	"github.com/kasuganosora/raidloot/server/raid/ledger"
	"github.com/kasuganosora/raidloot/server/raid/loot"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"github.com/kasuganosora/raidloot/server/raid/week"
	"github.com/kasuganosora/raidloot/server/scheduler"
	"github.com/kasuganosora/raidloot/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	roster.PinCost = bcrypt.MinCost
}

const opsKey = "ops-key"

type fakeGear map[string][]model.GearItem

func (f fakeGear) Fetch(_ context.Context, link string) ([]model.GearItem, error) {
	if items, ok := f[link]; ok {
		return items, nil
	}
	return nil, raid.NotFound("gearset", link)
}

type server struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
	dir    *roster.Directory
	weeks  *week.Ledger
	ledger *ledger.Ledger
	audit  *audit.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}

	dir := roster.NewDirectory(db, logger)
	store := acquisition.NewStore(db, dir)
	weeks := week.NewLedger(db)
	led := ledger.NewLedger(db)
	engine := loot.NewEngine(loot.Deps{
		Members: dir, States: store, Weeks: weeks, Ledger: led, Logger: logger, Floors: 4,
	})
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	gear := fakeGear{"planner-1": {
		{Slot: model.SlotWeapon, Kind: model.ItemKindRaid},
		{Slot: model.SlotHead, Kind: model.ItemKindAugmentedTome, RequiresUpgrade: true},
	}}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	rest.Register(r.Group("/api"), mw.Auth(sec, c, dir), mw.AdminGuard(opsKey, nil), rest.Handlers{
		Auth:        rest.NewAuthHandler(dir, c, sec, auditSvc, logger),
		Members:     rest.NewMemberHandler(dir, gear, auditSvc, logger),
		Acquisition: rest.NewAcquisitionHandler(engine, store, auditSvc, logger),
		Weeks:       rest.NewWeekHandler(weeks, engine, auditSvc, logger),
		Assignments: rest.NewAssignmentHandler(engine, led, dir, auditSvc, logger),
		Admin:       rest.NewAdminHandler(dir, engine, auditSvc, sched, logger),
	})
	return &server{t: t, router: r, db: db, dir: dir, weeks: weeks, ledger: led, audit: auditSvc}
}

// member creates a roster entry with perm and returns it with a session token.
func (s *server) member(name string, perm model.Permission) (*model.Member, string) {
	s.t.Helper()
	ctx := context.Background()
	m, pin, err := s.dir.Create(ctx, name, model.RoleDPS)
	require.NoError(s.t, err)
	if perm != model.PermissionUser {
		m, err = s.dir.SetPermission(ctx, m.ID, perm)
		require.NoError(s.t, err)
	}
	w := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"name": name, "pin": pin})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	decode(s.t, w, &out)
	return m, out.Token
}

func (s *server) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
