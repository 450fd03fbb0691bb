package rest_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/raidloot/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeeks(t *testing.T) {
	s := newServer(t)
	_, lead := s.member("lead", model.PermissionManager)
	_, user := s.member("alice", model.PermissionUser)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/weeks/current", user, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/weeks", user, map[string]int{"number": 1}).Code)

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/weeks", lead, map[string]any{"number": 1, "set_current": true}).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/weeks", lead, map[string]int{"number": 2}).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/weeks", lead, map[string]int{"number": 2}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/weeks", lead, map[string]int{"number": 0}).Code)

	w := s.do(http.MethodGet, "/api/weeks/current", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cur model.Week
	decode(t, w, &cur)
	assert.Equal(t, 1, cur.Number)

	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/api/weeks/2/current", lead, nil).Code)
	decode(t, s.do(http.MethodGet, "/api/weeks/current", user, nil), &cur)
	assert.Equal(t, 2, cur.Number)

	var list struct {
		Weeks []model.Week `json:"weeks"`
	}
	decode(t, s.do(http.MethodGet, "/api/weeks", user, nil), &list)
	require.Len(t, list.Weeks, 2)
	current := 0
	for _, wk := range list.Weeks {
		if wk.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/api/weeks/9/current", lead, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodDelete, "/api/weeks/abc", lead, nil).Code)
}

func TestAssignmentFlow(t *testing.T) {
	s := newServer(t)
	_, lead := s.member("lead", model.PermissionManager)
	alice, aliceToken := s.member("alice", model.PermissionUser)
	bob, _ := s.member("bob", model.PermissionUser)
	ctx := context.Background()

	link := "L1"
	_, err := s.dir.SetBisLink(ctx, alice.ID, model.SpecMain, &link, []model.GearItem{{Slot: model.SlotHead, Kind: model.ItemKindRaid}})
	require.NoError(t, err)
	_, err = s.weeks.Create(ctx, 1)
	require.NoError(t, err)
	_, err = s.weeks.SetCurrent(ctx, 1)
	require.NoError(t, err)

	// resolve: alice needs the head
	w := s.do(http.MethodGet, "/api/assignments/resolve?floor=1&slot=Head", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Bucket     model.SpecType `json:"bucket"`
		Candidates []struct {
			MemberID string `json:"member_id"`
		} `json:"candidates"`
	}
	decode(t, w, &res)
	assert.Equal(t, model.SpecMain, res.Bucket)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, alice.ID, res.Candidates[0].MemberID)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/assignments/resolve?floor=1&material=gold", aliceToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/assignments/resolve?floor=9&slot=Head", aliceToken, nil).Code)

	body := map[string]any{"floor": 1, "slot": "Head", "member_id": alice.ID, "bucket": "MainSpec"}
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/assignments", aliceToken, body).Code)

	w = s.do(http.MethodPost, "/api/assignments", lead, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a model.LootAssignment
	decode(t, w, &a)
	assert.Equal(t, 1, a.WeekNumber)

	w = s.do(http.MethodPost, "/api/assignments", lead, body)
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict struct {
		ExistingID string `json:"existing_id"`
	}
	decode(t, w, &conflict)
	assert.Equal(t, a.ID, conflict.ExistingID)

	// two targets in one request
	bad := map[string]any{"floor": 1, "slot": "Head", "is_armor_material": true, "member_id": alice.ID, "bucket": "Extra"}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/assignments", lead, bad).Code)
	bad = map[string]any{"floor": 1, "slot": "Head", "member_id": alice.ID, "bucket": "Greed"}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/assignments", lead, bad).Code)
	bad = map[string]any{"floor": 2, "slot": "Head", "member_id": "missing", "bucket": "Extra"}
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/assignments", lead, bad).Code)

	// alice's head is now acquired, so nobody needs it
	decode(t, s.do(http.MethodGet, "/api/assignments/resolve?floor=1&slot=Head", aliceToken, nil), &res)
	assert.Equal(t, model.SpecExtra, res.Bucket)

	w = s.do(http.MethodPut, "/api/assignments/"+a.ID, lead, map[string]string{"member_id": bob.ID, "bucket": "Extra"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &a)
	assert.Equal(t, bob.ID, a.MemberID)

	decode(t, s.do(http.MethodGet, "/api/assignments/resolve?floor=1&slot=Head", aliceToken, nil), &res)
	assert.Equal(t, model.SpecMain, res.Bucket, "reassigning away restores alice's need")

	var list struct {
		Count int `json:"count"`
	}
	decode(t, s.do(http.MethodGet, "/api/assignments?week=1&floor=1", aliceToken, nil), &list)
	assert.Equal(t, 1, list.Count)
	decode(t, s.do(http.MethodGet, "/api/assignments?member_id="+bob.ID, aliceToken, nil), &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/assignments?floor=1", aliceToken, nil).Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/assignments/"+a.ID, lead, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/assignments/"+a.ID, aliceToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/assignments/"+a.ID, lead, nil).Code)
}

func TestAssignWithoutCurrentWeek(t *testing.T) {
	s := newServer(t)
	lead, token := s.member("lead", model.PermissionManager)
	body := map[string]any{"floor": 1, "is_upgrade_material": true, "member_id": lead.ID, "bucket": "Extra"}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/assignments", token, body).Code)
}

func TestDeleteWeekCascades(t *testing.T) {
	s := newServer(t)
	lead, token := s.member("lead", model.PermissionManager)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/weeks", token, map[string]any{"number": 3, "set_current": true}).Code)
	for _, floor := range []int{1, 2} {
		body := map[string]any{"floor": floor, "is_armor_material": true, "member_id": lead.ID, "bucket": "Extra"}
		require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/assignments", token, body).Code)
	}

	w := s.do(http.MethodDelete, "/api/weeks/3", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Removed int `json:"removed_assignments"`
	}
	decode(t, w, &out)
	assert.Equal(t, 2, out.Removed)

	left, err := s.ledger.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestExport(t *testing.T) {
	s := newServer(t)
	lead, token := s.member("lead", model.PermissionManager)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/weeks", token, map[string]any{"number": 1, "set_current": true}).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/assignments", token,
		map[string]any{"floor": 1, "slot": "Feet", "member_id": lead.ID, "bucket": "Extra"}).Code)

	w := s.do(http.MethodGet, "/api/assignments/export?week=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "assignments-week-1.xlsx")
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestAdminAndOps(t *testing.T) {
	s := newServer(t)
	_, admin := s.member("boss", model.PermissionAdministrator)
	alice, user := s.member("alice", model.PermissionUser)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/admin/audit", user, nil).Code)

	w := s.do(http.MethodPut, "/api/admin/members/"+alice.ID+"/permission", admin, map[string]string{"permission": "Manager"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var m model.Member
	decode(t, w, &m)
	assert.Equal(t, model.PermissionManager, m.Permission)
	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPut, "/api/admin/members/"+alice.ID+"/permission", admin, map[string]string{"permission": "God"}).Code)

	// audit entries are written asynchronously
	assert.Eventually(t, func() bool {
		logs, err := s.audit.Recent(context.Background(), "", 10)
		return err == nil && len(logs) > 0
	}, 5*time.Second, 50*time.Millisecond)
	w = s.do(http.MethodGet, "/api/admin/audit?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "member.set_permission")

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/ops/stats", "", nil).Code)
	w = s.do(http.MethodGet, "/api/ops/stats", "", nil, "X-Admin-Key", opsKey)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Members int64 `json:"members"`
	}
	decode(t, w, &stats)
	assert.Equal(t, int64(2), stats.Members)
}
