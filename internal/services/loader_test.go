package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"allowance/internal/core"
	"allowance/internal/records"
)

func marchRecords() *fakeSource {
	return &fakeSource{
		histories: map[string]core.History{
			"u1": {
				Checkins: []core.CheckinRecord{
					{Date: core.NewDate(2024, 3, 1), Allowance: core.Money{Cents: 20000}, Condition: core.Headquarter},
					{Date: core.NewDate(2024, 2, 28), Allowance: core.Money{Cents: 30000}, Condition: core.ExStation},
				},
				Claims: []core.TravelClaim{{Date: core.NewDate(2024, 3, 2), RouteID: "r1", Amount: core.Money{Cents: 2500}}},
			},
		},
		misc: map[string][]core.MiscClaim{
			"u1": {{Date: core.NewDate(2024, 3, 3), Name: "Toll", Price: core.Money{Cents: 4000}, Status: core.ClaimPending}},
		},
		routes: []core.Route{{ID: "r1", From: "Pune", To: "Nashik", DistanceKm: 10}},
	}
}

func TestLoadCollections(t *testing.T) {
	src := marchRecords()
	c, err := LoadCollections(context.Background(), src, userSession("u1"), "u1")
	if err != nil {
		t.Fatalf("LoadCollections: %v", err)
	}
	if len(c.Checkins) != 2 || len(c.Claims) != 1 || len(c.Misc) != 1 {
		t.Fatalf("unexpected collections: %+v", c)
	}
	if src.historyCalls.Load() != 1 || src.miscCalls.Load() != 1 {
		t.Fatalf("expected one call per collection")
	}
}

func TestLoadCollections_FailureCancelsSibling(t *testing.T) {
	src := &fakeSource{historyErr: records.ErrUnauthorized, blockMisc: true}

	done := make(chan error, 1)
	go func() {
		_, err := LoadCollections(context.Background(), src, userSession("u1"), "u1")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, records.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked fetch was not cancelled")
	}
}

func TestAuthorize(t *testing.T) {
	if err := authorize(userSession("u1"), "u1"); err != nil {
		t.Fatalf("own records: %v", err)
	}
	if err := authorize(userSession("u1"), "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := authorize(adminSession(), "u2"); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if err := authorize(nil, "u1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("nil session: %v", err)
	}
}
