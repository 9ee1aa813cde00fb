package records

import (
	"context"
	"fmt"
	"strings"

	"allowance/internal/core"
)

// Seeder is implemented by the local backends that can be filled from a Fixture.
type Seeder interface {
	SeedUser(ctx context.Context, u core.User, passwordHash string) error
	SeedRoute(ctx context.Context, r core.Route) error
	SeedCheckin(ctx context.Context, userID string, c core.CheckinRecord) error
	SeedClaim(ctx context.Context, userID string, c core.TravelClaim) error
	SeedMisc(ctx context.Context, userID string, m core.MiscClaim) error
}

// Seed normalizes every fixture record and writes it to dst. Passwords are
// hashed with auth before they are stored.
func Seed(ctx context.Context, f *Fixture, dst Seeder, auth *LocalAuth, n *Normalizer) error {
	for _, fu := range f.Users {
		u, err := fu.User()
		if err != nil {
			n.drop("user", fu.ID, err)
			continue
		}
		u.Email = strings.ToLower(strings.TrimSpace(u.Email))
		hash, err := auth.HashPassword(fu.Password)
		if err != nil {
			return err
		}
		if err := dst.SeedUser(ctx, u, hash); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, r := range n.Routes(f.Routes) {
		if err := dst.SeedRoute(ctx, r); err != nil {
			return fmt.Errorf("seed route %s: %w", r.ID, err)
		}
	}
	for userID, h := range f.Histories {
		hist := n.History(h)
		for _, c := range hist.Checkins {
			if err := dst.SeedCheckin(ctx, userID, c); err != nil {
				return fmt.Errorf("seed checkin for %s: %w", userID, err)
			}
		}
		for _, c := range hist.Claims {
			if err := dst.SeedClaim(ctx, userID, c); err != nil {
				return fmt.Errorf("seed claim for %s: %w", userID, err)
			}
		}
	}
	for userID, items := range f.Misc {
		for _, m := range n.Misc(items) {
			if err := dst.SeedMisc(ctx, userID, m); err != nil {
				return fmt.Errorf("seed misc claim for %s: %w", userID, err)
			}
		}
	}
	return nil
}
