package orchestrators

import (
	"context"
	"log/slog"

	"inbox/internal/domain/user"
)

// SeedDemoDeps holds stores needed for demo profile seeding.
type SeedDemoDeps struct {
	ProfileStore interface {
		Upsert(ctx context.Context, p user.Profile) error
	}
}

// DemoProfiles returns the profiles seeded for local development.
func DemoProfiles() []user.Profile {
	return []user.Profile{
		{Summary: user.Summary{ID: "demo-ana", Name: "Ana Ribeiro", AvatarURL: "https://avatars.example.com/ana.png"}, Email: "ana@example.com"},
		{Summary: user.Summary{ID: "demo-ben", Name: "Ben Okafor", AvatarURL: "https://avatars.example.com/ben.png"}, Email: "ben@example.com"},
		{Summary: user.Summary{ID: "demo-chloe", Name: "Chloe Martin"}},
	}
}

// ExecuteSeedDemoProfiles upserts the demo profiles. Safe to run on every start.
// PRE: Database is migrated
// POST: Every DemoProfiles entry exists
func ExecuteSeedDemoProfiles(ctx context.Context, deps SeedDemoDeps) error {
	profiles := DemoProfiles()
	for _, p := range profiles {
		if err := deps.ProfileStore.Upsert(ctx, p); err != nil {
			return err
		}
	}
	slog.Info("seed_event", "event", "demo_profiles_seeded", "count", len(profiles))
	return nil
}
