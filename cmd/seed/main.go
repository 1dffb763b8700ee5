// Command main applies a seed fixture to the ZalupaSPB database.
package main

import (
	"context"
	"flag"
	"log"

	"zalupaspb/internal/bootstrap"
	"zalupaspb/internal/config"
	"zalupaspb/internal/seed"
)

func main() {
	file := flag.String("file", "", "Seed fixture to apply (defaults to SEED_FILE)")
	fakeUsers := flag.Int("fake-users", -1, "Override fake_users from the fixture")
	fakerSeed := flag.Int64("faker-seed", 0, "Seed for generated data (0 = random)")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}
	if *file != "" {
		cfg.SeedFile = *file
	}

	fx, err := seed.LoadFixture(cfg.SeedFile)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", cfg.SeedFile, err)
	}
	if *fakeUsers >= 0 {
		fx.FakeUsers = *fakeUsers
	}
	log.Printf("Fixture %s: %d staff, %d invite specs, %d key specs, %d fake users",
		cfg.SeedFile, len(fx.Staff), len(fx.Invites), len(fx.Keys), fx.FakeUsers)

	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	store, services := bootstrap.Services(cfg, db, rdb)

	report, err := seed.NewSeeder(store, services, seed.Options{FakerSeed: *fakerSeed}).Apply(context.Background(), fx)
	if report != nil {
		for _, acc := range report.Accounts {
			log.Printf("👤 %s (%s, ID %d)", acc.Username, acc.Role, acc.ID)
		}
		for _, code := range report.Invites {
			log.Printf("✉️  invite %s", code)
		}
		for _, code := range report.Keys {
			log.Printf("🔑 key %s", code)
		}
		if len(report.FakeUsers) > 0 {
			log.Printf("Generated %d members (password: %s)", len(report.FakeUsers), seed.FakePassword)
		}
	}
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done!")
}
