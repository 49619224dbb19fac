// Command seed fills the teams table with fake data for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predikto/predikto/internal/team"
)

func main() {
	var (
		count = flag.Int("count", 64, "number of teams to create")
		seed  = flag.Int64("seed", 0, "fake data seed, 0 means random")
	)
	flag.Parse()

	if err := run(*count, *seed); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run(count int, seed int64) error {
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN not set")
	}

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	ids, err := snowflake.NewNode(0)
	if err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}

	faker := gofakeit.New(seed)
	teams := team.NewService(team.Config{DB: db, IDs: ids})

	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s %s", faker.City(), faker.PetName())
		t, err := teams.CreateTeam(ctx, team.CreateTeamRequest{
			Name:        name,
			Description: faker.Sentence(8),
			PhotoURL:    faker.ImageURL(256, 256),
			CreatedBy:   1,
		})
		if err != nil {
			return fmt.Errorf("create team %q: %w", name, err)
		}
		log.Printf("created team %d %q", t.ID, t.Name)
	}

	return nil
}
