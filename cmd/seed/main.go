package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neuroclinic/scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(context.Background(), pool, 8)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedFamilies(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed families: %v", err)
	}
	if err := seedWeeklyRules(context.Background(), pool, providerIDs); err != nil {
		log.Fatalf("seed weekly rules: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"Pediatric Neurology",
		"Epileptology",
		"Clinical Neurophysiology",
		"Developmental Pediatrics",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

// seedFamilies creates parent/patient pairs; roughly a third of parents get
// no phone so SMS-less paths show up in dev.
func seedFamilies(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d families", count)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			parentID := uuid.New()
			var phone *string
			if gofakeit.Number(0, 2) > 0 {
				p := gofakeit.Phone()
				phone = &p
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO parents (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, parentID, gofakeit.Name(), gofakeit.Email(), phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			dob := gofakeit.DateRange(
				time.Now().AddDate(-17, 0, 0),
				time.Now().AddDate(-1, 0, 0),
			)
			_, err = tx.Exec(ctx, `
				INSERT INTO patients (id, parent_id, name, date_of_birth, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), parentID, gofakeit.Name(), dob)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("families seeded: %d/%d", end, count)
	}

	log.Println("families seeded")
	return nil
}

// seedWeeklyRules gives every provider a Mon-Fri 09:00-17:00 schedule with
// the weekend disabled.
func seedWeeklyRules(ctx context.Context, pool *pgxpool.Pool, providerIDs []uuid.UUID) error {
	log.Printf("seeding weekly rules for %d providers", len(providerIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, providerID := range providerIDs {
		for weekday := 0; weekday <= 6; weekday++ {
			enabled := weekday >= 1 && weekday <= 5
			_, err := tx.Exec(ctx, `
				INSERT INTO weekly_rules (provider_id, weekday, start_time, end_time, enabled, updated_at)
				VALUES ($1, $2, '09:00', '17:00', $3, now())
			`, providerID, weekday, enabled)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("weekly rules seeded")
	return nil
}
