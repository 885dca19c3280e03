package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/config"
	"github.com/hackgods/medical-appointment-platform/internal/db"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	_ = godotenv.Load()
	logger := config.NewLogger(os.Stdout, os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With().Str("service", "seed").Logger()

	var dsn string
	rootCmd := &cobra.Command{
		Use:          "seed",
		Short:        "Populate a database with demo tenants, people and schedules",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string")

	withPool := func(cmd *cobra.Command, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
		if dsn == "" {
			return fmt.Errorf("--dsn or POSTGRES_DSN is required")
		}
		ctx := cmd.Context()
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(connCtx, dsn, db.PoolOptions{})
		cancel()
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, pool)
	}

	var demo demoOptions
	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Create tenants with a clinic, rooms, doctors and patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, pool *pgxpool.Pool) error {
				return seedDemo(ctx, pool, demo, logger)
			})
		},
	}
	demoCmd.Flags().IntVar(&demo.Tenants, "tenants", 2, "number of tenants")
	demoCmd.Flags().IntVar(&demo.Rooms, "rooms", 3, "rooms per tenant")
	demoCmd.Flags().IntVar(&demo.Doctors, "doctors", 5, "doctors per tenant")
	demoCmd.Flags().IntVar(&demo.Patients, "patients", 200, "patients per tenant")
	demoCmd.Flags().Int64Var(&demo.Seed, "seed", 0, "faker seed, 0 for random")

	var sched scheduleOptions
	schedulesCmd := &cobra.Command{
		Use:   "schedules",
		Short: "Create recurring weekday slots for every doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sched.parse(); err != nil {
				return err
			}
			return withPool(cmd, func(ctx context.Context, pool *pgxpool.Pool) error {
				return seedSchedules(ctx, pool, sched, logger)
			})
		},
	}
	schedulesCmd.Flags().StringVar(&sched.StartDate, "start", time.Now().Format("2006-01-02"), "first date (YYYY-MM-DD)")
	schedulesCmd.Flags().IntVar(&sched.Days, "days", 14, "number of calendar days")
	schedulesCmd.Flags().StringVar(&sched.DayStart, "from", "08:00", "first slot start")
	schedulesCmd.Flags().StringVar(&sched.DayEnd, "to", "17:00", "last slot end")
	schedulesCmd.Flags().IntVar(&sched.SlotMinutes, "slot", 30, "slot length in minutes")
	schedulesCmd.Flags().Int64Var(&sched.TenantID, "tenant", 0, "only this tenant, 0 for all")

	rootCmd.AddCommand(demoCmd, schedulesCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type demoOptions struct {
	Tenants  int
	Rooms    int
	Doctors  int
	Patients int
	Seed     int64
}

func seedDemo(ctx context.Context, pool *pgxpool.Pool, opts demoOptions, logger zerolog.Logger) error {
	faker := gofakeit.New(uint64(opts.Seed))
	if opts.Seed == 0 {
		faker = gofakeit.New(uint64(time.Now().UnixNano()))
	}

	for t := 0; t < opts.Tenants; t++ {
		tenantID, err := seedTenant(ctx, pool, faker, opts)
		if err != nil {
			return fmt.Errorf("seed tenant: %w", err)
		}
		logger.Info().Int64("tenant_id", tenantID).Msg("tenant structure seeded")

		if err := seedPatients(ctx, pool, faker, tenantID, opts.Patients); err != nil {
			return fmt.Errorf("seed patients for tenant %d: %w", tenantID, err)
		}
		logger.Info().Int64("tenant_id", tenantID).Int("patients", opts.Patients).Msg("patients seeded")
	}

	logger.Info().Msg("demo seed complete")
	return nil
}

func seedTenant(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, opts demoOptions) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var tenantID, clinicID int64
	if err := tx.QueryRow(ctx, `INSERT INTO tenants (name) VALUES ($1) RETURNING id`, faker.Company()).Scan(&tenantID); err != nil {
		return 0, err
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO clinics (tenant_id, name, address) VALUES ($1, $2, $3) RETURNING id
	`, tenantID, faker.Company()+" Clinic", faker.Address().Address).Scan(&clinicID); err != nil {
		return 0, err
	}

	rooms := make([]int64, 0, opts.Rooms)
	for i := 0; i < opts.Rooms; i++ {
		var id int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO rooms (tenant_id, clinic_id, name) VALUES ($1, $2, $3) RETURNING id
		`, tenantID, clinicID, fmt.Sprintf("Room %d", i+1)).Scan(&id); err != nil {
			return 0, err
		}
		rooms = append(rooms, id)
	}

	for i := 0; i < opts.Doctors; i++ {
		// some doctors float between rooms
		var roomID *int64
		if len(rooms) > 0 && i%3 != 2 {
			roomID = &rooms[i%len(rooms)]
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (tenant_id, first_name, last_name, specialty, room_id, phone, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, tenantID, faker.FirstName(), faker.LastName(), specialties[faker.Number(0, len(specialties)-1)],
			roomID, faker.Phone(), faker.Email()); err != nil {
			return 0, err
		}
	}

	return tenantID, tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, tenantID int64, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (tenant_id, first_name, last_name, document_number, phone_number, email)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (tenant_id, document_number) DO NOTHING
			`, tenantID, faker.FirstName(), faker.LastName(), faker.Numerify("1#########"),
				"+57"+faker.Numerify("3#########"), faker.Email())
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type scheduleOptions struct {
	StartDate   string
	Days        int
	DayStart    string
	DayEnd      string
	SlotMinutes int
	TenantID    int64

	start    time.Time
	dayStart appointment.Clock
	dayEnd   appointment.Clock
}

func (o *scheduleOptions) parse() error {
	var err error
	if o.start, err = time.Parse("2006-01-02", o.StartDate); err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	if o.dayStart, err = appointment.ParseClock(o.DayStart); err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	if o.dayEnd, err = appointment.ParseClock(o.DayEnd); err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	if o.SlotMinutes <= 0 || o.dayEnd <= o.dayStart {
		return fmt.Errorf("need --slot > 0 and --from before --to")
	}
	if o.Days <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	return nil
}

// slots lists the [start,end) pairs of one working day.
func (o *scheduleOptions) slots() [][2]appointment.Clock {
	var out [][2]appointment.Clock
	step := appointment.Clock(o.SlotMinutes)
	for c := o.dayStart; c+step <= o.dayEnd; c += step {
		out = append(out, [2]appointment.Clock{c, c + step})
	}
	return out
}

type doctorRow struct {
	id       int64
	tenantID int64
	roomID   *int64
}

func seedSchedules(ctx context.Context, pool *pgxpool.Pool, opts scheduleOptions, logger zerolog.Logger) error {
	rows, err := pool.Query(ctx, `
		SELECT id, tenant_id, room_id FROM doctors
		WHERE $1 = 0 OR tenant_id = $1
		ORDER BY id
	`, opts.TenantID)
	if err != nil {
		return fmt.Errorf("list doctors: %w", err)
	}
	doctors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (doctorRow, error) {
		var d doctorRow
		err := row.Scan(&d.id, &d.tenantID, &d.roomID)
		return d, err
	})
	if err != nil {
		return fmt.Errorf("scan doctors: %w", err)
	}

	day := opts.slots()
	created := 0
	for _, d := range doctors {
		batch := &pgx.Batch{}
		for i := 0; i < opts.Days; i++ {
			date := opts.start.AddDate(0, 0, i)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			for _, s := range day {
				batch.Queue(`
					INSERT INTO schedules (tenant_id, doctor_id, room_id, date, start_time, end_time, slot_minutes)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
					ON CONFLICT DO NOTHING
				`, d.tenantID, d.id, d.roomID, date, pgTime(s[0]), pgTime(s[1]), opts.SlotMinutes)
			}
		}
		if batch.Len() == 0 {
			continue
		}

		br := pool.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("insert schedules for doctor %d: %w", d.id, err)
			}
			created += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	logger.Info().Int("doctors", len(doctors)).Int("slots_created", created).Msg("schedules seeded")
	return nil
}

func pgTime(c appointment.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}
