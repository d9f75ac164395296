// Command migrate applies the gateway's schema migrations. The DSN is
// taken from -db-url, then DATABASE_URL, then the individual DB_* vars,
// matching how the gateway itself resolves its database configuration.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	status := flag.Bool("status", false, "print the current schema version and exit")
	flag.Parse()

	m, err := migrate.New("file://"+*migrationsPath, resolveDSN(*dbURL))
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}
	defer m.Close()

	if *status {
		printVersion(m)
		return
	}

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	default:
		log.Fatalf("invalid direction: %s (use 'up' or 'down')", *direction)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration %s failed: %v", *direction, err)
	}
	printVersion(m)
}

func printVersion(m *migrate.Migrate) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("schema version: none (no migrations applied)")
		return
	}
	if dirty {
		fmt.Printf("schema version: %d (DIRTY, manual repair needed)\n", v)
		return
	}
	fmt.Printf("schema version: %d\n", v)
}

func resolveDSN(flagDSN string) string {
	if flagDSN != "" {
		return flagDSN
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env
	}
	host := envOrDefault("DB_HOST", "localhost")
	port := envOrDefault("DB_PORT", "5432")
	user := envOrDefault("DB_USER", "insight")
	pass := envOrDefault("DB_PASSWORD", "insight-dev")
	name := envOrDefault("DB_NAME", "insight")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
