package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bizpilot/insight-gateway/internal/tenant"
)

func main() {
	tenantID := flag.String("tenant", "", "tenant ID the key is bound to (omit with -admin for cross-tenant keys)")
	name := flag.String("name", "", "human-friendly key name (required)")
	admin := flag.Bool("admin", false, "grant cross-tenant admin capability")
	memberships := flag.String("memberships", "", "comma-separated additional tenant IDs the key may read")
	env := flag.String("env", "prod", "environment prefix")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -name is required")
		os.Exit(1)
	}
	if *tenantID == "" && !*admin {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -tenant is required for non-admin keys")
		os.Exit(1)
	}

	rawKey, err := tenant.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	keyHash := tenant.HashKey(rawKey)
	keyPrefix := tenant.KeyPrefix(rawKey)

	dur, err := tenant.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		u := envOrDefault("DB_USER", "insight")
		pass := envOrDefault("DB_PASSWORD", "insight-dev")
		dbname := envOrDefault("DB_NAME", "insight")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", u, pass, host, port, dbname)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	var keyID string
	err = conn.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, name, tenant_id, cross_tenant_admin, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, keyHash, keyPrefix, *name, nilIfEmpty(*tenantID), *admin, expiresAt).Scan(&keyID)
	if err != nil {
		log.Fatalf("failed to insert key: %v", err)
	}

	for _, id := range splitList(*memberships) {
		if _, err := conn.Exec(ctx, `
			INSERT INTO tenant_memberships (key_id, tenant_id) VALUES ($1, $2)
		`, keyID, id); err != nil {
			log.Fatalf("failed to insert membership %s: %v", id, err)
		}
	}

	fmt.Println("=== Insight API Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:      %s\n", keyID)
	fmt.Printf("  Key Prefix:  %s\n", keyPrefix)
	if *tenantID != "" {
		fmt.Printf("  Tenant:      %s\n", *tenantID)
	}
	fmt.Printf("  Admin:       %v\n", *admin)
	fmt.Printf("  Expires:     %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  API Key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("=================================")
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
