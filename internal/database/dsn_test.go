package database

import "testing"

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User: "taskflow",
		Name: "notifications",
	})
	if err != nil {
		t.Fatalf("buildPostgresDSN returned error: %v", err)
	}

	want := "host=localhost port=5432 user=taskflow dbname=notifications sslmode=disable"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "svc",
		Password: "secret",
		Name:     "taskflow",
		Options:  map[string]string{"sslmode": "require", "application_name": "notifier"},
	})
	if err != nil {
		t.Fatalf("buildPostgresDSN returned error: %v", err)
	}

	want := "host=db.internal port=5433 user=svc dbname=taskflow password=secret application_name=notifier sslmode=require"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildPostgresDSN(Config{}); err == nil {
		t.Fatal("expected error for missing user and database name")
	}
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "taskflow",
		Password: "pw",
		Name:     "notifications",
	})
	if err != nil {
		t.Fatalf("buildMySQLDSN returned error: %v", err)
	}

	want := "taskflow:pw@tcp(localhost:3306)/notifications?charset=utf8mb4&loc=Local&parseTime=True"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildMySQLDSN(Config{}); err == nil {
		t.Fatal("expected error for missing user and database name")
	}
}

func TestDSNOverrideWins(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://x"})
	if err != nil || dsn != "postgres://x" {
		t.Fatalf("expected DSN override, got %q err=%v", dsn, err)
	}
}
