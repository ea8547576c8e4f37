package config

import "testing"

func TestDefaultsCompressionThreshold(t *testing.T) {
	cfg := Defaults()
	if got := cfg.CompressionThresholdFrac(); got != 0.8 {
		t.Fatalf("expected default compression threshold 0.8, got %v", got)
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite", Database: "/tmp/app.db"},
			want: "/tmp/app.db",
		},
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgresql", Host: "db", Port: 5432, Database: "app", Username: "u", Password: "p", SSLMode: "disable"},
			want: "host=db port=5432 dbname=app user=u password=p sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mariadb", Host: "db", Port: 3306, Database: "app", Username: "u", Password: "p"},
			want: "u:p@tcp(db:3306)/app",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.DSN(); got != tc.want {
				t.Fatalf("DSN() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDatabaseConfigValidateRequiresHostForNonSQLite(t *testing.T) {
	cfg := DatabaseConfig{Driver: "postgres", Database: "app"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing host")
	}
}

func TestExpandEnvVarsWithDefault(t *testing.T) {
	t.Setenv("DBRHEO_TEST_VAR", "")
	got := expandEnvVars("${DBRHEO_TEST_VAR:-fallback}")
	if got != "fallback" {
		t.Fatalf("expandEnvVars() = %q, want fallback", got)
	}

	t.Setenv("DBRHEO_TEST_VAR", "set")
	got = expandEnvVars("${DBRHEO_TEST_VAR:-fallback}")
	if got != "set" {
		t.Fatalf("expandEnvVars() = %q, want set", got)
	}
}
