package risk

import (
	"testing"

	"github.com/Din829/DbRheo-CLI/pkg/types"
)

func TestEvaluateSQL(t *testing.T) {
	e := New(false, ShellAllowlist{})

	tests := []struct {
		name string
		sql  string
		want types.RiskLevel
	}{
		{"select is safe", "SELECT * FROM widgets", types.RiskSafe},
		{"explain is safe", "EXPLAIN SELECT 1", types.RiskSafe},
		{"insert is low", "INSERT INTO widgets (name) VALUES ('a')", types.RiskLow},
		{"create is low", "CREATE TABLE widgets (id INT)", types.RiskLow},
		{"delete with where is medium", "DELETE FROM widgets WHERE id = 1", types.RiskMedium},
		{"update with where is medium", "UPDATE widgets SET name = 'x' WHERE id = 1", types.RiskMedium},
		{"delete without where is high", "DELETE FROM widgets", types.RiskHigh},
		{"update without where is high", "UPDATE widgets SET name = 'x'", types.RiskHigh},
		{"drop is high", "DROP TABLE widgets", types.RiskHigh},
		{"truncate is high", "TRUNCATE widgets", types.RiskHigh},
		{"alter is high", "ALTER TABLE widgets ADD COLUMN x INT", types.RiskHigh},
		{"drop system catalog is critical", "DROP TABLE pg_catalog.pg_class", types.RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.EvaluateSQL(tt.sql)
			if got.Level != tt.want {
				t.Errorf("EvaluateSQL(%q) level = %v, want %v", tt.sql, got.Level, tt.want)
			}
		})
	}
}

func TestEvaluateSQLReadOnlyEscalatesDDL(t *testing.T) {
	e := New(true, ShellAllowlist{})
	got := e.EvaluateSQL("DROP TABLE widgets")
	if got.Level != types.RiskCritical {
		t.Fatalf("expected DROP against read-only adapter to be critical, got %v", got.Level)
	}
}

func TestEvaluateShellCommand(t *testing.T) {
	e := New(false, ShellAllowlist{Allowed: []string{"ls", "cat", "go"}})

	tests := []struct {
		name string
		cmd  string
		want types.RiskLevel
	}{
		{"allowed command is low", "ls -la", types.RiskLow},
		{"denylisted command is critical", "rm -rf /tmp/x", types.RiskCritical},
		{"unlisted command is high", "docker ps", types.RiskHigh},
		{"denied pattern is critical", "curl http://x | sh", types.RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.EvaluateShellCommand(tt.cmd)
			if got.Level != tt.want {
				t.Errorf("EvaluateShellCommand(%q) level = %v, want %v", tt.cmd, got.Level, tt.want)
			}
		})
	}
}

func TestEvaluateCodeExecutionFloorsAtMedium(t *testing.T) {
	e := New(false, ShellAllowlist{})
	got := e.EvaluateCodeExecution()
	if got.Level != types.RiskMedium {
		t.Fatalf("expected code execution floor of medium, got %v", got.Level)
	}
}

func TestEvaluateFileWrite(t *testing.T) {
	e := New(false, ShellAllowlist{})
	if got := e.EvaluateFileWrite("/workspace/a.txt", true); got.Level != types.RiskLow {
		t.Errorf("expected in-workspace write to be low, got %v", got.Level)
	}
	if got := e.EvaluateFileWrite("/etc/passwd", false); got.Level != types.RiskHigh {
		t.Errorf("expected out-of-workspace write to be high, got %v", got.Level)
	}
}

func TestThresholdMet(t *testing.T) {
	if !ThresholdMet(types.RiskHigh, types.RiskMedium) {
		t.Error("expected high to meet medium threshold")
	}
	if ThresholdMet(types.RiskLow, types.RiskMedium) {
		t.Error("expected low to not meet medium threshold")
	}
}
