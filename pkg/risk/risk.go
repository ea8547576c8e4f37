// Package risk classifies pending tool calls into a RiskLevel. It is a
// pure function of (tool name, args, config) — no I/O, no side effects —
// generalizing the teacher's commandtool.DefaultDeniedCommands/
// DefaultDeniedPatterns allow/deny-list design (v2/tool/commandtool/
// command.go) from "block shell commands" into one evaluator covering SQL
// statement classification, shell commands, file-path confinement, and a
// flat floor for code execution.
package risk

import (
	"regexp"
	"strings"

	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// DefaultDeniedShellCommands mirrors the teacher's DefaultDeniedCommands —
// base commands that are always classified critical, whatever the
// whitelist says. The evaluator does not block them itself; the
// scheduler's confirmation gate decides whether they run.
var DefaultDeniedShellCommands = []string{
	"rm", "rmdir", "sudo", "su", "chmod", "chown",
	"dd", "mkfs", "fdisk", "mount", "umount",
	"kill", "killall", "pkill", "reboot", "shutdown",
	"passwd", "useradd", "userdel", "groupadd",
}

// DefaultDeniedShellPatterns mirrors the teacher's DefaultDeniedPatterns.
var DefaultDeniedShellPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-rf|-fr|--recursive)`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
	regexp.MustCompile(`wget.*\|\s*sh`),
	regexp.MustCompile(`curl.*\|\s*sh`),
	regexp.MustCompile(`eval\s*\$`),
	regexp.MustCompile(`\$\(.*\)\s*>\s*/`),
	regexp.MustCompile(`>\s*/etc/`),
	regexp.MustCompile(`chmod\s+777`),
	regexp.MustCompile(`--no-preserve-root`),
}

// sqlCatalogPrefixes identify system-catalog targets that escalate a
// destructive DDL statement from high to critical.
var sqlCatalogPrefixes = []string{
	"pg_catalog", "information_schema", "sqlite_master", "mysql.", "sys.",
}

// ShellAllowlist configures which shell commands are permitted outright.
// Empty means "allow anything not denied" — matching commandtool's
// DenyByDefault=false default.
type ShellAllowlist struct {
	Allowed []string
	Denied  []string
	Pattern []*regexp.Regexp
}

// Evaluator classifies pending tool calls. It holds no mutable state beyond
// its configuration, so a single Evaluator can be shared across concurrent
// scheduler dispatches.
type Evaluator struct {
	ReadOnly bool
	Shell    ShellAllowlist
}

// New constructs an Evaluator. readOnly marks whether the database the
// evaluator classifies SQL against is configured read-only (escalates
// DROP/TRUNCATE/ALTER to critical instead of high, per spec).
func New(readOnly bool, shell ShellAllowlist) *Evaluator {
	if len(shell.Denied) == 0 {
		shell.Denied = DefaultDeniedShellCommands
	}
	if len(shell.Pattern) == 0 {
		shell.Pattern = DefaultDeniedShellPatterns
	}
	return &Evaluator{ReadOnly: readOnly, Shell: shell}
}

// EvaluateSQL classifies a SQL statement per spec §4.H's heuristics: DROP/
// TRUNCATE/ALTER escalate to high (critical against a system catalog or a
// read-only adapter); DELETE/UPDATE without WHERE escalate to high, with
// WHERE to medium; INSERT/CREATE are low; pure SELECT/SHOW/EXPLAIN are safe.
func (e *Evaluator) EvaluateSQL(sql string) types.RiskAssessment {
	stmt := strings.TrimSpace(sql)
	token := firstToken(stmt)

	switch token {
	case "select", "show", "explain", "with", "describe", "desc":
		return types.RiskAssessment{Level: types.RiskSafe}

	case "drop", "truncate", "alter":
		level := types.RiskHigh
		reasons := []string{"statement is " + strings.ToUpper(token)}
		if e.ReadOnly || targetsSystemCatalog(stmt) {
			level = types.RiskCritical
			reasons = append(reasons, "target is a system catalog or adapter is read-only")
		}
		return types.RiskAssessment{Level: level, Reasons: reasons, RequiresConfirmation: true}

	case "delete", "update":
		if hasWhereClause(stmt) {
			return types.RiskAssessment{
				Level:                types.RiskMedium,
				Reasons:              []string{strings.ToUpper(token) + " with WHERE clause"},
				RequiresConfirmation: true,
			}
		}
		return types.RiskAssessment{
			Level:                types.RiskHigh,
			Reasons:              []string{strings.ToUpper(token) + " without WHERE clause affects all rows"},
			RequiresConfirmation: true,
		}

	case "insert", "create":
		return types.RiskAssessment{Level: types.RiskLow, Reasons: []string{strings.ToUpper(token) + " is non-destructive"}}

	default:
		return types.RiskAssessment{Level: types.RiskMedium, Reasons: []string{"unrecognized statement form"}}
	}
}

// EvaluateShellCommand classifies a shell command line per spec §4.H:
// denied commands/patterns are critical; commands outside the configured
// whitelist are high; otherwise low.
func (e *Evaluator) EvaluateShellCommand(command string) types.RiskAssessment {
	base := firstToken(command)

	for _, denied := range e.Shell.Denied {
		if base == strings.ToLower(denied) {
			return types.RiskAssessment{
				Level:                types.RiskCritical,
				Reasons:              []string{"command " + base + " is denylisted"},
				RequiresConfirmation: true,
			}
		}
	}
	for _, pattern := range e.Shell.Pattern {
		if pattern.MatchString(command) {
			return types.RiskAssessment{
				Level:                types.RiskCritical,
				Reasons:              []string{"command matches denied pattern " + pattern.String()},
				RequiresConfirmation: true,
			}
		}
	}

	if len(e.Shell.Allowed) > 0 && !contains(e.Shell.Allowed, base) {
		return types.RiskAssessment{
			Level:                types.RiskHigh,
			Reasons:              []string{"command " + base + " is outside the configured whitelist"},
			RequiresConfirmation: true,
		}
	}

	return types.RiskAssessment{Level: types.RiskLow}
}

// EvaluateCodeExecution always floors at medium, per spec §4.H.
func (e *Evaluator) EvaluateCodeExecution() types.RiskAssessment {
	return types.RiskAssessment{
		Level:                types.RiskMedium,
		Reasons:              []string{"code execution is always at least medium risk"},
		RequiresConfirmation: true,
	}
}

// EvaluateFileWrite classifies a file write by workspace confinement: a
// path resolving outside workspaceRoot is high risk.
func (e *Evaluator) EvaluateFileWrite(path string, withinWorkspace bool) types.RiskAssessment {
	if !withinWorkspace {
		return types.RiskAssessment{
			Level:                types.RiskHigh,
			Reasons:              []string{"path " + path + " is outside the workspace root"},
			RequiresConfirmation: true,
		}
	}
	return types.RiskAssessment{Level: types.RiskLow}
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if end < 0 {
		return strings.ToLower(s)
	}
	return strings.ToLower(s[:end])
}

func targetsSystemCatalog(stmt string) bool {
	lower := strings.ToLower(stmt)
	for _, prefix := range sqlCatalogPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

func hasWhereClause(stmt string) bool {
	lower := strings.ToLower(stmt)
	return strings.Contains(lower, " where ") || strings.HasSuffix(lower, " where")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.ToLower(item) == v {
			return true
		}
	}
	return false
}

// ThresholdMet reports whether level meets or exceeds the configured
// confirmation threshold, per spec's "risk ≥ threshold" scheduler gate.
func ThresholdMet(level, threshold types.RiskLevel) bool {
	return level >= threshold
}
