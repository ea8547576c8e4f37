// Package shelltool implements shell_tool: runs a shell command confined
// to the workspace root, ported from the teacher's
// v2/tool/commandtool/command.go (its allow/deny command lists and
// deny-pattern regexes now live in pkg/risk as
// DefaultDeniedShellCommands/DefaultDeniedShellPatterns) and adapted from
// CommandTool's streaming CallStreaming to a single synchronous Call,
// since the scheduler only drives tool.CallableTool.
package shelltool

import (
	"bytes"
	"os/exec"
	"strings"
	"time"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Config configures the shell_tool.
type Config struct {
	Risk *risk.Evaluator
	// Timeout bounds a single command's execution; 0 means the package
	// default of 5 minutes, matching commandtool's default.
	Timeout time.Duration
}

// Tool runs a shell command via "sh -c" within the workspace root.
type Tool struct {
	cfg Config
}

// New constructs a shell_tool Tool.
func New(cfg Config) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Tool{cfg: cfg}
}

func (t *Tool) Name() string { return "shell_tool" }

func (t *Tool) Description() string {
	return "Execute a shell command within the workspace root, subject to a deny-list of dangerous commands and patterns."
}

func (t *Tool) Capabilities() []types.Capability {
	return []types.Capability{types.CapModify}
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to execute"},
		},
		"required": []string{"command"},
	}
}

// AssessRisk implements tool.RiskAssessor.
func (t *Tool) AssessRisk(args map[string]any) types.RiskAssessment {
	command, _ := args["command"].(string)
	return t.cfg.Risk.EvaluateShellCommand(command)
}

// DefaultTimeout implements tool.DefaultTimeouter.
func (t *Tool) DefaultTimeout() time.Duration { return t.cfg.Timeout }

func (t *Tool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	command, ok := args["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "command is required")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = ctx.WorkspaceRoot()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	result := &tool.Result{Content: map[string]any{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": elapsed.Milliseconds(),
	}}
	// A non-zero exit surfaces as a tool-level Error (reported to the
	// model as a FunctionResponse error) rather than a Go error, unless
	// the command was cancelled — in that case the scheduler's own
	// cancellation handling around ctx.Err() takes precedence.
	if runErr != nil && ctx.Err() == nil {
		result.Error = runErr.Error()
	}
	return result, nil
}

var (
	_ tool.CallableTool     = (*Tool)(nil)
	_ tool.RiskAssessor     = (*Tool)(nil)
	_ tool.DefaultTimeouter = (*Tool)(nil)
)
