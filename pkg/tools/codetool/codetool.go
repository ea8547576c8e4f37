// Package codetool implements code_exec_tool: writes a script to a
// temporary file under the workspace root and runs it with a configured
// interpreter, the same construction pattern as shelltool (itself ported
// from the teacher's v2/tool/commandtool/command.go) but always floored
// at medium risk via risk.Evaluator.EvaluateCodeExecution, per spec §4.H.
package codetool

import (
	"bytes"
	"os"
	"os/exec"
	"time"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Config configures the code_exec_tool.
type Config struct {
	Risk *risk.Evaluator
	// Interpreter is the binary invoked against the script file; empty
	// means "python3".
	Interpreter string
	// Timeout bounds a single execution; 0 means the package default of
	// 2 minutes.
	Timeout time.Duration
}

// Tool runs a short script through a configured interpreter.
type Tool struct {
	cfg Config
}

// New constructs a code_exec_tool Tool.
func New(cfg Config) *Tool {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Tool{cfg: cfg}
}

func (t *Tool) Name() string { return "code_exec_tool" }

func (t *Tool) Description() string {
	return "Execute a short script with the configured interpreter inside the workspace root. Always at least medium risk."
}

func (t *Tool) Capabilities() []types.Capability {
	return []types.Capability{types.CapTransform}
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{"type": "string", "description": "The script source to execute"},
		},
		"required": []string{"code"},
	}
}

// AssessRisk implements tool.RiskAssessor: code execution is always a
// floor of medium regardless of content, per spec §4.H.
func (t *Tool) AssessRisk(map[string]any) types.RiskAssessment {
	return t.cfg.Risk.EvaluateCodeExecution()
}

// DefaultTimeout implements tool.DefaultTimeouter.
func (t *Tool) DefaultTimeout() time.Duration { return t.cfg.Timeout }

func (t *Tool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	code, ok := args["code"].(string)
	if !ok || code == "" {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "code is required")
	}

	file, err := os.CreateTemp(ctx.WorkspaceRoot(), "dbrheo-script-*.tmp")
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "creating script file", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(code); err != nil {
		file.Close()
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "writing script file", err)
	}
	file.Close()

	cmd := exec.CommandContext(ctx, t.cfg.Interpreter, file.Name())
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
