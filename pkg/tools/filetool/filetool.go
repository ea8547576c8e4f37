// Package filetool implements file_tool: read, write, and list files
// confined to a workspace root. Ported in shape from the teacher's
// pkg/tool/filetool (WriteFileConfig's size/extension/backup controls and
// validateWritePath's directory-traversal containment check), collapsed
// from three separate tools (read_file/write_file/search_replace) into a
// single tool dispatching on an "operation" argument, matching the
// singular file_tool name the scheduler registers.
package filetool

import (
	"os"
	"path/filepath"
	"strings"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Config configures the file_tool.
type Config struct {
	// WorkspaceRoot confines every relative path; resolved once at
	// construction so AssessRisk (which receives no Context) can classify
	// writes without depending on the per-call tool.Context.
	WorkspaceRoot string
	Risk          *risk.Evaluator
	// MaxFileSize caps write content length in bytes; 0 means the package
	// default of 1MiB.
	MaxFileSize int
}

// Tool reads, writes, and lists files under Config.WorkspaceRoot.
type Tool struct {
	cfg Config
}

// New constructs a file_tool Tool.
func New(cfg Config) *Tool {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 1 << 20
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = "."
	}
	return &Tool{cfg: cfg}
}

func (t *Tool) Name() string { return "file_tool" }

func (t *Tool) Description() string {
	return "Read, write, or list files confined to the workspace root."
}

// Capabilities declares CapWrite alongside CapRead/CapExplore even though
// a given call may only read, so the scheduler's static side-effect-free
// check (decided at registration, not per call) always treats file_tool
// as requiring serial execution.
func (t *Tool) Capabilities() []types.Capability {
	return []types.Capability{types.CapRead, types.CapWrite, types.CapExplore}
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string", "enum": []string{"read", "write", "list"},
				"description": "Which file operation to perform",
			},
			"path":    map[string]any{"type": "string", "description": "Path relative to the workspace root"},
			"content": map[string]any{"type": "string", "description": "Content to write; required when operation is write"},
		},
		"required": []string{"operation", "path"},
	}
}

// AssessRisk implements tool.RiskAssessor. Reads and listings are always
// safe; writes are classified by workspace containment.
func (t *Tool) AssessRisk(args map[string]any) types.RiskAssessment {
	if op, _ := args["operation"].(string); op != "write" {
		return types.RiskAssessment{Level: types.RiskSafe}
	}
	path, _ := args["path"].(string)
	_, within := t.resolve(path)
	return t.cfg.Risk.EvaluateFileWrite(path, within)
}

func (t *Tool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	op, _ := args["operation"].(string)
	path, _ := args["path"].(string)
	if path == "" {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "path is required")
	}
	full, within := t.resolve(path)
	if !within {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "path "+path+" escapes the workspace root")
	}

	switch op {
	case "read":
		return t.read(full)
	case "write":
		content, _ := args["content"].(string)
		return t.write(full, path, content)
	case "list":
		return t.list(full)
	default:
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "unknown operation "+op)
	}
}

// resolve joins path onto the workspace root and reports whether the
// result stays within it, the same containment check as the teacher's
// validateWritePath (no absolute paths, no ".." traversal, prefix check
// against the resolved root).
func (t *Tool) resolve(path string) (string, bool) {
	if filepath.IsAbs(path) {
		return "", false
	}
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", false
	}

	absRoot, err := filepath.Abs(t.cfg.WorkspaceRoot)
	if err != nil {
		return "", false
	}
	full := filepath.Join(absRoot, cleaned)
	if full != absRoot && !strings.HasPrefix(full, absRoot+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func (t *Tool) read(full string) (*tool.Result, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "reading file", err)
	}
	return &tool.Result{Content: map[string]any{"content": string(data), "size": len(data)}}, nil
}

func (t *Tool) write(full, relPath, content string) (*tool.Result, error) {
	if len(content) > t.cfg.MaxFileSize {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "content exceeds the maximum file size")
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "creating parent directory", err)
	}
	existed := false
	if _, err := os.Stat(full); err == nil {
		existed = true
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "writing file", err)
	}
	action := "created"
	if existed {
		action = "overwritten"
	}
	return &tool.Result{Content: map[string]any{"path": relPath, "size": len(content), "action": action}}, nil
}

func (t *Tool) list(full string) (*tool.Result, error) {
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "listing directory", err)
	}
	listed := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		listed = append(listed, map[string]any{"name": e.Name(), "dir": e.IsDir(), "size": size})
	}
	return &tool.Result{Content: map[string]any{"entries": listed}}, nil
}

var (
	_ tool.CallableTool = (*Tool)(nil)
	_ tool.RiskAssessor = (*Tool)(nil)
)
