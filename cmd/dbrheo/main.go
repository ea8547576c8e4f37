// Command dbrheo is a thin CLI host for the DbRheo core: it wires config,
// the tool registry, the database adapters, the LLM factory, and a
// minimal terminal confirmation gate, then drives Client.SendMessageStream
// in a REPL loop. Grounded on the teacher's cmd/hector/main.go (kong-based
// CLI with a ServeCmd composing the runtime from config) and
// chat_direct.go (a bare stdin/stdout streaming REPL) — kept deliberately
// thin since CLI rendering is an out-of-scope external collaborator per
// the core's own spec; this is just enough terminal I/O to drive it.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/Din829/DbRheo-CLI/pkg/client"
	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
	_ "github.com/Din829/DbRheo-CLI/pkg/dbadapter/mysql"
	_ "github.com/Din829/DbRheo-CLI/pkg/dbadapter/postgres"
	_ "github.com/Din829/DbRheo-CLI/pkg/dbadapter/sqlite"
	"github.com/Din829/DbRheo-CLI/pkg/history"
	"github.com/Din829/DbRheo-CLI/pkg/httpclient"
	"github.com/Din829/DbRheo-CLI/pkg/llm"
	_ "github.com/Din829/DbRheo-CLI/pkg/llm/anthropic"
	_ "github.com/Din829/DbRheo-CLI/pkg/llm/gemini"
	_ "github.com/Din829/DbRheo-CLI/pkg/llm/openai"
	"github.com/Din829/DbRheo-CLI/pkg/nextspeaker"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/scheduler"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/tools/codetool"
	"github.com/Din829/DbRheo-CLI/pkg/tools/filetool"
	"github.com/Din829/DbRheo-CLI/pkg/tools/httptool"
	"github.com/Din829/DbRheo-CLI/pkg/tools/schematool"
	"github.com/Din829/DbRheo-CLI/pkg/tools/shelltool"
	"github.com/Din829/DbRheo-CLI/pkg/tools/sqltool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// CLI is the top-level kong command tree, mirroring the teacher's CLI
// struct shape (one subcommand per verb, global flags on the root).
type CLI struct {
	Chat    ChatCmd    `cmd:"" default:"1" help:"Start an interactive chat session."`
	Query   QueryCmd   `cmd:"" help:"Send a single message and exit."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to a workspace config file to load in addition to the layered defaults." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// ChatCmd starts the interactive REPL.
type ChatCmd struct{}

// QueryCmd sends a single message non-interactively.
type QueryCmd struct {
	Text string `arg:"" help:"The message to send."`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("dbrheo (dev)")
	return nil
}

func (c *ChatCmd) Run(cli *CLI) error {
	h, cleanup, err := newHost(cli)
	if err != nil {
		return err
	}
	defer cleanup()
	return h.repl()
}

func (c *QueryCmd) Run(cli *CLI) error {
	h, cleanup, err := newHost(cli)
	if err != nil {
		return err
	}
	defer cleanup()
	return h.send(c.Text)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("dbrheo"), kong.Description("DbRheo: a conversational database agent."))
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// host composes the wired core and the terminal I/O needed to drive it.
type host struct {
	cfg     *dbrheoconfig.Config
	cl      *client.Client
	out     *bufio.Writer
	in      *bufio.Reader
}

func initLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// newHost loads config and wires every core component together, the CLI
// analogue of the teacher's ServeCmd.Run composition step. It returns a
// cleanup func that closes every opened database connection and LLM
// transport.
func newHost(cli *CLI) (*host, func(), error) {
	initLogging(cli.LogLevel)

	cfg, err := dbrheoconfig.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	httpClient := httpclient.New(
		httpclient.WithMaxRetries(cfg.Retry.MaxAttempts),
		httpclient.WithBaseDelay(cfg.Retry.BaseDelay),
		httpclient.WithMaxDelay(cfg.Retry.MaxDelay),
	)

	llmFactory := llm.NewFactory()
	providerCfg, ok := cfg.LLMs[cfg.DefaultLLM]
	if !ok {
		providerCfg = &dbrheoconfig.LLMProviderConfig{Type: "", Model: cfg.Model}
	}
	providerCfg.SetDefaults()
	model, err := llmFactory.Get(cfg.DefaultLLM, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing LLM: %w", err)
	}

	adapterFactory := dbadapter.NewFactory()
	conns := dbadapter.NewConnectionManager(cfg.Databases, defaultDatabaseName(cfg), adapterFactory)
	txManager := dbadapter.NewTransactionManager()

	readOnly := false
	if dbCfg, ok := cfg.Databases[conns.Default()]; ok {
		readOnly = dbCfg.ReadOnly
	}
	evaluator := risk.New(readOnly, risk.ShellAllowlist{})

	registry := tool.NewToolRegistry()
	registerTools(registry, registryDeps{
		conns:     conns,
		tx:        txManager,
		evaluator: evaluator,
		http:      httpClient,
		workspace: cfg.WorkspaceRoot,
	})

	sched := scheduler.New(registry, evaluator, scheduler.Config{
		RiskThreshold: riskThreshold(cfg.RiskThreshold),
		AutoExecute:   cfg.AutoExecute,
		MaxConcurrent: cfg.MaxConcurrentTools,
	})
	sched.OnConfirmationRequired(terminalConfirmation)

	compressor := history.New(model, history.Config{
		Threshold:     cfg.CompressionThresholdFrac(),
		ContextWindow: cfg.ContextWindow,
		SummaryPrompt: cfg.Prompts.Compression,
	})

	cl := client.New(model, registry, sched, compressor, nextspeaker.Heuristic{}, client.Config{
		SystemInstruction: cfg.Prompts.System,
		WorkspaceRoot:      cfg.WorkspaceRoot,
		DefaultDatabase:    conns.Default(),
		MaxTurns:            cfg.MaxTurnsAllowed(),
	})

	h := &host{
		cfg: cfg,
		cl:  cl,
		out: bufio.NewWriter(os.Stdout),
		in:  bufio.NewReader(os.Stdin),
	}

	cleanup := func() {
		_ = adapterFactory.CloseAll()
		_ = model.Close()
	}
	return h, cleanup, nil
}

func defaultDatabaseName(cfg *dbrheoconfig.Config) string {
	if _, ok := cfg.Databases["default"]; ok {
		return "default"
	}
	for name := range cfg.Databases {
		return name
	}
	return ""
}

func riskThreshold(s string) types.RiskLevel {
	level, ok := types.ParseRiskLevel(s)
	if !ok {
		return types.RiskMedium
	}
	return level
}

type registryDeps struct {
	conns     *dbadapter.ConnectionManager
	tx        *dbadapter.TransactionManager
	evaluator *risk.Evaluator
	http      *httpclient.Client
	workspace string
}

// registerTools registers every built-in tool with its capability set and
// a default priority, mirroring how the teacher's builder wires tools
// into a ToolRegistry from config (pkg/builder).
func registerTools(registry *tool.ToolRegistry, deps registryDeps) {
	register := func(t tool.Tool, priority int, tags ...string) {
		tagSet := make(map[string]bool, len(tags))
		for _, tag := range tags {
			tagSet[tag] = true
		}
		caps := make(map[types.Capability]bool)
		for _, c := range t.Capabilities() {
			caps[c] = true
		}
		if err := registry.RegisterTool(t, types.ToolRegistration{
			Name:         t.Name(),
			Description:  t.Description(),
			Capabilities: caps,
			Tags:         tagSet,
			Priority:     priority,
			Enabled:      true,
		}); err != nil {
			slog.Error("failed to register tool", "name", t.Name(), "error", err)
		}
	}

	register(sqltool.New(sqltool.Config{Connections: deps.conns, Risk: deps.evaluator, Tx: deps.tx}), 100, "database")
	register(schematool.New(schematool.Config{Connections: deps.conns}), 90, "database")
	register(filetool.New(filetool.Config{WorkspaceRoot: deps.workspace, Risk: deps.evaluator}), 80, "filesystem")
	register(shelltool.New(shelltool.Config{Risk: deps.evaluator}), 50, "system")
	register(httptool.New(httptool.Config{Client: deps.http}), 50, "network")
	register(codetool.New(codetool.Config{Risk: deps.evaluator}), 40, "system")
}

// terminalConfirmation is the default confirmation gate: it blocks on a
// stdin y/n prompt, the terminal-I/O equivalent of the teacher's HITL
// approval prompt in v2/tool/approvaltool.
func terminalConfirmation(ctx context.Context, req scheduler.ConfirmationRequest) types.ConfirmationDecision {
	fmt.Fprintf(os.Stderr, "\n[%s] %s wants to run %q with risk=%s\n", req.CallID, req.Name, req.Name, req.Risk.Level)
	for _, reason := range req.Risk.Reasons {
		fmt.Fprintf(os.Stderr, "  - %s\n", reason)
	}
	fmt.Fprint(os.Stderr, "Approve? [y/N/a=approve and remember]: ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	switch line {
	case "y", "yes":
		return types.ConfirmationDecision{Approved: true}
	case "a", "always":
		return types.ConfirmationDecision{Approved: true, Remember: true}
	default:
		return types.ConfirmationDecision{Approved: false}
	}
}

// repl runs the interactive loop: read a line, send it, print the stream,
// repeat until /quit, EOF, or SIGINT/SIGTERM.
func (h *host) repl() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		h.cl.Interrupt()
	}()

	fmt.Fprintln(os.Stderr, "dbrheo ready. Type /quit to exit.")
	for {
		fmt.Fprint(os.Stderr, "> ")
		line, err := h.in.ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(os.Stderr, "/help, /model <name>, /database, /quit")
			continue
		}
		if err := h.send(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// send drives one SendMessageStream call to completion, rendering events
// to stdout/stderr.
func (h *host) send(text string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userContent := types.Content{Role: types.RoleUser, Parts: []types.Part{types.TextPart(text)}}
	for ev, err := range h.cl.SendMessageStream(ctx, userContent) {
		if err != nil {
			return err
		}
		h.renderEvent(ev)
	}
	_ = h.out.Flush()
	return nil
}

func (h *host) renderEvent(ev *client.Event) {
	switch ev.Kind {
	case client.EventText:
		h.out.WriteString(ev.Text)
		_ = h.out.Flush()
	case client.EventToolStart:
		fmt.Fprintf(os.Stderr, "\n[tool] %s %s started\n", ev.Name, ev.CallID)
	case client.EventToolAwaitingConfirmation:
		// terminalConfirmation already prompted synchronously; nothing
		// further to render here.
	case client.EventToolRunning:
		fmt.Fprintf(os.Stderr, "[tool] %s running\n", ev.Name)
	case client.EventToolFinished:
		status := "ok"
		if !ev.OK {
			status = "error"
		}
		fmt.Fprintf(os.Stderr, "[tool] %s finished (%s): %s\n", ev.Name, status, ev.Summary)
	case client.EventUsageUpdate:
		if ev.Usage != nil {
			slog.Debug("usage", "prompt", ev.Usage.PromptTokens, "completion", ev.Usage.CompletionTokens)
		}
	case client.EventError:
		fmt.Fprintf(os.Stderr, "\n[error] %s: %s\n", ev.ErrorKind, ev.ErrorMessage)
	case client.EventFinish:
		fmt.Fprintln(os.Stderr)
	}
}
