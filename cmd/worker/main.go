// Command worker implements C8, the §4.8 worker process. It has three
// modes: an ad-hoc single-domain run for one analyzer (`landscape`,
// `passkey`, `login-trace`, `wildcard-receiver`), a broker consume loop
// (`serve <analyzer>`) that processes tasks off that analyzer's queue until
// interrupted, and a hidden `run-task` subcommand the consume loop's
// ProcessSupervisor re-execs into for per-task process isolation (§5).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/analyzer"
	"github.com/BetterCallFirewall/authlandscape/internal/broker"
	"github.com/BetterCallFirewall/authlandscape/internal/browser"
	"github.com/BetterCallFirewall/authlandscape/internal/config"
	"github.com/BetterCallFirewall/authlandscape/internal/idp/cookiestore"
	"github.com/BetterCallFirewall/authlandscape/internal/logging"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/worker"
)

// analyzerQueue maps each CLI subcommand to the broker queue name it
// consumes from/publishes to (§6 "one queue per analyzer type").
var analyzerQueue = map[string]string{
	"landscape":         "landscape_analysis",
	"passkey":           "passkey_analysis",
	"login-trace":       "login_trace_analysis",
	"wildcard-receiver": "wildcard_receiver_analysis",
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run-task":
		err = runTask(os.Args[2:])
	case "serve":
		err = serve(os.Args[2:])
	case "landscape", "passkey", "login-trace", "wildcard-receiver":
		err = runAdHoc(os.Args[1], os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: worker <landscape|passkey|login-trace|wildcard-receiver> --domain=D [--config=C] [--out=O] [--log-level=L]")
	fmt.Fprintln(os.Stderr, "       worker serve <landscape|passkey|login-trace|wildcard-receiver> [--config=C] [--log-level=L]")
}

// buildOrchestrator constructs the analyzer.Orchestrator-family value for
// name, wired over a freshly opened browser.Context and the loaded IdP
// rulesets (§4.1 "one Context per task so profiles never share cookies").
func buildOrchestrator(ctx context.Context, name string, rulesets []models.IdPRuleset, browserCfg models.BrowserConfig) (worker.TaskRunner, *browser.Context, func(), error) {
	browserCtx, err := browser.Open(ctx, browserCfg)
	if err != nil {
		return nil, nil, func() {}, fmt.Errorf("worker: open browser: %w", err)
	}
	cleanup := func() { browserCtx.Close() }

	engine := &analyzer.BrowserEngine{
		Browser:  browserCtx,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Rulesets: rulesets,
	}

	switch name {
	case "landscape", "passkey":
		return taskRunnerFunc(analyzer.New(engine).Run), browserCtx, cleanup, nil
	case "login-trace":
		return taskRunnerFunc(analyzer.NewLoginTrace(engine).Run), browserCtx, cleanup, nil
	case "wildcard-receiver":
		return taskRunnerFunc(analyzer.NewWildcardReceiver(engine).Run), browserCtx, cleanup, nil
	default:
		cleanup()
		return nil, nil, func() {}, fmt.Errorf("worker: unknown analyzer %q", name)
	}
}

// runWithCookieStore restores each in-scope IdP's stored session cookies
// into browserCtx before running the task, then captures the (possibly
// freshly logged-in) cookie jar back to disk afterward, so the next scan of
// the same IdP skips the interactive login (supplemented feature 1).
// A no-op when cookieDir is empty or the task names no IdP scope.
func runWithCookieStore(ctx context.Context, browserCtx *browser.Context, cookieDir string, task models.Task, runner worker.TaskRunner, log *logging.Logger) (*models.TaskResult, error) {
	if cookieDir == "" || len(task.AnalyzerConfig.IdPScope) == 0 {
		return runner.Run(ctx, task)
	}

	store, err := cookiestore.Load(cookieDir, task.AnalyzerConfig.IdPScope)
	if err != nil {
		return nil, fmt.Errorf("worker: load cookie store: %w", err)
	}
	for _, idpName := range task.AnalyzerConfig.IdPScope {
		if err := store.Restore(browserCtx, idpName); err != nil {
			log.Warnf("worker: restore cookies for %s: %v", idpName, err)
		}
	}

	result, runErr := runner.Run(ctx, task)

	for _, idpName := range task.AnalyzerConfig.IdPScope {
		if err := store.Capture(browserCtx, idpName); err != nil {
			log.Warnf("worker: capture cookies for %s: %v", idpName, err)
		}
	}

	return result, runErr
}

// taskRunnerFunc adapts a Run-shaped function to worker.TaskRunner.
type taskRunnerFunc func(ctx context.Context, task models.Task) (*models.TaskResult, error)

func (f taskRunnerFunc) Run(ctx context.Context, task models.Task) (*models.TaskResult, error) {
	return f(ctx, task)
}

// runAdHoc runs one task for --domain against analyzerName and writes the
// resulting TaskResult JSON to --out (or stdout).
func runAdHoc(analyzerName string, args []string) error {
	fs := flag.NewFlagSet(analyzerName, flag.ExitOnError)
	domain := fs.String("domain", "", "domain to analyze")
	configPath := fs.String("config", "", "path to scan config YAML")
	outPath := fs.String("out", "", "path to write result JSON (default stdout)")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *domain == "" {
		return fmt.Errorf("worker: --domain is required")
	}
	log := logging.New(logging.ParseLevel(*logLevel))

	// --config points at the §6 scan-config YAML (browser/login_page/idp/
	// recognition/...); it may additionally carry an `idps:` key, so the
	// same file doubles as the IdP ruleset document for a single-domain
	// run rather than needing a second flag.
	scanCfg := config.DefaultScanConfig()
	var rulesets []models.IdPRuleset
	if *configPath != "" {
		loaded, err := config.LoadScanConfig(*configPath)
		if err != nil {
			return err
		}
		scanCfg = loaded

		if loadedRulesets, err := config.LoadIdPRulesets(*configPath); err == nil {
			rulesets = loadedRulesets
		}
	}

	task := models.Task{
		TaskID:       "adhoc-" + *domain,
		Domain:       *domain,
		State:        models.TaskRequestReceived,
		ScanConfig:   scanCfg,
		AnalyzerName: analyzerQueue[analyzerName],
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Hour)
	defer cancel()

	runner, browserCtx, cleanup, err := buildOrchestrator(ctx, analyzerName, rulesets, scanCfg.Browser)
	if err != nil {
		return err
	}
	defer cleanup()

	// Best-effort process config: an ad-hoc run works with no broker/store
	// configured at all, so a missing COOKIE_STORE_DIR just disables the
	// cookie store rather than failing the run.
	processCfg, _ := config.Load()
	var cookieDir string
	if processCfg != nil {
		cookieDir = processCfg.CookieStoreDir
	}

	log.Infof("worker: running %s analyzer against %s", analyzerName, *domain)
	result, err := runWithCookieStore(ctx, browserCtx, cookieDir, task, runner, log)
	if err != nil {
		return err
	}

	return writeResult(*outPath, result)
}

func writeResult(outPath string, result *models.TaskResult) error {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("worker: marshal result: %w", err)
	}
	body = append(body, '\n')

	if outPath == "" {
		_, err := os.Stdout.Write(body)
		return err
	}
	return os.WriteFile(outPath, body, 0o644)
}

// serve runs the consume loop for analyzerName: ProcessSupervisor re-execs
// this same binary's `run-task` subcommand per task, so a browser-engine
// crash inside one task never takes down the consumer (§5).
func serve(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("worker serve: analyzer name is required")
	}
	analyzerName := args[0]
	queue, ok := analyzerQueue[analyzerName]
	if !ok {
		return fmt.Errorf("worker serve: unknown analyzer %q", analyzerName)
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to IdP ruleset YAML, forwarded to each run-task child")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	processCfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(logging.ParseLevel(*logLevel))

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("worker serve: resolve executable path: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		b, err := broker.Dial(ctx, processCfg.BrokerURL)
		if err != nil {
			log.Errorf("worker serve: dial broker: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
				continue
			}
		}

		runtime := &worker.Runtime{
			Broker: b,
			Queue:  queue,
			Runner: &worker.ProcessSupervisor{
				ExecutablePath: exe,
				Subcommand:     "run-task",
				ConfigPath:     *configPath,
			},
			HTTP:           &http.Client{Timeout: 30 * time.Second},
			Auth:           worker.ReplyAuth{User: processCfg.ReplyBasicAuthUser, Pass: processCfg.ReplyBasicAuthPass},
			WallTimeBudget: processCfg.WallTimeBudget,
			Log:            log,
		}

		log.Infof("worker serve: consuming %s", queue)
		err = runtime.Consume(ctx)
		b.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Errorf("worker serve: consume loop exited, reconnecting: %v", err)
		}
	}
}

// runTask is the hidden subcommand ProcessSupervisor re-execs into: read a
// Task as JSON from stdin, run it, write the TaskResult as JSON to stdout
// (§4.8, §5 per-task isolation).
func runTask(args []string) error {
	fs := flag.NewFlagSet("run-task", flag.ExitOnError)
	// configPath names the IdP ruleset YAML (§3 IdpRuleset); the scan
	// config itself already travels with the task (task.ScanConfig), so
	// there's nothing else for the child to load from disk.
	configPath := fs.String("config", "", "path to IdP ruleset YAML")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("worker run-task: read stdin: %w", err)
	}
	var task models.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("worker run-task: decode task: %w", err)
	}

	var rulesets []models.IdPRuleset
	if *configPath != "" {
		rulesets, err = config.LoadIdPRulesets(*configPath)
		if err != nil {
			return err
		}
	}

	analyzerName := analyzerNameForQueue(task.AnalyzerName)

	ctx := context.Background()
	runner, browserCtx, cleanup, err := buildOrchestrator(ctx, analyzerName, rulesets, task.ScanConfig.Browser)
	if err != nil {
		return err
	}
	defer cleanup()

	processCfg, _ := config.Load()
	var cookieDir string
	if processCfg != nil {
		cookieDir = processCfg.CookieStoreDir
	}

	result, err := runWithCookieStore(ctx, browserCtx, cookieDir, task, runner, logging.New(logging.LevelInfo))
	if err != nil {
		result = &models.TaskResult{TaskID: task.TaskID, ScanID: task.ScanID, Domain: task.Domain, Exception: err.Error()}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("worker run-task: marshal result: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func analyzerNameForQueue(queue string) string {
	for name, q := range analyzerQueue {
		if q == queue {
			return name
		}
	}
	return "landscape"
}
