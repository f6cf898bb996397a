// Package executor runs remote scripts with a local interpreter and posts
// the captured output back to the requester.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

const (
	defaultDeleteAttempts = 30
	defaultDeleteDelay    = time.Second
)

// Options tunes an Executor. Zero values select defaults.
type Options struct {
	// ScriptsDir is where scripts are staged. Empty means os.TempDir().
	ScriptsDir string
	// GOOS picks the default interpreter. Empty means runtime.GOOS.
	GOOS string
	// Timeout bounds a single script run. Zero means no limit.
	Timeout time.Duration

	DeleteAttempts int
	DeleteDelay    time.Duration
}

// Executor implements impls.CommandExecutor.
type Executor struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Executor {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.ScriptsDir == "" {
		opts.ScriptsDir = os.TempDir()
	}
	if opts.DeleteAttempts <= 0 {
		opts.DeleteAttempts = defaultDeleteAttempts
	}
	if opts.DeleteDelay <= 0 {
		opts.DeleteDelay = defaultDeleteDelay
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second

	return &Executor{
		opts:   opts,
		http:   retryClient.StandardClient(),
		logger: logger,
	}
}

// DefaultInterpreter is used when a request carries no override.
func (e *Executor) DefaultInterpreter() string {
	switch e.opts.GOOS {
	case "windows":
		return "powershell"
	case "darwin":
		return "/bin/zsh"
	default:
		return "/bin/bash"
	}
}

// Execute runs req and, when callbackURL is set, posts the result there.
// It never panics and reports every failure inside the result.
func (e *Executor) Execute(ctx context.Context, req domain.CommandRequest, callbackURL string) domain.CommandResult {
	if req.PostID != "" {
		ctx = config.ContextAttrs(ctx, slog.String("post_id", req.PostID))
	}

	interpreter := req.InterpreterOverride
	if interpreter == "" {
		interpreter = e.DefaultInterpreter()
	}
	e.logger.InfoContext(ctx, "using interpreter", "interpreter", interpreter)

	result := e.run(ctx, interpreter, req.Commands)

	if callbackURL != "" {
		e.postResult(ctx, callbackURL, result)
	}
	return result
}

func (e *Executor) run(ctx context.Context, interpreter, commands string) (result domain.CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "panic while running script", "panic", r)
			result = unexpected(fmt.Errorf("%v", r))
		}
	}()

	script, err := DecodeScript(commands, interpreter)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to decode commands", "err", err)
		return unexpected(err)
	}

	path, err := e.writeScript(script, interpreter)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to stage script", "err", err)
		return unexpected(err)
	}
	defer e.removeScript(ctx, path)
	e.logger.InfoContext(ctx, "wrote commands to temp file", "path", path)

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interpreter, ScriptArgs(interpreter, path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.InfoContext(ctx, "running script", "interpreter", interpreter, "args", cmd.Args[1:])

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.logger.ErrorContext(ctx, "failed to run script", "err", err)
			return unexpected(err)
		}
		exitCode = exitErr.ExitCode()
	}
	e.logger.InfoContext(ctx, "command completed", "exit_code", exitCode)

	result = domain.CommandResult{Output: stdout.String()}
	if exitCode != 0 || stderr.Len() > 0 {
		result.Error = fmt.Sprintf("Script execution failed with exit code %d. Error: %s", exitCode, stderr.String())
		e.logger.ErrorContext(ctx, "script reported failure", "exit_code", exitCode, "stderr", stderr.String())
	}
	return result
}

func unexpected(err error) domain.CommandResult {
	return domain.CommandResult{Error: fmt.Sprintf("An unexpected error occurred: %v", err)}
}

func (e *Executor) writeScript(script []byte, interpreter string) (string, error) {
	if err := os.MkdirAll(e.opts.ScriptsDir, 0o755); err != nil {
		return "", fmt.Errorf("create scripts dir: %w", err)
	}

	path := filepath.Join(e.opts.ScriptsDir, "rewst_script_"+uuid.NewString()+ScriptSuffix(interpreter))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create script file: %w", err)
	}

	if _, err := f.Write(script); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write script file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("sync script file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close script file: %w", err)
	}
	return path, nil
}

// removeScript deletes path, waiting out a lingering interpreter that still
// holds the file open.
func (e *Executor) removeScript(ctx context.Context, path string) {
	for attempt := 1; attempt <= e.opts.DeleteAttempts; attempt++ {
		err := os.Remove(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return
		}
		if !isFileInUse(err) {
			e.logger.ErrorContext(ctx, "error deleting temporary file", "path", path, "err", err)
			return
		}
		time.Sleep(e.opts.DeleteDelay)
	}
	e.logger.ErrorContext(ctx, "gave up deleting temporary file", "path", path, "attempts", e.opts.DeleteAttempts)
}
