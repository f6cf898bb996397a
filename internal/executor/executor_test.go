package executor_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/executor"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type callbackSink struct {
	mu     sync.Mutex
	bodies []domain.CommandResult
	status int
	reply  string
}

func (s *callbackSink) results() []domain.CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CommandResult(nil), s.bodies...)
}

func (s *callbackSink) server(t *testing.T) *httptest.Server {
	t.Helper()
	router := gin.New()
	router.POST("/webhooks/custom/action/*path", func(c *gin.Context) {
		var res domain.CommandResult
		if err := c.ShouldBindJSON(&res); err != nil {
			c.Status(http.StatusUnprocessableEntity)
			return
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, res)
		s.mu.Unlock()

		status := s.status
		if status == 0 {
			status = http.StatusOK
		}
		c.String(status, s.reply)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
	})
	return srv
}

func requireBash(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not run on windows")
	}
	if _, err := exec.LookPath("/bin/bash"); err != nil {
		t.Skipf("/bin/bash not available: %v", err)
	}
}

func newExecutor(t *testing.T, logs io.Writer) (*executor.Executor, string) {
	t.Helper()
	if logs == nil {
		logs = io.Discard
	}
	dir := t.TempDir()
	logger := config.NewWriterLogger(config.DefaultSettings(), logs)
	return executor.New(executor.Options{ScriptsDir: dir, GOOS: "linux"}, logger), dir
}

func encode(script string) string {
	return base64.StdEncoding.EncodeToString([]byte(script))
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "staged script must be removed")
}

func TestExecuteEchoPostsResult(t *testing.T) {
	requireBash(t)

	sink := &callbackSink{}
	srv := sink.server(t)
	exe, dir := newExecutor(t, nil)

	res := exe.Execute(t.Context(), domain.CommandRequest{Commands: encode("echo hi"), PostID: "a:b"},
		srv.URL+"/webhooks/custom/action/a/b")

	require.Equal(t, domain.CommandResult{Output: "hi\n", Error: ""}, res)
	require.Equal(t, []domain.CommandResult{{Output: "hi\n"}}, sink.results())
	requireEmptyDir(t, dir)
}

func TestExecuteReportsFailure(t *testing.T) {
	requireBash(t)

	exe, dir := newExecutor(t, nil)
	res := exe.Execute(t.Context(), domain.CommandRequest{Commands: encode("echo out\necho boom 1>&2\nexit 3\n")}, "")

	require.Equal(t, "out\n", res.Output)
	require.Equal(t, "Script execution failed with exit code 3. Error: boom\n", res.Error)
	requireEmptyDir(t, dir)
}

func TestExecuteStderrWithZeroExit(t *testing.T) {
	requireBash(t)

	exe, _ := newExecutor(t, nil)
	res := exe.Execute(t.Context(), domain.CommandRequest{Commands: encode("echo warn 1>&2")}, "")
	require.Equal(t, "Script execution failed with exit code 0. Error: warn\n", res.Error)
}

func TestExecuteInterpreterOverride(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not run on windows")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}

	exe, _ := newExecutor(t, nil)
	res := exe.Execute(t.Context(), domain.CommandRequest{Commands: encode("printf '%s' \"$0\""), InterpreterOverride: sh}, "")
	require.Empty(t, res.Error)
	require.True(t, strings.HasSuffix(res.Output, ".sh"), res.Output)
}

func TestExecuteBadPayload(t *testing.T) {
	t.Parallel()

	exe, dir := newExecutor(t, nil)

	res := exe.Execute(t.Context(), domain.CommandRequest{Commands: "%%% not base64"}, "")
	require.Empty(t, res.Output)
	require.True(t, strings.HasPrefix(res.Error, "An unexpected error occurred: "), res.Error)

	res = exe.Execute(t.Context(), domain.CommandRequest{Commands: encode("echo hi"), InterpreterOverride: "/nonexistent/interpreter"}, "")
	require.True(t, strings.HasPrefix(res.Error, "An unexpected error occurred: "), res.Error)
	requireEmptyDir(t, dir)
}

func TestCallbackFulfilledIsInformational(t *testing.T) {
	requireBash(t)

	sink := &callbackSink{status: http.StatusBadRequest, reply: "Webhook already Fulfilled"}
	srv := sink.server(t)

	var logs bytes.Buffer
	exe, _ := newExecutor(t, &logs)
	exe.Execute(t.Context(), domain.CommandRequest{Commands: encode("true"), PostID: "p"}, srv.URL+"/webhooks/custom/action/p")

	require.Len(t, sink.results(), 1)
	require.Contains(t, logs.String(), "webhook POST fulfilled by script")
	require.NotContains(t, logs.String(), "error response from callback")

	var first map[string]any
	line, _, _ := strings.Cut(logs.String(), "\n")
	require.NoError(t, json.Unmarshal([]byte(line), &first))
	require.Equal(t, "p", first["post_id"])
}

func TestDefaultInterpreter(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for goos, want := range map[string]string{
		"windows": "powershell",
		"darwin":  "/bin/zsh",
		"linux":   "/bin/bash",
		"freebsd": "/bin/bash",
	} {
		exe := executor.New(executor.Options{GOOS: goos}, logger)
		require.Equal(t, want, exe.DefaultInterpreter(), goos)
	}
}
