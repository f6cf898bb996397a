package connection_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

type fakeTransport struct {
	mu          sync.Mutex
	connectErrs map[domain.TransportKind]error
	attempts    []domain.TransportKind
	open        bool
	statuses    []string
	sent        [][]byte
	handler     func(domain.InboundMessage)
	disconnects int
}

func (f *fakeTransport) Connect(_ context.Context, kind domain.TransportKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, kind)
	if err := f.connectErrs[kind]; err != nil {
		return err
	}
	f.open = true
	return nil
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.disconnects++
	return nil
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) UpdateReportedProperties(_ context.Context, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := patch["connectivity"].(map[string]any)
	f.statuses = append(f.statuses, conn["status"].(string))
	return nil
}

func (f *fakeTransport) OnMessage(handler func(domain.InboundMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

func (f *fakeTransport) deliver(id string, payload any) {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(domain.InboundMessage{ID: id, Payload: data})
}

func (f *fakeTransport) reported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statuses...)
}

func (f *fakeTransport) tried() []domain.TransportKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TransportKind(nil), f.attempts...)
}

type executed struct {
	req         domain.CommandRequest
	callbackURL string
}

type fakeExecutor struct {
	mu    sync.Mutex
	runs  []executed
	panic bool
}

func (e *fakeExecutor) Execute(_ context.Context, req domain.CommandRequest, callbackURL string) domain.CommandResult {
	e.mu.Lock()
	e.runs = append(e.runs, executed{req: req, callbackURL: callbackURL})
	shouldPanic := e.panic
	e.mu.Unlock()
	if shouldPanic {
		panic("executor exploded")
	}
	return domain.CommandResult{Output: "ok"}
}

func (e *fakeExecutor) executed() []executed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executed(nil), e.runs...)
}

type fakeInstallation struct{}

func (fakeInstallation) Installation(_ context.Context, orgID string) domain.InstallationInfo {
	return domain.InstallationInfo{
		AgentExecutablePath: "/usr/local/bin/rewst_remote_agent_" + orgID + ".linux.bin",
		ConfigFilePath:      "/etc/rewst_remote_agent/" + orgID + "/config.json",
		Tags:                domain.HostInfo{Hostname: "box"},
	}
}
