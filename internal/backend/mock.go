package backend

import (
	"context"
	"sync"
)

// ActiveResult is one scripted IsActive answer.
type ActiveResult struct {
	Active bool
	Err    error
}

// MockDispatcher is a mock implementation of Dispatcher for testing.
// It records all calls and returns configured responses.
type MockDispatcher struct {
	mu sync.Mutex

	// Configured responses
	StartSessionErrors []error // consumed in order; nil entries succeed
	ActiveScript       []ActiveResult
	ActiveDefault      ActiveResult // returned once ActiveScript is exhausted
	LocateError        error
	LockError          error
	ActionError        error
	PowerOffError      error
	GameWindowList     []Window
	ToolWindowList     []Window
	HealthResponse     HealthStatus
	HealthError        error

	// Dynamic response callbacks, checked before the scripted values
	DynamicStartSession func(ctx context.Context, target SessionTarget, cfg SessionConfig) (Ack, error, bool)
	DynamicIsActive     func(ctx context.Context, pair ActivityPair) (bool, error, bool)

	// Call tracking
	StartSessionCalls     []StartSessionCall
	IsActiveCalls         []ActivityPair
	LocateWindowCalls     []int
	LocateRoleWindowCalls []LocateRoleCall
	LockWindowCalls       []LockCall
	StartActionCalls      []StartActionCall
	FollowUpCalls         []SessionTarget
	PowerOffCalls         int
	HealthCalls           int
}

// StartSessionCall records a StartSession call.
type StartSessionCall struct {
	Target SessionTarget
	Config SessionConfig
}

// LocateRoleCall records a LocateRoleWindow call.
type LocateRoleCall struct {
	Role RoleHandles
	Idx  int
}

// LockCall records a LockWindow call.
type LockCall struct {
	Lock   bool
	Handle int
}

// StartActionCall records a StartAction call.
type StartActionCall struct {
	Handle int
	Action string
}

// NewMockDispatcher creates a MockDispatcher that reports a healthy backend.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{
		HealthResponse: HealthStatus{Status: "healthy"},
	}
}

// StartSession implements SessionStarter.
func (m *MockDispatcher) StartSession(ctx context.Context, target SessionTarget, cfg SessionConfig) (Ack, error) {
	m.mu.Lock()
	m.StartSessionCalls = append(m.StartSessionCalls, StartSessionCall{Target: target, Config: cfg})
	dyn := m.DynamicStartSession
	var err error
	if len(m.StartSessionErrors) > 0 {
		err = m.StartSessionErrors[0]
		m.StartSessionErrors = m.StartSessionErrors[1:]
	}
	m.mu.Unlock()

	// Dynamic callbacks may block, so they run without the lock held.
	if dyn != nil {
		if ack, derr, handled := dyn(ctx, target, cfg); handled {
			return ack, derr
		}
	}
	if err != nil {
		return Ack{}, err
	}
	return Ack{OK: true}, nil
}

// IsActive implements SessionStarter.
func (m *MockDispatcher) IsActive(ctx context.Context, pair ActivityPair) (bool, error) {
	m.mu.Lock()
	m.IsActiveCalls = append(m.IsActiveCalls, pair)
	dyn := m.DynamicIsActive
	res := m.ActiveDefault
	if dyn == nil && len(m.ActiveScript) > 0 {
		res = m.ActiveScript[0]
		m.ActiveScript = m.ActiveScript[1:]
	}
	m.mu.Unlock()

	if dyn != nil {
		if active, err, handled := dyn(ctx, pair); handled {
			return active, err
		}
	}
	return res.Active, res.Err
}

// LocateWindow implements WindowCommander.
func (m *MockDispatcher) LocateWindow(ctx context.Context, handle int) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocateWindowCalls = append(m.LocateWindowCalls, handle)
	if m.LocateError != nil {
		return Ack{}, m.LocateError
	}
	return Ack{OK: true, Status: "success"}, nil
}

// LocateRoleWindow implements WindowCommander.
func (m *MockDispatcher) LocateRoleWindow(ctx context.Context, role RoleHandles, idx int) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocateRoleWindowCalls = append(m.LocateRoleWindowCalls, LocateRoleCall{Role: role, Idx: idx})
	if m.LocateError != nil {
		return Ack{}, m.LocateError
	}
	return Ack{OK: true, Status: "success"}, nil
}

// LockWindow implements WindowCommander.
func (m *MockDispatcher) LockWindow(ctx context.Context, lock bool, handle int) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LockWindowCalls = append(m.LockWindowCalls, LockCall{Lock: lock, Handle: handle})
	if m.LockError != nil {
		return Ack{}, m.LockError
	}
	return Ack{OK: true, Status: "success"}, nil
}

// StartAction implements WindowCommander.
func (m *MockDispatcher) StartAction(ctx context.Context, handle int, action string) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartActionCalls = append(m.StartActionCalls, StartActionCall{Handle: handle, Action: action})
	if m.ActionError != nil {
		return Ack{}, m.ActionError
	}
	return Ack{OK: true, Status: "success"}, nil
}

// GameWindows implements WindowCommander.
func (m *MockDispatcher) GameWindows(ctx context.Context) ([]Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Window(nil), m.GameWindowList...), nil
}

// ToolWindows implements WindowCommander.
func (m *MockDispatcher) ToolWindows(ctx context.Context) ([]Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Window(nil), m.ToolWindowList...), nil
}

// StartFollowUpActivity implements Finisher.
func (m *MockDispatcher) StartFollowUpActivity(ctx context.Context, target SessionTarget) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUpCalls = append(m.FollowUpCalls, target)
	if m.ActionError != nil {
		return Ack{}, m.ActionError
	}
	return Ack{OK: true, Status: "success"}, nil
}

// PowerOff implements Finisher.
func (m *MockDispatcher) PowerOff(ctx context.Context) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PowerOffCalls++
	if m.PowerOffError != nil {
		return Ack{}, m.PowerOffError
	}
	return Ack{OK: true, Status: "success"}, nil
}

// Health implements Dispatcher.
func (m *MockDispatcher) Health(ctx context.Context) (HealthStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthCalls++
	return m.HealthResponse, m.HealthError
}

// SetActiveScript replaces the scripted IsActive answers.
func (m *MockDispatcher) SetActiveScript(results ...ActiveResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveScript = results
}

// StartSessionCount returns the number of StartSession calls so far.
func (m *MockDispatcher) StartSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.StartSessionCalls)
}

// IsActiveCount returns the number of IsActive calls so far.
func (m *MockDispatcher) IsActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.IsActiveCalls)
}

// Counts returns the number of follow-up and power-off calls so far.
func (m *MockDispatcher) Counts() (followUp, powerOff int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FollowUpCalls), m.PowerOffCalls
}

// SetWindows replaces the window listings.
func (m *MockDispatcher) SetWindows(game, tool []Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GameWindowList = game
	m.ToolWindowList = tool
}

// SetLockError sets the error returned by LockWindow.
func (m *MockDispatcher) SetLockError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LockError = err
}

// WindowCalls returns copies of the recorded window commands.
func (m *MockDispatcher) WindowCalls() (locate []int, roles []LocateRoleCall, locks []LockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.LocateWindowCalls...),
		append([]LocateRoleCall(nil), m.LocateRoleWindowCalls...),
		append([]LockCall(nil), m.LockWindowCalls...)
}

// Reset clears all recorded calls.
func (m *MockDispatcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartSessionCalls = nil
	m.IsActiveCalls = nil
	m.LocateWindowCalls = nil
	m.LocateRoleWindowCalls = nil
	m.LockWindowCalls = nil
	m.StartActionCalls = nil
	m.FollowUpCalls = nil
	m.PowerOffCalls = 0
	m.HealthCalls = 0
}

// Ensure MockDispatcher implements Dispatcher.
var _ Dispatcher = (*MockDispatcher)(nil)

// Ensure Client implements Dispatcher.
var _ Dispatcher = (*Client)(nil)
