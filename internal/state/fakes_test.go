package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/wire"
)

// fakeBackend is a scriptable Backend.
type fakeBackend struct {
	mu sync.Mutex

	sessions []*domain.Session
	listErr  error

	created   []*domain.Session
	createErr error
	renames   map[string]string
	renameErr error
	deleted   []string
	deleteErr error

	history    []domain.ChatMessage
	historyErr error

	sendReply string
	sendErr   error
	sendCalls int
	// When non-nil, SendChat signals sendStarted and blocks until
	// sendRelease is closed.
	sendStarted chan struct{}
	sendRelease chan struct{}

	seqDoc   *domain.SequenceDocument
	fetchErr error
	saveID   string
	saveErr  error
	saved    []*domain.SequenceDocument

	resetCalls    int
	resetFailures int

	appCfg *domain.AppConfig
	cfgErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{renames: make(map[string]string)}
}

func (f *fakeBackend) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*domain.Session, len(f.sessions))
	copy(out, f.sessions)
	return out, nil
}

func (f *fakeBackend) CreateSession(ctx context.Context, userID string, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, s)
	return nil
}

func (f *fakeBackend) RenameSession(ctx context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renames[id] = name
	return nil
}

func (f *fakeBackend) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) ChatHistory(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]domain.ChatMessage, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeBackend) SendChat(ctx context.Context, sessionID, userID, message string) (string, error) {
	f.mu.Lock()
	f.sendCalls++
	started, release := f.sendStarted, f.sendRelease
	reply, err := f.sendReply, f.sendErr
	f.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	return reply, err
}

func (f *fakeBackend) FetchSequence(ctx context.Context, sessionID string) (*domain.SequenceDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.seqDoc.Clone(), nil
}

func (f *fakeBackend) SaveSequence(ctx context.Context, sessionID, userID string, doc *domain.SequenceDocument) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, doc.Clone())
	if f.saveID != "" {
		return f.saveID, nil
	}
	return doc.ID, nil
}

func (f *fakeBackend) ResetSequence(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	if f.resetCalls <= f.resetFailures {
		return errors.New("reset unavailable")
	}
	return nil
}

func (f *fakeBackend) FetchAppConfig(ctx context.Context) (*domain.AppConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfgErr != nil {
		return nil, f.cfgErr
	}
	return f.appCfg, nil
}

func (f *fakeBackend) sentCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

func (f *fakeBackend) savedDocs() []*domain.SequenceDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.SequenceDocument, len(f.saved))
	copy(out, f.saved)
	return out
}

var _ Backend = (*fakeBackend)(nil)

// fakeLocal is an in-memory LocalStore.
type fakeLocal struct {
	mu       sync.Mutex
	sessions []*domain.Session
	hasCache bool
	active   string
	profile  *domain.User

	sessionsErr error
	saveErr     error
}

func (f *fakeLocal) Sessions() ([]*domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionsErr != nil {
		return nil, false, f.sessionsErr
	}
	out := make([]*domain.Session, len(f.sessions))
	copy(out, f.sessions)
	return out, f.hasCache, nil
}

func (f *fakeLocal) SaveSessions(sessions []*domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.sessions = make([]*domain.Session, len(sessions))
	copy(f.sessions, sessions)
	f.hasCache = true
	return nil
}

func (f *fakeLocal) ActiveSession() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeLocal) SaveActiveSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = id
	return nil
}

func (f *fakeLocal) Profile() (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, nil
}

func (f *fakeLocal) SaveProfile(u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = u
	return nil
}

var _ LocalStore = (*fakeLocal)(nil)

// instantClock fires every timer immediately and records the requested
// durations.
type instantClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *instantClock) requested() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.delays))
	copy(out, c.delays)
	return out
}

// thresholdClock fires timers shorter than limit immediately and never
// fires longer ones.
type thresholdClock struct {
	limit time.Duration
}

func (c thresholdClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if d < c.limit {
		ch <- time.Now()
	}
	return ch
}

// fakeSender is a scriptable sender for transcript and sequence tests.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []wire.Event
}

func (f *fakeSender) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) Send(ev wire.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeSender) sentEvents() []wire.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Event, len(f.sent))
	copy(out, f.sent)
	return out
}

// scriptConn is a Conn fed by a channel of inbound frames.
type scriptConn struct {
	in chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newScriptConn() *scriptConn {
	return &scriptConn{in: make(chan []byte, 16)}
}

func (c *scriptConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (c *scriptConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// push delivers a server event to the connection's read loop.
func (c *scriptConn) push(ev wire.Event) {
	data, err := wire.Encode(ev)
	if err != nil {
		panic(err)
	}
	c.in <- data
}

// scriptDialer pops one result per Dial call; once exhausted every
// dial fails.
type scriptDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	conn Conn
	err  error
}

func (d *scriptDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.results[0]
	d.results = d.results[1:]
	return next.conn, next.err
}

func (d *scriptDialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// recordingSink captures events and state transitions.
type recordingSink struct {
	mu     sync.Mutex
	events []wire.Event
	states []ConnectionState
	status []string
}

func (s *recordingSink) HandleEvent(ev wire.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ConnectionChanged(state ConnectionState, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	s.status = append(s.status, status)
}

func (s *recordingSink) lastState() (ConnectionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return "", ""
	}
	return s.states[len(s.states)-1], s.status[len(s.status)-1]
}

func (s *recordingSink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) eventAt(i int) wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.events) {
		return nil
	}
	return s.events[i]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}

// testSession builds a session with a creation time offset for ordering.
func testSession(id, name string, age time.Duration) *domain.Session {
	t := time.Now().Add(-age)
	return &domain.Session{ID: id, Name: name, CreatedAt: t, UpdatedAt: t}
}
