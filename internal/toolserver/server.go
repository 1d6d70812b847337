package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ServerConfig is the command line and name for one configured tool server
// (one TOOL_SERVERS entry, see internal/config).
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
}

// pendingCall is the completion handle a caller suspends on.
type pendingCall struct {
	resultCh chan rpcResponse
}

// toolServer owns one child process and its stdio dialogue. It is created
// and exclusively mutated by the Manager; no other component touches its
// stdin/stdout.
type toolServer struct {
	cfg    ServerConfig
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ready   bool
	failed  bool
	tools   []ToolSpec
	restart int // reset by markReady; restartLoop keeps its own backoff

	nextID  atomic.Int64
	pending sync.Map // int64 -> *pendingCall
	zombies sync.Map // int64 -> time.Time

	writeCh  chan []byte
	done     chan struct{} // closed once this server's goroutines should stop for good
	stopOnce sync.Once

	// onCrashFn is set once by the Manager and fired by onCrash every time
	// this incarnation of the process dies, whether or not a caller happens
	// to be blocked in send() at that moment. crashOnce guards it firing
	// more than once per incarnation; resetForRestart gives the next
	// incarnation a fresh one.
	onCrashFn func()
	crashOnce sync.Once

	protocolErrors int
	protoMu        sync.Mutex

	waitDone chan struct{} // closed once cmd.Wait() has returned
	waitErr  error
}

func newToolServer(cfg ServerConfig, logger *zap.Logger) *toolServer {
	return &toolServer{
		cfg:     cfg,
		logger:  logger.With(zap.String("server", cfg.Name)),
		writeCh: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// spawn starts the child process and its reader/writer goroutines. It does
// not wait for discovery; callers do that separately via discover().
func (s *toolServer) spawn(ctx context.Context) error {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	waitDone := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.ready = false
	s.failed = false
	s.waitDone = waitDone
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(waitDone)
	}()

	go s.forwardStderr(stderr)
	go s.writeLoop()
	go s.readLoop(stdout, waitDone)

	return nil
}

// forwardStderr captures the child's stderr line-by-line and forwards it to
// the logging sink tagged with the server name; it is never parsed.
func (s *toolServer) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Info("tool server stderr", zap.String("line", scanner.Text()))
	}
}

// writeLoop is the single writer task draining the outgoing request queue
// onto stdin, serializing writes (spec §4.1 "no interleaved writes").
func (s *toolServer) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame, ok := <-s.writeCh:
			if !ok {
				return
			}
			s.mu.Lock()
			stdin := s.stdin
			s.mu.Unlock()
			if stdin == nil {
				continue
			}
			if _, err := stdin.Write(frame); err != nil {
				s.logger.Warn("write failed", zap.Error(err))
			}
		}
	}
}

// readLoop is the single reader task draining stdout and routing responses
// by id to the caller's completion handle.
func (s *toolServer) readLoop(stdout io.Reader, waitDone chan struct{}) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lineCh := make(chan []byte)
	go func() {
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			lineCh <- line
		}
		close(lineCh)
	}()

	for {
		select {
		case <-s.done:
			return
		case line, ok := <-lineCh:
			if !ok {
				// stdout EOF: process is going away.
				<-waitDone
				s.mu.Lock()
				err := s.waitErr
				s.mu.Unlock()
				if err != nil {
					s.logger.Warn("process exited", zap.Error(err))
				}
				s.onCrash()
				return
			}
			s.handleLine(line)
		}
	}
}

func (s *toolServer) handleLine(line []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		s.onProtocolError()
		return
	}
	s.resetProtocolErrors()

	if resp.isNotification() {
		if resp.Method == "log" {
			s.logger.Info("tool server log notification", zap.ByteString("params", resp.Params))
		}
		return
	}
	if resp.ID == nil {
		return
	}
	id := *resp.ID
	if v, ok := s.pending.LoadAndDelete(id); ok {
		pc := v.(*pendingCall)
		select {
		case pc.resultCh <- resp:
		default:
		}
		return
	}
	// Unknown or already-resolved id: could be a late response to a timed
	// out call. If it's a known zombie, just forget it quietly.
	if _, zombie := s.zombies.Load(id); zombie {
		return
	}
	s.logger.Warn("dropping response with unknown id", zap.Int64("id", id))
}

func (s *toolServer) onProtocolError() {
	s.protoMu.Lock()
	s.protocolErrors++
	n := s.protocolErrors
	s.protoMu.Unlock()
	s.logger.Warn("malformed line from tool server", zap.Int("consecutive", n))
	if n >= 3 {
		s.logger.Error("three consecutive malformed lines, restarting server")
		s.onCrash()
	}
}

func (s *toolServer) resetProtocolErrors() {
	s.protoMu.Lock()
	s.protocolErrors = 0
	s.protoMu.Unlock()
}

// onCrash flushes all pending calls with ServerCrashed, marks the server
// not ready, and unconditionally notifies the Manager via onCrashFn so a
// restart is scheduled even when no caller happens to be blocked in send()
// at the moment of the crash (e.g. stdout EOF or repeated protocol errors
// with no call in flight).
func (s *toolServer) onCrash() {
	s.mu.Lock()
	s.ready = false
	s.failed = true
	s.mu.Unlock()

	s.pending.Range(func(key, value any) bool {
		pc := value.(*pendingCall)
		select {
		case pc.resultCh <- rpcResponse{Error: &rpcError{Code: -1, Message: "server crashed"}}:
		default:
		}
		s.pending.Delete(key)
		return true
	})

	s.crashOnce.Do(func() {
		if s.onCrashFn != nil {
			s.onCrashFn()
		}
	})
}

// stopGoroutines signals the reader/writer goroutines for this incarnation
// of the process to exit, without affecting a later respawn (which gets a
// fresh done channel).
func (s *toolServer) stopGoroutines() {
	s.stopOnce.Do(func() { close(s.done) })
}

// resetForRestart prepares the toolServer value for a fresh spawn.
func (s *toolServer) resetForRestart() {
	s.done = make(chan struct{})
	s.stopOnce = sync.Once{}
	s.crashOnce = sync.Once{}
}

func (s *toolServer) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *toolServer) markReady(tools []ToolSpec) {
	s.mu.Lock()
	s.ready = true
	s.failed = false
	s.tools = tools
	s.restart = 0
	s.mu.Unlock()
}

func (s *toolServer) markFailed() {
	s.mu.Lock()
	s.ready = false
	s.failed = true
	s.mu.Unlock()
}

func (s *toolServer) currentTools() []ToolSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolSpec, len(s.tools))
	copy(out, s.tools)
	return out
}

// send writes a request frame and blocks until a response arrives, the
// deadline elapses, or the process dies.
func (s *toolServer) send(ctx context.Context, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, *CallError) {
	id := s.nextID.Add(1)
	pc := &pendingCall{resultCh: make(chan rpcResponse, 1)}
	s.pending.Store(id, pc)

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	frame, err := json.Marshal(req)
	if err != nil {
		s.pending.Delete(id)
		return nil, &CallError{Kind: ErrProtocolError, Message: err.Error()}
	}
	frame = append(frame, '\n')

	select {
	case s.writeCh <- frame:
	case <-ctx.Done():
		s.pending.Delete(id)
		return nil, &CallError{Kind: ErrCallTimeout, Message: ctx.Err().Error()}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case resp := <-pc.resultCh:
		if resp.Error != nil {
			if resp.Error.Message == "server crashed" {
				return nil, &CallError{Kind: ErrServerCrashed, Message: "server crashed"}
			}
			return nil, &CallError{Kind: ErrRemote, Message: resp.Error.Message, Code: resp.Error.Code}
		}
		return resp.Result, nil
	case <-deadline.C:
		s.pending.Delete(id)
		s.zombies.Store(id, time.Now())
		go s.forgetZombieAfter(id, 5*time.Minute)
		return nil, &CallError{Kind: ErrCallTimeout, Message: fmt.Sprintf("call timed out after %s", timeout)}
	case <-ctx.Done():
		s.pending.Delete(id)
		s.zombies.Store(id, time.Now())
		go s.forgetZombieAfter(id, 5*time.Minute)
		return nil, &CallError{Kind: ErrCallTimeout, Message: ctx.Err().Error()}
	}
}

func (s *toolServer) forgetZombieAfter(id int64, d time.Duration) {
	time.Sleep(d)
	s.zombies.Delete(id)
}

// terminate sends SIGTERM then escalates to SIGKILL after the grace period.
func (s *toolServer) terminate(grace time.Duration) {
	s.mu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(processTermSignal)
	if waitDone == nil {
		return
	}
	select {
	case <-waitDone:
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		<-waitDone
	}
}
