// Package decoder supervises an ffmpeg child process that pulls an RTSP
// stream and decodes it to raw PCM on stdout.
package decoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/errors"
	"github.com/tphakala/tracktagger-go/internal/logging"
	"github.com/tphakala/tracktagger-go/internal/observability/metrics"
	"github.com/tphakala/tracktagger-go/internal/privacy"
	"github.com/tphakala/tracktagger-go/internal/window"
)

const (
	// readBufferSize is the stdout read chunk size.
	readBufferSize = 32768

	// stopGracePeriod is how long a child gets after SIGTERM before a hard kill.
	stopGracePeriod = 5 * time.Second

	// quickExitThreshold separates flapping processes from healthy ones. A
	// child that survived at least this long resets the restart counter.
	quickExitThreshold = 5 * time.Second

	// backoffBase and backoffCap bound the exponential restart delay.
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second

	// maxConsecutiveRestarts is the restart budget. Exhausting it is fatal
	// for the stream and surfaces to the owning worker.
	maxConsecutiveRestarts = 10

	// chunkChannelSize buffers decoded PCM chunks toward the scheduler.
	chunkChannelSize = 32

	// stateHistorySize caps the retained state transition history.
	stateHistorySize = 100
)

// ErrRestartBudgetExhausted is returned by Run when the decoder failed
// maxConsecutiveRestarts times in a row without a healthy run in between.
var ErrRestartBudgetExhausted = errors.NewStd("decoder restart budget exhausted")

// ProcessState represents the lifecycle state of the ffmpeg child.
type ProcessState int

const (
	StateIdle ProcessState = iota
	StateStarting
	StateRunning
	StateRestarting
	StateBackoff
	StateStopped
	StateFailed
)

func (s ProcessState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// validStateTransitions defines the allowed lifecycle edges.
var validStateTransitions = map[ProcessState][]ProcessState{
	StateIdle:       {StateStarting, StateStopped},
	StateStarting:   {StateRunning, StateRestarting, StateBackoff, StateStopped, StateFailed},
	StateRunning:    {StateRestarting, StateStopped, StateFailed},
	StateRestarting: {StateStarting, StateBackoff, StateStopped, StateFailed},
	StateBackoff:    {StateStarting, StateStopped, StateFailed},
	StateStopped:    {StateStarting},
	StateFailed:     {},
}

// StateTransition records a single lifecycle change for diagnostics.
type StateTransition struct {
	From   ProcessState
	To     ProcessState
	Time   time.Time
	Reason string
}

// Runner owns one ffmpeg child per stream and restarts it with exponential
// backoff. Decoded PCM is delivered on Chunks until Run returns, at which
// point the channel is closed.
type Runner struct {
	streamName string
	url        string
	transport  string
	ffmpegPath string

	chunks chan []byte

	cmdMu  sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser

	stateMu      sync.RWMutex
	state        ProcessState
	stateHistory []StateTransition

	clock window.Clock

	metrics *metrics.DecoderMetrics
	logger  *slog.Logger
}

// New creates a decoder runner for a single stream. The metrics argument
// may be nil when telemetry is disabled; a nil clock selects the real wall
// clock for the restart backoff.
func New(streamName, url string, settings *conf.Settings, m *metrics.DecoderMetrics, clock window.Clock) *Runner {
	ffmpegPath := settings.Realtime.Audio.FfmpegPath
	if ffmpegPath == "" {
		ffmpegPath = conf.GetFfmpegBinaryName()
	}
	if clock == nil {
		clock = window.RealClock{}
	}

	return &Runner{
		streamName: streamName,
		url:        url,
		transport:  settings.Realtime.RTSP.Transport,
		ffmpegPath: ffmpegPath,
		chunks:     make(chan []byte, chunkChannelSize),
		state:      StateIdle,
		clock:      clock,
		metrics:    m,
		logger: logging.ForService("decoder").With(
			"stream", streamName,
			"url", privacy.SanitizeRTSPUrl(url)),
	}
}

// Chunks returns the decoded PCM chunk stream. The channel is closed when
// Run returns.
func (r *Runner) Chunks() <-chan []byte {
	return r.chunks
}

// State returns the current lifecycle state.
func (r *Runner) State() ProcessState {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// StateHistory returns a copy of the recorded lifecycle transitions.
func (r *Runner) StateHistory() []StateTransition {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	history := make([]StateTransition, len(r.stateHistory))
	copy(history, r.stateHistory)
	return history
}

func (r *Runner) transitionState(to ProcessState, reason string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	from := r.state
	if from == to {
		return
	}

	allowed := false
	for _, next := range validStateTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		r.logger.Warn("Invalid decoder state transition",
			"from", from.String(), "to", to.String(), "reason", reason)
		return
	}

	r.state = to
	r.stateHistory = append(r.stateHistory, StateTransition{
		From: from, To: to, Time: time.Now(), Reason: reason,
	})
	if len(r.stateHistory) > stateHistorySize {
		r.stateHistory = r.stateHistory[len(r.stateHistory)-stateHistorySize:]
	}

	r.logger.Debug("Decoder state transition",
		"from", from.String(), "to", to.String(), "reason", reason)
}

// restartDelay computes the backoff before attempt failures+1, doubling from
// backoffBase and saturating at backoffCap.
func restartDelay(failures int) time.Duration {
	delay := backoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}

// Run supervises the ffmpeg child until ctx is cancelled or the restart
// budget is exhausted. The first start happens without delay; each
// consecutive failure doubles the restart delay up to backoffCap.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.chunks)

	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			r.transitionState(StateStopped, "context cancelled")
			return ctx.Err()
		}

		if consecutiveFailures > 0 {
			if consecutiveFailures >= maxConsecutiveRestarts {
				r.transitionState(StateFailed, "restart budget exhausted")
				if r.metrics != nil {
					r.metrics.RecordStreamFailure(r.streamName)
				}
				r.logger.Error("Decoder giving up after repeated failures",
					"consecutive_failures", consecutiveFailures)
				return errors.New(ErrRestartBudgetExhausted).
					Component("decoder").
					Category(errors.CategoryDecoder).
					Priority(errors.PriorityCritical).
					Context("stream", r.streamName).
					Context("consecutive_failures", consecutiveFailures).
					Build()
			}

			delay := restartDelay(consecutiveFailures)
			if r.metrics != nil {
				r.metrics.UpdateRestartBackoff(r.streamName, delay.Seconds())
			}
			r.transitionState(StateBackoff, "waiting before restart")
			r.logger.Warn("Decoder restarting after backoff",
				"delay", delay, "consecutive_failures", consecutiveFailures)

			select {
			case <-ctx.Done():
				r.transitionState(StateStopped, "context cancelled during backoff")
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		r.transitionState(StateStarting, "starting ffmpeg")
		startedAt := time.Now()

		if err := r.startProcess(ctx); err != nil {
			consecutiveFailures++
			if r.metrics != nil {
				r.metrics.RecordProcessStart(r.streamName, metrics.StatusError)
			}
			r.transitionState(StateRestarting, "spawn failed")
			r.logger.Error("Failed to start ffmpeg", "error", err)
			continue
		}

		if r.metrics != nil {
			r.metrics.RecordProcessStart(r.streamName, metrics.StatusSuccess)
		}
		r.transitionState(StateRunning, "ffmpeg started")

		// Unblock the read loop if the caller goes away mid-read.
		watcherStop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				r.cleanupProcess()
			case <-watcherStop:
			}
		}()

		readErr := r.processAudio(ctx)

		uptime := time.Since(startedAt)
		if r.metrics != nil {
			r.metrics.RecordProcessUptime(r.streamName, uptime.Seconds())
		}
		r.cleanupProcess()
		close(watcherStop)

		if ctx.Err() != nil {
			r.transitionState(StateStopped, "context cancelled")
			return ctx.Err()
		}

		if uptime >= quickExitThreshold {
			consecutiveFailures = 0
		}
		consecutiveFailures++

		reason := "stream ended"
		if readErr != nil {
			reason = "read error"
			r.logger.Warn("Decoder output ended with error",
				"error", readErr, "uptime", uptime)
		} else {
			r.logger.Warn("Decoder reached end of stream", "uptime", uptime)
		}
		if r.metrics != nil {
			r.metrics.RecordProcessRestart(r.streamName, reason)
		}
		r.transitionState(StateRestarting, reason)
	}
}

// startProcess spawns ffmpeg decoding the RTSP source to mono 44.1 kHz
// signed 16-bit little-endian PCM on stdout.
func (r *Runner) startProcess(ctx context.Context) error {
	args := []string{
		"-rtsp_transport", r.transport,
		"-stimeout", "10000000",
		"-rw_timeout", "15000000",
		"-i", r.url,
		"-loglevel", "error",
		"-vn",
		"-ac", "1",
		"-ar", "44100",
		"-f", "s16le",
		"pipe:1",
	}

	cmd := exec.Command(r.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryDecoder).
			Context("operation", "stdout-pipe").
			Build()
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryDecoder).
			Context("operation", "stderr-pipe").
			Build()
	}

	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Category(errors.CategoryDecoder).
			Priority(errors.PriorityHigh).
			Context("operation", "spawn-ffmpeg").
			Context("stream", r.streamName).
			Build()
	}

	r.cmdMu.Lock()
	r.cmd = cmd
	r.stdout = stdout
	r.cmdMu.Unlock()

	go r.drainStderr(stderr)

	r.logger.Info("Started ffmpeg decoder",
		"pid", cmd.Process.Pid, "transport", r.transport)
	return nil
}

// drainStderr keeps the child's stderr from filling its pipe buffer and
// surfaces decoder diagnostics as warnings with any URLs scrubbed.
func (r *Runner) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.logger.Warn("ffmpeg", "message", privacy.ScrubMessage(line))
	}
}

// processAudio reads stdout until EOF or error, forwarding copied chunks to
// the chunk channel. Returns nil on a clean end of stream.
func (r *Runner) processAudio(ctx context.Context) error {
	r.cmdMu.Lock()
	stdout := r.stdout
	r.cmdMu.Unlock()

	if stdout == nil {
		return errors.Newf("decoder stdout not available").
			Category(errors.CategoryDecoder).
			Build()
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if r.metrics != nil {
				r.metrics.AddBytesRead(r.streamName, n)
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case r.chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.New(err).
				Category(errors.CategoryDecoder).
				Context("operation", "read-stdout").
				Build()
		}
	}
}

// cleanupProcess stops the current child, first politely and then with a
// hard kill after stopGracePeriod. Safe to call multiple times.
func (r *Runner) cleanupProcess() {
	r.cmdMu.Lock()
	cmd := r.cmd
	stdout := r.stdout
	r.cmd = nil
	r.stdout = nil
	r.cmdMu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = terminateProcess(cmd.Process)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		r.logger.Warn("ffmpeg did not exit in time, killing",
			"pid", cmd.Process.Pid, "grace", stopGracePeriod)
		_ = cmd.Process.Kill()
		<-done
	}
}
