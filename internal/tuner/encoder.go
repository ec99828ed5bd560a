package tuner

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/snapetech/iptvgw/internal/fanout"
	"github.com/snapetech/iptvgw/internal/metrics"
	"github.com/snapetech/iptvgw/internal/supervisor"
)

// EncoderConfig configures one CaptureEncoder instance.
type EncoderConfig struct {
	Width, Height, FPS int
	VideoBitrateK      int
	AudioBitrateK      int
	HWAccel            string // "", "vaapi", "nvenc"
	IdleTimeout        time.Duration
	RestartAttemptsCap int
	RestartDelay       time.Duration
	FFmpegPath         string // default "ffmpeg"
}

func (c EncoderConfig) withDefaults() EncoderConfig {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 720
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
	if c.VideoBitrateK <= 0 {
		c.VideoBitrateK = 3000
	}
	if c.AudioBitrateK <= 0 {
		c.AudioBitrateK = 160
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.RestartAttemptsCap <= 0 {
		c.RestartAttemptsCap = 5
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 2 * time.Second
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	return c
}

// Stats is an immutable snapshot of encoder health, per spec §4.2.
type Stats struct {
	Running        bool
	Uptime         time.Duration
	BytesOut       int64
	Frames         int64
	Restarts       int
	LastActivity   time.Time
	RecentErrors   []string
	Healthy        bool
	HWAccelActive  bool
}

// CaptureEncoder owns one external encoder process and fans its stdout out
// to zero or more attached writers. Grounded on internal/tuner/gateway.go's
// ffmpeg relay (MPEG-TS flag construction, stdout-to-writer pump) and
// internal/supervisor's spawn/signal/timeout-kill process idiom.
type CaptureEncoder struct {
	cfg     EncoderConfig
	fan     *fanout.Fanout
	tunerID string

	mu             sync.Mutex
	running        bool
	stopping       bool
	shouldRestart  bool
	hwAccelFailed  bool
	hwErrorLatched bool
	restartAttempts int
	startedAt      time.Time
	bytesOut       int64
	frames         int64
	restarts       int
	lastActivity   time.Time
	recentErrors   []string

	proc        *supervisor.Process
	idleTimer   *time.Timer
	stopWaiters []chan struct{}

	displayNum int
	genCancel  context.CancelFunc
}

// NewCaptureEncoder constructs an encoder bound to one tuner. fan is the
// tuner's fan-out broadcaster (shared across restarts). tunerID labels the
// restart/abandon metrics emitted by this encoder.
func NewCaptureEncoder(cfg EncoderConfig, fan *fanout.Fanout, tunerID string) *CaptureEncoder {
	return &CaptureEncoder{cfg: cfg.withDefaults(), fan: fan, tunerID: tunerID}
}

// Start begins capturing displayNum. If an instance is already running, it
// is stopped and awaited before the new one spawns (serialized: concurrent
// Start calls block on stopping=false). Resets the hw-accel fallback latch
// for this new session.
func (e *CaptureEncoder) Start(ctx context.Context, displayNum int) error {
	e.mu.Lock()
	for e.stopping {
		wait := make(chan struct{})
		e.stopWaiters = append(e.stopWaiters, wait)
		e.mu.Unlock()
		<-wait
		e.mu.Lock()
	}
	if e.running {
		e.mu.Unlock()
		if err := e.stopAndWait(); err != nil {
			log.Printf("encoder: stop previous instance: %v", err)
		}
		e.mu.Lock()
	}
	e.hwAccelFailed = false
	e.restartAttempts = 0
	e.displayNum = displayNum
	e.mu.Unlock()

	genCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.genCancel = cancel
	e.mu.Unlock()

	return e.spawn(genCtx)
}

func (e *CaptureEncoder) spawn(ctx context.Context) error {
	e.mu.Lock()
	useHW := e.cfg.HWAccel != "" && !e.hwAccelFailed
	displayNum := e.displayNum
	e.mu.Unlock()

	args := buildFFmpegArgs(e.cfg, displayNum, useHW)
	proc, err := supervisor.Start(ctx, supervisor.Spec{
		Name:      fmt.Sprintf("ffmpeg:display%d", displayNum),
		Path:      e.cfg.FFmpegPath,
		Args:      args,
		StderrLine: e.onStderrLine,
	})
	if err != nil {
		return fmt.Errorf("encoder: spawn ffmpeg: %w", err)
	}

	if useHW {
		// Small readiness delay for hardware encoder initialization.
		time.Sleep(200 * time.Millisecond)
	}

	e.mu.Lock()
	e.proc = proc
	e.running = true
	e.startedAt = time.Now()
	e.lastActivity = time.Now()
	e.shouldRestart = true
	e.mu.Unlock()

	go e.pump(proc)
	go e.awaitExit(ctx, proc, useHW)
	return nil
}

func (e *CaptureEncoder) pump(proc *supervisor.Process) {
	buf := make([]byte, 64*1024)
	for {
		n, err := proc.Stdout().Read(buf)
		if n > 0 {
			e.fan.Write(buf[:n])
			e.mu.Lock()
			e.bytesOut += int64(n)
			e.lastActivity = time.Now()
			e.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				e.noteError(fmt.Sprintf("stdout read: %v", err))
			}
			return
		}
	}
}

func (e *CaptureEncoder) onStderrLine(line string) {
	if strings.Contains(strings.ToLower(line), "frame=") {
		e.mu.Lock()
		e.frames++
		e.lastActivity = time.Now()
		e.mu.Unlock()
		return
	}
	if isHWInitError(line) {
		e.mu.Lock()
		e.hwErrorLatched = true
		e.mu.Unlock()
	}
	if isErrorLine(line) {
		e.noteError(line)
	}
}

func (e *CaptureEncoder) noteError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentErrors = append(e.recentErrors, msg)
	if len(e.recentErrors) > 10 {
		e.recentErrors = e.recentErrors[len(e.recentErrors)-10:]
	}
}

// awaitExit implements the hot-restart policy of spec §4.2.
func (e *CaptureEncoder) awaitExit(ctx context.Context, proc *supervisor.Process, usedHW bool) {
	startedAt := time.Now()
	err := proc.Wait()

	e.mu.Lock()
	e.running = false
	wasStopping := e.stopping
	hwErr := e.hwErrorLatched
	e.hwErrorLatched = false
	shouldRestart := e.shouldRestart
	clientCount := e.fan.Count()
	e.mu.Unlock()

	if wasStopping || !shouldRestart {
		e.finishStop()
		return
	}
	if err == nil {
		// Clean exit: no restart.
		e.finishStop()
		return
	}
	if usedHW && hwErr && time.Since(startedAt) < 5*time.Second {
		e.mu.Lock()
		e.hwAccelFailed = true
		e.restartAttempts = 0
		e.restarts++
		e.mu.Unlock()
		log.Printf("encoder: hw-accel init failed, falling back to software")
		metrics.EncoderRestartsTotal.WithLabelValues(e.tunerID, "hw-fallback").Inc()
		if err := e.spawn(ctx); err != nil {
			log.Printf("encoder: sw fallback spawn failed: %v", err)
			e.abandon()
		}
		return
	}

	if clientCount == 0 {
		e.finishStop()
		return
	}

	e.mu.Lock()
	e.restartAttempts++
	attempts := e.restartAttempts
	e.mu.Unlock()
	if attempts > e.cfg.RestartAttemptsCap {
		log.Printf("encoder: restart attempts exceeded (%d), abandoning", attempts)
		e.abandon()
		return
	}

	e.mu.Lock()
	e.restarts++
	e.mu.Unlock()
	metrics.EncoderRestartsTotal.WithLabelValues(e.tunerID, "crash-retry").Inc()
	time.Sleep(e.cfg.RestartDelay)
	if err := e.spawn(ctx); err != nil {
		log.Printf("encoder: restart spawn failed: %v", err)
		e.abandon()
	}
}

func (e *CaptureEncoder) abandon() {
	e.fan.CloseAll()
	e.finishStop()
	metrics.EncoderAbandonedTotal.WithLabelValues(e.tunerID).Inc()
}

func (e *CaptureEncoder) finishStop() {
	e.mu.Lock()
	e.stopping = false
	e.running = false
	waiters := e.stopWaiters
	e.stopWaiters = nil
	e.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// AddClient cancels any pending idle-timer; callers attach the writer to the
// shared Fanout themselves (the encoder only tracks idle-arming via Count).
func (e *CaptureEncoder) AddClient() {
	e.mu.Lock()
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	e.mu.Unlock()
}

// RemoveClient arms the idle-timer if the fan-out is now empty and the
// encoder is still running.
func (e *CaptureEncoder) RemoveClient() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fan.Count() > 0 || !e.running {
		return
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(e.cfg.IdleTimeout, func() {
		log.Printf("encoder: idle timeout, stopping")
		e.Stop()
	})
}

// Stop requests a non-blocking stop.
func (e *CaptureEncoder) Stop() {
	e.mu.Lock()
	if !e.running || e.stopping {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	e.shouldRestart = false
	proc := e.proc
	cancel := e.genCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if proc != nil {
		go proc.Stop()
	}
}

// StopAndWait requests a stop and blocks until it completes.
func (e *CaptureEncoder) StopAndWait() error {
	return e.stopAndWait()
}

func (e *CaptureEncoder) stopAndWait() error {
	e.mu.Lock()
	if !e.running && !e.stopping {
		e.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	e.stopWaiters = append(e.stopWaiters, wait)
	alreadyStopping := e.stopping
	e.mu.Unlock()
	if !alreadyStopping {
		e.Stop()
	}
	<-wait
	return nil
}

// Stats returns an immutable snapshot.
func (e *CaptureEncoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	errs := make([]string, len(e.recentErrors))
	copy(errs, e.recentErrors)
	uptime := time.Duration(0)
	if e.running {
		uptime = time.Since(e.startedAt)
	}
	healthy := e.running && time.Since(e.lastActivity) < 5*time.Second
	return Stats{
		Running:       e.running,
		Uptime:        uptime,
		BytesOut:      e.bytesOut,
		Frames:        e.frames,
		Restarts:      e.restarts,
		LastActivity:  e.lastActivity,
		RecentErrors:  errs,
		Healthy:       healthy,
		HWAccelActive: e.cfg.HWAccel != "" && !e.hwAccelFailed,
	}
}

func isHWInitError(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "no nvenc") ||
		strings.Contains(l, "cannot load nvcuda") ||
		strings.Contains(l, "vaapi") && strings.Contains(l, "failed") ||
		strings.Contains(l, "hwaccel") && strings.Contains(l, "init") && strings.Contains(l, "fail")
}

func isErrorLine(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "error") || strings.Contains(l, "failed") || strings.Contains(l, "invalid")
}

// buildFFmpegArgs builds the ffmpeg invocation for screen-capture-to-MPEG-TS,
// generalizing mpegTSFlagsWithOptionalInitialDiscontinuity /
// buildFFmpegMPEGTSCodecArgs from the source gateway's HLS relay path to a
// display-capture input instead of an HTTP input.
func buildFFmpegArgs(cfg EncoderConfig, displayNum int, useHW bool) []string {
	display := ":" + strconv.Itoa(displayNum)
	args := []string{
		"-loglevel", "info",
		"-f", "x11grab",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(cfg.FPS),
		"-i", display,
		"-f", "pulse",
		"-i", "virtual_sink.monitor",
	}

	switch {
	case useHW && cfg.HWAccel == "nvenc":
		args = append(args, "-c:v", "h264_nvenc", "-b:v", fmt.Sprintf("%dk", cfg.VideoBitrateK))
	case useHW && cfg.HWAccel == "vaapi":
		args = append(args,
			"-vaapi_device", "/dev/dri/renderD128",
			"-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi", "-b:v", fmt.Sprintf("%dk", cfg.VideoBitrateK))
	default:
		args = append(args, "-c:v", "libx264", "-preset", "veryfast",
			"-b:v", fmt.Sprintf("%dk", cfg.VideoBitrateK))
	}

	args = append(args,
		"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", cfg.AudioBitrateK),
		"-f", "mpegts",
		"-mpegts_flags", mpegTSFlags(),
		"pipe:1",
	)
	return args
}

// mpegTSFlags mirrors the source's resend_headers+pat_pmt_at_frames policy
// so that a client attaching mid-stream can sync without waiting for the
// encoder's natural PAT/PMT interval.
func mpegTSFlags() string {
	return "resend_headers+pat_pmt_at_frames"
}
