package preview

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zpdzap/codelive/internal/config"
	"github.com/zpdzap/codelive/internal/metrics"
	"github.com/zpdzap/codelive/internal/shell"
)

// start copies the app, runs the install step and launches the dev server.
func (m *Manager) start(ctx context.Context, inst *instance, cfg Config, log logrus.FieldLogger) error {
	dir := inst.info.Dir
	if err := m.source.CopyTo(inst.info.AppID, dir); err != nil {
		return fmt.Errorf("copying app: %w", err)
	}

	install, run, marker := m.commands(dir)
	env := buildEnv(cfg)

	if len(install) > 0 {
		m.appendLog(inst, "$ "+strings.Join(install, " "), "")
		out, err := m.runner.Run(ctx, shell.Command{Dir: dir, Env: env, Name: install[0], Args: install[1:]})
		for _, line := range strings.Split(out, "\n") {
			if line != "" {
				m.appendLog(inst, line, "")
			}
		}
		if err != nil {
			return fmt.Errorf("installing dependencies: %w", err)
		}
	}

	if len(run) == 0 {
		return fmt.Errorf("no run command configured")
	}
	args := make([]string, len(run))
	for i, a := range run {
		args[i] = strings.ReplaceAll(a, config.PortPlaceholder, strconv.Itoa(cfg.Port))
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	// Hold the lock across Start so Delete either sees the process or
	// marks the instance removed before it is launched.
	m.mu.Lock()
	if inst.removed {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.appendLogLocked(inst, "$ "+strings.Join(args, " "), "")
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("starting %s: %w", args[0], err)
	}
	inst.cmd = cmd
	m.mu.Unlock()
	log.WithField("pid", cmd.Process.Pid).Debug("dev server started")

	var readers sync.WaitGroup
	readers.Add(2)
	go m.pump(inst, stdout, marker, &readers)
	go m.pump(inst, stderr, marker, &readers)

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		close(inst.done)

		m.mu.Lock()
		defer m.mu.Unlock()
		if inst.removed || inst.info.Status == StatusError {
			return
		}
		inst.info.Status = StatusError
		if waitErr != nil {
			inst.info.Error = fmt.Sprintf("dev server exited: %v", waitErr)
		} else {
			inst.info.Error = "dev server exited"
		}
		log.Warn(inst.info.Error)
	}()
	return nil
}

// commands resolves install, run and ready marker from options, falling
// back to detection from the copied files.
func (m *Manager) commands(dir string) (install, run []string, marker string) {
	install, run, marker = m.opts.InstallCommand, m.opts.RunCommand, m.opts.ReadyMarker
	if len(run) == 0 {
		d := config.Detect(dir)
		run = d.RunCommand
		if install == nil {
			install = d.InstallCommand
		}
		if marker == "" {
			marker = d.ReadyMarker
		}
	}
	if marker == "" {
		marker = DefaultReadyMarker
	}
	return install, run, marker
}

// buildEnv returns PORT followed by the caller's variables in name order.
func buildEnv(cfg Config) []string {
	env := []string{"PORT=" + strconv.Itoa(cfg.Port)}
	names := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		if k != "PORT" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		env = append(env, k+"="+cfg.Env[k])
	}
	return env
}

func (m *Manager) pump(inst *instance, r io.Reader, marker string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		m.appendLog(inst, scanner.Text(), marker)
	}
	// drain so the child never blocks on a full pipe
	io.Copy(io.Discard, r)
}

func (m *Manager) appendLog(inst *instance, line, marker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLogLocked(inst, line, marker)
}

func (m *Manager) appendLogLocked(inst *instance, line, marker string) {
	inst.info.Logs = append(inst.info.Logs, line)
	if n := len(inst.info.Logs); n > maxLogLines {
		inst.info.Logs = append([]string(nil), inst.info.Logs[n-maxLogLines:]...)
	}
	if marker != "" && inst.info.Status == StatusCreating && strings.Contains(line, marker) {
		inst.info.Status = StatusReady
		metrics.PreviewReady(m.now().Sub(inst.info.CreatedAt))
	}
	for ch := range inst.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// stopProcess signals the process group and waits for it to exit,
// escalating to SIGKILL after the grace period.
func (m *Manager) stopProcess(inst *instance) {
	m.mu.Lock()
	cmd := inst.cmd
	m.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := terminate(cmd); err != nil {
		m.log.WithError(err).WithField("preview_id", inst.info.ID).Debug("terminate")
	}
	select {
	case <-inst.done:
		return
	case <-time.After(m.opts.StopGrace):
	}
	kill(cmd)
	select {
	case <-inst.done:
	case <-time.After(m.opts.StopGrace):
		m.log.WithField("preview_id", inst.info.ID).Warn("dev server did not exit after SIGKILL")
	}
}
