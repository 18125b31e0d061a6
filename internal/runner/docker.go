package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// Docker runs each command in a fresh container from Image. HostRoot is
// bind-mounted read-write at the same path inside the container, so
// checkout, virtualenv and output paths in arguments and environment
// values resolve the same way they do on the host. Commands whose
// directory is outside HostRoot fail to start.
type Docker struct {
	cli      *client.Client
	Image    string
	HostRoot string
	Timeout  time.Duration
}

// NewDocker connects to the daemon configured in the environment.
func NewDocker(image, hostRoot string, timeout time.Duration) (*Docker, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	abs, err := filepath.Abs(hostRoot)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("resolve docker host root: %w", err)
	}
	return &Docker{cli: cli, Image: image, HostRoot: abs, Timeout: timeout}, nil
}

// Close releases the client connection.
func (d *Docker) Close() error { return d.cli.Close() }

// workdir checks that dir is below HostRoot and returns it absolute.
func (d *Docker) workdir(dir string) (string, error) {
	if dir == "" {
		return d.HostRoot, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(d.HostRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("directory %s is outside %s", dir, d.HostRoot)
	}
	return abs, nil
}

// containerConfig describes the container that runs cmd.
func (d *Docker) containerConfig(cmd Command) (*container.Config, *container.HostConfig, error) {
	dir, err := d.workdir(cmd.Dir)
	if err != nil {
		return nil, nil, err
	}
	cfg := &container.Config{
		Image:      d.Image,
		Cmd:        append([]string{cmd.Name}, cmd.Args...),
		WorkingDir: filepath.ToSlash(dir),
		Env:        envList(cmd.Env),
	}
	host := &container.HostConfig{
		Binds: []string{d.HostRoot + ":" + filepath.ToSlash(d.HostRoot) + ":rw"},
	}
	return cfg, host, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (d *Docker) Run(ctx context.Context, cmd Command) Result {
	start := time.Now()
	cfg, hostCfg, err := d.containerConfig(cmd)
	if err != nil {
		return startFailure(cmd, err, time.Since(start))
	}

	runCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	created, err := d.cli.ContainerCreate(runCtx, client.ContainerCreateOptions{
		Config:     cfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return startFailure(cmd, fmt.Errorf("container create: %w", err), time.Since(start))
	}
	defer d.cli.ContainerRemove(context.Background(), created.ID, client.ContainerRemoveOptions{Force: true}) //nolint:errcheck

	if _, err := d.cli.ContainerStart(runCtx, created.ID, client.ContainerStartOptions{}); err != nil {
		return startFailure(cmd, fmt.Errorf("container start: %w", err), time.Since(start))
	}

	res := Result{Command: cmd.String()}
	wait := d.cli.ContainerWait(runCtx, created.ID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	select {
	case err := <-wait.Error:
		if runCtx.Err() != nil {
			d.cli.ContainerKill(context.Background(), created.ID, client.ContainerKillOptions{Signal: "SIGKILL"}) //nolint:errcheck
			res.ExitCode = StartFailure
			res.Stderr = fmt.Sprintf("command exceeded timeout of %v\n", d.Timeout)
		} else {
			res.ExitCode = StartFailure
			res.Stderr = fmt.Sprintf("container wait: %v\n", err)
		}
	case status := <-wait.Result:
		res.ExitCode = int(status.StatusCode)
	}

	res.Stdout, res.Stderr = d.logs(created.ID, res.Stderr)
	res.Duration = time.Since(start)
	slog.Debug("Container command finished",
		logfields.Command(res.Command),
		logfields.ExitCode(res.ExitCode),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return res
}

// logs fetches the container's output. Any message already in stderr
// comes first.
func (d *Docker) logs(id, stderr string) (string, string) {
	rc, err := d.cli.ContainerLogs(context.Background(), id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", stderr
	}
	defer rc.Close()
	return splitLogs(rc, stderr)
}

// splitLogs demultiplexes a non-TTY log stream into stdout and stderr.
func splitLogs(r io.Reader, stderr string) (string, string) {
	var out, errOut strings.Builder
	errOut.WriteString(stderr)
	if _, err := stdcopy.StdCopy(&out, &errOut, r); err != nil {
		slog.Debug("Container log stream ended early", logfields.Error(err))
	}
	return out.String(), errOut.String()
}
