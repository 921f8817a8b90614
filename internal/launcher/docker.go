package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/tsingmao/xw-vllm/internal/ascend"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

// dockerAPI is the subset of the Docker client used by DockerLauncher.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerLauncher runs the server inside the vllm-ascend container image.
//
// The container gets the Ascend device nodes and driver mounts, runs
// privileged, mounts the model directory read-only at the same path so the
// translated --model flag stays valid, and publishes the server port. Its
// logs are streamed to Stdout/Stderr. The container is removed when Launch
// returns.
type DockerLauncher struct {
	// Image is the container image.
	Image string

	// GracePeriod bounds the shutdown after SIGINT.
	GracePeriod time.Duration

	// Stdout and Stderr receive container output. Nil means the current
	// process's streams.
	Stdout io.Writer
	Stderr io.Writer

	api dockerAPI
}

// NewDockerLauncher creates a launcher using the Docker daemon from the
// environment (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH).
func NewDockerLauncher(imageName string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return newDockerLauncher(cli, imageName), nil
}

func newDockerLauncher(api dockerAPI, imageName string) *DockerLauncher {
	if imageName == "" {
		imageName = DefaultImage
	}
	return &DockerLauncher{
		Image:       imageName,
		GracePeriod: DefaultGracePeriod,
		api:         api,
	}
}

// Name returns "docker".
func (l *DockerLauncher) Name() string {
	return RuntimeDocker
}

// ContainerName is the name given to the server container.
func ContainerName(port int) string {
	return fmt.Sprintf("xw-vllm-%d", port)
}

// containerConfig builds the container and host configuration for spec.
func (l *DockerLauncher) containerConfig(spec *Spec) (*container.Config, *container.HostConfig, error) {
	if spec.ModelPath == "" {
		return nil, nil, fmt.Errorf("model path is required")
	}

	devices := spec.DeviceIDs
	if len(devices) == 0 {
		devices = []int{0}
	}
	sandbox, err := newAscendSandbox(devices)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to prepare Ascend sandbox: %w", err)
	}

	env := sandbox.environment()
	if spec.Env != nil {
		if id, ok := spec.Env.Get(ascend.EnvDeviceID); ok {
			env[ascend.EnvDeviceID] = id
		}
	}
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	sort.Strings(envList)

	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	if spec.Port > 0 {
		port := nat.Port(fmt.Sprintf("%d/tcp", spec.Port))
		exposedPorts[port] = struct{}{}
		portBindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(spec.Port),
		}}
	}

	cmd := append([]string{"python", "-m", ServerModule}, spec.Args...)

	containerCfg := &container.Config{
		Image:        l.Image,
		Env:          envList,
		Cmd:          cmd,
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			"xw.runtime":        "xw-vllm",
			"xw.model_path":     spec.ModelPath,
			"xw.port":           strconv.Itoa(spec.Port),
			"xw.device_indices": env["ASCEND_RT_VISIBLE_DEVICES"],
		},
	}

	mounts := []mount.Mount{{
		Type:     mount.TypeBind,
		Source:   spec.ModelPath,
		Target:   spec.ModelPath,
		ReadOnly: true,
	}}
	mounts = append(mounts, sandbox.hostMounts()...)

	useInit := true
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Devices: sandbox.deviceMappings(),
		},
		Mounts:       mounts,
		PortBindings: portBindings,
		NetworkMode:  "bridge",
		Privileged:   sandbox.privileged(),
		Runtime:      sandbox.runtime(),
		Init:         &useInit,
	}

	return containerCfg, hostCfg, nil
}

// Launch creates, starts and waits for the server container.
func (l *DockerLauncher) Launch(ctx context.Context, spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("launch spec is required")
	}

	containerCfg, hostCfg, err := l.containerConfig(spec)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = l.api.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("Docker daemon is not accessible: %w", err)
	}

	if err := l.ensureImage(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return err
	}

	name := ContainerName(spec.Port)
	resp, err := l.api.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create Docker container: %w", err)
	}
	id := resp.ID
	logger.Info("Created vLLM container %s (%s)", name, shortID(id))
	defer l.remove(id)

	if err := l.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return fmt.Errorf("failed to start container: %w", err)
	}
	logger.Info("Starting vLLM server in container: %s", CommandLine("python", spec.Args))

	logCtx, stopLogs := context.WithCancel(context.WithoutCancel(ctx))
	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		l.streamLogs(logCtx, id)
	}()
	defer func() {
		stopLogs()
		<-logsDone
	}()

	waitCh, errCh := l.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		if res.Error != nil && res.Error.Message != "" {
			return fmt.Errorf("vLLM container failed: %s", res.Error.Message)
		}
		if res.StatusCode != 0 {
			return fmt.Errorf("vLLM container exited with code %d", res.StatusCode)
		}
		logger.Info("vLLM container exited")
		return nil

	case err := <-errCh:
		if ctx.Err() != nil {
			l.stop(id)
			return ErrInterrupted
		}
		return fmt.Errorf("failed waiting for container: %w", err)

	case <-ctx.Done():
		l.stop(id)
		return ErrInterrupted
	}
}

// ensureImage pulls the image unless it is present locally.
func (l *DockerLauncher) ensureImage(ctx context.Context) error {
	logger.Debug("Ensuring Docker image is available: %s", l.Image)

	images, err := l.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", l.Image)),
	})
	if err != nil {
		return fmt.Errorf("failed to check Docker image: %w", err)
	}
	if len(images) > 0 {
		logger.Debug("Docker image %s already exists locally", l.Image)
		return nil
	}

	logger.Info("Pulling Docker image: %s", l.Image)
	rc, err := l.api.ImagePull(ctx, l.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer rc.Close()

	if err := readPullProgress(rc); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	logger.Info("Successfully pulled Docker image: %s", l.Image)
	return nil
}

// pullMessage is one line of the daemon's JSON pull progress stream.
type pullMessage struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Error  string `json:"error"`
}

// readPullProgress drains the pull stream and returns the first error
// reported by the daemon.
func readPullProgress(r io.Reader) error {
	dec := json.NewDecoder(r)
	last := ""
	for {
		var msg pullMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
		if msg.Status != last {
			logger.Debug("pull: %s %s", msg.Status, msg.ID)
			last = msg.Status
		}
	}
}

// streamLogs copies demultiplexed container output until the container
// stops or ctx ends.
func (l *DockerLauncher) streamLogs(ctx context.Context, id string) {
	rc, err := l.api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logger.Warn("Failed to stream container logs: %v", err)
		return
	}
	defer rc.Close()

	stdout, stderr := l.Stdout, l.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		logger.Debug("Container log stream ended: %v", err)
	}
}

// stop sends SIGINT and lets Docker kill the container after GracePeriod.
func (l *DockerLauncher) stop(id string) {
	logger.Info("Received interrupt signal, stopping container %s...", shortID(id))

	timeout := int(l.GracePeriod.Seconds())
	ctx, cancel := context.WithTimeout(context.Background(), l.GracePeriod+10*time.Second)
	defer cancel()

	if err := l.api.ContainerStop(ctx, id, container.StopOptions{Signal: "SIGINT", Timeout: &timeout}); err != nil {
		logger.Warn("Failed to stop container %s: %v", shortID(id), err)
	}
}

// remove deletes the container and its anonymous volumes.
func (l *DockerLauncher) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		logger.Warn("Failed to remove container %s: %v", shortID(id), err)
		return
	}
	logger.Debug("Removed container %s", shortID(id))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
