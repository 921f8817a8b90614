package launcher

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
)

// DefaultImage is the vllm-ascend release run by DockerLauncher.
const DefaultImage = "quay.io/ascend/vllm-ascend:v0.11.0rc0"

// cacheDir is the only writable host mount besides the model directory.
const cacheDir = "/root/.cache"

// ascendSandbox maps NPU indices to the container settings the Ascend
// driver needs: visible-device variables, device nodes, driver mounts and
// privileged mode.
type ascendSandbox struct {
	devices []int
}

func newAscendSandbox(devices []int) (*ascendSandbox, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("no Ascend devices provided")
	}
	for _, idx := range devices {
		if idx < 0 {
			return nil, fmt.Errorf("invalid Ascend device index: %d", idx)
		}
	}
	return &ascendSandbox{devices: devices}, nil
}

// environment returns the CANN runtime variables:
//   - ASCEND_RT_VISIBLE_DEVICES / ASCEND_VISIBLE_DEVICES: visible NPU indices
//   - ASCEND_SLOG_PRINT_TO_STDOUT: CANN logs go to container stdout
//   - ASCEND_GLOBAL_LOG_LEVEL: 3 (error)
func (s *ascendSandbox) environment() map[string]string {
	indices := make([]string, len(s.devices))
	for i, idx := range s.devices {
		indices[i] = strconv.Itoa(idx)
	}
	visible := strings.Join(indices, ",")

	return map[string]string{
		"ASCEND_RT_VISIBLE_DEVICES":   visible,
		"ASCEND_VISIBLE_DEVICES":      visible,
		"ASCEND_SLOG_PRINT_TO_STDOUT": "1",
		"ASCEND_GLOBAL_LOG_LEVEL":     "3",
	}
}

// deviceMappings returns /dev/davinci[N] for every device plus the shared
// management nodes, all with rwm cgroup permissions.
func (s *ascendSandbox) deviceMappings() []container.DeviceMapping {
	paths := make([]string, 0, len(s.devices)+3)
	for _, idx := range s.devices {
		paths = append(paths, fmt.Sprintf("/dev/davinci%d", idx))
	}
	paths = append(paths,
		"/dev/davinci_manager",
		"/dev/devmm_svm",
		"/dev/hisi_hdc",
	)

	mappings := make([]container.DeviceMapping, 0, len(paths))
	for _, p := range paths {
		mappings = append(mappings, container.DeviceMapping{
			PathOnHost:        p,
			PathInContainer:   p,
			CgroupPermissions: "rwm",
		})
	}
	return mappings
}

// hostMounts binds the driver stack from the host. Everything is read-only
// except the cache directory.
func (s *ascendSandbox) hostMounts() []mount.Mount {
	paths := []string{
		"/usr/local/dcmi",
		"/usr/local/bin/npu-smi",
		"/usr/local/Ascend/driver/lib64/",
		"/usr/local/Ascend/driver/version.info",
		"/etc/ascend_install.info",
		cacheDir,
	}
	sort.Strings(paths)

	mounts := make([]mount.Mount, 0, len(paths))
	for _, p := range paths {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   p,
			Target:   p,
			ReadOnly: p != cacheDir,
		})
	}
	return mounts
}

// privileged is required: the NPU driver needs hardware access beyond the
// mapped device nodes.
func (s *ascendSandbox) privileged() bool {
	return true
}

// runtime pins the OCI runtime to runc so Docker does not pick
// ascend-docker-runtime; devices are provided through mappings instead.
func (s *ascendSandbox) runtime() string {
	return "runc"
}
