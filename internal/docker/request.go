package docker

import (
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

// CreateRequest is a container creation request in the form the CLI and the
// gateway accept it. Build turns it into the SDK configuration that the
// constraint validator inspects and the daemon receives.
//
// CreateRequestはCLIとゲートウェイが受け付ける形式のコンテナ作成要求です。
// Buildはこれを制約バリデータが検査し、デーモンが受け取るSDK設定に変換します。
type CreateRequest struct {
	Name    string
	Image   string
	Cmd     []string
	Env     []string
	Workdir string
	Labels  map[string]string

	// Binds are "source:target[:mode]" bind specs.
	// Bindsは "source:target[:mode]" 形式のバインド指定です。
	Binds []string

	// Ports are publish specs ("8080:80", "127.0.0.1:5432:5432/tcp", "53/udp").
	// Portsは公開指定です（"8080:80"、"127.0.0.1:5432:5432/tcp"、"53/udp"）。
	Ports []string

	// Memory is a human-readable size ("512m", "2g"); empty means unlimited.
	// Memoryは人が読めるサイズ（"512m"、"2g"）です。空は無制限を意味します。
	Memory string

	// CPUs is the number of CPUs; 0 means unlimited.
	// CPUsはCPU数です。0は無制限を意味します。
	CPUs float64

	Privileged  bool
	NetworkMode string
}

// Build converts the request into container and host configurations.
// BuildはリクエストをコンテナとホストのSDK設定に変換します。
func (r *CreateRequest) Build() (*container.Config, *container.HostConfig, error) {
	if strings.TrimSpace(r.Image) == "" {
		return nil, nil, fmt.Errorf("image is required")
	}

	exposed, bindings, err := nat.ParsePortSpecs(r.Ports)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid port spec: %w", err)
	}

	var memory int64
	if r.Memory != "" {
		memory, err = units.RAMInBytes(r.Memory)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid memory %q: %w", r.Memory, err)
		}
		if memory < 0 {
			return nil, nil, fmt.Errorf("invalid memory %q: must not be negative", r.Memory)
		}
	}
	if r.CPUs < 0 {
		return nil, nil, fmt.Errorf("invalid cpus %g: must not be negative", r.CPUs)
	}

	for _, b := range r.Binds {
		src, dst, ok := strings.Cut(b, ":")
		if !ok || src == "" || dst == "" {
			return nil, nil, fmt.Errorf("invalid bind %q: expected source:target[:mode]", b)
		}
	}

	cfg := &container.Config{
		Image:        r.Image,
		Cmd:          r.Cmd,
		Env:          r.Env,
		WorkingDir:   r.Workdir,
		Labels:       r.Labels,
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		Binds:        r.Binds,
		PortBindings: bindings,
		Privileged:   r.Privileged,
		NetworkMode:  container.NetworkMode(r.NetworkMode),
		Resources: container.Resources{
			Memory:   memory,
			NanoCPUs: int64(r.CPUs * 1e9),
		},
	}

	return cfg, hostCfg, nil
}
