package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/audit"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/docker"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/security"
)

// Docker operation types. The operation string is "type" or "type:target".
// Docker操作タイプ。操作文字列は "type" または "type:target" です。
const (
	OpListContainers   = "list_containers"
	OpInspectContainer = "inspect_container"
	OpContainerLogs    = "container_logs"
	OpCreateContainer  = "create_container"
	OpStartContainer   = "start_container"
	OpStopContainer    = "stop_container"
	OpRestartContainer = "restart_container"
	OpRemoveContainer  = "remove_container"
	OpListImages       = "list_images"
	OpPullImage        = "pull_image"
	OpRemoveImage      = "remove_image"
	OpListVolumes      = "list_volumes"
	OpCreateVolume     = "create_volume"
	OpRemoveVolume     = "remove_volume"
)

// imageOps take an image reference as target; every other targeted
// operation takes a container or volume name.
var imageOps = map[string]bool{
	OpCreateContainer: true,
	OpPullImage:       true,
	OpRemoveImage:     true,
}

// Operation builds the operation string for opType and target.
// Operationは opType と target から操作文字列を構築します。
func Operation(opType, target string) string {
	if target == "" {
		return opType
	}
	return opType + ":" + target
}

// contextFor builds the validation context implied by an operation string.
// Image operations fill Image; container operations fill ContainerName.
func contextFor(opType, target string) *security.ValidationContext {
	vctx := &security.ValidationContext{}
	switch {
	case target == "":
	case imageOps[opType]:
		vctx.Image = target
	case strings.HasSuffix(opType, "_volume"):
		// volume names are matched by the pattern only
	default:
		vctx.ContainerName = target
	}
	return vctx
}

// DockerGate guards Docker Engine operations.
// DockerGateはDocker Engine操作を保護します。
type DockerGate struct {
	core
	client docker.DockerClientInterface
}

// NewDockerGate creates a DockerGate. A nil engine denies everything.
// NewDockerGateはDockerGateを作成します。nilのengineはすべてを拒否します。
func NewDockerGate(engine *security.Engine, client docker.DockerClientInterface, opts Options) *DockerGate {
	return &DockerGate{
		core:   newCore(engine, audit.KindDocker, opts),
		client: client,
	}
}

// Check evaluates an operation string without executing or recording it.
// For create_container the constraints that need a container configuration
// pass vacuously; use CheckCreate to include them.
//
// Checkは操作文字列を実行も記録もせずに評価します。
func (g *DockerGate) Check(operation string) Check {
	op := strings.TrimSpace(operation)
	opType, target, _ := strings.Cut(op, ":")
	return g.check(op, contextFor(opType, target))
}

// CheckCreate evaluates a container creation request without executing or
// recording it.
//
// CheckCreateはコンテナ作成リクエストを実行も記録もせずに評価します。
func (g *DockerGate) CheckCreate(req *docker.CreateRequest) (Check, error) {
	op, vctx, err := createContext(req)
	if err != nil {
		return Check{}, err
	}
	return g.check(op, vctx), nil
}

// run is the common path of every operation.
func (g *DockerGate) run(ctx context.Context, opType, target string, vctx *security.ValidationContext, fn func(context.Context) error) error {
	id, err := g.authorize(ctx, Operation(opType, target), target, vctx)
	if err != nil {
		return err
	}
	if g.client == nil {
		return fmt.Errorf("no docker client configured")
	}

	start := time.Now()
	err = fn(ctx)
	g.complete(ctx, id, start, summarize(err), nil)
	return err
}

func (g *DockerGate) simple(ctx context.Context, opType, target string, fn func(context.Context) error) error {
	return g.run(ctx, opType, target, contextFor(opType, target), fn)
}

// ListContainers lists containers.
func (g *DockerGate) ListContainers(ctx context.Context) ([]docker.ContainerInfo, error) {
	var list []docker.ContainerInfo
	err := g.simple(ctx, OpListContainers, "", func(ctx context.Context) (err error) {
		list, err = g.client.ListContainers(ctx)
		return err
	})
	return list, err
}

// InspectContainer returns the container details as indented JSON, masked.
// InspectContainerはコンテナの詳細をマスク済みのインデント付きJSONで返します。
func (g *DockerGate) InspectContainer(ctx context.Context, name string) (string, error) {
	var out string
	err := g.simple(ctx, OpInspectContainer, name, func(ctx context.Context) error {
		info, err := g.client.InspectContainer(ctx, name)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode inspect result: %w", err)
		}
		out = g.masker.MaskInspect(string(data))
		return nil
	})
	return out, err
}

// ContainerLogs returns the container logs, masked.
// ContainerLogsはマスク済みのコンテナログを返します。
func (g *DockerGate) ContainerLogs(ctx context.Context, name, tail, since string) (string, error) {
	var out string
	err := g.simple(ctx, OpContainerLogs, name, func(ctx context.Context) error {
		logs, err := g.client.GetLogs(ctx, name, tail, since)
		if err != nil {
			return err
		}
		out = g.masker.MaskLogs(logs)
		return nil
	})
	return out, err
}

// CreateContainer validates and creates a container, returning its ID.
// The operation string is "create_container:<image>"; constraints see the
// full container configuration.
//
// CreateContainerはコンテナを検証して作成し、そのIDを返します。
// 操作文字列は "create_container:<image>" で、制約はコンテナ設定全体を参照します。
func (g *DockerGate) CreateContainer(ctx context.Context, req *docker.CreateRequest) (string, error) {
	_, vctx, err := createContext(req)
	if err != nil {
		return "", err
	}

	var id string
	err = g.run(ctx, OpCreateContainer, req.Image, vctx, func(ctx context.Context) (err error) {
		id, err = g.client.CreateContainer(ctx, req.Name, vctx.Container.Config, vctx.Container.HostConfig)
		return err
	})
	return id, err
}

func createContext(req *docker.CreateRequest) (string, *security.ValidationContext, error) {
	if req == nil {
		return "", nil, fmt.Errorf("create request is required")
	}
	cfg, hostCfg, err := req.Build()
	if err != nil {
		return "", nil, fmt.Errorf("invalid create request: %w", err)
	}
	vctx := &security.ValidationContext{
		Container:     &security.ContainerSpec{Config: cfg, HostConfig: hostCfg},
		Image:         req.Image,
		ContainerName: req.Name,
	}
	return Operation(OpCreateContainer, req.Image), vctx, nil
}

// StartContainer starts a container.
func (g *DockerGate) StartContainer(ctx context.Context, name string) error {
	return g.simple(ctx, OpStartContainer, name, func(ctx context.Context) error {
		return g.client.StartContainer(ctx, name)
	})
}

// StopContainer stops a container.
func (g *DockerGate) StopContainer(ctx context.Context, name string, timeout *int) error {
	return g.simple(ctx, OpStopContainer, name, func(ctx context.Context) error {
		return g.client.StopContainer(ctx, name, timeout)
	})
}

// RestartContainer restarts a container.
func (g *DockerGate) RestartContainer(ctx context.Context, name string, timeout *int) error {
	return g.simple(ctx, OpRestartContainer, name, func(ctx context.Context) error {
		return g.client.RestartContainer(ctx, name, timeout)
	})
}

// RemoveContainer removes a container.
func (g *DockerGate) RemoveContainer(ctx context.Context, name string, force bool) error {
	return g.simple(ctx, OpRemoveContainer, name, func(ctx context.Context) error {
		return g.client.RemoveContainer(ctx, name, force)
	})
}

// ListImages lists local images.
func (g *DockerGate) ListImages(ctx context.Context) ([]docker.ImageInfo, error) {
	var list []docker.ImageInfo
	err := g.simple(ctx, OpListImages, "", func(ctx context.Context) (err error) {
		list, err = g.client.ListImages(ctx)
		return err
	})
	return list, err
}

// PullImage pulls an image.
func (g *DockerGate) PullImage(ctx context.Context, ref string) error {
	return g.simple(ctx, OpPullImage, ref, func(ctx context.Context) error {
		return g.client.PullImage(ctx, ref)
	})
}

// RemoveImage removes an image.
func (g *DockerGate) RemoveImage(ctx context.Context, ref string, force bool) error {
	return g.simple(ctx, OpRemoveImage, ref, func(ctx context.Context) error {
		return g.client.RemoveImage(ctx, ref, force)
	})
}

// ListVolumes lists volumes.
func (g *DockerGate) ListVolumes(ctx context.Context) ([]docker.VolumeInfo, error) {
	var list []docker.VolumeInfo
	err := g.simple(ctx, OpListVolumes, "", func(ctx context.Context) (err error) {
		list, err = g.client.ListVolumes(ctx)
		return err
	})
	return list, err
}

// CreateVolume creates a volume.
func (g *DockerGate) CreateVolume(ctx context.Context, name string, labels map[string]string) (*docker.VolumeInfo, error) {
	var v *docker.VolumeInfo
	err := g.simple(ctx, OpCreateVolume, name, func(ctx context.Context) (err error) {
		v, err = g.client.CreateVolume(ctx, name, labels)
		return err
	})
	return v, err
}

// RemoveVolume removes a volume.
func (g *DockerGate) RemoveVolume(ctx context.Context, name string, force bool) error {
	return g.simple(ctx, OpRemoveVolume, name, func(ctx context.Context) error {
		return g.client.RemoveVolume(ctx, name, force)
	})
}
