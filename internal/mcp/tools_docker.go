package mcp

import (
	"context"
	"fmt"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/docker"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
)

func (s *Server) dockerGate(call toolCall) *gateway.DockerGate {
	return gateway.NewDockerGate(s.backend.DockerEngine, s.backend.Docker, call.opts)
}

// toolListContainers implements the list_containers tool.
// toolListContainersはlist_containersツールを実装します。
func (s *Server) toolListContainers(ctx context.Context, call toolCall) (any, error) {
	containers, err := s.dockerGate(call).ListContainers(ctx)
	if err != nil {
		return toolResult(err), nil
	}
	if containers == nil {
		containers = []docker.ContainerInfo{}
	}
	return jsonTextResponse(containers)
}

// toolInspectContainer implements the inspect_container tool.
// The gate has already masked the JSON.
//
// toolInspectContainerはinspect_containerツールを実装します。
// JSONはゲートでマスク済みです。
func (s *Server) toolInspectContainer(ctx context.Context, call toolCall) (any, error) {
	name, err := stringArg(call.args, "container", true)
	if err != nil {
		return nil, err
	}
	out, err := s.dockerGate(call).InspectContainer(ctx, name)
	if err != nil {
		return toolResult(err), nil
	}
	return textResponse(out), nil
}

// toolGetLogs implements the get_logs tool.
// toolGetLogsはget_logsツールを実装します。
func (s *Server) toolGetLogs(ctx context.Context, call toolCall) (any, error) {
	name, err := stringArg(call.args, "container", true)
	if err != nil {
		return nil, err
	}
	tail, err := stringArg(call.args, "tail", false)
	if err != nil {
		return nil, err
	}
	if tail == "" {
		tail = "100"
	}
	since, err := stringArg(call.args, "since", false)
	if err != nil {
		return nil, err
	}

	logs, err := s.dockerGate(call).ContainerLogs(ctx, name, tail, since)
	if err != nil {
		return toolResult(err), nil
	}
	if logs == "" {
		logs = "(no logs)"
	}
	return textResponse(logs), nil
}

// createRequest builds a create request from the tool arguments.
// createRequestはツール引数から作成リクエストを構築します。
func createRequest(args map[string]any) (*docker.CreateRequest, error) {
	var req docker.CreateRequest
	var err error

	for name, dst := range map[string]*string{
		"name":    &req.Name,
		"workdir": &req.Workdir,
		"memory":  &req.Memory,
		"network": &req.NetworkMode,
	} {
		if *dst, err = stringArg(args, name, false); err != nil {
			return nil, err
		}
	}
	if req.Image, err = stringArg(args, "image", true); err != nil {
		return nil, err
	}
	for name, dst := range map[string]*[]string{
		"command": &req.Cmd,
		"env":     &req.Env,
		"volumes": &req.Binds,
		"ports":   &req.Ports,
	} {
		if *dst, err = stringSliceArg(args, name); err != nil {
			return nil, err
		}
	}
	if req.CPUs, _, err = numberArg(args, "cpus"); err != nil {
		return nil, err
	}
	if req.Privileged, err = boolArg(args, "privileged"); err != nil {
		return nil, err
	}
	return &req, nil
}

// toolCreateContainer implements the create_container tool. A malformed
// request is rejected before the policy is consulted.
//
// toolCreateContainerはcreate_containerツールを実装します。
// 不正なリクエストはポリシーの参照前に拒否されます。
func (s *Server) toolCreateContainer(ctx context.Context, call toolCall) (any, error) {
	req, err := createRequest(call.args)
	if err != nil {
		return nil, err
	}
	id, err := s.dockerGate(call).CreateContainer(ctx, req)
	if err != nil {
		return toolResult(err), nil
	}
	return textResponse(fmt.Sprintf("Created container %s from %s", id, req.Image)), nil
}

// timeoutArg returns the optional stop timeout in seconds.
func timeoutArg(args map[string]any) (*int, error) {
	f, ok, err := numberArg(args, "timeout")
	if err != nil || !ok {
		return nil, err
	}
	if f < 0 {
		return nil, invalidParams("timeout must not be negative")
	}
	t := int(f)
	return &t, nil
}

// toolContainerAction implements start_container, stop_container,
// restart_container and remove_container.
//
// toolContainerActionはstart_container、stop_container、restart_container、
// remove_containerを実装します。
func (s *Server) toolContainerAction(ctx context.Context, tool string, call toolCall) (any, error) {
	name, err := stringArg(call.args, "container", true)
	if err != nil {
		return nil, err
	}

	gate := s.dockerGate(call)
	var verb string
	switch tool {
	case gateway.OpStartContainer:
		verb = "Started"
		err = gate.StartContainer(ctx, name)
	case gateway.OpStopContainer, gateway.OpRestartContainer:
		timeout, terr := timeoutArg(call.args)
		if terr != nil {
			return nil, terr
		}
		if tool == gateway.OpStopContainer {
			verb = "Stopped"
			err = gate.StopContainer(ctx, name, timeout)
		} else {
			verb = "Restarted"
			err = gate.RestartContainer(ctx, name, timeout)
		}
	case gateway.OpRemoveContainer:
		force, ferr := boolArg(call.args, "force")
		if ferr != nil {
			return nil, ferr
		}
		verb = "Removed"
		err = gate.RemoveContainer(ctx, name, force)
	}
	if err != nil {
		return toolResult(err), nil
	}
	return textResponse(fmt.Sprintf("%s container %s", verb, name)), nil
}

// toolListImages implements the list_images tool.
// toolListImagesはlist_imagesツールを実装します。
func (s *Server) toolListImages(ctx context.Context, call toolCall) (any, error) {
	images, err := s.dockerGate(call).ListImages(ctx)
	if err != nil {
		return toolResult(err), nil
	}
	if images == nil {
		images = []docker.ImageInfo{}
	}
	return jsonTextResponse(images)
}

// toolImageAction implements pull_image and remove_image.
// toolImageActionはpull_imageとremove_imageを実装します。
func (s *Server) toolImageAction(ctx context.Context, tool string, call toolCall) (any, error) {
	ref, err := stringArg(call.args, "image", true)
	if err != nil {
		return nil, err
	}

	gate := s.dockerGate(call)
	verb := "Pulled"
	if tool == gateway.OpRemoveImage {
		force, ferr := boolArg(call.args, "force")
		if ferr != nil {
			return nil, ferr
		}
		verb = "Removed"
		err = gate.RemoveImage(ctx, ref, force)
	} else {
		err = gate.PullImage(ctx, ref)
	}
	if err != nil {
		return toolResult(err), nil
	}
	return textResponse(fmt.Sprintf("%s image %s", verb, ref)), nil
}

// toolListVolumes implements the list_volumes tool.
// toolListVolumesはlist_volumesツールを実装します。
func (s *Server) toolListVolumes(ctx context.Context, call toolCall) (any, error) {
	volumes, err := s.dockerGate(call).ListVolumes(ctx)
	if err != nil {
		return toolResult(err), nil
	}
	if volumes == nil {
		volumes = []docker.VolumeInfo{}
	}
	return jsonTextResponse(volumes)
}

// toolVolumeAction implements create_volume and remove_volume.
// toolVolumeActionはcreate_volumeとremove_volumeを実装します。
func (s *Server) toolVolumeAction(ctx context.Context, tool string, call toolCall) (any, error) {
	name, err := stringArg(call.args, "name", true)
	if err != nil {
		return nil, err
	}

	gate := s.dockerGate(call)
	if tool == gateway.OpCreateVolume {
		v, err := gate.CreateVolume(ctx, name, nil)
		if err != nil {
			return toolResult(err), nil
		}
		return jsonTextResponse(v)
	}

	force, err := boolArg(call.args, "force")
	if err != nil {
		return nil, err
	}
	if err := gate.RemoveVolume(ctx, name, force); err != nil {
		return toolResult(err), nil
	}
	return textResponse(fmt.Sprintf("Removed volume %s", name)), nil
}
