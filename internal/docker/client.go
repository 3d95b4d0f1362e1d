package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
)

// Client wraps the Docker SDK client.
//
// ClientはDocker SDKクライアントをラップします。
type Client struct {
	// docker is the underlying Docker SDK client for container operations.
	// dockerはコンテナ操作用の基盤となるDocker SDKクライアントです。
	docker *client.Client
}

// NewClient creates a new Docker client. It initializes the Docker SDK
// client using environment variables (DOCKER_HOST, DOCKER_API_VERSION, etc.).
// No connection is made until the first call.
//
// NewClientは新しいDockerクライアントを作成します。
// 環境変数（DOCKER_HOST、DOCKER_API_VERSIONなど）を使用してDocker SDKクライアントを
// 初期化します。最初の呼び出しまで接続は行われません。
func NewClient() (*Client, error) {
	// WithAPIVersionNegotiation ensures compatibility with different Docker versions.
	// WithAPIVersionNegotiationは異なるDockerバージョンとの互換性を確保します。
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Client{docker: dockerClient}, nil
}

// Close closes the Docker client and releases associated resources.
// CloseはDockerクライアントを閉じ、関連リソースを解放します。
func (c *Client) Close() error {
	return c.docker.Close()
}

// ContainerInfo represents simplified container information returned
// by the ListContainers method.
//
// ContainerInfoはListContainersメソッドによって返される
// 簡略化されたコンテナ情報を表します。
type ContainerInfo struct {
	// ID is the truncated container ID (first 12 characters).
	// IDは短縮されたコンテナID（最初の12文字）です。
	ID string `json:"id"`

	// Name is the container name without the leading slash.
	// Nameは先頭のスラッシュを除いたコンテナ名です。
	Name string `json:"name"`

	Image   string `json:"image"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Created int64  `json:"created"`

	Labels map[string]string `json:"labels,omitempty"`

	// Ports contains the port mappings as formatted strings.
	// Example: ["0.0.0.0:80->80/tcp", "443/tcp"]
	// Portsはフォーマットされた文字列としてのポートマッピングを含みます。
	Ports []string `json:"ports,omitempty"`
}

// ImageInfo represents a local image.
// ImageInfoはローカルイメージを表します。
type ImageInfo struct {
	ID      string   `json:"id"`
	Tags    []string `json:"tags,omitempty"`
	Size    string   `json:"size"`
	Created int64    `json:"created"`
}

// VolumeInfo represents a volume.
// VolumeInfoはボリュームを表します。
type VolumeInfo struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	Mountpoint string            `json:"mountpoint,omitempty"`
	CreatedAt  string            `json:"created_at,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// ListContainers retrieves all containers (both running and stopped).
// ListContainersはすべてのコンテナを取得します（実行中と停止中の両方）。
func (c *Client) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := c.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		// Container names from Docker API have a leading slash that we remove.
		// Docker APIからのコンテナ名には先頭にスラッシュがあるので削除します。
		var name string
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}

		result = append(result, ContainerInfo{
			ID:      shortID(ctr.ID),
			Name:    name,
			Image:   ctr.Image,
			State:   ctr.State,
			Status:  ctr.Status,
			Created: ctr.Created,
			Labels:  ctr.Labels,
			Ports:   formatPorts(ctr.Ports),
		})
	}

	return result, nil
}

// formatPorts converts Docker SDK port bindings to human-readable strings.
// Example outputs: "0.0.0.0:80->80/tcp", "443/tcp"
//
// formatPortsはDocker SDKのポートバインディングを人が読める文字列に変換します。
func formatPorts(ports []types.Port) []string {
	if len(ports) == 0 {
		return nil
	}

	result := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort != 0 {
			// Port is published to host
			// ポートがホストに公開されている
			result = append(result, fmt.Sprintf("%s:%d->%d/%s", p.IP, p.PublicPort, p.PrivatePort, p.Type))
		} else {
			result = append(result, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
		}
	}
	return result
}

// shortID strips the digest algorithm and truncates an ID to 12 characters.
// shortIDはダイジェストアルゴリズムを除去し、IDを12文字に切り詰めます。
func shortID(id string) string {
	if _, hex, ok := strings.Cut(id, ":"); ok {
		id = hex
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// InspectContainer retrieves detailed information about a specific container.
// InspectContainerは特定のコンテナに関する詳細情報を取得します。
func (c *Client) InspectContainer(ctx context.Context, containerName string) (*types.ContainerJSON, error) {
	info, err := c.docker.ContainerInspect(ctx, containerName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	return &info, nil
}

// GetLogs retrieves the logs from a specified container, stdout and stderr
// with timestamps. Output of non-TTY containers is multiplexed by the daemon
// and is demultiplexed here.
//
// GetLogsは指定されたコンテナから標準出力と標準エラー出力のログを
// タイムスタンプ付きで取得します。TTYなしのコンテナの出力はデーモンによって
// 多重化されているため、ここで分離します。
func (c *Client) GetLogs(ctx context.Context, containerName string, tail string, since string) (string, error) {
	info, err := c.docker.ContainerInspect(ctx, containerName)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}

	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
		Since:      since,
		Timestamps: true,
	}

	logs, err := c.docker.ContainerLogs(ctx, containerName, options)
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer logs.Close()

	buf := new(strings.Builder)
	if info.Config != nil && info.Config.Tty {
		_, err = io.Copy(buf, logs)
	} else {
		_, err = stdcopy.StdCopy(buf, buf, logs)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}

	return buf.String(), nil
}

// CreateContainer creates a container and returns its ID.
// Daemon warnings are ignored.
//
// CreateContainerはコンテナを作成し、そのIDを返します。
func (c *Client) CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := c.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return shortID(resp.ID), nil
}

// StartContainer starts a container.
// StartContainerはコンテナを起動します。
func (c *Client) StartContainer(ctx context.Context, containerName string) error {
	if err := c.docker.ContainerStart(ctx, containerName, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// StopContainer stops a container.
// StopContainerはコンテナを停止します。
func (c *Client) StopContainer(ctx context.Context, containerName string, timeout *int) error {
	if err := c.docker.ContainerStop(ctx, containerName, container.StopOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// RestartContainer restarts a container.
// RestartContainerはコンテナを再起動します。
func (c *Client) RestartContainer(ctx context.Context, containerName string, timeout *int) error {
	if err := c.docker.ContainerRestart(ctx, containerName, container.StopOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("failed to restart container: %w", err)
	}
	return nil
}

// RemoveContainer removes a container. Anonymous volumes are kept.
// RemoveContainerはコンテナを削除します。匿名ボリュームは残します。
func (c *Client) RemoveContainer(ctx context.Context, containerName string, force bool) error {
	if err := c.docker.ContainerRemove(ctx, containerName, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// ListImages retrieves the local images.
// ListImagesはローカルイメージを取得します。
func (c *Client) ListImages(ctx context.Context) ([]ImageInfo, error) {
	images, err := c.docker.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	result := make([]ImageInfo, 0, len(images))
	for _, img := range images {
		result = append(result, ImageInfo{
			ID:      shortID(img.ID),
			Tags:    img.RepoTags,
			Size:    units.HumanSize(float64(img.Size)),
			Created: img.Created,
		})
	}
	return result, nil
}

// PullImage pulls an image. The progress stream is drained so that the call
// returns only after the pull finished; an error reported inside the stream
// is returned as an error.
//
// PullImageはイメージをプルします。進捗ストリームを最後まで読み取るため、
// プル完了後にのみ戻ります。ストリーム内で報告されたエラーはエラーとして返します。
func (c *Client) PullImage(ctx context.Context, ref string) error {
	body, err := c.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

// RemoveImage removes a local image.
// RemoveImageはローカルイメージを削除します。
func (c *Client) RemoveImage(ctx context.Context, ref string, force bool) error {
	if _, err := c.docker.ImageRemove(ctx, ref, image.RemoveOptions{Force: force, PruneChildren: true}); err != nil {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

// ListVolumes retrieves all volumes.
// ListVolumesはすべてのボリュームを取得します。
func (c *Client) ListVolumes(ctx context.Context) ([]VolumeInfo, error) {
	resp, err := c.docker.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	result := make([]VolumeInfo, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		result = append(result, toVolumeInfo(*v))
	}
	return result, nil
}

// CreateVolume creates a named volume with the local driver.
// CreateVolumeはlocalドライバで名前付きボリュームを作成します。
func (c *Client) CreateVolume(ctx context.Context, name string, labels map[string]string) (*VolumeInfo, error) {
	v, err := c.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
		Labels: labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}
	info := toVolumeInfo(v)
	return &info, nil
}

// RemoveVolume removes a volume.
// RemoveVolumeはボリュームを削除します。
func (c *Client) RemoveVolume(ctx context.Context, name string, force bool) error {
	if err := c.docker.VolumeRemove(ctx, name, force); err != nil {
		return fmt.Errorf("failed to remove volume: %w", err)
	}
	return nil
}

func toVolumeInfo(v volume.Volume) VolumeInfo {
	return VolumeInfo{
		Name:       v.Name,
		Driver:     v.Driver,
		Mountpoint: v.Mountpoint,
		CreatedAt:  v.CreatedAt,
		Labels:     v.Labels,
	}
}
