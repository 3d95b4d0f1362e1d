// Package docker provides the Docker Engine collaborator used by the gateway.
// This file defines the DockerClientInterface that allows for dependency
// injection and mock-based testing of Docker operations.
//
// The client performs no policy checks of its own. Every call reaching it has
// already been decided, validated and recorded by the gateway.
//
// dockerパッケージはゲートウェイが使用するDocker Engineコラボレータを提供します。
// このファイルはDocker操作の依存性注入とモックベースのテストを可能にする
// DockerClientInterfaceを定義しています。
//
// クライアント自身はポリシーチェックを行いません。ここに到達する呼び出しは
// すべてゲートウェイで判定・検証・記録済みです。
package docker

import (
	"context"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

// DockerClientInterface defines the interface for Docker client operations.
// This interface allows for dependency injection and mock-based testing
// without requiring a real Docker daemon connection.
//
// DockerClientInterfaceはDockerクライアント操作のインターフェースを定義します。
// このインターフェースは実際のDockerデーモン接続を必要とせずに、
// 依存性注入とモックベースのテストを可能にします。
type DockerClientInterface interface {
	// Container Operations
	// コンテナ操作

	// ListContainers retrieves all containers, running and stopped.
	// ListContainersは実行中と停止中のすべてのコンテナを取得します。
	ListContainers(ctx context.Context) ([]ContainerInfo, error)

	// InspectContainer retrieves detailed information about a container.
	// InspectContainerはコンテナの詳細情報を取得します。
	InspectContainer(ctx context.Context, containerName string) (*types.ContainerJSON, error)

	// GetLogs retrieves logs from a container. tail is a line count or "all";
	// since is a timestamp or relative duration ("42m"), empty to disable.
	//
	// GetLogsはコンテナからログを取得します。tailは行数または"all"、
	// sinceはタイムスタンプまたは相対時間（"42m"）で、空文字列で無効になります。
	GetLogs(ctx context.Context, containerName string, tail string, since string) (string, error)

	// CreateContainer creates a container from a prepared configuration
	// and returns its ID.
	// CreateContainerは準備済みの設定からコンテナを作成し、そのIDを返します。
	CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error)

	// StartContainer starts a stopped container.
	// StartContainerは停止中のコンテナを起動します。
	StartContainer(ctx context.Context, containerName string) error

	// StopContainer stops a running container. A nil timeout uses the daemon default.
	// StopContainerは実行中のコンテナを停止します。timeoutがnilの場合はデーモンのデフォルトです。
	StopContainer(ctx context.Context, containerName string, timeout *int) error

	// RestartContainer restarts a container.
	// RestartContainerはコンテナを再起動します。
	RestartContainer(ctx context.Context, containerName string, timeout *int) error

	// RemoveContainer removes a container.
	// RemoveContainerはコンテナを削除します。
	RemoveContainer(ctx context.Context, containerName string, force bool) error

	// Image Operations
	// イメージ操作

	// ListImages retrieves the local images.
	// ListImagesはローカルイメージを取得します。
	ListImages(ctx context.Context) ([]ImageInfo, error)

	// PullImage pulls an image and waits for the pull to finish.
	// PullImageはイメージをプルし、完了を待ちます。
	PullImage(ctx context.Context, ref string) error

	// RemoveImage removes a local image.
	// RemoveImageはローカルイメージを削除します。
	RemoveImage(ctx context.Context, ref string, force bool) error

	// Volume Operations
	// ボリューム操作

	// ListVolumes retrieves all volumes.
	// ListVolumesはすべてのボリュームを取得します。
	ListVolumes(ctx context.Context) ([]VolumeInfo, error)

	// CreateVolume creates a named volume.
	// CreateVolumeは名前付きボリュームを作成します。
	CreateVolume(ctx context.Context, name string, labels map[string]string) (*VolumeInfo, error)

	// RemoveVolume removes a volume.
	// RemoveVolumeはボリュームを削除します。
	RemoveVolume(ctx context.Context, name string, force bool) error

	// Resource Management
	// リソース管理

	// Close closes the Docker client and releases resources.
	// CloseはDockerクライアントを閉じ、リソースを解放します。
	Close() error
}

// Verify that Client implements DockerClientInterface at compile time.
// コンパイル時にClientがDockerClientInterfaceを実装していることを検証します。
var _ DockerClientInterface = (*Client)(nil)
