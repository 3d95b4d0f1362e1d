package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

// MockClient is a mock implementation of DockerClientInterface for testing.
// It allows customizing the behavior of each method through function fields.
// If a function field is not set, list methods return an empty slice and
// every other method returns an error.
//
// MockClientはテスト用のDockerClientInterfaceのモック実装です。
// 各メソッドの動作を関数フィールドを通じてカスタマイズできます。
// 関数フィールドが設定されていない場合、一覧メソッドは空のスライスを返し、
// その他のメソッドはエラーを返します。
type MockClient struct {
	ListContainersFunc   func(ctx context.Context) ([]ContainerInfo, error)
	InspectContainerFunc func(ctx context.Context, containerName string) (*types.ContainerJSON, error)
	GetLogsFunc          func(ctx context.Context, containerName string, tail string, since string) (string, error)
	CreateContainerFunc  func(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error)
	StartContainerFunc   func(ctx context.Context, containerName string) error
	StopContainerFunc    func(ctx context.Context, containerName string, timeout *int) error
	RestartContainerFunc func(ctx context.Context, containerName string, timeout *int) error
	RemoveContainerFunc  func(ctx context.Context, containerName string, force bool) error
	ListImagesFunc       func(ctx context.Context) ([]ImageInfo, error)
	PullImageFunc        func(ctx context.Context, ref string) error
	RemoveImageFunc      func(ctx context.Context, ref string, force bool) error
	ListVolumesFunc      func(ctx context.Context) ([]VolumeInfo, error)
	CreateVolumeFunc     func(ctx context.Context, name string, labels map[string]string) (*VolumeInfo, error)
	RemoveVolumeFunc     func(ctx context.Context, name string, force bool) error

	// Calls records the names of the methods invoked, in order.
	// Callsは呼び出されたメソッド名を順に記録します。
	Calls []string
}

// NewMockClient creates a new MockClient with no behavior configured.
// NewMockClientは動作未設定の新しいMockClientを作成します。
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(name string) {
	m.Calls = append(m.Calls, name)
}

func notImplemented(name string) error {
	return fmt.Errorf("%s not implemented in mock", name)
}

// ListContainers returns the result of ListContainersFunc if set,
// otherwise returns an empty slice.
//
// ListContainersはListContainersFuncが設定されている場合はその結果を返し、
// そうでなければ空のスライスを返します。
func (m *MockClient) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	m.record("ListContainers")
	if m.ListContainersFunc != nil {
		return m.ListContainersFunc(ctx)
	}
	return []ContainerInfo{}, nil
}

func (m *MockClient) InspectContainer(ctx context.Context, containerName string) (*types.ContainerJSON, error) {
	m.record("InspectContainer")
	if m.InspectContainerFunc != nil {
		return m.InspectContainerFunc(ctx, containerName)
	}
	return nil, notImplemented("InspectContainer")
}

func (m *MockClient) GetLogs(ctx context.Context, containerName string, tail string, since string) (string, error) {
	m.record("GetLogs")
	if m.GetLogsFunc != nil {
		return m.GetLogsFunc(ctx, containerName, tail, since)
	}
	return "", notImplemented("GetLogs")
}

func (m *MockClient) CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	m.record("CreateContainer")
	if m.CreateContainerFunc != nil {
		return m.CreateContainerFunc(ctx, name, cfg, hostCfg)
	}
	return "", notImplemented("CreateContainer")
}

func (m *MockClient) StartContainer(ctx context.Context, containerName string) error {
	m.record("StartContainer")
	if m.StartContainerFunc != nil {
		return m.StartContainerFunc(ctx, containerName)
	}
	return notImplemented("StartContainer")
}

func (m *MockClient) StopContainer(ctx context.Context, containerName string, timeout *int) error {
	m.record("StopContainer")
	if m.StopContainerFunc != nil {
		return m.StopContainerFunc(ctx, containerName, timeout)
	}
	return notImplemented("StopContainer")
}

func (m *MockClient) RestartContainer(ctx context.Context, containerName string, timeout *int) error {
	m.record("RestartContainer")
	if m.RestartContainerFunc != nil {
		return m.RestartContainerFunc(ctx, containerName, timeout)
	}
	return notImplemented("RestartContainer")
}

func (m *MockClient) RemoveContainer(ctx context.Context, containerName string, force bool) error {
	m.record("RemoveContainer")
	if m.RemoveContainerFunc != nil {
		return m.RemoveContainerFunc(ctx, containerName, force)
	}
	return notImplemented("RemoveContainer")
}

// ListImages returns the result of ListImagesFunc if set,
// otherwise returns an empty slice.
//
// ListImagesはListImagesFuncが設定されている場合はその結果を返し、
// そうでなければ空のスライスを返します。
func (m *MockClient) ListImages(ctx context.Context) ([]ImageInfo, error) {
	m.record("ListImages")
	if m.ListImagesFunc != nil {
		return m.ListImagesFunc(ctx)
	}
	return []ImageInfo{}, nil
}

func (m *MockClient) PullImage(ctx context.Context, ref string) error {
	m.record("PullImage")
	if m.PullImageFunc != nil {
		return m.PullImageFunc(ctx, ref)
	}
	return notImplemented("PullImage")
}

func (m *MockClient) RemoveImage(ctx context.Context, ref string, force bool) error {
	m.record("RemoveImage")
	if m.RemoveImageFunc != nil {
		return m.RemoveImageFunc(ctx, ref, force)
	}
	return notImplemented("RemoveImage")
}

// ListVolumes returns the result of ListVolumesFunc if set,
// otherwise returns an empty slice.
//
// ListVolumesはListVolumesFuncが設定されている場合はその結果を返し、
// そうでなければ空のスライスを返します。
func (m *MockClient) ListVolumes(ctx context.Context) ([]VolumeInfo, error) {
	m.record("ListVolumes")
	if m.ListVolumesFunc != nil {
		return m.ListVolumesFunc(ctx)
	}
	return []VolumeInfo{}, nil
}

func (m *MockClient) CreateVolume(ctx context.Context, name string, labels map[string]string) (*VolumeInfo, error) {
	m.record("CreateVolume")
	if m.CreateVolumeFunc != nil {
		return m.CreateVolumeFunc(ctx, name, labels)
	}
	return nil, notImplemented("CreateVolume")
}

func (m *MockClient) RemoveVolume(ctx context.Context, name string, force bool) error {
	m.record("RemoveVolume")
	if m.RemoveVolumeFunc != nil {
		return m.RemoveVolumeFunc(ctx, name, force)
	}
	return notImplemented("RemoveVolume")
}

// Close does nothing and returns nil.
// Closeは何もせずnilを返します。
func (m *MockClient) Close() error {
	return nil
}

// Verify that MockClient implements DockerClientInterface at compile time.
// コンパイル時にMockClientがDockerClientInterfaceを実装していることを検証します。
var _ DockerClientInterface = (*MockClient)(nil)
