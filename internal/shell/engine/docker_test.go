package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func skipIfNoEngine(t *testing.T) Client {
	t.Helper()
	cli, err := NewDockerClient("")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

func cleanupContainer(t *testing.T, cli Client, containerID string) {
	t.Helper()
	ctx := context.Background()
	timeout := 5 * time.Second
	cli.StopContainer(ctx, containerID, &timeout)
	cli.RemoveContainer(ctx, containerID, RemoveOptions{Force: true, RemoveVolumes: true})
}

func cleanupNetwork(t *testing.T, cli Client, networkID string) {
	t.Helper()
	cli.RemoveNetwork(context.Background(), networkID)
}

func cleanupVolume(t *testing.T, cli Client, volumeName string) {
	t.Helper()
	cli.RemoveVolume(context.Background(), volumeName, true)
}

// Test container name prefix to identify test containers
const testPrefix = "flotilla-test-"

// =============================================================================
// Connection Tests
// =============================================================================

func TestNewDockerClient_Success(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	assert.NotNil(t, cli)
}

func TestPing_Success(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	err := cli.Ping(context.Background())
	assert.NoError(t, err)
}

// =============================================================================
// Container Tests
// =============================================================================

func TestCreateContainer_Minimal(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	spec := ContainerSpec{
		Name:  testPrefix + "minimal",
		Image: "alpine:latest",
	}

	containerID, err := cli.CreateContainer(ctx, spec)
	require.NoError(t, err)
	defer cleanupContainer(t, cli, containerID)

	assert.NotEmpty(t, containerID)
}

func TestCreateContainer_DuplicateName(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	spec := ContainerSpec{
		Name:  testPrefix + "duplicate",
		Image: "alpine:latest",
	}

	containerID, err := cli.CreateContainer(ctx, spec)
	require.NoError(t, err)
	defer cleanupContainer(t, cli, containerID)

	_, err = cli.CreateContainer(ctx, spec)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerAlreadyExists)
}

func TestCreateContainer_WithNetworkAliases(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	netSpec := NetworkSpec{
		Name:   testPrefix + "alias-net",
		Driver: "bridge",
	}
	networkID, err := cli.CreateNetwork(ctx, netSpec)
	require.NoError(t, err)
	defer cleanupNetwork(t, cli, networkID)

	spec := ContainerSpec{
		Name:     testPrefix + "alias",
		Image:    "alpine:latest",
		Networks: []string{testPrefix + "alias-net"},
		NetworkAliases: map[string][]string{
			testPrefix + "alias-net": {"db"},
		},
	}

	containerID, err := cli.CreateContainer(ctx, spec)
	require.NoError(t, err)
	defer cleanupContainer(t, cli, containerID)

	assert.NotEmpty(t, containerID)
}

func TestStartContainer_NotFound(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	err := cli.StartContainer(context.Background(), "nonexistent-container-id")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestStopContainer_NotFound(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	timeout := 5 * time.Second
	err := cli.StopContainer(context.Background(), "nonexistent-container-id", &timeout)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestInspectContainer_NotFound(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	_, err := cli.InspectContainer(context.Background(), "nonexistent-container-id")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestListContainers_WithFilter(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	spec := ContainerSpec{
		Name:   testPrefix + "list",
		Image:  "alpine:latest",
		Labels: ServiceLabels("list-stack", "web"),
	}

	containerID, err := cli.CreateContainer(ctx, spec)
	require.NoError(t, err)
	defer cleanupContainer(t, cli, containerID)

	containers, err := cli.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": LabelStack + "=list-stack",
		},
	})
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, containerID, containers[0].ID)
	assert.Equal(t, "web", containers[0].Labels[LabelService])
}

func TestContainerFullLifecycle(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	networkID, err := cli.CreateNetwork(ctx, NetworkSpec{
		Name:   testPrefix + "lifecycle-net",
		Driver: "bridge",
	})
	require.NoError(t, err)
	defer cleanupNetwork(t, cli, networkID)

	volumeName, err := cli.CreateVolume(ctx, VolumeSpec{
		Name:   testPrefix + "lifecycle-vol",
		Driver: "local",
	})
	require.NoError(t, err)
	defer cleanupVolume(t, cli, volumeName)

	containerID, err := cli.CreateContainer(ctx, ContainerSpec{
		Name:     testPrefix + "lifecycle",
		Image:    "alpine:latest",
		Command:  []string{"sleep", "30"},
		Networks: []string{testPrefix + "lifecycle-net"},
		Mounts: []Mount{
			{Type: MountTypeVolume, Source: volumeName, Target: "/data"},
		},
		Labels: StackLabels("lifecycle-stack"),
	})
	require.NoError(t, err)
	defer cleanupContainer(t, cli, containerID)

	err = cli.StartContainer(ctx, containerID)
	require.NoError(t, err)

	info, err := cli.InspectContainer(ctx, containerID)
	require.NoError(t, err)
	assert.Equal(t, ContainerStatusRunning, info.Status)
	assert.True(t, info.Running())

	timeout := 5 * time.Second
	err = cli.StopContainer(ctx, containerID, &timeout)
	require.NoError(t, err)

	info, err = cli.InspectContainer(ctx, containerID)
	require.NoError(t, err)
	assert.Equal(t, ContainerStatusExited, info.Status)

	err = cli.RemoveContainer(ctx, containerID, RemoveOptions{RemoveVolumes: true})
	require.NoError(t, err)

	_, err = cli.InspectContainer(ctx, containerID)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

// =============================================================================
// Network and Volume Tests
// =============================================================================

func TestCreateNetwork_AlreadyExists(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	spec := NetworkSpec{
		Name:   testPrefix + "dup-net",
		Driver: "bridge",
	}

	networkID, err := cli.CreateNetwork(ctx, spec)
	require.NoError(t, err)
	defer cleanupNetwork(t, cli, networkID)

	_, err = cli.CreateNetwork(ctx, spec)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkAlreadyExists)
}

func TestRemoveNetwork_NotFound(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	err := cli.RemoveNetwork(context.Background(), "nonexistent-network-id")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkNotFound)
}

func TestCreateVolume_Idempotent(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	spec := VolumeSpec{
		Name:   testPrefix + "idem-vol",
		Driver: "local",
	}

	volumeName, err := cli.CreateVolume(ctx, spec)
	require.NoError(t, err)
	defer cleanupVolume(t, cli, volumeName)

	// Creating the same volume again returns the existing one.
	again, err := cli.CreateVolume(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, volumeName, again)
}

func TestRemoveVolume_NotFound(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	err := cli.RemoveVolume(context.Background(), "nonexistent-volume-name", false)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrVolumeNotFound)
}

// =============================================================================
// Image Tests
// =============================================================================

func TestPullImage_NotFound(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	err := cli.PullImage(context.Background(), "nonexistent-image-12345:latest", PullOptions{})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestImageExists_False(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	exists, err := cli.ImageExists(context.Background(), "nonexistent-image-12345:latest")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuildImage_Success(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	dir := t.TempDir()
	dockerfile := "FROM alpine:latest\nRUN echo built > /built.txt\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644))

	ref := testPrefix + "build:latest"
	err := cli.BuildImage(ctx, BuildSpec{
		Ref:        ref,
		ContextDir: dir,
		Labels:     StackLabels("build-stack"),
	})
	require.NoError(t, err)

	exists, err := cli.ImageExists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBuildImage_FailureSurfacesStreamError(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	dir := t.TempDir()
	dockerfile := "FROM alpine:latest\nRUN exit 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644))

	err := cli.BuildImage(context.Background(), BuildSpec{
		Ref:        testPrefix + "build-fail:latest",
		ContextDir: dir,
	})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrImageBuildFailed)
}

func TestBuildImage_MissingContext(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()

	err := cli.BuildImage(context.Background(), BuildSpec{
		Ref:        testPrefix + "no-context:latest",
		ContextDir: "/nonexistent/path/12345",
	})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrImageBuildFailed)
}

// =============================================================================
// Stream Decoding Tests
// =============================================================================

func TestDrainStream_CleanStream(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM alpine"}
{"stream":" ---> abc123"}
{"stream":"Successfully built abc123"}
`
	err := drainStream(strings.NewReader(stream), "BuildImage", "image", "app:latest", ErrImageBuildFailed)
	assert.NoError(t, err)
}

func TestDrainStream_EmptyStream(t *testing.T) {
	err := drainStream(strings.NewReader(""), "PushImage", "image", "app:latest", ErrImagePushFailed)
	assert.NoError(t, err)
}

func TestDrainStream_InBandError(t *testing.T) {
	stream := `{"stream":"Step 2/2 : RUN exit 1"}
{"errorDetail":{"code":1,"message":"The command '/bin/sh -c exit 1' returned a non-zero code: 1"},"error":"The command '/bin/sh -c exit 1' returned a non-zero code: 1"}
`
	err := drainStream(strings.NewReader(stream), "BuildImage", "image", "app:latest", ErrImageBuildFailed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageBuildFailed)
	assert.Contains(t, err.Error(), "non-zero code: 1")
}

func TestDrainStream_ErrorWithoutDetail(t *testing.T) {
	stream := `{"error":"denied: requested access to the resource is denied"}`
	err := drainStream(strings.NewReader(stream), "PushImage", "image", "registry.example.com/app:latest", ErrImagePushFailed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImagePushFailed)
	assert.Contains(t, err.Error(), "denied")
}

func TestDrainStream_MalformedJSON(t *testing.T) {
	err := drainStream(strings.NewReader("not json at all"), "BuildImage", "image", "app:latest", ErrImageBuildFailed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageBuildFailed)
}

// =============================================================================
// Error Tests
// =============================================================================

func TestEngineError_Error(t *testing.T) {
	// With all fields
	err := NewEngineError("CreateContainer", "container", "abc123", "failed to create", ErrContainerAlreadyExists)
	assert.Equal(t, "CreateContainer container abc123: failed to create", err.Error())

	// Without ID
	err = NewEngineError("ListContainers", "container", "", "connection failed", ErrConnectionFailed)
	assert.Equal(t, "ListContainers container: connection failed", err.Error())

	// Without entity
	err = NewEngineError("Ping", "", "", "connection refused", nil)
	assert.Equal(t, "Ping: connection refused", err.Error())
}

func TestEngineError_Unwrap(t *testing.T) {
	err := NewEngineError("CreateContainer", "container", "abc123", "already exists", ErrContainerAlreadyExists)
	assert.ErrorIs(t, err, ErrContainerAlreadyExists)
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, IsAlreadyExists(NewEngineError("CreateNetwork", "network", "n1", "exists", ErrNetworkAlreadyExists)))
	assert.True(t, IsAlreadyExists(NewEngineError("CreateContainer", "container", "c1", "exists", ErrContainerAlreadyExists)))
	assert.False(t, IsAlreadyExists(NewEngineError("CreateNetwork", "network", "n1", "boom", ErrConnectionFailed)))
	assert.False(t, IsAlreadyExists(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewEngineError("InspectContainer", "container", "c1", "gone", ErrContainerNotFound)))
	assert.True(t, IsNotFound(NewEngineError("RemoveVolume", "volume", "v1", "gone", ErrVolumeNotFound)))
	assert.False(t, IsNotFound(NewEngineError("RemoveVolume", "volume", "v1", "busy", ErrVolumeInUse)))
	assert.False(t, IsNotFound(nil))
}

// =============================================================================
// Label Tests
// =============================================================================

func TestLabelConstants(t *testing.T) {
	assert.Equal(t, "dev.flotilla.managed", LabelManaged)
	assert.Equal(t, "dev.flotilla.stack", LabelStack)
	assert.Equal(t, "dev.flotilla.service", LabelService)
	assert.Equal(t, "dev.flotilla.run", LabelRun)
}

func TestServiceLabels(t *testing.T) {
	labels := ServiceLabels("shop", "backend")
	assert.Equal(t, "true", labels[LabelManaged])
	assert.Equal(t, "shop", labels[LabelStack])
	assert.Equal(t, "backend", labels[LabelService])
}

func TestStackLabels(t *testing.T) {
	labels := StackLabels("shop")
	assert.Equal(t, "true", labels[LabelManaged])
	assert.Equal(t, "shop", labels[LabelStack])
	_, hasService := labels[LabelService]
	assert.False(t, hasService)
}

// =============================================================================
// Status Tests
// =============================================================================

func TestContainerStatus_Values(t *testing.T) {
	assert.Equal(t, ContainerStatus("created"), ContainerStatusCreated)
	assert.Equal(t, ContainerStatus("running"), ContainerStatusRunning)
	assert.Equal(t, ContainerStatus("paused"), ContainerStatusPaused)
	assert.Equal(t, ContainerStatus("restarting"), ContainerStatusRestarting)
	assert.Equal(t, ContainerStatus("removing"), ContainerStatusRemoving)
	assert.Equal(t, ContainerStatus("exited"), ContainerStatusExited)
	assert.Equal(t, ContainerStatus("dead"), ContainerStatusDead)
}

func TestContainerInfo_Running(t *testing.T) {
	assert.True(t, ContainerInfo{Status: ContainerStatusRunning}.Running())
	assert.False(t, ContainerInfo{Status: ContainerStatusExited}.Running())
	assert.False(t, ContainerInfo{Status: ContainerStatusCreated}.Running())
}

// =============================================================================
// Registry Auth Tests
// =============================================================================

func TestRegistryAuth_Empty(t *testing.T) {
	assert.True(t, RegistryAuth{}.Empty())
	assert.False(t, RegistryAuth{Username: "user"}.Empty())
	assert.False(t, RegistryAuth{Password: "s3cret"}.Empty())
}

// =============================================================================
// Logs Tests
// =============================================================================

func TestContainerLogs_Success(t *testing.T) {
	cli := skipIfNoEngine(t)
	defer cli.Close()
	ctx := context.Background()

	containerID, err := cli.CreateContainer(ctx, ContainerSpec{
		Name:    testPrefix + "logs",
		Image:   "alpine:latest",
		Command: []string{"echo", "hello from container"},
	})
	require.NoError(t, err)
	defer cleanupContainer(t, cli, containerID)

	err = cli.StartContainer(ctx, containerID)
	require.NoError(t, err)

	// Wait for container to finish
	time.Sleep(2 * time.Second)

	logs, err := cli.ContainerLogs(ctx, containerID, LogOptions{Tail: "10"})
	require.NoError(t, err)
	defer logs.Close()

	output, err := io.ReadAll(logs)
	require.NoError(t, err)
	assert.Contains(t, string(output), "hello from container")
}
