package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for database nodes
	DefaultNamespace = "dbfleet"

	// DefaultSocketPath is the default containerd socket path
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultDataRoot is the host directory holding node data
	DefaultDataRoot = "/var/lib/dbfleet/nodes"

	// DefaultStopTimeout is how long a node gets to exit after SIGTERM
	DefaultStopTimeout = 30 * time.Second

	nodeDataPath = "/var/lib/dbfleet/data"

	labelCluster = "dbfleet.cluster"
	labelNode    = "dbfleet.node"
	labelGroup   = "dbfleet.group"
	labelRole    = "dbfleet.role"
)

// Containerd runs database nodes as containerd containers. Each node is
// one container named <cluster>.<node> with its data directory bind-mounted
// from DataRoot.
type Containerd struct {
	name        string
	client      *containerd.Client
	namespace   string
	dataRoot    string
	stopTimeout time.Duration
	logger      zerolog.Logger
}

// ContainerdOptions configures a Containerd platform
type ContainerdOptions struct {
	Socket      string
	Namespace   string
	DataRoot    string
	StopTimeout time.Duration
}

// NewContainerd connects to containerd and returns a platform handle
func NewContainerd(name string, opts ContainerdOptions) (*Containerd, error) {
	if opts.Socket == "" {
		opts.Socket = DefaultSocketPath
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.DataRoot == "" {
		opts.DataRoot = DefaultDataRoot
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	client, err := containerd.New(opts.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &Containerd{
		name:        name,
		client:      client,
		namespace:   opts.Namespace,
		dataRoot:    opts.DataRoot,
		stopTimeout: opts.StopTimeout,
		logger:      log.WithComponent("platform").With().Str("platform", name).Logger(),
	}, nil
}

// Name returns the platform name
func (c *Containerd) Name() string { return c.name }

// Close closes the containerd client
func (c *Containerd) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func containerID(clusterID, nodeID string) string {
	return clusterID + "." + nodeID
}

func (c *Containerd) load(ctx context.Context, clusterID, nodeID string) (containerd.Container, error) {
	id := containerID(clusterID, nodeID)
	container, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
		}
		return nil, fmt.Errorf("failed to load container %s: %w", id, err)
	}
	return container, nil
}

// StartNode starts the node's task unless it is already running
func (c *Containerd) StartNode(ctx context.Context, clusterID, nodeID string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, c.namespace)

	container, err := c.load(ctx, clusterID, nodeID)
	if err != nil {
		return false, err
	}

	if task, err := container.Task(ctx, nil); err == nil {
		status, err := task.Status(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to get task status: %w", err)
		}
		if status.Status == containerd.Running {
			return false, nil
		}
		// A stopped task must be removed before a new one can be created
		if _, err := task.Delete(ctx); err != nil {
			return false, fmt.Errorf("failed to delete stopped task: %w", err)
		}
	}

	if err := c.startTask(ctx, container); err != nil {
		return false, err
	}
	c.logger.Info().Str("cluster_id", clusterID).Str("node_id", nodeID).Msg("Started node")
	return true, nil
}

func (c *Containerd) startTask(ctx context.Context, container containerd.Container) error {
	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// StopNode stops the node's task; a node without a task is already stopped
func (c *Containerd) StopNode(ctx context.Context, clusterID, nodeID string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, c.namespace)

	container, err := c.load(ctx, clusterID, nodeID)
	if err != nil {
		return false, err
	}

	stopped, err := c.stopTask(ctx, container)
	if err != nil {
		return false, err
	}
	if stopped {
		c.logger.Info().Str("cluster_id", clusterID).Str("node_id", nodeID).Msg("Stopped node")
	}
	return stopped, nil
}

func (c *Containerd) stopTask(ctx context.Context, container containerd.Container) (bool, error) {
	task, err := container.Task(ctx, nil)
	if err != nil {
		return false, nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, c.stopTimeout)
	defer cancel()

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return false, fmt.Errorf("failed to wait for task: %w", err)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return false, fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return false, fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	return true, nil
}

// ReplaceNode destroys the node's container and recreates it from the same
// image and labels. The host data directory is kept.
func (c *Containerd) ReplaceNode(ctx context.Context, clusterID, nodeID string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, c.namespace)

	container, err := c.load(ctx, clusterID, nodeID)
	if err != nil {
		return false, err
	}

	labels, err := container.Labels(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read labels: %w", err)
	}
	image, err := container.Image(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to resolve image: %w", err)
	}

	if _, err := c.stopTask(ctx, container); err != nil {
		return false, err
	}
	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return false, fmt.Errorf("failed to delete container: %w", err)
	}

	spec := NodeSpec{
		ClusterID: clusterID,
		NodeID:    nodeID,
		Group:     labels[labelGroup],
	}
	if role, ok := labels[labelRole]; ok {
		spec.Role = roleLabel(role)
	}
	if _, err := c.create(ctx, spec, image); err != nil {
		return false, err
	}
	c.logger.Info().Str("cluster_id", clusterID).Str("node_id", nodeID).Msg("Replaced node")
	return true, nil
}

// ProvisionNode pulls the image and creates and starts a new node. An
// existing container with the same name means the node is already there.
func (c *Containerd) ProvisionNode(ctx context.Context, spec NodeSpec) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, c.namespace)

	if _, err := c.client.LoadContainer(ctx, containerID(spec.ClusterID, spec.NodeID)); err == nil {
		return false, nil
	} else if !errdefs.IsNotFound(err) {
		return false, fmt.Errorf("failed to check container: %w", err)
	}

	image, err := c.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	if err != nil {
		return false, fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
	}

	if _, err := c.create(ctx, spec, image); err != nil {
		if errdefs.IsAlreadyExists(err) {
			return false, nil
		}
		return false, err
	}
	c.logger.Info().
		Str("cluster_id", spec.ClusterID).
		Str("node_id", spec.NodeID).
		Str("image", spec.Image).
		Msg("Provisioned node")
	return true, nil
}

func (c *Containerd) create(ctx context.Context, spec NodeSpec, image containerd.Image) (containerd.Container, error) {
	id := containerID(spec.ClusterID, spec.NodeID)

	env := []string{
		"DBFLEET_CLUSTER=" + spec.ClusterID,
		"DBFLEET_NODE=" + spec.NodeID,
		"DBFLEET_GROUP=" + spec.Group,
		"DBFLEET_ROLE=" + string(spec.Role),
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+spec.Env[k])
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithMounts([]specs.Mount{
			{
				Source:      filepath.Join(c.dataRoot, spec.ClusterID, spec.NodeID),
				Destination: nodeDataPath,
				Type:        "bind",
				Options:     []string{"rw", "rbind"},
			},
		}),
	}

	container, err := c.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			labelCluster: spec.ClusterID,
			labelNode:    spec.NodeID,
			labelGroup:   spec.Group,
			labelRole:    string(spec.Role),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", id, err)
	}

	if err := c.startTask(ctx, container); err != nil {
		return nil, err
	}
	return container, nil
}

func roleLabel(s string) types.NodeRole {
	role, err := types.ParseNodeRole(s)
	if err != nil {
		return types.RoleUnknown
	}
	return role
}
