package platform

import (
	"fmt"
	"time"
)

// Platform kinds understood by New
const (
	KindMemory     = "memory"
	KindContainerd = "containerd"
)

// Spec is the configuration of one platform
type Spec struct {
	Name        string
	Kind        string
	Active      bool
	Socket      string
	Namespace   string
	DataRoot    string
	StopTimeout time.Duration
}

// New creates the handle described by spec
func New(spec Spec) (Handle, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("platform name is required")
	}

	switch spec.Kind {
	case KindMemory, "":
		return NewMemory(spec.Name), nil
	case KindContainerd:
		return NewContainerd(spec.Name, ContainerdOptions{
			Socket:      spec.Socket,
			Namespace:   spec.Namespace,
			DataRoot:    spec.DataRoot,
			StopTimeout: spec.StopTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown platform kind %q for %s", spec.Kind, spec.Name)
	}
}

// Build creates and registers every platform in specs
func Build(specs []Spec) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		h, err := New(spec)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(h, spec.Active); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
