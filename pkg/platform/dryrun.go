package platform

import "context"

type dryRunHandle struct {
	name string
}

// DryRun wraps a handle so that every mutating call fails with ErrDryRun
func DryRun(h Handle) Handle {
	return dryRunHandle{name: h.Name()}
}

func (d dryRunHandle) Name() string { return d.name }

func (d dryRunHandle) StartNode(context.Context, string, string) (bool, error) {
	return false, ErrDryRun
}

func (d dryRunHandle) StopNode(context.Context, string, string) (bool, error) {
	return false, ErrDryRun
}

func (d dryRunHandle) ReplaceNode(context.Context, string, string) (bool, error) {
	return false, ErrDryRun
}

func (d dryRunHandle) ProvisionNode(context.Context, NodeSpec) (bool, error) {
	return false, ErrDryRun
}
