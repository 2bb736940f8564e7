// Package cmd provides common initialization functions for the command-line
// binaries.
package cmd

import (
	"log/slog"

	"github.com/taskforge/taskforge/pkg/actions/invokeagent"
	"github.com/taskforge/taskforge/pkg/actions/logactivity"
	"github.com/taskforge/taskforge/pkg/actions/sendnotification"
	"github.com/taskforge/taskforge/pkg/actions/updatefield"
	"github.com/taskforge/taskforge/pkg/protocol"
	"github.com/taskforge/taskforge/pkg/registry"
)

// Collaborators groups the external services the native actions depend on.
type Collaborators struct {
	Tasks         protocol.TaskService
	Projects      protocol.ProjectService
	Activities    protocol.ActivityLog
	Notifications protocol.NotificationService
	Agents        protocol.AgentRegistry
}

// NewRegistry builds a registry with the native actions registered against
// the supplied collaborators.
func NewRegistry(logger *slog.Logger, collab Collaborators) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(updatefield.NewActionFactory(collab.Tasks))
	reg.RegisterAction(logactivity.NewActionFactory(collab.Activities))
	reg.RegisterAction(sendnotification.NewActionFactory(collab.Projects, collab.Notifications))
	reg.RegisterAction(invokeagent.NewActionFactory(collab.Agents))

	return reg
}
