/**
 * @description
 * Scheduled job implementations for the keeper.
 */
package keeper

import (
	"context"
	"log/slog"
)

// Jobs contains the logic for the keeper's scheduled tasks.
type Jobs struct {
	controller ControllerClient
	agent      AgentClient
	logger     *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(controller ControllerClient, agent AgentClient, logger *slog.Logger) *Jobs {
	return &Jobs{
		controller: controller,
		agent:      agent,
		logger:     logger,
	}
}

// ReportRemoteValue is the mark-to-market job: it reads the agent's current
// position value and pushes it to the controller. Without this job the home
// domain only learns about yield when a withdrawal settles.
func (j *Jobs) ReportRemoteValue() {
	j.logger.Info("starting remote value report job")
	ctx := context.Background()

	value, err := j.agent.PositionValue(ctx)
	if err != nil {
		j.logger.Error("failed to read remote position value", "error", err)
		return
	}

	if err := j.controller.UpdateValue(ctx, value); err != nil {
		j.logger.Error("failed to push value report to controller", "error", err)
		return
	}

	j.logger.Info("remote value report job finished", "value", value)
}
