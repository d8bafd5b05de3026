// Package log implements the log action: it renders a templated message and
// writes it to the engine's structured log at the configured level.
package log

import (
	"context"
	"log/slog"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/protocol"
	"github.com/atlas-fitness/automations/pkg/template"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config), nil
}

type Action struct {
	message string
	level   string
}

func NewAction(config map[string]any) *Action {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &Action{message: message, level: level}
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	rendered, err := template.RenderString(a.message, &executionCtx)
	if err != nil {
		return nil, err
	}

	logger = logger.With("action_type", "log")

	switch a.level {
	case "debug":
		logger.DebugContext(ctx, rendered)
	case "warn", "warning":
		logger.WarnContext(ctx, rendered)
	case "error":
		logger.ErrorContext(ctx, rendered)
	default:
		logger.InfoContext(ctx, rendered)
	}

	return map[string]any{"message": rendered, "level": a.level}, nil
}
