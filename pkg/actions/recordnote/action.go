// Package recordnote implements the record_note action: it attaches a
// templated note to a lead or client record through the CRM collaborator.
package recordnote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/protocol"
	"github.com/atlas-fitness/automations/pkg/template"
)

type ActionFactory struct {
	crm protocol.CRMClient
}

func NewActionFactory(crm protocol.CRMClient) *ActionFactory {
	return &ActionFactory{crm: crm}
}

func (*ActionFactory) ID() string {
	return "record_note"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	subjectID, _ := config["subject_id"].(string)
	if subjectID == "" {
		return nil, fmt.Errorf("record_note action requires a subject_id")
	}

	body, _ := config["body"].(string)
	if body == "" {
		return nil, fmt.Errorf("record_note action requires a body")
	}

	return &Action{crm: f.crm, subjectID: subjectID, body: body}, nil
}

type Action struct {
	crm       protocol.CRMClient
	subjectID string
	body      string
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	subjectID, err := template.RenderString(a.subjectID, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject_id: %w", err)
	}

	body, err := template.RenderString(a.body, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	if err := a.crm.RecordNote(ctx, subjectID, body); err != nil {
		return nil, fmt.Errorf("failed to record note for %s: %w", subjectID, err)
	}

	logger.InfoContext(ctx, "Recorded note", "action_type", "record_note", "subject_id", subjectID)

	return map[string]any{"subject_id": subjectID, "recorded": true}, nil
}
