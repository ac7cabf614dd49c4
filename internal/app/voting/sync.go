package voting

import (
	"context"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

// syncEstimate posts the final estimate to the story's issue. Failure never
// affects the finalize; the host is warned instead.
func (m *Machine) syncEstimate(id domain.SessionID, host domain.UserID, story domain.Story, value float64) {
	defer m.syncs.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.syncTimeout)
	defer cancel()

	err := m.commenter.PostEstimateComment(ctx, story.Repo, story.IssueNumber, value)
	if err == nil {
		log.Info().Str("module", "voting").Str("repo", story.Repo).Int("issue", story.IssueNumber).Msg("estimate synced")
		return
	}
	log.Warn().Err(err).Str("module", "voting").Str("session", string(id)).
		Str("repo", story.Repo).Int("issue", story.IssueNumber).Msg("estimate sync failed")
	if m.bus == nil {
		return
	}
	m.bus.PublishToUser(id, host, core.Event{
		Type:      core.EventWarning,
		SessionID: id,
		Payload: core.ErrorPayload{
			Reason:  domain.Reason(domain.ErrSyncCollaboratorFailed),
			Message: domain.ErrSyncCollaboratorFailed.Error(),
		},
	})
}
