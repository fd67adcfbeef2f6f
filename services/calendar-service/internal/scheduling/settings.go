package scheduling

import (
	"context"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

func (s *Service) GetProviderSettings(ctx context.Context, agentID string) (model.ProviderSettings, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return model.ProviderSettings{}, err
	}
	var out model.ProviderSettings
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		out, err = tx.GetSettings(ctx, agentID)
		return err
	})
	return out, err
}

// SetProviderSettings registers an agent or updates its capacity settings.
func (s *Service) SetProviderSettings(ctx context.Context, in model.ProviderSettings) (model.ProviderSettings, error) {
	agentID, err := requireAgent(in.AgentID)
	if err != nil {
		return model.ProviderSettings{}, err
	}
	in.AgentID = agentID
	if err := in.Normalize(); err != nil {
		return model.ProviderSettings{}, err
	}
	var out model.ProviderSettings
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		out, err = tx.UpsertSettings(ctx, in)
		return err
	})
	if err == nil {
		s.logger.Info("provider settings saved",
			"agent_id", out.AgentID,
			"provider_type", out.ProviderType,
			"specialist_count", out.SpecialistCount,
		)
	}
	return out, err
}
