package reconcile

import (
	"context"
	"fmt"
	"os"

	"github.com/ldtteam/rewardsync/domain"

	"gopkg.in/yaml.v3"
)

// RoleMappings is the validated guild -> reward key -> role ids mapping,
// loaded once at startup. A reward key is "type/name".
type RoleMappings struct {
	Guilds map[string]map[string][]string `yaml:"guilds"`
}

// LoadRoleMappings reads the mapping file. Validation happens separately so
// tests can build mappings directly.
func LoadRoleMappings(path string) (*RoleMappings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role mapping file: %w", err)
	}

	var m RoleMappings
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse role mapping file: %w", err)
	}

	if m.Guilds == nil {
		m.Guilds = map[string]map[string][]string{}
	}

	return &m, nil
}

// RewardLister is the slice of the reward store validation needs.
type RewardLister interface {
	FindAll(ctx context.Context) ([]domain.Reward, error)
}

// Validate fails startup when a mapping references a reward key with no
// matching definition, or maps a reward to no roles.
func (m *RoleMappings) Validate(ctx context.Context, rewardRepo RewardLister) error {
	rewards, err := rewardRepo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rewards for validation: %w", err)
	}

	known := make(map[string]struct{}, len(rewards))
	for _, reward := range rewards {
		known[reward.Key()] = struct{}{}
	}

	for guildID, byReward := range m.Guilds {
		for rewardKey, roleIDs := range byReward {
			if _, ok := known[rewardKey]; !ok {
				return fmt.Errorf("guild %s maps unknown reward key %q", guildID, rewardKey)
			}
			if len(roleIDs) == 0 {
				return fmt.Errorf("guild %s maps reward %q to no roles", guildID, rewardKey)
			}
		}
	}

	return nil
}

// RolesFor returns guild -> role ids for one reward key.
func (m *RoleMappings) RolesFor(rewardKey string) map[string][]string {
	out := map[string][]string{}
	for guildID, byReward := range m.Guilds {
		if roleIDs, ok := byReward[rewardKey]; ok && len(roleIDs) > 0 {
			out[guildID] = roleIDs
		}
	}

	return out
}
