package repositories

import (
	"fmt"

	"github.com/spf13/viper"

	"chat-realtime/internal/models"
)

// Seed is the initial content of a memory store, read from a YAML or JSON file.
type Seed struct {
	Users         []SeedUser         `mapstructure:"users"`
	Conversations []SeedConversation `mapstructure:"conversations"`
}

type SeedUser struct {
	ID       int    `mapstructure:"id"`
	Username string `mapstructure:"username"`
}

// SeedConversation lists member ids; the first member of a group is its admin.
type SeedConversation struct {
	Kind    string `mapstructure:"type"`
	Name    string `mapstructure:"name"`
	Members []int  `mapstructure:"members"`
}

// LoadSeed reads a seed file; the format follows the file extension.
func LoadSeed(path string) (*Seed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed adds the seed's users and conversations. The whole seed is
// checked before anything is written.
func (s *MemoryStore) ApplySeed(seed *Seed) error {
	known := make(map[int]bool, len(seed.Users))
	s.mu.Lock()
	for id := range s.users {
		known[id] = true
	}
	s.mu.Unlock()
	for _, u := range seed.Users {
		if u.ID <= 0 || u.Username == "" {
			return fmt.Errorf("seed user %d: id and username are required", u.ID)
		}
		known[u.ID] = true
	}
	for i, c := range seed.Conversations {
		switch models.ConversationKind(c.Kind) {
		case models.ConversationPrivate:
			if len(c.Members) != 2 {
				return fmt.Errorf("seed conversation %d: private needs exactly two members", i)
			}
		case models.ConversationGroup:
			if len(c.Members) == 0 {
				return fmt.Errorf("seed conversation %d: group has no members", i)
			}
		default:
			return fmt.Errorf("seed conversation %d: unknown type %q", i, c.Kind)
		}
		for _, id := range c.Members {
			if !known[id] {
				return fmt.Errorf("seed conversation %d: unknown member %d", i, id)
			}
		}
	}

	for _, u := range seed.Users {
		s.AddUser(models.User{ID: u.ID, Username: u.Username})
	}
	for _, c := range seed.Conversations {
		conv := s.CreateConversation(models.ConversationKind(c.Kind), c.Members...)
		if c.Name != "" {
			name := c.Name
			s.mu.Lock()
			conv.Name = &name
			s.conversations[conv.ID] = conv
			s.mu.Unlock()
		}
	}
	return nil
}
