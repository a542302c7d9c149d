package mockdesk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clientdesk/clientdesk/internal/records"
)

// User is a seeded principal the mock upstream will authenticate.
type User struct {
	ID       string   `yaml:"id"`
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

// SeedRecord is a client record to preload into the store.
type SeedRecord struct {
	ID        string `yaml:"id"`
	CreatorID string `yaml:"creator_id"`
	Status    string `yaml:"status"`
}

// Fixtures is the YAML seed file shape.
type Fixtures struct {
	Users   []User       `yaml:"users"`
	Records []SeedRecord `yaml:"records"`
}

// LoadFixtures reads and validates a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}

	var fx Fixtures
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate rejects fixtures that would seed an inconsistent store.
func (fx *Fixtures) Validate() error {
	seenUsers := make(map[string]struct{}, len(fx.Users))
	for _, u := range fx.Users {
		if u.ID == "" || u.Email == "" {
			return fmt.Errorf("user %q: id and email are required", u.Email)
		}
		if _, dup := seenUsers[u.ID]; dup {
			return fmt.Errorf("duplicate user id %q", u.ID)
		}
		seenUsers[u.ID] = struct{}{}
	}

	for _, r := range fx.Records {
		if r.ID == "" {
			return fmt.Errorf("record with empty id")
		}
		if !records.Status(r.Status).Valid() {
			return fmt.Errorf("record %q: unknown status %q", r.ID, r.Status)
		}
		if _, ok := seenUsers[r.CreatorID]; !ok {
			return fmt.Errorf("record %q: creator %q is not a seeded user", r.ID, r.CreatorID)
		}
	}
	return nil
}
