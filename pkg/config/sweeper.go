package config

import (
	"fmt"
	"strings"
)

type SweeperConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
}

// String returns a string representation of the sweeper configuration.
func (c *SweeperConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Sweeper ---\n")
	b.WriteString(fmt.Sprintf("  enabled: %t\n", c.Enabled))
	b.WriteString(fmt.Sprintf("  schedule: %s\n", c.Schedule))
	return b.String()
}

func (c *SweeperConfig) Validate() error {
	if c.Enabled && c.Schedule == "" {
		return fmt.Errorf("sweeper is enabled but schedule is not configured")
	}
	return nil
}
