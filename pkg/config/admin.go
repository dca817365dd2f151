package config

import "fmt"

type AdminConfig struct {
	Key string `koanf:"key"`
}

func (c *AdminConfig) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("admin key is not configured")
	}
	return nil
}
