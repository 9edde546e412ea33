// Package credentials loads the OAuth2 client used by the remote backend.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Client identifies this service to the remote analysis API.
type Client struct {
	ID     string `yaml:"client_id"`
	Secret string `yaml:"client_secret"`
	Domain string `yaml:"client_domain"`
}

type fileFormat struct {
	Client `yaml:",inline"`
	// Older credential files call the secret a password.
	Password string `yaml:"client_password"`
}

// Empty reports whether no part of the client is set.
func (c Client) Empty() bool {
	return c.ID == "" && c.Secret == "" && c.Domain == ""
}

// Complete reports whether every part of the client is set.
func (c Client) Complete() bool {
	return c.ID != "" && c.Secret != "" && c.Domain != ""
}

// Load reads the YAML file at path and applies BACKEND_CLIENT_* environment
// overrides. A missing file yields whatever the environment provides.
func Load(path string) (Client, error) {
	var c Client
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Client{}, fmt.Errorf("read credentials: %w", err)
		default:
			var f fileFormat
			if err := yaml.Unmarshal(data, &f); err != nil {
				return Client{}, fmt.Errorf("parse credentials %s: %w", path, err)
			}
			c = f.Client
			if c.Secret == "" {
				c.Secret = f.Password
			}
		}
	}

	override(&c.ID, "BACKEND_CLIENT_ID")
	override(&c.Secret, "BACKEND_CLIENT_SECRET")
	override(&c.Domain, "BACKEND_CLIENT_DOMAIN")
	c.ID = strings.TrimSpace(c.ID)
	c.Secret = strings.TrimSpace(c.Secret)
	c.Domain = strings.TrimSpace(c.Domain)
	return c, nil
}

func override(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
