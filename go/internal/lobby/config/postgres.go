package config

import (
	"fmt"
	"net/url"
)

// Postgres holds the game database settings. DSN wins over the individual fields.
type Postgres struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	Query    string `yaml:"query"`
}

// ConnString returns the Postgres connection URL, or "" when neither DSN nor Host is set.
func (p Postgres) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	if p.Host == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		url.UserPassword(p.User, p.Password).String(), p.Host, p.Port, p.Database, p.SSLMode,
	)
}
