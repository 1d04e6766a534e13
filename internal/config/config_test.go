package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Service:  ServiceConfig{HTTPPort: 8080},
		Database: DatabaseConfig{Enabled: true, Host: "localhost", MaxConns: 10, MinConns: 2},
		Node:     NodeConfig{WasmEngine: "wazero"},
	}
}

func TestValidateAcceptsSaneConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := validConfig()
	c.Service.HTTPPort = 0
	assert.Error(t, c.Validate())

	c.Service.HTTPPort = 70000
	assert.Error(t, c.Validate())
}

func TestValidateRequiresDatabaseHostWhenEnabled(t *testing.T) {
	c := validConfig()
	c.Database.Host = ""
	assert.Error(t, c.Validate())

	c.Database.Enabled = false
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsInvertedConnPool(t *testing.T) {
	c := validConfig()
	c.Database.MaxConns = 1
	c.Database.MinConns = 5
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownWasmEngine(t *testing.T) {
	c := validConfig()
	c.Node.WasmEngine = "v8"
	assert.Error(t, c.Validate())
}

func TestDatabaseURL(t *testing.T) {
	c := &Config{Database: DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Database: "d"}}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DatabaseURL())
}
