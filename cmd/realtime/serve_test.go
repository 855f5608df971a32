package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Bamba9016/vente/internal/config"
)

func TestSessionConfig(t *testing.T) {
	ws := config.WS{
		SendBuffer:      32,
		PingInterval:    5 * time.Second,
		PongWait:        10 * time.Second,
		WriteWait:       time.Second,
		MaxMessageBytes: 1024,
		RatePerSecond:   1,
		RateBurst:       2,
	}

	cfg := sessionConfig(ws, 3*time.Second)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PongWait)
	assert.Equal(t, int64(1024), cfg.MaxMessageBytes)
	assert.Equal(t, 2, cfg.RateBurst)
	assert.Equal(t, 3*time.Second, cfg.HandleTimeout)

	// store timeout left unset keeps the session default
	assert.Equal(t, 5*time.Second, sessionConfig(ws, 0).HandleTimeout)
}
