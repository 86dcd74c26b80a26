package pkg

import (
	"bytes"
	"testing"

	"github.com/osrg/gobgp/v3/pkg/log"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn")
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = NewLogger(&buf, "loud")
	assert.Error(t, err)
}

func TestGoBGPLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info")
	require.NoError(t, err)

	l := NewGoBGPLogger(logger)
	assert.Equal(t, log.InfoLevel, l.GetLevel())

	l.Info("peer up", log.Fields{"Topic": "Peer", "Key": "192.0.2.1"})
	assert.Contains(t, buf.String(), "peer up")
	assert.Contains(t, buf.String(), "Key=192.0.2.1")
	assert.Contains(t, buf.String(), "component=gobgp")

	l.Debug("not logged", nil)
	assert.NotContains(t, buf.String(), "not logged")

	l.SetLevel(log.DebugLevel)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	l.Debug("now logged", nil)
	assert.Contains(t, buf.String(), "now logged")
}
