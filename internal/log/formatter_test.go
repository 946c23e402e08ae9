package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	require.NoError(t, Setup(logger, "debug", true))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("store", "notion").Debug("fetched page")
	assert.Contains(t, buf.String(), "store=notion")
	assert.Contains(t, buf.String(), "fetched page")
	assert.NotContains(t, buf.String(), "\x1b[", "colors must be disabled")
}

func TestSetup_InvalidLevel(t *testing.T) {
	err := Setup(logrus.New(), "loud", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestOrDiscard(t *testing.T) {
	l := logrus.New()
	assert.Same(t, l, OrDiscard(l))

	d := OrDiscard(nil)
	require.NotNil(t, d)
	d.Info("dropped") // must not panic
}
