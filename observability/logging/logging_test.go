package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithFileWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auctioneer.log")
	logger := SetupWithFile("test-service", "test", path)
	logger.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "test-service")
}

func TestSetupWithFileFallsBackToStdoutOnlyWhenPathEmpty(t *testing.T) {
	logger := SetupWithFile("test-service", "test", "")
	require.NotNil(t, logger)
}
