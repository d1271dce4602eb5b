package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestReadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  framebuff_cnt: 8\n"), 0o644))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8, c.Session.FramebuffCnt)
	require.Equal(t, 4, c.Session.NSlots, "unspecified fields keep their default")
}

func TestSessionConfigRejectsNonPowerOfTwoRing(t *testing.T) {
	c := DefaultConfig()
	c.Session.TXRingSize = 100
	require.Error(t, c.Validate())
}

func TestCheckPeerVersion(t *testing.T) {
	require.NoError(t, CheckPeerVersion("1.0.0"))
	require.NoError(t, CheckPeerVersion("1.4.2"))
	require.Error(t, CheckPeerVersion("0.9.0"))
	require.Error(t, CheckPeerVersion("not-a-version"))
}
