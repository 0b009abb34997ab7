package routerconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/router/pkg/routererrors"
)

func TestDefaultConfigValidatesWithDiscoveryEnabled(t *testing.T) {
	cfg := Default()
	cfg.Discovery.Enable = true
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	cfg := Default()
	cfg.Policy = "least_connections"
	cfg.WorkerURLs = []string{"http://a"}

	err := cfg.Validate()
	assert.ErrorIs(t, err, routererrors.ErrConfigInvalid)
}

func TestValidateRejectsMalformedWorkerURL(t *testing.T) {
	cfg := Default()
	cfg.WorkerURLs = []string{"not a url"}

	err := cfg.Validate()
	assert.ErrorIs(t, err, routererrors.ErrConfigInvalid)
}

func TestValidateRejectsEmptyWorkersWithDiscoveryDisabled(t *testing.T) {
	cfg := Default()
	cfg.Discovery.Enable = false
	cfg.WorkerURLs = nil

	err := cfg.Validate()
	assert.ErrorIs(t, err, routererrors.ErrConfigInvalid)
}

func TestApplyDiscoveryEnvOverridesTakePrecedence(t *testing.T) {
	cfg := Default()
	t.Setenv("SGL_K8S_LABEL_SELECTOR", "sgl-role=other")
	t.Setenv("SGL_K8S_PROTOCOL", "https")

	ApplyDiscoveryEnvOverrides(&cfg)

	assert.Equal(t, "sgl-role=other", cfg.Discovery.LabelSelector)
	assert.Equal(t, "https", cfg.Discovery.Protocol)
}

func TestLoadFileMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("policy: cache_aware\ncache_threshold: 0.75\n"), 0o600))

	cfg := Default()
	require.NoError(t, LoadFile(&cfg, path))

	assert.Equal(t, "cache_aware", cfg.Policy)
	assert.Equal(t, 0.75, cfg.CacheThreshold)
	assert.Equal(t, 8080, cfg.Port) // untouched field keeps its default
}
