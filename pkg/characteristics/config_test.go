package characteristics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetguard/aclengine/pkg/characteristics"
)

func TestLoaderConfigFromEnvDefaultsSchema(t *testing.T) {
	t.Setenv("ACLENGINE_CHAR_DSN", "postgres://localhost/doc")
	t.Setenv("ACLENGINE_CHAR_SCHEMA", "")

	cfg, err := characteristics.LoaderConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/doc", cfg.DSN)
	assert.Equal(t, "public", cfg.Schema)
}

func TestLoaderConfigFromEnvRequiresDSN(t *testing.T) {
	t.Setenv("ACLENGINE_CHAR_DSN", "")
	_, err := characteristics.LoaderConfigFromEnv()
	assert.Error(t, err)
}
