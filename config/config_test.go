package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_PassesValidation(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.DB.Validate())
	assert.NoError(t, cfg.Hivemind.Validate())
	assert.NoError(t, cfg.Log.Validate())

	t.Run("keys still requires an explicit identity key path", func(t *testing.T) {
		assert.Error(t, cfg.Keys.Validate(), "production deployments must set keys.hivemind explicitly")
	})
}

func TestLoad_ParsesYAMLAndFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hivemind.yaml")
	yamlContent := `
hivemind:
  subs_interval: 30
  listen: "0.0.0.0:9000"
keys:
  hivemind: /etc/hivemind/keys/hivemind.key
  admin_allowlist:
    - "aa11"
notifiers:
  apns:
    bundle_id: org.getsession.test
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Hivemind.SubsInterval.Duration())
	assert.Equal(t, "0.0.0.0:9000", cfg.Hivemind.Listen)
	// unspecified hivemind.* keys keep their NewConfig defaults.
	assert.Equal(t, 16, cfg.Hivemind.MaxConnects)
	assert.Equal(t, "/etc/hivemind/keys/hivemind.key", cfg.Keys.Hivemind)
	assert.Equal(t, []string{"aa11"}, cfg.Keys.AdminAllowlist)
	assert.Equal(t, "org.getsession.test", cfg.Notifiers["apns"]["bundle_id"])
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hivemind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hivemind:
  listen: ""
keys:
  hivemind: /etc/hivemind/keys/hivemind.key
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/hivemind.yaml")
	assert.Error(t, err)
}

func TestDuration_UnmarshalYAML_AcceptsBareSecondsAndDurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hivemind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hivemind:
  subs_interval: 90
  filter_lifetime: "2m30s"
  listen: "0.0.0.0:22025"
keys:
  hivemind: /etc/hivemind/keys/hivemind.key
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Hivemind.SubsInterval.Duration())
	assert.Equal(t, 2*time.Minute+30*time.Second, cfg.Hivemind.FilterLifetime.Duration())
}

func TestHivemindConfig_Validate(t *testing.T) {
	valid := DefaultHivemindConfig()
	require.NoError(t, valid.Validate())

	t.Run("non-positive subs_interval rejected", func(t *testing.T) {
		cfg := valid
		cfg.SubsInterval = Duration(0)
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive max_connects rejected", func(t *testing.T) {
		cfg := valid
		cfg.MaxConnects = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty listen rejected", func(t *testing.T) {
		cfg := valid
		cfg.Listen = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty oxend_rpc rejected", func(t *testing.T) {
		cfg := valid
		cfg.OxendRPC = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestLogConfig_Validate(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, LogConfig{Level: level}.Validate())
	}
	assert.Error(t, LogConfig{Level: "trace"}.Validate())
}

func TestKeysConfig_LoadX25519PrivateKey(t *testing.T) {
	dir := t.TempDir()

	t.Run("raw 32 byte key", func(t *testing.T) {
		path := filepath.Join(dir, "raw.key")
		raw := make([]byte, 32)
		for i := range raw {
			raw[i] = byte(i)
		}
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		key, err := LoadX25519PrivateKey(path)
		require.NoError(t, err)
		assert.Equal(t, raw, key)
	})

	t.Run("hex encoded key", func(t *testing.T) {
		path := filepath.Join(dir, "hex.key")
		hexKey := "aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff00112233\n"
		require.NoError(t, os.WriteFile(path, []byte(hexKey), 0o600))

		key, err := LoadX25519PrivateKey(path)
		require.NoError(t, err)
		assert.Len(t, key, 32)
	})

	t.Run("wrong size rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad.key")
		require.NoError(t, os.WriteFile(path, []byte("too short"), 0o600))

		_, err := LoadX25519PrivateKey(path)
		assert.Error(t, err)
	})
}

func TestKeysConfig_AdminAllowlistAndIsAdminAllowed(t *testing.T) {
	cfg := KeysConfig{
		Hivemind:       "/etc/hivemind/keys/hivemind.key",
		AdminAllowlist: []string{"AABB", " ccdd "},
	}
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.IsAdminAllowed([]byte{0xAA, 0xBB}))
	assert.True(t, cfg.IsAdminAllowed([]byte{0xCC, 0xDD}), "entries are trimmed before hex-decoding")
	assert.False(t, cfg.IsAdminAllowed([]byte{0x11, 0x22}))

	t.Run("invalid hex entry fails validation", func(t *testing.T) {
		bad := cfg
		bad.AdminAllowlist = []string{"not-hex"}
		assert.Error(t, bad.Validate())
	})
}
