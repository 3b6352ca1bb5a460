package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_grpc":             "www.example:9000",
		"database_dsn":                   "ledger-db",
		"audit_secret":                   "my_audit_secret",
		"access_token_validity_duration": "1m",
		"security_code_iterations":       5000,
		"contribution_fee_rate":          "0.015",
		"late_payment_penalty_rate":      0.07,
		"s3_bucket":                      "bucket",
	})

	t.Run("loads from json", func(t *testing.T) {
		cfg := defaults()
		require.NoError(t, parseJson(cfg, []string{"-config", pathFlag}))

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrGRPC)
		assert.Equal(t, "ledger-db", cfg.DatabaseDSN)
		assert.Equal(t, "my_audit_secret", cfg.AuditSecret)
		assert.Equal(t, 1*time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, 5000, cfg.SecurityCodeIterations)
		assert.Equal(t, "0.015", cfg.ContributionFeeRate.String())
		assert.Equal(t, "0.07", cfg.LatePaymentPenaltyRate.String())
		assert.Equal(t, "bucket", cfg.S3Bucket)

		// fields missing from the file keep their defaults
		assert.Equal(t, "XOF", cfg.DefaultCurrency)
		assert.Equal(t, 100, cfg.FreezeThreshold)
	})

	t.Run("no config flag -> no changes", func(t *testing.T) {
		cfg := defaults()
		require.NoError(t, parseJson(cfg, []string{"-d", "other"}))
		assert.Equal(t, defaults().DatabaseDSN, cfg.DatabaseDSN)
	})

	t.Run("missing file -> error", func(t *testing.T) {
		cfg := defaults()
		require.Error(t, parseJson(cfg, []string{"-c", filepath.Join(dir, "absent.json")}))
	})

	t.Run("invalid JSON -> error", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		cfg := defaults()
		require.Error(t, parseJson(cfg, []string{"-c", bad}))
	})

	t.Run("flags override json", func(t *testing.T) {
		t.Setenv(EnvAuditSecret, "")
		cfg, err := LoadConfig([]string{"-c", pathFlag, "-d", "flag-db"})
		require.NoError(t, err)
		assert.Equal(t, "flag-db", cfg.DatabaseDSN)
		assert.Equal(t, "my_audit_secret", cfg.AuditSecret)
	})
}
