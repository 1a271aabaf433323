package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6, cfg.DLPID)
	assert.Equal(t, 0.65, cfg.Sampling.Confidence)
	assert.Equal(t, 0.1, cfg.Sampling.MaliciousRate)
	assert.Equal(t, 100, cfg.Sampling.FullCheckBelow)
	assert.Equal(t, 100000.0, cfg.Scoring.Scale)
	assert.Equal(t, 10.0, cfg.Scoring.TweetWeight)
	assert.Equal(t, 10*time.Second, cfg.Validator.UniqueTimeout)
	assert.Equal(t, 20*time.Second, cfg.Content.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Validator.SubmitTimeout)
	assert.Equal(t, SpoolBackendFile, cfg.Spool.Backend)
	assert.Equal(t, "tweetproof_proof", cfg.Metrics.Job)
	assert.Empty(t, cfg.Metrics.PushURL)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("sampling:\n  confidence: 0.9\nspool:\n  backend: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Sampling.Confidence)
	assert.Equal(t, 0.1, cfg.Sampling.MaliciousRate)
	assert.Equal(t, SpoolBackendSQLite, cfg.Spool.Backend)
	assert.Equal(t, 30*time.Second, cfg.Validator.SubmitTimeout)
}

func TestFromYAMLRejectsOutOfRangeKnobs(t *testing.T) {
	cases := map[string]string{
		"confidence":     "sampling:\n  confidence: 1\n",
		"malicious rate": "sampling:\n  malicious_rate: 0\n",
		"scale":          "scoring:\n  scale: 0\n",
		"backend":        "spool:\n  backend: s3\n",
		"timeout":        "content:\n  timeout: 0s\n",
		"base url":       "validator:\n  base_url: not-a-url\n",
		"syntax":         "sampling: [",
		"push url":       "metrics:\n  push_url: gateway:9091\n",
		"push job":       "metrics:\n  push_url: http://gateway:9091\n  job: \"\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "proof.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidateRunRequiresCredentials(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.ValidateRun(), "FILE_ID")
	cfg.FileID = "file-1"
	assert.ErrorContains(t, cfg.ValidateRun(), "MINER_ADDRESS")
	cfg.MinerAddress = "0xabc"
	assert.ErrorContains(t, cfg.ValidateRun(), "VOLARA_API_KEY")
	cfg.Validator.APIKey = "key"
	require.NoError(t, cfg.ValidateRun())
	cfg.Content.Cookies = "not json"
	assert.ErrorContains(t, cfg.ValidateRun(), "content.cookies")
}

func TestCookieMap(t *testing.T) {
	cookies, err := ContentConfig{Cookies: `{"ct0":"csrf","auth_token":"tok"}`}.CookieMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ct0": "csrf", "auth_token": "tok"}, cookies)
}

func TestApplyOverridesFromEnvironment(t *testing.T) {
	t.Setenv("FILE_ID", "file-42")
	t.Setenv("MINER_ADDRESS", "0xminer")
	t.Setenv("VOLARA_API_KEY", "secret")
	t.Setenv("COOKIES", `{"ct0":"x"}`)
	t.Setenv("PROOF_SAMPLING_CONFIDENCE", "0.8")
	t.Setenv("PROOF_VALIDATOR_SUBMIT_TIMEOUT", "5s")
	t.Setenv("PROOF_SPOOL_BACKEND", "sqlite")
	t.Setenv("PROOF_METRICS_PUSH_URL", "http://gateway:9091")

	v := viper.New()
	BindEnv(v)
	cfg := Default()
	cfg.ApplyOverrides(v)

	assert.Equal(t, "file-42", cfg.FileID)
	assert.Equal(t, "0xminer", cfg.MinerAddress)
	assert.Equal(t, "secret", cfg.Validator.APIKey)
	assert.Equal(t, `{"ct0":"x"}`, cfg.Content.Cookies)
	assert.Equal(t, 0.8, cfg.Sampling.Confidence)
	assert.Equal(t, 5*time.Second, cfg.Validator.SubmitTimeout)
	assert.Equal(t, SpoolBackendSQLite, cfg.Spool.Backend)
	assert.Equal(t, "http://gateway:9091", cfg.Metrics.PushURL)
	assert.Equal(t, 0.1, cfg.Sampling.MaliciousRate)
}

func TestLoadEnvOverloadsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PROOF_TEST_ONLY=loaded\n"), 0o600))
	t.Setenv("PROOF_TEST_ONLY", "before")
	LoadEnv(nil, path)
	assert.Equal(t, "loaded", os.Getenv("PROOF_TEST_ONLY"))
}

func TestRedactedMasksCredentials(t *testing.T) {
	cfg := Default()
	cfg.Validator.APIKey = "secret"
	cfg.Server.JWTSecret = "jwt"
	red := cfg.Redacted()
	assert.Equal(t, "***", red.Validator.APIKey)
	assert.Equal(t, "***", red.Server.JWTSecret)
	assert.Empty(t, red.Content.Cookies)
	assert.Equal(t, "secret", cfg.Validator.APIKey)
}
