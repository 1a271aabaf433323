package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every knob, e.g. PROOF_SAMPLING_CONFIDENCE.
const EnvPrefix = "PROOF"

// legacyEnv maps config keys to the unprefixed variables the proof
// container has always been started with.
var legacyEnv = map[string][]string{
	"file_id":               {"FILE_ID"},
	"miner_address":         {"MINER_ADDRESS"},
	"log_level":             {"LOG_LEVEL"},
	"validator.api_key":     {"VOLARA_API_KEY"},
	"content.cookies":       {"COOKIES"},
	"permissions.validated": {"VALIDATED_PERMISSIONS"},
}

// LoadEnv loads .env files into the process environment, later files
// overriding earlier ones.
func LoadEnv(logger logrus.FieldLogger, files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("failed to load %s", file)
			}
			continue
		}
		if logger != nil {
			logger.Debugf("loaded env file %s", file)
		}
	}
}

// BindEnv prepares v to resolve every config key from the environment.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		_ = v.BindEnv(append([]string{key, prefixed}, names...)...)
	}
}

// ApplyOverrides copies every key set in v (env or bound flag) onto c.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("input_dir", &c.InputDir)
	str("output_dir", &c.OutputDir)
	str("file_id", &c.FileID)
	str("miner_address", &c.MinerAddress)
	str("log_level", &c.LogLevel)
	str("validator.base_url", &c.Validator.BaseURL)
	str("validator.api_key", &c.Validator.APIKey)
	str("content.base_url", &c.Content.BaseURL)
	str("content.query_id", &c.Content.QueryID)
	str("content.bearer_token", &c.Content.BearerToken)
	str("content.cookies", &c.Content.Cookies)
	str("spool.backend", &c.Spool.Backend)
	str("spool.dir", &c.Spool.Dir)
	str("permissions.owner_address", &c.Permissions.OwnerAddress)
	str("permissions.owner_public_key", &c.Permissions.OwnerPublicKey)
	str("permissions.validated", &c.Permissions.Validated)
	str("server.addr", &c.Server.Addr)
	str("server.jwt_secret", &c.Server.JWTSecret)
	str("metrics.textfile", &c.Metrics.Textfile)
	str("metrics.push_url", &c.Metrics.PushURL)
	str("metrics.job", &c.Metrics.Job)

	if v.IsSet("dlp_id") {
		c.DLPID = v.GetInt("dlp_id")
	}
	if v.IsSet("content.batch_size") {
		c.Content.BatchSize = v.GetInt("content.batch_size")
	}
	if v.IsSet("sampling.full_check_below") {
		c.Sampling.FullCheckBelow = v.GetInt("sampling.full_check_below")
	}
	if v.IsSet("sampling.confidence") {
		c.Sampling.Confidence = v.GetFloat64("sampling.confidence")
	}
	if v.IsSet("sampling.malicious_rate") {
		c.Sampling.MaliciousRate = v.GetFloat64("sampling.malicious_rate")
	}
	if v.IsSet("scoring.scale") {
		c.Scoring.Scale = v.GetFloat64("scoring.scale")
	}
	if v.IsSet("scoring.tweet_weight") {
		c.Scoring.TweetWeight = v.GetFloat64("scoring.tweet_weight")
	}
	if v.IsSet("validator.unique_timeout") {
		c.Validator.UniqueTimeout = v.GetDuration("validator.unique_timeout")
	}
	if v.IsSet("validator.submit_timeout") {
		c.Validator.SubmitTimeout = v.GetDuration("validator.submit_timeout")
	}
	if v.IsSet("validator.user_timeout") {
		c.Validator.UserTimeout = v.GetDuration("validator.user_timeout")
	}
	if v.IsSet("metrics.timeout") {
		c.Metrics.Timeout = v.GetDuration("metrics.timeout")
	}
	if v.IsSet("content.timeout") {
		c.Content.Timeout = v.GetDuration("content.timeout")
	}
}
