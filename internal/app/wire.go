package app

import (
	"tweetproof/internal/config"
	"tweetproof/internal/content"
	"tweetproof/internal/logging"
	"tweetproof/internal/metrics"
	"tweetproof/internal/spool"
	"tweetproof/internal/validator"
)

// NewValidator builds the validator API client from cfg.
func NewValidator(cfg *config.Config) *validator.Client {
	c := validator.New(cfg.Validator.BaseURL, cfg.Validator.APIKey)
	c.UniqueTimeout = cfg.Validator.UniqueTimeout
	c.SubmitTimeout = cfg.Validator.SubmitTimeout
	c.UserTimeout = cfg.Validator.UserTimeout
	return c
}

// NewContent builds the tweet content client from cfg.
func NewContent(cfg *config.Config) (*content.Client, error) {
	cookies, err := cfg.Content.CookieMap()
	if err != nil {
		return nil, err
	}
	c := content.New(cfg.Content.BaseURL, cfg.Content.QueryID, cfg.Content.BearerToken, cookies)
	c.Timeout = cfg.Content.Timeout
	c.BatchSize = cfg.Content.BatchSize
	return c, nil
}

// Dial builds production Deps for cfg. The caller closes the returned spool.
func Dial(cfg *config.Config, logger logging.Logger, m *metrics.Metrics) (Deps, error) {
	contentClient, err := NewContent(cfg)
	if err != nil {
		return Deps{}, err
	}
	sp, err := spool.Open(cfg.Spool)
	if err != nil {
		return Deps{}, err
	}
	v := NewValidator(cfg)
	return Deps{
		Index:   v,
		Content: contentClient,
		Ledger:  v,
		Users:   v,
		Spool:   sp,
		Logger:  logger,
		Metrics: m,
	}, nil
}
