package app_test

import (
	"archive/zip"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetproof/internal/app"
	"tweetproof/internal/auth"
	"tweetproof/internal/config"
	"tweetproof/internal/content"
	"tweetproof/internal/content/contenttest"
	"tweetproof/internal/domain"
	"tweetproof/internal/engine"
	"tweetproof/internal/metrics"
	"tweetproof/internal/spool"
	"tweetproof/internal/validator"
	"tweetproof/internal/validator/validatortest"
)

const permissions = `[{"address":"0xowner","public_key":"04key"}]`

type harness struct {
	Config    *config.Config
	Validator *validatortest.Server
	Content   *contenttest.Server
	Spool     *spool.FileSpool
	Metrics   *metrics.Metrics
}

func newHarness(t *testing.T, tweets map[string]string) harness {
	t.Helper()
	v := validatortest.New("api-key")
	c := contenttest.New(tweets)
	t.Cleanup(v.Close)
	t.Cleanup(c.Close)

	cfg := config.Default()
	cfg.InputDir = filepath.Join(t.TempDir(), "input")
	cfg.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.FileID = "file-1"
	cfg.MinerAddress = "0xminer"
	cfg.Validator.BaseURL = v.URL
	cfg.Validator.APIKey = "api-key"
	cfg.Content.BaseURL = c.URL
	cfg.Content.Cookies = `{"ct0":"csrf","auth_token":"tok"}`
	cfg.Spool.Dir = filepath.Join(t.TempDir(), ".critical_reward_failures")
	cfg.Permissions = config.PermissionsConfig{OwnerAddress: "0xowner", OwnerPublicKey: "04key", Validated: permissions}
	require.NoError(t, os.MkdirAll(cfg.InputDir, 0o755))

	sp, err := spool.NewFileSpool(cfg.Spool.Dir)
	require.NoError(t, err)
	return harness{Config: cfg, Validator: v, Content: c, Spool: sp, Metrics: metrics.New()}
}

func (h harness) proof(t *testing.T) *app.Proof {
	t.Helper()
	contentClient, err := app.NewContent(h.Config)
	require.NoError(t, err)
	v := app.NewValidator(h.Config)
	return app.New(h.Config, app.Deps{
		Index:   v,
		Content: contentClient,
		Ledger:  v,
		Users:   v,
		Spool:   h.Spool,
		Metrics: h.Metrics,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	})
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func tweetsJSON(t *testing.T, tweets map[string]string) string {
	t.Helper()
	var wire []map[string]any
	for _, id := range []string{"100", "200", "300"} {
		if text, ok := tweets[id]; ok {
			wire = append(wire, map[string]any{"tweet_id": id, "user_id": "u-" + id, "text": text})
		}
	}
	b, err := json.Marshal(wire)
	require.NoError(t, err)
	return string(b)
}

func readResults(t *testing.T, dir string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, app.ResultsFile))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

var live = map[string]string{"100": "gm", "200": "hello world", "300": "ship it"}

func TestRunValidSubmission(t *testing.T) {
	h := newHarness(t, live)
	h.Validator.SetCredited("200")
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{"tweets.json": tweetsJSON(t, live)})

	resp, err := h.proof(t).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.InDelta(t, 20.0/100_000, resp.Score, 1e-12)
	assert.Equal(t, resp.Score, resp.Quality)
	assert.InDelta(t, 2.0/3.0, resp.Uniqueness, 1e-12)
	assert.Zero(t, resp.Authenticity)
	assert.Zero(t, resp.Ownership)

	require.Len(t, h.Validator.SubmissionBodies(), 1)
	var sub domain.RewardSubmission
	require.NoError(t, json.Unmarshal(h.Validator.SubmissionBodies()[0], &sub))
	assert.Equal(t, "file-1", sub.FileID)
	assert.Equal(t, 2, sub.TweetCount)
	assert.ElementsMatch(t, []string{"100", "300"}, h.Content.RequestedIDs())

	results := readResults(t, h.Config.OutputDir)
	assert.Equal(t, true, results["valid"])
	assert.Equal(t, 6.0, results["dlp_id"])
	attrs := results["attributes"].(map[string]any)
	assert.Equal(t, 3.0, attrs["total_tweets"])
	assert.Equal(t, 2.0, attrs["unique_tweets"])
	assert.NotContains(t, attrs, "rejection")
}

func TestRunTextMismatchIsInvalid(t *testing.T) {
	h := newHarness(t, map[string]string{"100": "gm", "200": "edited", "300": "ship it"})
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{"tweets.json": tweetsJSON(t, live)})

	resp, err := h.proof(t).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Zero(t, resp.Score)
	assert.Equal(t, string(domain.RejectionTextMismatch), resp.Attributes["rejection"])
	assert.Empty(t, h.Validator.SubmissionBodies())
	assert.Equal(t, false, readResults(t, h.Config.OutputDir)["valid"])
}

func TestRunRawContainer(t *testing.T) {
	h := newHarness(t, live)
	raw := append([]byte(tweetsJSON(t, live)), 0, 0, 0)
	require.NoError(t, os.WriteFile(filepath.Join(h.Config.InputDir, "submission.bin"), raw, 0o600))

	resp, err := h.proof(t).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, 1.0, resp.Uniqueness)
}

func TestRunUserDataSkipsProofOfQuality(t *testing.T) {
	h := newHarness(t, live)
	h.Validator.Validated = true
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{
		"user_data.json": `{"handle":"volara","wallet_address":"0xminer"}`,
		"tweets.json":    tweetsJSON(t, live),
	})

	resp, err := h.proof(t).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Zero(t, resp.Score)
	assert.Zero(t, h.Validator.UniqueCallCount())
	assert.Zero(t, h.Content.RequestCount())
	assert.Empty(t, h.Validator.SubmissionBodies())
}

func TestRunUserVerificationOutageIsEphemeral(t *testing.T) {
	h := newHarness(t, live)
	h.Validator.SetFailUser(http.StatusServiceUnavailable)
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{
		"user_data.json": `{"handle":"volara","wallet_address":"0xminer"}`,
	})

	_, err := h.proof(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, engine.KindEphemeral, engine.KindOf(err))
	var apiErr *validator.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestRunExportsMetricsTextfile(t *testing.T) {
	h := newHarness(t, live)
	h.Config.Metrics.Textfile = filepath.Join(t.TempDir(), "tweetproof.prom")
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{"tweets.json": tweetsJSON(t, live)})

	_, err := h.proof(t).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(h.Config.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tweetproof_runs_total{verdict="valid"} 1`)
	assert.Contains(t, string(data), `tweetproof_reward_submissions_total{result="ok"} 1`)
}

func TestRunPushesMetricsOnFailure(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	h := newHarness(t, live)
	h.Config.Metrics.PushURL = gw.URL
	h.Validator.SetFailSubmit(http.StatusInternalServerError)
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{"tweets.json": tweetsJSON(t, live)})

	_, err := h.proof(t).Run(context.Background())
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"PUT /metrics/job/tweetproof_proof"}, paths)
}

func TestRunLedgerFailureSpoolsAndFails(t *testing.T) {
	h := newHarness(t, live)
	h.Validator.SetFailSubmit(http.StatusInternalServerError)
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{"tweets.json": tweetsJSON(t, live)})

	_, err := h.proof(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsFatal(err))

	recs, err := h.Spool.List(context.Background(), spool.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, string(h.Validator.SubmissionBodies()[0]), string(recs[0].Payload))
	_, statErr := os.Stat(filepath.Join(h.Config.OutputDir, app.ResultsFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunContentOutageIsEphemeral(t *testing.T) {
	h := newHarness(t, live)
	h.Content.SetFail(http.StatusTooManyRequests)
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{"tweets.json": tweetsJSON(t, live)})

	_, err := h.proof(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsEphemeral(err))
	var apiErr *content.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Empty(t, h.Validator.SubmissionBodies())
}

func TestRunRefusesWithoutOwnerPermission(t *testing.T) {
	h := newHarness(t, live)
	h.Config.Permissions.Validated = `[{"address":"0xsomeone","public_key":"04key"}]`
	writeZip(t, filepath.Join(h.Config.InputDir, "submission.zip"), map[string]string{"tweets.json": tweetsJSON(t, live)})

	_, err := h.proof(t).Run(context.Background())
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Zero(t, h.Validator.UniqueCallCount())
}

func TestRunWithoutInput(t *testing.T) {
	h := newHarness(t, live)
	_, err := h.proof(t).Run(context.Background())
	assert.ErrorContains(t, err, "no input files")
}

func TestFromOutcomeEmpty(t *testing.T) {
	resp := app.FromOutcome(6, domain.Outcome{Valid: true})
	assert.True(t, resp.Valid)
	assert.Zero(t, resp.Uniqueness)
	assert.Equal(t, 6, resp.Metadata["dlp_id"])
	assert.Equal(t, 0, resp.Attributes["total_tweets"])
}

func TestNewValidatorUsesConfiguredTimeouts(t *testing.T) {
	cfg := config.Default()
	c := app.NewValidator(cfg)
	assert.Equal(t, cfg.Validator.SubmitTimeout, c.SubmitTimeout)
	assert.Equal(t, cfg.Validator.UniqueTimeout, c.UniqueTimeout)
}
