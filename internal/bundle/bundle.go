package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"tweetproof/internal/domain"
)

const (
	TweetsFile   = "tweets.json"
	UserDataFile = "user_data.json"
)

var ErrNoInput = errors.New("no input files found")

// Records is a decoded tweet container with indexed access.
type Records struct {
	items []domain.TweetRecord
}

func NewRecords(items []domain.TweetRecord) *Records {
	return &Records{items: items}
}

func (r *Records) Len() int { return len(r.items) }

func (r *Records) At(i int) domain.TweetRecord { return r.items[i] }

// Bundle is one extracted submission. Exactly one of Tweets or User is set.
type Bundle struct {
	Path   string
	Tweets *Records
	User   *domain.UserData
}

// FirstInput returns the first regular file in dir, by name.
func FirstInput(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w in %s", ErrNoInput, dir)
		}
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoInput, dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

// Open extracts the submission at path. A zip archive must carry either
// user_data.json or tweets.json; any other file is read as a bare tweet
// container padded with NUL bytes.
func Open(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		records, err := DecodeRecords(bytes.Trim(data, "\x00"))
		if err != nil {
			return nil, err
		}
		return &Bundle{Path: path, Tweets: records}, nil
	}
	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
	}
	if f, ok := files[UserDataFile]; ok {
		raw, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		var user domain.UserData
		if err := json.Unmarshal(raw, &user); err != nil {
			return nil, fmt.Errorf("decode %s: %w", UserDataFile, err)
		}
		return &Bundle{Path: path, User: &user}, nil
	}
	f, ok := files[TweetsFile]
	if !ok {
		return nil, fmt.Errorf("zip file does not contain required file %s", TweetsFile)
	}
	raw, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		return nil, err
	}
	return &Bundle{Path: path, Tweets: records}, nil
}

type wireTweet struct {
	TweetID   string `json:"tweet_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Likes     int    `json:"likes"`
	Retweets  int    `json:"retweets"`
	Replies   int    `json:"replies"`
	Quotes    int    `json:"quotes"`
	CreatedAt string `json:"created_at"`
}

// DecodeRecords parses a JSON array of tweets.
func DecodeRecords(data []byte) (*Records, error) {
	var wire []wireTweet
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode tweet container: %w", err)
	}
	items := make([]domain.TweetRecord, 0, len(wire))
	for i, w := range wire {
		if w.TweetID == "" {
			return nil, fmt.Errorf("decode tweet container: record %d has no tweet_id", i)
		}
		items = append(items, domain.TweetRecord{
			TweetID:   w.TweetID,
			AuthorID:  w.UserID,
			Text:      w.Text,
			CreatedAt: w.CreatedAt,
			Engagement: domain.Engagement{
				Likes:    w.Likes,
				Retweets: w.Retweets,
				Replies:  w.Replies,
				Quotes:   w.Quotes,
			},
		})
	}
	return NewRecords(items), nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
