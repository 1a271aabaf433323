// Package contenttest fakes the GraphQL tweet lookup endpoint.
package contenttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Server answers TweetResultsByRestIds from Tweets. Ids missing from Tweets
// are reported as TweetUnavailable.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	Tweets   map[string]string
	Fail     int
	Requests [][]string
	Headers  []http.Header
}

func New(tweets map[string]string) *Server {
	if tweets == nil {
		tweets = map[string]string{}
	}
	s := &Server{Tweets: tweets}
	r := chi.NewRouter()
	r.Get("/i/api/graphql/{queryID}/TweetResultsByRestIds", s.lookup)
	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) SetFail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail = status
}

// RequestedIDs flattens every batch received so far.
func (s *Server) RequestedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, batch := range s.Requests {
		ids = append(ids, batch...)
	}
	return ids
}

func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	var vars struct {
		TweetIDs []string `json:"tweetIds"`
	}
	if err := json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.Requests = append(s.Requests, vars.TweetIDs)
	s.Headers = append(s.Headers, r.Header.Clone())
	fail := s.Fail
	results := make([]any, 0, len(vars.TweetIDs))
	for i, id := range vars.TweetIDs {
		text, ok := s.Tweets[id]
		switch {
		case !ok:
			results = append(results, map[string]any{"rest_id": id, "result": map[string]any{"__typename": "TweetUnavailable"}})
		case i%2 == 0:
			results = append(results, map[string]any{"rest_id": id, "result": map[string]any{
				"__typename": "Tweet",
				"legacy":     map[string]any{"full_text": text},
			}})
		default:
			results = append(results, map[string]any{"rest_id": id, "result": map[string]any{
				"__typename": "TweetWithVisibilityResults",
				"tweet":      map[string]any{"legacy": map[string]any{"full_text": text}},
			}})
		}
	}
	s.mu.Unlock()
	if fail != 0 {
		http.Error(w, "rate limited", fail)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"tweetResult": results}})
}
