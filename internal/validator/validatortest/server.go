// Package validatortest runs an in-process fake of the validator API.
package validatortest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

type UniqueRequest struct {
	TweetIDs []string `json:"tweetIds"`
	FileID   string   `json:"fileId"`
}

// Server records every call it receives. Fields prefixed Fail make the
// matching endpoint answer with that status code.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	Credited    map[string]bool
	Validated   bool
	FailUnique  int
	FailSubmit  int
	FailUser    int
	APIKey      string
	UniqueCalls []UniqueRequest
	Submissions [][]byte
	UserCalls   int
}

// New starts a fake that expects apiKey as bearer token.
func New(apiKey string) *Server {
	s := &Server{Credited: map[string]bool{}, APIKey: apiKey}
	r := chi.NewRouter()
	r.Use(s.auth)
	r.Post("/v1/validator/unique", s.unique)
	r.Post("/v1/validator/submit-validation", s.submit)
	r.Post("/v1/validator/validate-user", s.validateUser)
	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) SetCredited(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.Credited[id] = true
	}
}

func (s *Server) SetFailSubmit(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailSubmit = status
}

func (s *Server) SetFailUnique(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailUnique = status
}

func (s *Server) SetFailUser(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailUser = status
}

func (s *Server) UniqueCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.UniqueCalls)
}

func (s *Server) SubmissionBodies() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Submissions...)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey != "" && strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != s.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unique(w http.ResponseWriter, r *http.Request) {
	var req UniqueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.UniqueCalls = append(s.UniqueCalls, req)
	fail := s.FailUnique
	out := make([]bool, len(req.TweetIDs))
	for i, id := range req.TweetIDs {
		out[i] = s.Credited[id]
	}
	s.mu.Unlock()
	if fail != 0 {
		http.Error(w, "index unavailable", fail)
		return
	}
	writeJSON(w, out)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.Submissions = append(s.Submissions, body)
	fail := s.FailSubmit
	s.mu.Unlock()
	if fail != 0 {
		http.Error(w, "ledger unavailable", fail)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) validateUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.UserCalls++
	fail := s.FailUser
	validated := s.Validated
	s.mu.Unlock()
	if fail != 0 {
		http.Error(w, "unavailable", fail)
		return
	}
	writeJSON(w, map[string]bool{"userValidated": validated})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
