package testserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

// StoredPost is what the fake store received for one post
type StoredPost struct {
	ID          int
	Image       []byte
	Filename    string
	ContentType string
	Tags        []FakeTag
}

// Store fakes the local mirror server
type Store struct {
	mu      sync.Mutex
	posts   map[int]StoredPost
	uploads map[int]int
	order   []int
	reject  map[int]int
	checks  int
	server  *httptest.Server
}

// NewStore creates an empty fake store
func NewStore() *Store {
	s := &Store{
		posts:   make(map[int]StoredPost),
		uploads: make(map[int]int),
		reject:  make(map[int]int),
	}
	s.server = httptest.NewServer(s.Router())
	return s
}

// URL is the base URL of the fake
func (s *Store) URL() string {
	return s.server.URL
}

// Close stops the server
func (s *Store) Close() {
	s.server.Close()
}

// Seed marks ids as already stored without counting uploads
func (s *Store) Seed(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.posts[id] = StoredPost{ID: id}
	}
}

// Reject makes uploads of id answer with status
func (s *Store) Reject(id, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[id] = status
}

// ClearRejections makes every upload succeed again
func (s *Store) ClearRejections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.reject)
}

// Post returns what was stored for id
func (s *Store) Post(id int) (StoredPost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	return p, ok
}

// UploadCount returns how many times id was uploaded
func (s *Store) UploadCount(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[id]
}

// TotalUploads returns the number of accepted uploads
func (s *Store) TotalUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.uploads {
		total += n
	}
	return total
}

// UploadedIDs returns the ids uploaded at least once, ascending
func (s *Store) UploadedIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.uploads))
	for id := range s.uploads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// UploadOrder returns every accepted upload in arrival order
func (s *Store) UploadOrder() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.order...)
}

// Checks returns how many /check requests were served
func (s *Store) Checks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

// Router builds the chi router behind the fake
func (s *Store) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/count", s.handleCount)
	r.Post("/check", s.handleCheck)
	r.Post("/upload", s.handleUpload)
	return r
}

func (s *Store) handleCount(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	count := len(s.posts)
	s.mu.Unlock()
	writeJSON(w, map[string]int{"count": count})
}

func (s *Store) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostIDs []int `json:"postIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.checks++
	stored := make([]int, 0, len(req.PostIDs))
	for _, id := range req.PostIDs {
		if _, ok := s.posts[id]; ok {
			stored = append(stored, id)
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string][]int{"postIds": stored})
}

func (s *Store) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := strconv.Atoi(r.FormValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var tags []FakeTag
	if err := json.Unmarshal([]byte(r.FormValue("tags")), &tags); err != nil {
		http.Error(w, "invalid tags", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "missing image", http.StatusBadRequest)
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.reject[id]; ok {
		w.WriteHeader(status)
		return
	}
	s.posts[id] = StoredPost{
		ID:          id,
		Image:       image,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Tags:        tags,
	}
	s.uploads[id]++
	s.order = append(s.order, id)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
