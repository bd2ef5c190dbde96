// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package remote

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// fakeDrive is a tiny in-memory subset of the Drive v3 REST API.
type fakeDrive struct {
	t *testing.T

	mu       sync.Mutex
	files    map[string]*fakeFile
	nextID   int
	pageSize int
	requests int
	failAll  bool
}

type fakeFile struct {
	id      string
	name    string
	parents []string
	data    []byte
	created time.Time
}

var nameClause = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)'`)

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()
	fd := &fakeDrive{t: t, files: make(map[string]*fakeFile), pageSize: 2}
	srv := httptest.NewServer(fd)
	t.Cleanup(srv.Close)
	return fd, srv
}

func (fd *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.requests++

	if r.URL.Path == "/token" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600}`)
		return
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || auth == "Bearer revoked" {
		http.Error(w, `{"error":"invalid_credentials"}`, http.StatusUnauthorized)
		return
	}
	if fd.failAll {
		http.Error(w, `{"error":"backend"}`, http.StatusInternalServerError)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/drive/v3/files":
		fd.list(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/upload/drive/v3/files":
		fd.create(w, r)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/upload/drive/v3/files/"):
		fd.update(w, r, strings.TrimPrefix(r.URL.Path, "/upload/drive/v3/files/"))
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/drive/v3/files/"):
		fd.remove(w, strings.TrimPrefix(r.URL.Path, "/drive/v3/files/"))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/drive/v3/files/"):
		fd.media(w, r, strings.TrimPrefix(r.URL.Path, "/drive/v3/files/"))
	default:
		http.NotFound(w, r)
	}
}

func (fd *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	var matches []*fakeFile
	for _, f := range fd.files {
		if m := nameClause.FindStringSubmatch(q); m != nil {
			if f.name != strings.ReplaceAll(m[1], `\'`, `'`) {
				continue
			}
		}
		matches = append(matches, f)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].id < matches[j].id })

	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	end := start + fd.pageSize
	next := ""
	if end < len(matches) {
		next = strconv.Itoa(end)
	} else {
		end = len(matches)
	}

	files := make([]map[string]string, 0, end-start)
	for _, f := range matches[start:end] {
		files = append(files, fd.render(f))
	}
	fd.writeJSON(w, map[string]any{"files": files, "nextPageToken": next})
}

func (fd *fakeDrive) create(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		http.Error(w, "want multipart/related", http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var meta struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dataPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(dataPart)

	fd.nextID++
	f := &fakeFile{
		id:      fmt.Sprintf("file-%03d", fd.nextID),
		name:    meta.Name,
		parents: meta.Parents,
		data:    data,
		created: time.Now().UTC().Truncate(time.Second),
	}
	fd.files[f.id] = f
	fd.writeJSON(w, fd.render(f))
}

func (fd *fakeDrive) update(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := fd.files[id]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	f.data, _ = io.ReadAll(r.Body)
	fd.writeJSON(w, fd.render(f))
}

func (fd *fakeDrive) remove(w http.ResponseWriter, id string) {
	if _, ok := fd.files[id]; !ok {
		http.Error(w, `{"error":"notFound"}`, http.StatusNotFound)
		return
	}
	delete(fd.files, id)
	w.WriteHeader(http.StatusNoContent)
}

func (fd *fakeDrive) media(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := fd.files[id]
	if !ok || r.URL.Query().Get("alt") != "media" {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(f.data)
}

func (fd *fakeDrive) render(f *fakeFile) map[string]string {
	return map[string]string{
		"id":          f.id,
		"name":        f.name,
		"size":        strconv.Itoa(len(f.data)),
		"createdTime": f.created.Format(time.RFC3339),
	}
}

func (fd *fakeDrive) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fd.t.Errorf("encode: %v", err)
	}
}

// put seeds a file directly.
func (fd *fakeDrive) put(name string, data []byte, created time.Time) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.nextID++
	id := fmt.Sprintf("file-%03d", fd.nextID)
	fd.files[id] = &fakeFile{id: id, name: name, data: data, created: created}
	return id
}

func (fd *fakeDrive) count() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return len(fd.files)
}

func (fd *fakeDrive) setFailAll(v bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.failAll = v
}

// memTokens is an in-memory TokenStore.
type memTokens struct {
	mu    sync.Mutex
	tok   *oauth2.Token
	saves int
}

func (m *memTokens) LoadToken(context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, nil
}

func (m *memTokens) SaveToken(_ context.Context, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = tok
	m.saves++
	return nil
}

func (m *memTokens) DeleteToken(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = nil
	return nil
}

func (m *memTokens) current() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok
}

func validToken(access string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: "refresh-0",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func newTestDriveStore(t *testing.T, srv *httptest.Server, tokens *memTokens) *DriveStore {
	t.Helper()
	s, err := NewDriveStore(context.Background(), DriveConfig{
		ClientID:          "client",
		ClientSecret:      "secret",
		RedirectURL:       "http://127.0.0.1/oauth/callback",
		APIBaseURL:        srv.URL + "/drive/v3",
		UploadBaseURL:     srv.URL + "/upload/drive/v3",
		Endpoint:          &oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
		HTTPClient:        srv.Client(),
	}, tokens)
	if err != nil {
		t.Fatalf("NewDriveStore() error = %v", err)
	}
	return s
}
