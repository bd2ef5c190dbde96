// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/tomtom215/shelfguard/internal/logging"
)

// DriveScope limits the agent to files it created itself.
const DriveScope = "https://www.googleapis.com/auth/drive.file"

const (
	driveFileFields = "id,name,size,createdTime"
	drivePageSize   = 100
	maxErrorBody    = 4 << 10
)

// DriveConfig configures DriveStore.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// FolderID places uploads in one Drive folder and scopes List to it.
	FolderID string

	APIBaseURL    string // https://www.googleapis.com/drive/v3
	UploadBaseURL string // https://www.googleapis.com/upload/drive/v3

	// Endpoint overrides google.Endpoint (tests only).
	Endpoint *oauth2.Endpoint

	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int

	// HTTPClient is the base transport for both API and token calls.
	HTTPClient *http.Client
}

// DriveStore stores backups in Google Drive through the v3 REST API.
type DriveStore struct {
	cfg     DriveConfig
	oauth   *oauth2.Config
	tokens  TokenStore
	limiter *rate.Limiter
	base    *http.Client

	mu     sync.RWMutex
	client *http.Client // nil while disconnected
}

type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size,string"`
	CreatedTime string `json:"createdTime"`
}

type driveFileList struct {
	Files         []driveFile `json:"files"`
	NextPageToken string      `json:"nextPageToken"`
}

// NewDriveStore builds the store and restores a persisted credential, if
// any, so the agent reconnects after a restart without operator action.
func NewDriveStore(ctx context.Context, cfg DriveConfig, tokens TokenStore) (*DriveStore, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("drive: client id and secret are required")
	}
	if tokens == nil {
		return nil, errors.New("drive: token store is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://www.googleapis.com/drive/v3"
	}
	if cfg.UploadBaseURL == "" {
		cfg.UploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}

	s := &DriveStore{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{DriveScope},
		},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		base:    base,
	}

	tok, err := tokens.LoadToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("drive: load stored credential: %w", err)
	}
	if tok != nil {
		s.connect(tok)
		logging.Info().Msg("Restored Google Drive credential")
	}
	return s, nil
}

// oauthContext carries the base client to the oauth2 package. Token
// refreshes outlive any single request, so it is not derived from one.
func (s *DriveStore) oauthContext() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, s.base)
}

func (s *DriveStore) connect(tok *oauth2.Token) {
	ctx := s.oauthContext()
	src := oauth2.ReuseTokenSource(tok, &persistingTokenSource{
		base:   s.oauth.TokenSource(ctx, tok),
		store:  s.tokens,
		access: tok.AccessToken,
	})

	s.mu.Lock()
	s.client = oauth2.NewClient(ctx, src)
	s.mu.Unlock()
}

// IsConnected implements Store.
func (s *DriveStore) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// AuthCodeURL returns the consent page URL. Offline access is requested so
// Google issues a refresh token.
func (s *DriveStore) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a credential, persists it and
// connects the store.
func (s *DriveStore) Exchange(ctx context.Context, code string) error {
	exCtx := context.WithValue(ctx, oauth2.HTTPClient, s.base)
	tok, err := s.oauth.Exchange(exCtx, code)
	if err != nil {
		return fmt.Errorf("drive: exchange authorization code: %w", err)
	}
	if err := s.tokens.SaveToken(ctx, tok); err != nil {
		return fmt.Errorf("drive: persist credential: %w", err)
	}
	s.connect(tok)
	logging.Info().Msg("Google Drive connected")
	return nil
}

// Disconnect forgets the credential locally. Existing remote files stay.
func (s *DriveStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()

	if err := s.tokens.DeleteToken(ctx); err != nil {
		return fmt.Errorf("drive: delete credential: %w", err)
	}
	logging.Info().Msg("Google Drive disconnected")
	return nil
}

// Upload implements Store.
func (s *DriveStore) Upload(ctx context.Context, localPath, name string) (UploadResult, error) {
	if !s.IsConnected() {
		return UploadResult{}, &NotConnectedError{Op: "upload"}
	}

	existing, err := s.findByName(ctx, name)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return UploadResult{}, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("drive: open %s: %w", localPath, err)
	}
	defer f.Close()

	if existing != nil {
		id, err := s.updateContent(ctx, existing.ID, f)
		if err != nil {
			return UploadResult{}, err
		}
		return UploadResult{RemoteID: id, Action: ActionUpdated}, nil
	}

	id, err := s.create(ctx, name, f)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{RemoteID: id, Action: ActionCreated}, nil
}

func (s *DriveStore) create(ctx context.Context, name string, content io.Reader) (string, error) {
	meta := map[string]any{"name": name}
	if s.cfg.FolderID != "" {
		meta["parents"] = []string{s.cfg.FolderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("drive: marshal metadata: %w", err)
	}

	// Stream the multipart/related body instead of buffering the snapshot.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeRelated(mw, metaJSON, content))
	}()

	endpoint := s.cfg.UploadBaseURL + "/files?uploadType=multipart&fields=" + url.QueryEscape(driveFileFields)
	req, err := http.NewRequest(http.MethodPost, endpoint, pr)
	if err != nil {
		_ = pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var out driveFile
	if err := s.doJSON(ctx, "upload", req, &out); err != nil {
		_ = pr.Close()
		return "", err
	}
	return out.ID, nil
}

func writeRelated(mw *multipart.Writer, meta []byte, content io.Reader) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return err
	}
	if _, err := part.Write(meta); err != nil {
		return err
	}
	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/octet-stream"}})
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return mw.Close()
}

func (s *DriveStore) updateContent(ctx context.Context, id string, content io.Reader) (string, error) {
	endpoint := s.cfg.UploadBaseURL + "/files/" + url.PathEscape(id) +
		"?uploadType=media&fields=" + url.QueryEscape(driveFileFields)
	req, err := http.NewRequest(http.MethodPatch, endpoint, content)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out driveFile
	if err := s.doJSON(ctx, "upload", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// List implements Store.
func (s *DriveStore) List(ctx context.Context) ([]Object, error) {
	if !s.IsConnected() {
		return nil, &NotConnectedError{Op: "list"}
	}

	var (
		objects   []Object
		pageToken string
	)
	for {
		page, err := s.listPage(ctx, s.baseQuery(), pageToken)
		if err != nil {
			return nil, err
		}
		for _, f := range page.Files {
			objects = append(objects, f.toObject())
		}
		if page.NextPageToken == "" {
			return objects, nil
		}
		pageToken = page.NextPageToken
	}
}

// Delete implements Store.
func (s *DriveStore) Delete(ctx context.Context, remoteID string) error {
	if !s.IsConnected() {
		return &NotConnectedError{Op: "delete"}
	}

	req, err := http.NewRequest(http.MethodDelete, s.cfg.APIBaseURL+"/files/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, "delete", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Download implements Store. The file is written to a temporary sibling
// and renamed so destPath never holds a partial download.
func (s *DriveStore) Download(ctx context.Context, name, destPath string) error {
	if !s.IsConnected() {
		return &NotConnectedError{Op: "download"}
	}

	obj, err := s.findByName(ctx, name)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodGet, s.cfg.APIBaseURL+"/files/"+url.PathEscape(obj.ID)+"?alt=media", nil)
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, "download", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("drive: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("drive: download %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("drive: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), destPath)
}

func (s *DriveStore) findByName(ctx context.Context, name string) (*driveFile, error) {
	q := s.baseQuery() + " and name = '" + escapeQuery(name) + "'"
	page, err := s.listPage(ctx, q, "")
	if err != nil {
		return nil, err
	}
	if len(page.Files) == 0 {
		return nil, ErrObjectNotFound
	}
	if len(page.Files) > 1 {
		logging.Warn().Str("name", name).Int("matches", len(page.Files)).Msg("Multiple remote objects share a name, using the first")
	}
	return &page.Files[0], nil
}

func (s *DriveStore) baseQuery() string {
	q := "trashed = false"
	if s.cfg.FolderID != "" {
		q += " and '" + escapeQuery(s.cfg.FolderID) + "' in parents"
	}
	return q
}

func (s *DriveStore) listPage(ctx context.Context, q, pageToken string) (*driveFileList, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("spaces", "drive")
	params.Set("pageSize", fmt.Sprint(drivePageSize))
	params.Set("fields", "nextPageToken,files("+driveFileFields+")")
	params.Set("orderBy", "createdTime")
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	req, err := http.NewRequest(http.MethodGet, s.cfg.APIBaseURL+"/files?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out driveFileList
	if err := s.doJSON(ctx, "list", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *DriveStore) doJSON(ctx context.Context, op string, req *http.Request, out any) error {
	resp, err := s.do(ctx, op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("drive: decode %s response: %w", op, err)
	}
	return nil
}

// do paces, authorizes and sends req. A non-2xx response is returned as
// an error and its body is closed.
func (s *DriveStore) do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return nil, &NotConnectedError{Op: op}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("drive: %s: %w", op, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	resp, err := client.Do(req.WithContext(reqCtx))
	if err != nil {
		cancel()
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, &NotConnectedError{Op: op, Err: err}
		}
		return nil, fmt.Errorf("drive: %s: %w", op, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %v", ErrObjectNotFound, apiErr)
	case http.StatusUnauthorized:
		return nil, &NotConnectedError{Op: op, Err: apiErr}
	default:
		return nil, apiErr
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (f driveFile) toObject() Object {
	created, err := time.Parse(time.RFC3339, f.CreatedTime)
	if err != nil {
		logging.Debug().Str("id", f.ID).Str("created_time", f.CreatedTime).Msg("Unparseable createdTime")
	}
	return Object{ID: f.ID, Name: f.Name, Size: f.Size, CreatedTime: created}
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// persistingTokenSource saves every refreshed token so a restart resumes
// with the newest credential.
type persistingTokenSource struct {
	base  oauth2.TokenSource
	store TokenStore

	mu     sync.Mutex
	access string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	changed := tok.AccessToken != p.access
	p.access = tok.AccessToken
	p.mu.Unlock()

	if changed {
		if err := p.store.SaveToken(context.Background(), tok); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist refreshed Drive credential")
		}
	}
	return tok, nil
}
