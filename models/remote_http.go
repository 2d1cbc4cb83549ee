package models

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Remote HTTP Client
//
// Talks to the remote task service's JSON API and maps its responses onto
// the RemoteService contract: 404 becomes ErrRemoteAbsent, 409/412 becomes
// ErrRemoteConflict, network and 5xx failures become transport errors. The
// client authenticates with a JWT, checks token expiry locally before each
// request, and re-logs-in once on 401 so callers never see auth churn.
//
// Identity and the cached token live in the remote_state table so the
// client survives restarts without re-authenticating every time.
// ============================================================================

// RemoteClient is the production RemoteService backed by HTTP.
type RemoteClient struct {
	config     *SyncConfig
	clientID   string
	httpClient *http.Client

	authMu    sync.Mutex // Guards authToken across concurrent calls
	authToken string
}

// remoteEnvelope is the standard response wrapper the remote API uses.
type remoteEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// remoteEntityData is the wire form of an entity inside an envelope.
type remoteEntityData struct {
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Payload    Payload   `json:"payload"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewRemoteClient builds a client from config. Restores the client identity
// and any cached auth token from the remote_state table when the database is
// initialized; otherwise a fresh identity is generated for this process.
func NewRemoteClient(config *SyncConfig) (*RemoteClient, error) {
	if config.RemoteURL == "" {
		return nil, serr.New("remote URL is not configured")
	}

	rc := &RemoteClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.ItemTimeout,
		},
	}

	if db != nil {
		state, err := GetOrCreateRemoteState(config.RemoteURL)
		if err != nil {
			return nil, serr.Wrap(err, "failed to initialize remote state")
		}
		rc.clientID = state.ClientID
		if state.AuthToken.Valid && state.AuthToken.String != "" {
			rc.authToken = state.AuthToken.String
		}
	} else {
		rc.clientID = uuid.New().String()
	}

	return rc, nil
}

// ClientID returns the stable identity this client presents to the remote.
func (rc *RemoteClient) ClientID() string {
	return rc.clientID
}

// HealthCheck pings the remote's health endpoint to verify connectivity.
// Unauthenticated so it works before login and stays cheap to poll.
func (rc *RemoteClient) HealthCheck(ctx context.Context) error {
	url := rc.config.RemoteURL + "/api/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return serr.Wrap(err, "failed to create health check request")
	}

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return WrapSyncError(ErrKindTransport, err, "health check request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewSyncError(ErrKindTransport, fmt.Sprintf("health check returned status %d", resp.StatusCode))
	}
	return nil
}

// Create posts a new entity. The id is client-assigned so retries of the
// same mutation hit the same remote record instead of duplicating it.
func (rc *RemoteClient) Create(ctx context.Context, kind, id string, payload Payload) (*RemoteRecord, error) {
	body, err := json.Marshal(map[string]any{
		"entity_id": id,
		"payload":   payload,
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to marshal create request")
	}

	url := fmt.Sprintf("%s/api/v1/entities/%s", rc.config.RemoteURL, kind)
	resp, err := rc.doAuthenticatedRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return decodeRemoteRecord(resp.Body)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return nil, ErrRemoteConflict
	}
	return nil, statusError(resp, "create")
}

// Update replaces the named fields of an entity. The base version rides
// along so the remote can refuse writes against a state the client never saw.
func (rc *RemoteClient) Update(ctx context.Context, kind, id string, payload Payload, baseVersion int64) (*RemoteRecord, error) {
	body, err := json.Marshal(map[string]any{
		"payload":      payload,
		"base_version": baseVersion,
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to marshal update request")
	}

	url := fmt.Sprintf("%s/api/v1/entities/%s/%s", rc.config.RemoteURL, kind, id)
	resp, err := rc.doAuthenticatedRequest(ctx, http.MethodPut, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeRemoteRecord(resp.Body)
	case http.StatusNotFound:
		return nil, ErrRemoteAbsent
	case http.StatusConflict, http.StatusPreconditionFailed:
		return nil, ErrRemoteConflict
	}
	return nil, statusError(resp, "update")
}

// Delete removes an entity, conditional on the base version when one is known.
func (rc *RemoteClient) Delete(ctx context.Context, kind, id string, baseVersion int64) error {
	url := fmt.Sprintf("%s/api/v1/entities/%s/%s", rc.config.RemoteURL, kind, id)
	if baseVersion > 0 {
		url += fmt.Sprintf("?base_version=%d", baseVersion)
	}

	resp, err := rc.doAuthenticatedRequest(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrRemoteAbsent
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrRemoteConflict
	}
	return statusError(resp, "delete")
}

// Fetch reads the current remote state of an entity.
func (rc *RemoteClient) Fetch(ctx context.Context, kind, id string) (*RemoteRecord, error) {
	url := fmt.Sprintf("%s/api/v1/entities/%s/%s", rc.config.RemoteURL, kind, id)
	resp, err := rc.doAuthenticatedRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeRemoteRecord(resp.Body)
	case http.StatusNotFound:
		return nil, ErrRemoteAbsent
	}
	return nil, statusError(resp, "fetch")
}

// decodeRemoteRecord unwraps the envelope and converts the entity data.
func decodeRemoteRecord(body io.Reader) (*RemoteRecord, error) {
	var env remoteEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return nil, WrapSyncError(ErrKindTransport, err, "failed to decode remote response")
	}
	if !env.Success {
		return nil, NewSyncError(ErrKindTransport, "remote returned success=false: "+env.Error)
	}

	var data remoteEntityData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, WrapSyncError(ErrKindTransport, err, "failed to decode remote entity")
	}
	return &RemoteRecord{
		EntityKind: data.EntityKind,
		EntityID:   data.EntityID,
		Payload:    data.Payload,
		Version:    data.Version,
		UpdatedAt:  data.UpdatedAt,
	}, nil
}

// statusError turns an unexpected HTTP status into a transport error,
// carrying the remote's own error message when the body has one.
func statusError(resp *http.Response, op string) error {
	msg := fmt.Sprintf("%s returned status %d", op, resp.StatusCode)
	var env remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != "" {
		msg += ": " + env.Error
	}
	return NewSyncError(ErrKindTransport, msg)
}

// ============================================================================
// Authentication
// ============================================================================

// ensureToken makes sure a usable JWT is cached, logging in when the cached
// one is missing or expires within the next 30 seconds.
func (rc *RemoteClient) ensureToken(ctx context.Context) error {
	rc.authMu.Lock()
	defer rc.authMu.Unlock()

	if tokenUsable(rc.authToken) {
		return nil
	}
	return rc.loginLocked(ctx)
}

// tokenUsable checks the JWT's expiry claim without verifying the signature.
// Verification is the remote's job; we only need to know whether sending
// this token is worth the round trip.
func tokenUsable(token string) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().Add(30 * time.Second).Before(exp.Time)
}

// loginLocked posts credentials and caches the returned JWT.
// Caller must hold authMu.
func (rc *RemoteClient) loginLocked(ctx context.Context) error {
	url := rc.config.RemoteURL + "/api/v1/auth/login"

	body, err := json.Marshal(map[string]string{
		"username": rc.config.Username,
		"password": rc.config.Password,
	})
	if err != nil {
		return serr.Wrap(err, "failed to marshal login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return serr.Wrap(err, "failed to create login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return WrapSyncError(ErrKindTransport, err, "login request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewSyncError(ErrKindTransport, fmt.Sprintf("login failed with status %d", resp.StatusCode))
	}

	var apiResp struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return serr.Wrap(err, "failed to decode login response")
	}
	if !apiResp.Success || apiResp.Data.Token == "" {
		return serr.New("login response missing token")
	}

	rc.authToken = apiResp.Data.Token

	// Persist token for reuse across restarts
	if db != nil {
		if err := UpdateRemoteAuthToken(rc.config.RemoteURL, rc.authToken); err != nil {
			logger.LogErr(err, "failed to persist auth token")
		}
	}

	return nil
}

// currentToken snapshots the cached token under the lock.
func (rc *RemoteClient) currentToken() string {
	rc.authMu.Lock()
	defer rc.authMu.Unlock()
	return rc.authToken
}

// doAuthenticatedRequest sends an HTTP request with the cached JWT.
// On 401 it re-authenticates once and retries. The body is taken as bytes
// so the retry can rebuild the reader after the first attempt consumed it.
func (rc *RemoteClient) doAuthenticatedRequest(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if err := rc.ensureToken(ctx); err != nil {
		return nil, err
	}

	resp, err := rc.send(ctx, method, url, body, rc.currentToken())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		rc.authMu.Lock()
		rc.authToken = ""
		err = rc.loginLocked(ctx)
		rc.authMu.Unlock()
		if err != nil {
			return nil, serr.Wrap(err, "re-authentication failed after 401")
		}

		resp, err = rc.send(ctx, method, url, body, rc.currentToken())
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

func (rc *RemoteClient) send(ctx context.Context, method, url string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Client-ID", rc.clientID)

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return nil, WrapSyncError(ErrKindTransport, err, "request failed")
	}
	return resp, nil
}

// ============================================================================
// Remote State Persistence
//
// The remote_state table stores per-remote client identity and the cached
// auth token. The client ID must be stable across restarts so the remote's
// per-client bookkeeping holds together.
// ============================================================================

const DDLCreateRemoteStateTable = `
CREATE TABLE IF NOT EXISTS remote_state (
    remote_url   VARCHAR PRIMARY KEY,
    client_id    VARCHAR NOT NULL,
    auth_token   VARCHAR,
    last_pass_at TIMESTAMP,
    created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// RemoteState represents a row in the remote_state table.
type RemoteState struct {
	RemoteURL  string
	ClientID   string
	AuthToken  sql.NullString
	LastPassAt sql.NullTime
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GetOrCreateRemoteState loads the state for a remote URL, creating a row
// with a fresh client ID if none exists.
func GetOrCreateRemoteState(remoteURL string) (*RemoteState, error) {
	state := &RemoteState{}
	err := db.QueryRow(
		`SELECT remote_url, client_id, auth_token, last_pass_at, created_at, updated_at
		 FROM remote_state WHERE remote_url = ?`, remoteURL,
	).Scan(&state.RemoteURL, &state.ClientID, &state.AuthToken,
		&state.LastPassAt, &state.CreatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		state.RemoteURL = remoteURL
		state.ClientID = uuid.New().String()
		state.CreatedAt = time.Now()
		state.UpdatedAt = time.Now()

		_, err = db.Exec(
			`INSERT INTO remote_state (remote_url, client_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			state.RemoteURL, state.ClientID, state.CreatedAt, state.UpdatedAt,
		)
		if err != nil {
			return nil, serr.Wrap(err, "failed to insert remote state")
		}

		logger.Info("Created new remote state", "remote_url", remoteURL, "client_id", state.ClientID)
		return state, nil
	}

	if err != nil {
		return nil, serr.Wrap(err, "failed to query remote state")
	}

	return state, nil
}

// UpdateRemoteAuthToken persists the JWT for reuse across restarts.
func UpdateRemoteAuthToken(remoteURL, token string) error {
	_, err := db.Exec(
		`UPDATE remote_state SET auth_token = ?, updated_at = ? WHERE remote_url = ?`,
		token, time.Now(), remoteURL,
	)
	if err != nil {
		return serr.Wrap(err, "failed to update remote auth token")
	}
	return nil
}

// UpdateRemotePassTime records when the last successful sync pass completed.
func UpdateRemotePassTime(remoteURL string) error {
	now := time.Now()
	_, err := db.Exec(
		`UPDATE remote_state SET last_pass_at = ?, updated_at = ? WHERE remote_url = ?`,
		now, now, remoteURL,
	)
	if err != nil {
		return serr.Wrap(err, "failed to update remote pass time")
	}
	return nil
}
