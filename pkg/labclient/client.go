// Package labclient talks to the labcommons server on behalf of a console user.
// It implements authstate.AuthService and authstate.ProfileRepository.
package labclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/labcommons/pkg/authstate"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshMargin is how long before expiry the access token is renewed.
	DefaultRefreshMargin = 30 * time.Second
	// DefaultRequestTimeout bounds each HTTP call when no client is supplied.
	DefaultRequestTimeout = 15 * time.Second

	refreshRetryDelay = 10 * time.Second
	eventBufferSize   = 32
	maxErrorBodyBytes = 4096
)

var (
	// ErrMissingBaseURL indicates Config.BaseURL was empty or invalid.
	ErrMissingBaseURL = errors.New("labclient.missing_base_url")
	// ErrInvalidCredentials is returned when the server rejects an email/password pair.
	ErrInvalidCredentials = errors.New("labclient.invalid_credentials")
	// ErrAccountExists is returned when sign-up targets a registered email.
	ErrAccountExists = errors.New("labclient.account_exists")
	// ErrSessionExpired is returned when the refresh token is no longer accepted.
	ErrSessionExpired = errors.New("labclient.session_expired")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("labclient.closed")
)

// APIError describes a non-success response.
type APIError struct {
	Status int
	Code   string
}

func (apiError *APIError) Error() string {
	if apiError.Code == "" {
		return fmt.Sprintf("labclient.api: status %d", apiError.Status)
	}
	return fmt.Sprintf("labclient.api: status %d: %s", apiError.Status, apiError.Code)
}

// Config wires a Client.
type Config struct {
	BaseURL         string
	CredentialsPath string
	HTTPClient      *http.Client
	RefreshMargin   time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	credentials   *CredentialFile
	refreshMargin time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mutex          sync.Mutex
	session        *authstate.Session
	loaded         bool
	announced      bool
	refreshTimer   *time.Timer
	listeners      map[uint64]authstate.AuthListener
	nextListenerID uint64

	calls     singleflight.Group
	events    chan authEventMessage
	done      chan struct{}
	closeOnce sync.Once
}

type authEventMessage struct {
	event   authstate.AuthEvent
	session *authstate.Session
}

// New validates configuration and starts the event dispatcher.
func New(configuration Config) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("labclient.new: %w", ErrMissingBaseURL)
	}
	baseURL, parseErr := url.Parse(trimmed)
	if parseErr != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("labclient.new: %w", ErrMissingBaseURL)
	}
	credentialsPath := configuration.CredentialsPath
	if credentialsPath == "" {
		defaultPath, pathErr := DefaultCredentialsPath()
		if pathErr != nil {
			return nil, fmt.Errorf("labclient.new: %w", pathErr)
		}
		credentialsPath = defaultPath
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	refreshMargin := configuration.RefreshMargin
	if refreshMargin <= 0 {
		refreshMargin = DefaultRefreshMargin
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := configuration.Now
	if now == nil {
		now = time.Now
	}
	client := &Client{
		baseURL:       baseURL,
		httpClient:    httpClient,
		credentials:   NewCredentialFile(credentialsPath),
		refreshMargin: refreshMargin,
		logger:        logger,
		now:           now,
		listeners:     make(map[uint64]authstate.AuthListener),
		events:        make(chan authEventMessage, eventBufferSize),
		done:          make(chan struct{}),
	}
	go client.dispatch()
	return client, nil
}

// Credentials exposes the credential file backing the client.
func (client *Client) Credentials() *CredentialFile {
	return client.credentials
}

// Close stops the refresh timer and the dispatcher. Pending events are dropped.
func (client *Client) Close() {
	client.closeOnce.Do(func() {
		client.mutex.Lock()
		if client.refreshTimer != nil {
			client.refreshTimer.Stop()
			client.refreshTimer = nil
		}
		client.mutex.Unlock()
		close(client.done)
	})
}

// doJSON sends body as JSON and decodes a JSON response into target when provided.
// accessToken, when non-empty, is sent as a bearer token.
func (client *Client) doJSON(ctx context.Context, method string, path string, query url.Values, accessToken string, body interface{}, target interface{}) error {
	endpoint := client.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		if encodeErr != nil {
			return fmt.Errorf("labclient.encode: %w", encodeErr)
		}
		reader = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if requestErr != nil {
		return fmt.Errorf("labclient.request: %w", requestErr)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("X-Client", "labcommons-cli")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return fmt.Errorf("labclient.transport: %w", doErr)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiError := &APIError{Status: response.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(response.Body, maxErrorBodyBytes)).Decode(&payload); decodeErr == nil {
			apiError.Code = payload.Error
		}
		return apiError
	}
	if target == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(target); decodeErr != nil {
		return fmt.Errorf("labclient.decode: %w", decodeErr)
	}
	return nil
}

func statusOf(err error) int {
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.Status
	}
	return 0
}

func codeOf(err error) string {
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.Code
	}
	return ""
}
