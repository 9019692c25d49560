package labclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tyemirov/labcommons/pkg/authstate"
	"go.uber.org/zap"
)

const refreshCallKey = "refresh"

type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         struct {
		ID    string   `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	} `json:"user"`
}

func (response sessionResponse) session() *authstate.Session {
	return &authstate.Session{
		UserID:       response.User.ID,
		Email:        response.User.Email,
		Roles:        append([]string(nil), response.User.Roles...),
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		ExpiresAt:    response.ExpiresAt,
	}
}

// Subscribe registers listener for auth events. Events are delivered serially, in order.
func (client *Client) Subscribe(listener authstate.AuthListener) authstate.Unsubscribe {
	client.mutex.Lock()
	client.nextListenerID++
	listenerID := client.nextListenerID
	client.listeners[listenerID] = listener
	client.mutex.Unlock()
	return func() {
		client.mutex.Lock()
		delete(client.listeners, listenerID)
		client.mutex.Unlock()
	}
}

func (client *Client) emit(event authstate.AuthEvent, session *authstate.Session) {
	message := authEventMessage{event: event, session: copySession(session)}
	select {
	case client.events <- message:
	case <-client.done:
	}
}

func (client *Client) dispatch() {
	for {
		select {
		case <-client.done:
			return
		case message := <-client.events:
			client.mutex.Lock()
			listeners := make([]authstate.AuthListener, 0, len(client.listeners))
			for _, listener := range client.listeners {
				listeners = append(listeners, listener)
			}
			client.mutex.Unlock()
			for _, listener := range listeners {
				listener(message.event, copySession(message.session))
			}
		}
	}
}

// GetCurrentSession returns the persisted session, refreshing it when the access token expired.
// A rejected refresh clears the stored session and reports no session.
func (client *Client) GetCurrentSession(ctx context.Context) (*authstate.Session, error) {
	session, firstLoad, err := client.loadSession()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if session.Expired(client.now()) {
		refreshed, refreshErr := client.refresh(ctx)
		if errors.Is(refreshErr, ErrSessionExpired) {
			return nil, nil
		}
		if refreshErr != nil {
			return nil, refreshErr
		}
		session = refreshed
	} else {
		client.scheduleRefresh(session)
	}
	if firstLoad {
		client.emit(authstate.EventInitialSession, session)
	}
	return copySession(session), nil
}

// loadSession returns the cached session, reading the credential file when the cache is stale.
func (client *Client) loadSession() (*authstate.Session, bool, error) {
	client.mutex.Lock()
	if client.loaded {
		session := copySession(client.session)
		client.mutex.Unlock()
		return session, false, nil
	}
	client.mutex.Unlock()

	stored, err := client.credentials.Load()
	if err != nil {
		return nil, false, err
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.session = stored
	client.loaded = true
	firstLoad := !client.announced && stored != nil
	if firstLoad {
		client.announced = true
	}
	return copySession(stored), firstLoad, nil
}

// AccessToken returns a valid access token for the stored session.
func (client *Client) AccessToken(ctx context.Context) (string, error) {
	session, err := client.GetCurrentSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", authstate.ErrNotAuthenticated
	}
	return session.AccessToken, nil
}

// SignInWithPassword exchanges credentials for a session and persists it.
func (client *Client) SignInWithPassword(ctx context.Context, email string, password string) (*authstate.Session, error) {
	var response sessionResponse
	err := client.doJSON(ctx, http.MethodPost, "/auth/password", nil, "", map[string]string{
		"email":    email,
		"password": password,
	}, &response)
	if err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("labclient.sign_in: %w", err)
	}
	session := response.session()
	if err := client.storeSession(session); err != nil {
		return nil, err
	}
	client.emit(authstate.EventSignedIn, session)
	return copySession(session), nil
}

// SignUp registers an account and signs it in.
func (client *Client) SignUp(ctx context.Context, email string, password string, options authstate.SignUpOptions) (*authstate.Session, error) {
	var response sessionResponse
	err := client.doJSON(ctx, http.MethodPost, "/auth/signup", nil, "", map[string]string{
		"email":       email,
		"password":    password,
		"full_name":   options.FullName,
		"username":    options.Username,
		"institution": options.Institution,
	}, &response)
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("labclient.sign_up: %w", err)
	}
	session := response.session()
	if err := client.storeSession(session); err != nil {
		return nil, err
	}
	client.emit(authstate.EventSignedIn, session)
	return copySession(session), nil
}

// SignOut revokes the refresh token and forgets the stored session.
func (client *Client) SignOut(ctx context.Context) error {
	session, _, err := client.loadSession()
	if err != nil {
		return err
	}
	if session != nil && session.RefreshToken != "" {
		logoutErr := client.doJSON(ctx, http.MethodPost, "/auth/logout", nil, "", map[string]string{
			"refresh_token": session.RefreshToken,
		}, nil)
		if logoutErr != nil && statusOf(logoutErr) == 0 {
			return fmt.Errorf("labclient.sign_out: %w", logoutErr)
		}
	}
	if err := client.storeSession(nil); err != nil {
		return err
	}
	client.emit(authstate.EventSignedOut, nil)
	return nil
}

// refresh rotates the refresh token. Concurrent callers share one request.
func (client *Client) refresh(ctx context.Context) (*authstate.Session, error) {
	result, err, _ := client.calls.Do(refreshCallKey, func() (interface{}, error) {
		current, _, loadErr := client.loadSession()
		if loadErr != nil {
			return nil, loadErr
		}
		if current == nil || current.RefreshToken == "" {
			return nil, ErrSessionExpired
		}
		var response sessionResponse
		refreshErr := client.doJSON(ctx, http.MethodPost, "/auth/refresh", nil, "", map[string]string{
			"refresh_token": current.RefreshToken,
		}, &response)
		if refreshErr != nil {
			if statusOf(refreshErr) == http.StatusUnauthorized {
				client.logger.Info("refresh token rejected",
					zap.String("code", "labclient.refresh.rejected"),
					zap.String("reason", codeOf(refreshErr)))
				if storeErr := client.storeSession(nil); storeErr != nil {
					return nil, storeErr
				}
				client.emit(authstate.EventSignedOut, nil)
				return nil, ErrSessionExpired
			}
			return nil, fmt.Errorf("labclient.refresh: %w", refreshErr)
		}
		refreshed := response.session()
		if storeErr := client.storeSession(refreshed); storeErr != nil {
			return nil, storeErr
		}
		client.emit(authstate.EventTokenRefreshed, refreshed)
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return copySession(result.(*authstate.Session)), nil
}

// storeSession caches and persists session, rescheduling the refresh timer. nil clears both.
func (client *Client) storeSession(session *authstate.Session) error {
	if err := client.credentials.Save(session); err != nil {
		return err
	}
	client.mutex.Lock()
	client.session = copySession(session)
	client.loaded = true
	client.announced = true
	client.mutex.Unlock()
	client.scheduleRefresh(session)
	return nil
}

func (client *Client) scheduleRefresh(session *authstate.Session) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if client.refreshTimer != nil {
		client.refreshTimer.Stop()
		client.refreshTimer = nil
	}
	if session == nil || session.ExpiresAt.IsZero() || session.RefreshToken == "" {
		return
	}
	select {
	case <-client.done:
		return
	default:
	}
	delay := session.ExpiresAt.Sub(client.now()) - client.refreshMargin
	if delay < 0 {
		delay = 0
	}
	client.refreshTimer = time.AfterFunc(delay, client.refreshFromTimer)
}

func (client *Client) refreshFromTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	if _, err := client.refresh(ctx); err != nil && !errors.Is(err, ErrSessionExpired) {
		client.logger.Warn("scheduled refresh failed",
			zap.String("code", "labclient.refresh.failed"),
			zap.Error(err))
		client.mutex.Lock()
		defer client.mutex.Unlock()
		select {
		case <-client.done:
			return
		default:
		}
		if client.refreshTimer != nil {
			client.refreshTimer.Stop()
		}
		client.refreshTimer = time.AfterFunc(refreshRetryDelay, client.refreshFromTimer)
	}
}

// invalidate drops the cached session so the next read goes back to the credential file.
func (client *Client) invalidate() {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.loaded = false
	client.session = nil
	if client.refreshTimer != nil {
		client.refreshTimer.Stop()
		client.refreshTimer = nil
	}
}

// WatchCredentials reports credential-file changes made by other processes via onChange,
// after dropping the cached session. Pair it with Store.Revalidate.
func (client *Client) WatchCredentials(ctx context.Context, onChange func()) error {
	return client.credentials.Watch(ctx, func() {
		client.logger.Debug("credential file changed",
			zap.String("code", "labclient.credentials.changed"),
			zap.String("path", client.credentials.Path()))
		client.invalidate()
		onChange()
	})
}

func copySession(session *authstate.Session) *authstate.Session {
	if session == nil {
		return nil
	}
	copied := *session
	copied.Roles = append([]string(nil), session.Roles...)
	return &copied
}
