package main

import (
	"context"
	"fmt"

	"github.com/tyemirov/labcommons/pkg/authstate"
	"github.com/tyemirov/labcommons/pkg/labclient"
	"go.uber.org/zap"
)

// clientSession pairs the HTTP client with the state store it feeds.
type clientSession struct {
	config ClientConfig
	client *labclient.Client
	store  *authstate.Store
	logger *zap.Logger
}

func openSession(ctx context.Context, configuration ClientConfig, logger *zap.Logger) (*clientSession, error) {
	client, clientErr := labclient.New(labclient.Config{
		BaseURL:         configuration.ServerURL,
		CredentialsPath: configuration.CredentialsFile,
		RefreshMargin:   configuration.RefreshMargin,
		Logger:          logger,
	})
	if clientErr != nil {
		return nil, clientErr
	}
	store, storeErr := authstate.NewStore(authstate.Config{
		Auth:        client,
		Profiles:    client,
		Logger:      logger,
		InitTimeout: configuration.InitTimeout,
	})
	if storeErr != nil {
		client.Close()
		return nil, storeErr
	}
	store.Start(ctx)
	return &clientSession{config: configuration, client: client, store: store, logger: logger}, nil
}

func (session *clientSession) Close() {
	session.store.Close()
	session.client.Close()
}

// awaitState blocks until the store publishes a settled state matching accept.
func (session *clientSession) awaitState(ctx context.Context, accept func(authstate.AuthState) bool) (authstate.AuthState, error) {
	waitCtx, cancel := context.WithTimeout(ctx, 2*session.config.InitTimeout+authstate.DefaultCallTimeout)
	defer cancel()
	for state := range session.store.Watch(waitCtx) {
		if state.IsInitialized && !state.IsLoading && accept(state) {
			return state, nil
		}
	}
	return authstate.AuthState{}, fmt.Errorf("cli.await_state: %w", errSessionNotSettled)
}

func (session *clientSession) awaitInitialized(ctx context.Context) (authstate.AuthState, error) {
	return session.awaitState(ctx, func(authstate.AuthState) bool { return true })
}

func (session *clientSession) awaitUser(ctx context.Context, userID string) (authstate.AuthState, error) {
	return session.awaitState(ctx, func(state authstate.AuthState) bool { return state.UserID() == userID })
}
