package labclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tyemirov/labcommons/pkg/authstate"
)

// FindProfile loads a profile by user id. Concurrent lookups of one id share a request.
// A missing row yields authstate.ErrProfileNotFound.
func (client *Client) FindProfile(ctx context.Context, userID string) (authstate.Profile, error) {
	result, err, _ := client.calls.Do("profile:"+userID, func() (interface{}, error) {
		var profile authstate.Profile
		lookupErr := client.doJSON(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(userID), nil, "", nil, &profile)
		if lookupErr != nil {
			if statusOf(lookupErr) == http.StatusNotFound {
				return nil, authstate.ErrProfileNotFound
			}
			return nil, fmt.Errorf("labclient.find_profile: %w", lookupErr)
		}
		return profile, nil
	})
	if err != nil {
		return authstate.Profile{}, err
	}
	return result.(authstate.Profile), nil
}

// UpdateProfile patches the signed-in user's profile.
func (client *Client) UpdateProfile(ctx context.Context, userID string, patch authstate.ProfilePatch) (authstate.Profile, error) {
	session, err := client.GetCurrentSession(ctx)
	if err != nil {
		return authstate.Profile{}, err
	}
	if session == nil || session.UserID != userID {
		return authstate.Profile{}, authstate.ErrNotAuthenticated
	}
	var profile authstate.Profile
	if err := client.doJSON(ctx, http.MethodPatch, "/api/profile", nil, session.AccessToken, patch, &profile); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return authstate.Profile{}, authstate.ErrProfileNotFound
		}
		return authstate.Profile{}, fmt.Errorf("labclient.update_profile: %w", err)
	}
	return profile, nil
}
