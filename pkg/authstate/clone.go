package authstate

import "slices"

func cloneSession(session *Session) *Session {
	if session == nil {
		return nil
	}
	copied := *session
	copied.Roles = slices.Clone(session.Roles)
	return &copied
}

func cloneProfile(profile *Profile) *Profile {
	if profile == nil {
		return nil
	}
	copied := *profile
	return &copied
}

func cloneState(state AuthState) AuthState {
	state.User = cloneSession(state.User)
	state.Profile = cloneProfile(state.Profile)
	return state
}

func statesEqual(left AuthState, right AuthState) bool {
	if left.IsLoading != right.IsLoading || left.IsInitialized != right.IsInitialized {
		return false
	}
	return sessionsEqual(left.User, right.User) && profilesEqual(left.Profile, right.Profile)
}

func sessionsEqual(left *Session, right *Session) bool {
	if left == nil || right == nil {
		return left == right
	}
	return left.UserID == right.UserID &&
		left.Email == right.Email &&
		left.AccessToken == right.AccessToken &&
		left.RefreshToken == right.RefreshToken &&
		left.ExpiresAt.Equal(right.ExpiresAt) &&
		slices.Equal(left.Roles, right.Roles)
}

func profilesEqual(left *Profile, right *Profile) bool {
	if left == nil || right == nil {
		return left == right
	}
	leftCopy, rightCopy := *left, *right
	if !leftCopy.UpdatedAt.Equal(rightCopy.UpdatedAt) {
		return false
	}
	leftCopy.UpdatedAt = rightCopy.UpdatedAt
	return leftCopy == rightCopy
}
