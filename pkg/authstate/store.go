package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultInitTimeout bounds how long Initialize waits before settling to a logged-out state.
	DefaultInitTimeout = 5 * time.Second
	// DefaultCallTimeout bounds profile lookups and revalidation queries.
	DefaultCallTimeout = 10 * time.Second

	mutationBufferSize = 64
)

var (
	// ErrMissingAuthService indicates Config.Auth was not provided.
	ErrMissingAuthService = errors.New("authstate.missing_auth_service")
	// ErrMissingProfileRepository indicates Config.Profiles was not provided.
	ErrMissingProfileRepository = errors.New("authstate.missing_profile_repository")
)

// Config wires a Store to its collaborators.
type Config struct {
	Auth        AuthService
	Profiles    ProfileRepository
	Logger      *zap.Logger
	InitTimeout time.Duration
	CallTimeout time.Duration
}

// Store is the single source of truth for the signed-in user and their profile.
// All state changes are serialized through one consumer goroutine.
type Store struct {
	auth        AuthService
	profiles    ProfileRepository
	logger      *zap.Logger
	initTimeout time.Duration
	callTimeout time.Duration

	mutations chan mutation
	done      chan struct{}
	loopDone  chan struct{}
	lifetime  context.Context
	cancel    context.CancelFunc

	machine machine

	startOnce   sync.Once
	closeOnce   sync.Once
	unsubscribe Unsubscribe

	publishMutex   sync.RWMutex
	published      AuthState
	watchers       map[uint64]chan AuthState
	nextWatcherID  uint64
	watchersClosed bool

	initializations atomic.Int32

	clockFn   func() time.Time
	afterFunc func(delay time.Duration, fire func())
}

type mutation func(current *machine)

// machine is owned by the consumer goroutine.
type machine struct {
	state AuthState

	reconcileSeq uint64
	settledSeq   uint64

	optimisticLoading bool
	awaiting          bool
	awaitingUserID    string
	callSeq           uint64

	eventSeq      uint64
	initAnswered  bool
	initExpired   bool
	onInitialized func()
}

// NewStore constructs a Store and starts its consumer goroutine.
func NewStore(configuration Config) (*Store, error) {
	if configuration.Auth == nil {
		return nil, fmt.Errorf("authstate.new: %w", ErrMissingAuthService)
	}
	if configuration.Profiles == nil {
		return nil, fmt.Errorf("authstate.new: %w", ErrMissingProfileRepository)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	initTimeout := configuration.InitTimeout
	if initTimeout <= 0 {
		initTimeout = DefaultInitTimeout
	}
	callTimeout := configuration.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	lifetime, cancel := context.WithCancel(context.Background())
	store := &Store{
		auth:        configuration.Auth,
		profiles:    configuration.Profiles,
		logger:      logger,
		initTimeout: initTimeout,
		callTimeout: callTimeout,
		mutations:   make(chan mutation, mutationBufferSize),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		lifetime:    lifetime,
		cancel:      cancel,
		watchers:    make(map[uint64]chan AuthState),
		clockFn:     time.Now,
		afterFunc: func(delay time.Duration, fire func()) {
			time.AfterFunc(delay, fire)
		},
	}
	store.machine.state = AuthState{IsLoading: true}
	store.machine.onInitialized = store.recordInitialized
	store.published = store.machine.state
	go store.run()
	return store, nil
}

// Start subscribes to auth events and launches initialization.
// The store closes itself when ctx is cancelled.
func (store *Store) Start(ctx context.Context) {
	store.startOnce.Do(func() {
		eventSeqAtStart, ok := store.currentEventSeq()
		if !ok {
			return
		}
		store.unsubscribe = store.auth.Subscribe(store.OnAuthEvent)
		go store.initialize(store.lifetime, eventSeqAtStart)
		go func() {
			select {
			case <-ctx.Done():
				store.Close()
			case <-store.done:
			}
		}()
	})
}

// Close detaches from the auth service and stops the consumer.
// Results of calls still in flight are discarded.
func (store *Store) Close() {
	store.closeOnce.Do(func() {
		if store.unsubscribe != nil {
			store.unsubscribe()
		}
		store.cancel()
		close(store.done)
		<-store.loopDone

		store.publishMutex.Lock()
		for watcherID, mailbox := range store.watchers {
			close(mailbox)
			delete(store.watchers, watcherID)
		}
		store.watchersClosed = true
		store.publishMutex.Unlock()
	})
}

// Snapshot returns the most recently published state.
func (store *Store) Snapshot() AuthState {
	store.publishMutex.RLock()
	defer store.publishMutex.RUnlock()
	return cloneState(store.published)
}

// Watch streams published states, starting with the current one. Intermediate states may be
// coalesced when the reader falls behind; the latest state is always delivered.
func (store *Store) Watch(ctx context.Context) <-chan AuthState {
	mailbox := make(chan AuthState, 1)
	store.publishMutex.Lock()
	if store.watchersClosed {
		store.publishMutex.Unlock()
		close(mailbox)
		return mailbox
	}
	store.nextWatcherID++
	watcherID := store.nextWatcherID
	store.watchers[watcherID] = mailbox
	mailbox <- cloneState(store.published)
	store.publishMutex.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			store.publishMutex.Lock()
			if existing, ok := store.watchers[watcherID]; ok {
				delete(store.watchers, watcherID)
				close(existing)
			}
			store.publishMutex.Unlock()
		case <-store.done:
		}
	}()
	return mailbox
}

// Subscribe invokes listener with every published state until the returned function is called.
func (store *Store) Subscribe(listener func(AuthState)) Unsubscribe {
	ctx, cancel := context.WithCancel(store.lifetime)
	updates := store.Watch(ctx)
	go func() {
		for state := range updates {
			listener(state)
		}
	}()
	return Unsubscribe(cancel)
}

// Initialize queries the auth service for an existing session under the init timeout.
// It returns once the query has answered or the timeout has fired.
func (store *Store) Initialize(ctx context.Context) {
	eventSeqAtStart, ok := store.currentEventSeq()
	if !ok {
		return
	}
	store.initialize(ctx, eventSeqAtStart)
}

// currentEventSeq reads how many state-affecting events have been applied so far.
func (store *Store) currentEventSeq() (uint64, bool) {
	observed := make(chan uint64, 1)
	if !store.post(func(current *machine) { observed <- current.eventSeq }) {
		return 0, false
	}
	select {
	case eventSeq := <-observed:
		return eventSeq, true
	case <-store.done:
		return 0, false
	}
}

// initialize ignores its own result when auth events were applied after eventSeqAtStart.
func (store *Store) initialize(ctx context.Context, eventSeqAtStart uint64) {
	deadline := store.clockFn().Add(store.initTimeout)
	queryCtx, cancelQuery := context.WithTimeout(ctx, store.initTimeout)
	defer cancelQuery()

	type queryResult struct {
		session *Session
		err     error
	}
	results := make(chan queryResult, 1)
	go func() {
		session, err := store.auth.GetCurrentSession(queryCtx)
		results <- queryResult{session: session, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			store.logger.Warn("initial session query failed",
				zap.String("code", "authstate.init.query_failed"),
				zap.Error(result.err))
			store.post(func(current *machine) {
				current.initAnswered = true
				if current.state.IsInitialized || current.eventSeq != eventSeqAtStart {
					return
				}
				store.settleSignedOut(current)
			})
			store.scheduleInitDeadline(deadline, eventSeqAtStart)
			return
		}
		session := cloneSession(result.session)
		store.post(func(current *machine) {
			current.initAnswered = true
			if current.initExpired || current.eventSeq != eventSeqAtStart {
				store.logger.Debug("initial session result superseded",
					zap.String("code", "authstate.init.superseded"))
				return
			}
			store.beginReconcile(current, session)
		})
		store.scheduleInitDeadline(deadline, eventSeqAtStart)
	case <-queryCtx.Done():
		store.logger.Warn("initial session query timed out",
			zap.String("code", "authstate.init.timeout"),
			zap.Duration("timeout", store.initTimeout))
		store.post(func(current *machine) {
			store.expireInit(current, eventSeqAtStart)
		})
	}
}

// scheduleInitDeadline force-completes initialization when the profile step outlives the timeout.
func (store *Store) scheduleInitDeadline(deadline time.Time, eventSeqAtStart uint64) {
	store.afterFunc(deadline.Sub(store.clockFn()), func() {
		store.post(func(current *machine) {
			store.expireInit(current, eventSeqAtStart)
		})
	})
}

func (store *Store) expireInit(current *machine, eventSeqAtStart uint64) {
	current.initExpired = true
	if current.state.IsInitialized {
		return
	}
	if !current.initAnswered && current.eventSeq == eventSeqAtStart {
		store.settleSignedOut(current)
		return
	}
	current.markInitialized()
}

// Reconcile derives state from a freshly observed session (nil for signed out).
func (store *Store) Reconcile(session *Session) {
	session = cloneSession(session)
	store.post(func(current *machine) {
		current.eventSeq++
		store.beginReconcile(current, session)
	})
}

// OnAuthEvent applies a push notification from the auth service.
func (store *Store) OnAuthEvent(event AuthEvent, session *Session) {
	session = cloneSession(session)
	store.post(func(current *machine) {
		store.applyEvent(current, event, session)
	})
}

func (store *Store) applyEvent(current *machine, event AuthEvent, session *Session) {
	switch event {
	case EventSignedOut:
		current.eventSeq++
		store.beginReconcile(current, nil)
	case EventTokenRefreshed:
		if session != nil && current.state.User != nil && current.state.UserID() == session.UserID {
			current.state.User = session
			return
		}
		current.eventSeq++
		store.beginReconcile(current, session)
	case EventSignedIn, EventInitialSession:
		if session != nil && current.state.IsInitialized && current.state.Profile != nil &&
			current.state.UserID() == session.UserID {
			current.state.User = session
			return
		}
		current.eventSeq++
		store.beginReconcile(current, session)
	case EventUserUpdated:
		current.eventSeq++
		store.beginReconcile(current, session)
	default:
		store.logger.Debug("auth event ignored",
			zap.String("code", "authstate.event.ignored"),
			zap.String("event", string(event)))
	}
}

// beginReconcile runs on the consumer goroutine.
func (store *Store) beginReconcile(current *machine, session *Session) {
	current.reconcileSeq++
	sequence := current.reconcileSeq
	previousUserID := current.state.UserID()
	current.state.User = session

	if session == nil {
		current.state.Profile = nil
		current.completeReconcile(sequence)
		return
	}
	if previousUserID != session.UserID {
		current.state.Profile = nil
	}

	userID := session.UserID
	go func() {
		profile := store.lookupProfile(store.lifetime, userID)
		store.post(func(current *machine) {
			if current.state.UserID() == userID {
				current.state.Profile = profile
			}
			current.completeReconcile(sequence)
		})
	}()
}

func (store *Store) settleSignedOut(current *machine) {
	current.reconcileSeq++
	current.state.User = nil
	current.state.Profile = nil
	current.completeReconcile(current.reconcileSeq)
}

func (store *Store) lookupProfile(ctx context.Context, userID string) *Profile {
	lookupCtx, cancel := context.WithTimeout(ctx, store.callTimeout)
	defer cancel()
	profile, err := store.profiles.FindProfile(lookupCtx, userID)
	switch {
	case err == nil:
	case errors.Is(err, ErrProfileNotFound):
		store.logger.Debug("profile not found",
			zap.String("code", "authstate.profile.not_found"),
			zap.String("user_id", userID))
		return nil
	default:
		store.logger.Error("profile lookup failed",
			zap.String("code", "authstate.profile.lookup_failed"),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil
	}
	if profile.UserID != "" && profile.UserID != userID {
		store.logger.Error("profile lookup returned another user",
			zap.String("code", "authstate.profile.mismatched_user"),
			zap.String("user_id", userID),
			zap.String("profile_user_id", profile.UserID))
		return nil
	}
	profile.UserID = userID
	return &profile
}

// SignIn delegates to the auth service. State follows from the resulting auth event.
func (store *Store) SignIn(ctx context.Context, credentials Credentials) (*Session, error) {
	if !store.beginCall() {
		return nil, ErrStoreClosed
	}
	session, err := store.auth.SignInWithPassword(ctx, credentials.Email, credentials.Password)
	if err != nil {
		store.logger.Warn("sign in failed",
			zap.String("code", "authstate.sign_in.failed"),
			zap.Error(err))
		store.clearOptimistic()
		return nil, fmt.Errorf("authstate.sign_in: %w", err)
	}
	if session == nil {
		store.clearOptimistic()
		return nil, nil
	}
	store.awaitUser(session.UserID)
	return cloneSession(session), nil
}

// SignUp delegates to the auth service. A nil session means confirmation is pending.
func (store *Store) SignUp(ctx context.Context, credentials Credentials) (*Session, error) {
	if !store.beginCall() {
		return nil, ErrStoreClosed
	}
	session, err := store.auth.SignUp(ctx, credentials.Email, credentials.Password, credentials.Options)
	if err != nil {
		store.logger.Warn("sign up failed",
			zap.String("code", "authstate.sign_up.failed"),
			zap.Error(err))
		store.clearOptimistic()
		return nil, fmt.Errorf("authstate.sign_up: %w", err)
	}
	if session == nil {
		store.clearOptimistic()
		return nil, nil
	}
	store.awaitUser(session.UserID)
	return cloneSession(session), nil
}

// SignOut delegates to the auth service.
func (store *Store) SignOut(ctx context.Context) error {
	if !store.beginCall() {
		return ErrStoreClosed
	}
	if err := store.auth.SignOut(ctx); err != nil {
		store.logger.Warn("sign out failed",
			zap.String("code", "authstate.sign_out.failed"),
			zap.Error(err))
		store.clearOptimistic()
		return fmt.Errorf("authstate.sign_out: %w", err)
	}
	store.awaitUser("")
	return nil
}

// UpdateProfile writes patch for the signed-in user and caches the returned row.
func (store *Store) UpdateProfile(ctx context.Context, patch ProfilePatch) (Profile, error) {
	userID := store.Snapshot().UserID()
	if userID == "" {
		return Profile{}, fmt.Errorf("authstate.update_profile: %w", ErrNotAuthenticated)
	}
	updated, err := store.profiles.UpdateProfile(ctx, userID, patch)
	if err != nil {
		store.logger.Error("profile update failed",
			zap.String("code", "authstate.profile.update_failed"),
			zap.String("user_id", userID),
			zap.Error(err))
		return Profile{}, fmt.Errorf("authstate.update_profile: %w", err)
	}
	cached := updated
	if !store.apply(func(current *machine) {
		if current.state.UserID() == userID {
			current.state.Profile = &cached
		}
	}) {
		return Profile{}, ErrStoreClosed
	}
	return updated, nil
}

// RefreshProfile re-reads the signed-in user's profile. It returns nil when no row exists.
func (store *Store) RefreshProfile(ctx context.Context) (*Profile, error) {
	userID := store.Snapshot().UserID()
	if userID == "" {
		return nil, nil
	}
	profile := store.lookupProfile(ctx, userID)
	if !store.apply(func(current *machine) {
		if current.state.UserID() == userID {
			current.state.Profile = profile
		}
	}) {
		return nil, ErrStoreClosed
	}
	return cloneProfile(profile), nil
}

// Revalidate re-fetches the session after a focus or storage signal and reconciles
// only when the user id differs from the cached one.
func (store *Store) Revalidate(ctx context.Context, reason string) error {
	queryCtx, cancel := context.WithTimeout(ctx, store.callTimeout)
	defer cancel()
	session, err := store.auth.GetCurrentSession(queryCtx)
	if err != nil {
		store.logger.Warn("session revalidation failed",
			zap.String("code", "authstate.revalidate.failed"),
			zap.String("reason", reason),
			zap.Error(err))
		return fmt.Errorf("authstate.revalidate: %w", err)
	}
	session = cloneSession(session)
	store.post(func(current *machine) {
		if !current.state.IsInitialized {
			return
		}
		observedUserID := ""
		if session != nil {
			observedUserID = session.UserID
		}
		if observedUserID == current.state.UserID() {
			if session != nil {
				current.state.User = session
			}
			return
		}
		store.logger.Info("session changed outside this process",
			zap.String("code", "authstate.revalidate.changed"),
			zap.String("reason", reason),
			zap.String("previous_user_id", current.state.UserID()),
			zap.String("user_id", observedUserID))
		current.eventSeq++
		store.beginReconcile(current, session)
	})
	return nil
}

// beginCall marks the store loading while a sign-in, sign-up or sign-out call is in flight.
func (store *Store) beginCall() bool {
	return store.post(func(current *machine) {
		current.callSeq++
		current.awaiting = false
		current.optimisticLoading = true
	})
}

// awaitUser keeps the store loading until the auth event for userID arrives or the call timeout fires.
// A timeout only clears the call that scheduled it.
func (store *Store) awaitUser(userID string) {
	store.post(func(current *machine) {
		current.callSeq++
		sequence := current.callSeq
		current.awaiting = true
		current.awaitingUserID = userID
		store.afterFunc(store.callTimeout, func() {
			store.post(func(current *machine) {
				if current.awaiting && current.callSeq == sequence {
					current.awaiting = false
					current.optimisticLoading = false
				}
			})
		})
	})
}

func (store *Store) clearOptimistic() {
	store.post(func(current *machine) {
		current.optimisticLoading = false
		current.awaiting = false
	})
}

func (store *Store) recordInitialized() {
	store.initializations.Add(1)
	store.logger.Debug("auth state initialized", zap.String("code", "authstate.initialized"))
}

// post enqueues a mutation; it reports false once the store is closed.
func (store *Store) post(change mutation) bool {
	select {
	case <-store.done:
		return false
	default:
	}
	select {
	case <-store.done:
		return false
	case store.mutations <- change:
		return true
	}
}

// apply enqueues a mutation and waits until it has been published.
// The consumer handles mutations in order, so the marker runs after change is published.
func (store *Store) apply(change mutation) bool {
	applied := make(chan struct{})
	if !store.post(change) {
		return false
	}
	if !store.post(func(*machine) { close(applied) }) {
		return false
	}
	select {
	case <-applied:
		return true
	case <-store.done:
		return false
	}
}

func (store *Store) run() {
	defer close(store.loopDone)
	for {
		select {
		case <-store.done:
			return
		case change := <-store.mutations:
			change(&store.machine)
			store.machine.recompute()
			store.publish(store.machine.state)
		}
	}
}

func (store *Store) publish(state AuthState) {
	store.publishMutex.Lock()
	defer store.publishMutex.Unlock()
	if statesEqual(store.published, state) {
		return
	}
	store.published = cloneState(state)
	for _, mailbox := range store.watchers {
		offer(mailbox, cloneState(state))
	}
}

func offer(mailbox chan AuthState, state AuthState) {
	select {
	case mailbox <- state:
		return
	default:
	}
	select {
	case <-mailbox:
	default:
	}
	select {
	case mailbox <- state:
	default:
	}
}

func (current *machine) completeReconcile(sequence uint64) {
	if sequence != current.reconcileSeq {
		return
	}
	current.settledSeq = sequence
	current.markInitialized()
}

func (current *machine) markInitialized() {
	if current.state.IsInitialized {
		return
	}
	current.state.IsInitialized = true
	if current.onInitialized != nil {
		current.onInitialized()
	}
}

func (current *machine) recompute() {
	if current.awaiting && current.state.UserID() == current.awaitingUserID {
		current.awaiting = false
		current.optimisticLoading = false
	}
	if current.state.User == nil {
		current.state.Profile = nil
	}
	current.state.IsLoading = current.optimisticLoading ||
		current.settledSeq < current.reconcileSeq ||
		!current.state.IsInitialized
}
