// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Service is the ceremony engine. Each operation runs as an independent,
// stateless invocation; all cross-request state lives in the session and
// credential stores.
type Service struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	sessions   SessionStore
	creds      CredentialStore
	directory  Directory
	tokens     TokenIssuer       // optional
	events     message.Publisher // optional
	metrics    *Metrics          // optional
	logger     *slog.Logger
	clock      func() time.Time
	configured bool
}

// ServiceParams contains dependencies for creating a passkey service.
type ServiceParams struct {
	// Config is the ceremony configuration (required).
	Config *Config

	// Sessions is the ceremony session store (required).
	Sessions SessionStore

	// Credentials is the credential store (required).
	Credentials CredentialStore

	// Directory is the external identity directory adapter (required).
	Directory Directory

	// Tokens optionally issues a session-establishing token after a
	// successful ceremony.
	Tokens TokenIssuer

	// Events optionally receives audit events (clone signals, successful
	// ceremonies). Publishing is best-effort.
	Events message.Publisher

	// Metrics optionally collects ceremony counters.
	Metrics *Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewService creates a new passkey ceremony service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		webauthn:   wa,
		config:     params.Config,
		sessions:   params.Sessions,
		creds:      params.Credentials,
		directory:  params.Directory,
		tokens:     params.Tokens,
		events:     params.Events,
		metrics:    params.Metrics,
		logger:     logger,
		clock:      clock,
		configured: true,
	}, nil
}

// RegistrationResult is the outcome of a successful registration finish.
type RegistrationResult struct {
	// UserID is the owning identity, created in the directory if this was
	// a first-time registration.
	UserID string

	// CredentialID is the ID of the newly registered credential.
	CredentialID []byte

	// Token is a session-establishing token when a TokenIssuer is
	// configured, empty otherwise.
	Token string
}

// LoginResult is the outcome of a successful authentication finish.
type LoginResult struct {
	// UserID is the authenticated identity.
	UserID string

	// CredentialID is the credential that signed the assertion.
	CredentialID []byte

	// SignCount is the counter value after the update.
	SignCount uint32

	// Token is a session-establishing token when a TokenIssuer is
	// configured, empty otherwise.
	Token string
}

// BeginRegistration starts a credential creation ceremony for username.
// If the username already has registered credentials, the returned options
// exclude them so the same authenticator cannot be re-registered. The
// directory account itself is not created here; that happens on finish,
// after cryptographic proof.
func (s *Service) BeginRegistration(ctx context.Context, username, displayName string) (*protocol.CredentialCreation, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}
	if username == "" {
		return nil, "", NewError("begin registration", fmt.Errorf("username is required"))
	}
	if displayName == "" {
		displayName = username
	}

	var handle []byte
	var exclusions []protocol.CredentialDescriptor

	userID, err := s.directory.FindUser(ctx, username)
	switch {
	case err == nil:
		handle, err = DecodeID(userID)
		if err != nil {
			return nil, "", NewError("begin registration", fmt.Errorf("malformed user id %q: %w", userID, err))
		}
		existing, err := s.creds.ListByUser(ctx, userID)
		if err != nil {
			return nil, "", storeError("list credentials", err)
		}
		for _, cred := range existing {
			exclusions = append(exclusions, cred.Descriptor())
		}
	case errors.Is(err, ErrUserNotFound):
		// First-time registration: propose a fresh handle now, create the
		// directory account only after the attestation verifies.
		handle, err = NewUserHandle()
		if err != nil {
			return nil, "", NewError("generate user handle", err)
		}
	default:
		return nil, "", directoryError("find user", err)
	}

	user := &ceremonyUser{id: handle, name: username, displayName: displayName}

	var opts []webauthn.RegistrationOption
	if len(exclusions) > 0 {
		opts = append(opts, webauthn.WithExclusions(exclusions))
	}

	options, data, err := s.webauthn.BeginRegistration(user, opts...)
	if err != nil {
		return nil, "", NewError("begin registration", err)
	}

	sessionID, err := s.createSession(ctx, SessionKindRegistration, data, func(sess *Session) {
		sess.UserHandle = handle
		sess.Username = username
		sess.DisplayName = displayName
	})
	if err != nil {
		return nil, "", err
	}

	s.metrics.ceremonyStarted(SessionKindRegistration)
	return options, sessionID, nil
}

// FinishRegistration completes a credential creation ceremony. The session
// is consumed before verification runs, so any failure past this point is
// terminal for the attempt: the client must restart with a fresh begin
// call. On success the owning identity is resolved or created in the
// directory and the credential is persisted.
func (s *Service) FinishRegistration(ctx context.Context, sessionID string, response *protocol.ParsedCredentialCreationData) (*RegistrationResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	sess, err := s.consumeSession(ctx, sessionID, SessionKindRegistration)
	if err != nil {
		s.metrics.ceremonyFailed(SessionKindRegistration, failureReason(err))
		return nil, err
	}

	user := &ceremonyUser{id: sess.UserHandle, name: sess.Username, displayName: sess.DisplayName}

	credential, err := s.webauthn.CreateCredential(user, sess.Data, response)
	if err != nil {
		s.metrics.ceremonyFailed(SessionKindRegistration, "verification_failed")
		return nil, NewError("verify attestation", fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}

	// Directory account creation happens here, after cryptographic proof,
	// never before.
	targetUserID, err := s.resolveIdentity(ctx, sess)
	if err != nil {
		s.metrics.ceremonyFailed(SessionKindRegistration, failureReason(err))
		return nil, err
	}

	cred := FromWebAuthnCredential(targetUserID, credential)
	cred.CreatedAt = s.clock().UTC()
	if err := s.creds.Put(ctx, cred); err != nil {
		s.metrics.ceremonyFailed(SessionKindRegistration, failureReason(err))
		if errors.Is(err, ErrCredentialConflict) {
			// The credential ID is already owned elsewhere. Never
			// overwrite: a collision here is fatal to the attempt.
			return nil, WrapError("store credential", err)
		}
		return nil, storeError("store credential", err)
	}

	token, err := s.issueToken(ctx, targetUserID)
	if err != nil {
		return nil, NewError("issue token", err)
	}

	s.metrics.ceremonyCompleted(SessionKindRegistration)
	s.publishEvent(TopicCredentialRegistered, CredentialRegisteredEvent{
		UserID:       targetUserID,
		Username:     sess.Username,
		CredentialID: EncodeID(credential.ID),
		At:           s.clock().UTC(),
	})
	s.logger.Info("credential registered",
		"user_id", targetUserID,
		"credential_id", EncodeID(credential.ID))

	return &RegistrationResult{
		UserID:       targetUserID,
		CredentialID: credential.ID,
		Token:        token,
	}, nil
}

// BeginDiscoverableLogin starts a passwordless authentication ceremony.
// No username is required: the allow-list is left empty and the client
// authenticator supplies which resident credential it is using.
func (s *Service) BeginDiscoverableLogin(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}

	options, data, err := s.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", NewError("begin discoverable login", err)
	}

	sessionID, err := s.createSession(ctx, SessionKindAuthentication, data, nil)
	if err != nil {
		return nil, "", err
	}

	s.metrics.ceremonyStarted(SessionKindAuthentication)
	return options, sessionID, nil
}

// FinishDiscoverableLogin completes a passwordless authentication ceremony
// and returns the authenticated identity. The session is consumed first
// (same single-use guarantee as registration). A signature counter that
// did not advance fails with ErrStaleSignCount, distinct from
// ErrVerificationFailed, because it signals a possibly cloned credential.
func (s *Service) FinishDiscoverableLogin(ctx context.Context, sessionID string, response *protocol.ParsedCredentialAssertionData) (*LoginResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	sess, err := s.consumeSession(ctx, sessionID, SessionKindAuthentication)
	if err != nil {
		s.metrics.ceremonyFailed(SessionKindAuthentication, failureReason(err))
		return nil, err
	}

	stored, err := s.creds.GetByID(ctx, response.RawID)
	if err != nil {
		if errors.Is(err, ErrUnknownCredential) {
			s.metrics.ceremonyFailed(SessionKindAuthentication, "unknown_credential")
			return nil, WrapError("lookup credential", err)
		}
		s.metrics.ceremonyFailed(SessionKindAuthentication, "store_unavailable")
		return nil, storeError("lookup credential", err)
	}

	validated, err := s.webauthn.ValidateDiscoverableLogin(s.discoverableUserHandler(ctx, stored), sess.Data, response)
	if err != nil {
		s.metrics.ceremonyFailed(SessionKindAuthentication, "verification_failed")
		return nil, NewError("verify assertion", fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}

	reported := response.Response.AuthenticatorData.Counter
	if validated.Authenticator.CloneWarning {
		s.reportCloneSignal(stored, reported)
		s.metrics.ceremonyFailed(SessionKindAuthentication, "stale_sign_count")
		return nil, NewError("advance sign counter", ErrStaleSignCount)
	}

	if err := s.creds.UpdateSignCount(ctx, stored.ID, validated.Authenticator.SignCount); err != nil {
		if errors.Is(err, ErrStaleSignCount) {
			// Lost the conditional update: another assertion advanced the
			// counter past this one while we were verifying.
			s.reportCloneSignal(stored, reported)
			s.metrics.ceremonyFailed(SessionKindAuthentication, "stale_sign_count")
			return nil, WrapError("advance sign counter", err)
		}
		s.metrics.ceremonyFailed(SessionKindAuthentication, "store_unavailable")
		return nil, storeError("advance sign counter", err)
	}

	token, err := s.issueToken(ctx, stored.UserID)
	if err != nil {
		return nil, NewError("issue token", err)
	}

	s.metrics.ceremonyCompleted(SessionKindAuthentication)
	s.publishEvent(TopicLoginSucceeded, LoginSucceededEvent{
		UserID:       stored.UserID,
		CredentialID: EncodeID(stored.ID),
		SignCount:    validated.Authenticator.SignCount,
		At:           s.clock().UTC(),
	})
	s.logger.Info("login succeeded",
		"user_id", stored.UserID,
		"credential_id", EncodeID(stored.ID))

	return &LoginResult{
		UserID:       stored.UserID,
		CredentialID: stored.ID,
		SignCount:    validated.Authenticator.SignCount,
		Token:        token,
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// createSession persists a fresh pending session and returns its ID.
func (s *Service) createSession(ctx context.Context, kind SessionKind, data *webauthn.SessionData, customize func(*Session)) (string, error) {
	sessionID, err := NewSessionID()
	if err != nil {
		return "", NewError("generate session id", err)
	}

	now := s.clock().UTC()
	sess := &Session{
		ID:        sessionID,
		Kind:      kind,
		State:     SessionPending,
		Data:      *data,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}
	if customize != nil {
		customize(sess)
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return "", storeError("create session", err)
	}
	return sessionID, nil
}

// consumeSession redeems a session exactly once and checks it belongs to
// the expected ceremony. A kind mismatch is reported as not found so the
// response does not reveal what the session was for.
func (s *Service) consumeSession(ctx context.Context, sessionID string, kind SessionKind) (*Session, error) {
	if sessionID == "" {
		return nil, WrapError("consume session", ErrSessionNotFound)
	}
	sess, err := s.sessions.Consume(ctx, sessionID)
	if err != nil {
		if IsSessionNotFound(err) || IsSessionExpired(err) || IsSessionConsumed(err) {
			return nil, WrapError("consume session", err)
		}
		return nil, storeError("consume session", err)
	}
	if sess.Kind != kind {
		return nil, WrapError("consume session", ErrSessionNotFound)
	}
	return sess, nil
}

// resolveIdentity maps the session's username to a directory identity,
// creating the account for first-time registrations. The directory owns
// the create-race discipline; a create conflict here means another
// registration won the race, so the surviving identity is looked up once.
func (s *Service) resolveIdentity(ctx context.Context, sess *Session) (string, error) {
	userID, err := s.directory.FindUser(ctx, sess.Username)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return "", directoryError("find user", err)
	}

	userID, err = s.directory.CreateUser(ctx, sess.Username, EncodeID(sess.UserHandle))
	if err == nil {
		return userID, nil
	}
	if errors.Is(err, ErrUserExists) {
		userID, err = s.directory.FindUser(ctx, sess.Username)
		if err != nil {
			return "", directoryError("find user after create conflict", err)
		}
		return userID, nil
	}
	return "", directoryError("create user", err)
}

// discoverableUserHandler builds the login handler for the credential's
// owner. The verification library checks the authenticator-supplied user
// handle against the returned user's ID, binding the assertion to the
// stored ownership record.
func (s *Service) discoverableUserHandler(ctx context.Context, stored *Credential) webauthn.DiscoverableUserHandler {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		handle, err := DecodeID(stored.UserID)
		if err != nil {
			return nil, fmt.Errorf("malformed user id %q: %w", stored.UserID, err)
		}
		owned, err := s.creds.ListByUser(ctx, stored.UserID)
		if err != nil {
			return nil, err
		}
		return &ceremonyUser{id: handle, name: stored.UserID, credentials: owned}, nil
	}
}

func (s *Service) issueToken(ctx context.Context, userID string) (string, error) {
	if s.tokens == nil {
		return "", nil
	}
	return s.tokens.IssueToken(ctx, userID)
}

func (s *Service) reportCloneSignal(stored *Credential, reported uint32) {
	s.logger.Warn("signature counter regression, possible cloned credential",
		"user_id", stored.UserID,
		"credential_id", EncodeID(stored.ID),
		"stored_count", stored.SignCount,
		"reported_count", reported)
	s.publishEvent(TopicCloneSuspected, CloneSuspectedEvent{
		UserID:        stored.UserID,
		CredentialID:  EncodeID(stored.ID),
		StoredCount:   stored.SignCount,
		ReportedCount: reported,
		At:            s.clock().UTC(),
	})
}

// storeError passes ceremony taxonomy errors through and classifies
// anything else as transient store unavailability, so callers can
// distinguish protocol failures from retryable infrastructure failures.
func storeError(op string, err error) error {
	switch {
	case IsSessionNotFound(err), IsSessionExpired(err), IsSessionConsumed(err),
		errors.Is(err, ErrSessionExists), IsCredentialConflict(err),
		errors.Is(err, ErrUnknownCredential), IsStaleSignCount(err):
		return WrapError(op, err)
	default:
		return NewError(op, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
}

func directoryError(op string, err error) error {
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserExists) {
		return WrapError(op, err)
	}
	return NewError(op, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err))
}

// ceremonyUser adapts session state to the webauthn.User interface for the
// duration of one verification call.
type ceremonyUser struct {
	id          []byte
	name        string
	displayName string
	credentials []*Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.id
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.name
	}
	return u.displayName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.credentials))
	for i, c := range u.credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}
