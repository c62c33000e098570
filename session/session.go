// Package session keeps per-user authentication state inside an
// already resolved partition.
//
// Two sets of operations share the same session records. CreateUser,
// SignIn and SignOut manage profile-bearing users. SetAuth and RemoveAuth
// are the lighter pair used for anonymous, UUID-identified callers. SignOut
// only clears the flag and keeps the record; RemoveAuth deletes the record.
//
// Emails and passwords are stored and compared as plaintext. Hashing them
// is an open gap.
package session

import (
	"context"
	"errors"

	"github.com/jrife/devkv/storage/records"
	"github.com/jrife/devkv/utils/log"
	"go.uber.org/zap"
)

var (
	// ErrAuthFailure is returned by SignIn when the user does not
	// exist or the email or password do not match
	ErrAuthFailure = errors.New("authentication failed")
	// ErrNotFound is returned by SignOut when there is no session record
	ErrNotFound = errors.New("session record not found")
)

// Status is the result of CheckAuth
type Status int

const (
	// Unauthenticated means there is no session record or it
	// is not marked authenticated
	Unauthenticated Status = iota
	// Authenticated means the session record is marked authenticated
	Authenticated
)

func (status Status) String() string {
	if status == Authenticated {
		return "Authenticated"
	}

	return "Unauthenticated"
}

// Opener opens partitions. It creates them if necessary.
type Opener interface {
	Open(ctx context.Context, name string) (*records.Handle, error)
}

// Config contains configuration for an authenticator
type Config struct {
	Logger *zap.Logger
	Store  Opener
}

// Authenticator manages session records
type Authenticator struct {
	logger *zap.Logger
	store  Opener
}

// New creates an authenticator
func New(config Config) *Authenticator {
	authenticator := &Authenticator{logger: config.Logger, store: config.Store}

	if authenticator.logger == nil {
		authenticator.logger = zap.L()
	}

	return authenticator
}

func (authenticator *Authenticator) open(ctx context.Context, operation string, userKey string, partition string) (*records.Handle, *zap.Logger, error) {
	logger := log.WithContext(ctx, authenticator.logger).With(
		zap.String("operation", operation),
		zap.String("partition", partition),
		zap.String("user", userKey),
	)

	handle, err := authenticator.store.Open(ctx, partition)

	if err != nil {
		logger.Error("could not open partition", zap.Error(err))

		return nil, nil, err
	}

	return handle, logger, nil
}

// CreateUser writes an authenticated session record with the given
// profile. An existing record under userKey is overwritten.
func (authenticator *Authenticator) CreateUser(ctx context.Context, userKey string, email string, password string, partition string) error {
	handle, logger, err := authenticator.open(ctx, "CreateUser", userKey, partition)

	if err != nil {
		return err
	}

	if err := handle.Put(ctx, records.Record{ID: userKey, Authenticated: true, Email: email, Password: password}); err != nil {
		return err
	}

	logger.Debug("user created")

	return nil
}

// SignIn marks the session authenticated if email and password
// match the stored profile exactly. Records without a profile, such
// as those written by SetAuth or plain data records, never match.
// On ErrAuthFailure nothing is written.
func (authenticator *Authenticator) SignIn(ctx context.Context, userKey string, email string, password string, partition string) error {
	handle, logger, err := authenticator.open(ctx, "SignIn", userKey, partition)

	if err != nil {
		return err
	}

	if email == "" || password == "" {
		logger.Debug("sign in rejected", zap.String("reason", "empty credentials"))

		return ErrAuthFailure
	}

	record, err := handle.Get(ctx, userKey)

	if err != nil {
		return err
	}

	if record == nil || !record.HasProfile() || record.Email != email || record.Password != password {
		logger.Debug("sign in rejected")

		return ErrAuthFailure
	}

	record.Authenticated = true

	if err := handle.Put(ctx, *record); err != nil {
		return err
	}

	logger.Debug("signed in")

	return nil
}

// SignOut clears the authenticated flag and keeps the record
func (authenticator *Authenticator) SignOut(ctx context.Context, userKey string, partition string) error {
	handle, logger, err := authenticator.open(ctx, "SignOut", userKey, partition)

	if err != nil {
		return err
	}

	record, err := handle.Get(ctx, userKey)

	if err != nil {
		return err
	}

	if record == nil {
		return ErrNotFound
	}

	record.Authenticated = false

	if err := handle.Put(ctx, *record); err != nil {
		return err
	}

	logger.Debug("signed out")

	return nil
}

// SetAuth replaces whatever is stored under userKey with a bare
// authenticated session record
func (authenticator *Authenticator) SetAuth(ctx context.Context, userKey string, partition string) error {
	handle, _, err := authenticator.open(ctx, "SetAuth", userKey, partition)

	if err != nil {
		return err
	}

	return handle.Put(ctx, records.Record{ID: userKey, Authenticated: true})
}

// RemoveAuth deletes the record stored under userKey
func (authenticator *Authenticator) RemoveAuth(ctx context.Context, userKey string, partition string) error {
	handle, _, err := authenticator.open(ctx, "RemoveAuth", userKey, partition)

	if err != nil {
		return err
	}

	return handle.Delete(ctx, userKey)
}

// CheckAuth reports whether userKey is authenticated. A missing or
// unreadable record is Unauthenticated rather than an error. Other
// storage failures are returned.
func (authenticator *Authenticator) CheckAuth(ctx context.Context, userKey string, partition string) (Status, error) {
	handle, logger, err := authenticator.open(ctx, "CheckAuth", userKey, partition)

	if err != nil {
		return Unauthenticated, err
	}

	record, err := handle.Get(ctx, userKey)

	if errors.Is(err, records.ErrMalformedRecord) {
		logger.Warn("unreadable session record", zap.Error(err))

		return Unauthenticated, nil
	} else if err != nil {
		return Unauthenticated, err
	}

	if record == nil || !record.Authenticated {
		return Unauthenticated, nil
	}

	return Authenticated, nil
}
