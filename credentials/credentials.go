// Package credentials checks developer credentials against the
// registration records kept in the root partition.
//
// Validation fails closed: anything other than an existing, well-formed
// registration that is marked valid is rejected. Credentials are compared
// as plaintext strings. Hashing them is an open gap.
package credentials

import (
	"context"
	"errors"

	"github.com/jrife/devkv/registry"
	"github.com/jrife/devkv/utils/log"
	"go.uber.org/zap"
)

var (
	// ErrMissingCredential is returned when no credential was supplied
	ErrMissingCredential = errors.New("missing developer credential")
	// ErrUnknownCredential is returned when the credential has no registration
	ErrUnknownCredential = errors.New("unknown developer credential")
	// ErrInvalidCredential is returned when the registration exists but
	// is not marked valid, or cannot be read as a registration
	ErrInvalidCredential = errors.New("invalid developer credential")
)

// IsRejection returns true if err is one of the credential rejections
// as opposed to a storage failure encountered while validating
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrUnknownCredential) || errors.Is(err, ErrInvalidCredential)
}

// Registrations looks up developer registrations
type Registrations interface {
	Developer(ctx context.Context, credential string) (*registry.Registration, error)
}

// Config contains configuration for a validator
type Config struct {
	Logger        *zap.Logger
	Registrations Registrations
}

// Validator validates developer credentials
type Validator struct {
	logger        *zap.Logger
	registrations Registrations
}

// New creates a validator
func New(config Config) *Validator {
	validator := &Validator{logger: config.Logger, registrations: config.Registrations}

	if validator.logger == nil {
		validator.logger = zap.L()
	}

	return validator
}

// Validate returns the partition name recorded in the registration
// for credential. The name is read from the record rather than derived
// from the credential so that renamed partitions keep working.
func (validator *Validator) Validate(ctx context.Context, credential string) (string, error) {
	logger := log.WithContext(ctx, validator.logger).With(zap.String("operation", "Validate"))

	if credential == "" {
		logger.Debug("rejected", zap.Error(ErrMissingCredential))

		return "", ErrMissingCredential
	}

	registration, err := validator.registrations.Developer(ctx, credential)

	if err == registry.ErrMalformedRegistration {
		logger.Warn("rejected", zap.String("credential", credential), zap.Error(err))

		return "", ErrInvalidCredential
	} else if err != nil {
		logger.Error("could not read registration", zap.Error(err))

		return "", err
	}

	if registration == nil {
		logger.Debug("rejected", zap.String("credential", credential), zap.Error(ErrUnknownCredential))

		return "", ErrUnknownCredential
	}

	if !registration.Valid || registration.StoreName == "" {
		logger.Debug("rejected", zap.String("credential", credential), zap.Error(ErrInvalidCredential))

		return "", ErrInvalidCredential
	}

	return registration.StoreName, nil
}
