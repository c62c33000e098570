// Package registry maps developer credentials to the partitions
// that hold their data and keeps the developer registration records
// in the root partition.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jrife/devkv/storage/records"
	"github.com/jrife/devkv/utils/log"
	"go.uber.org/zap"
)

const (
	// RootPartition holds the developer registration records
	RootPartition = "root"
	// DefaultPrefix is prepended to a credential to form its partition name
	DefaultPrefix = "dev_"
	// DevelopersPrefix is prepended to a credential to form the key
	// of its registration record inside the root partition
	DevelopersPrefix = "developers/"
)

var (
	// ErrEmptyCredential is returned when registering an empty credential
	ErrEmptyCredential = errors.New("credential is empty")
	// ErrNotRegistered is returned by operations on a credential
	// that has no registration record
	ErrNotRegistered = errors.New("credential is not registered")
	// ErrMalformedRegistration is returned when a registration
	// record exists but its fields have the wrong shape
	ErrMalformedRegistration = errors.New("malformed registration record")
	// ErrRevoked is returned when registering a credential that was revoked
	ErrRevoked = errors.New("credential was revoked")
)

// Store is the subset of the record store used by the registry
type Store interface {
	Open(ctx context.Context, name string) (*records.Handle, error)
}

// Config contains configuration for a registry
type Config struct {
	Logger *zap.Logger
	Store  Store
	// Prefix overrides DefaultPrefix
	Prefix string
}

// Registration is a decoded developer registration record
type Registration struct {
	Credential string
	StoreName  string
	Valid      bool
	// Profile holds every other field supplied at registration
	Profile map[string]json.RawMessage
}

// Registry owns the root partition
type Registry struct {
	logger *zap.Logger
	store  Store
	prefix string
}

// New creates a registry
func New(config Config) *Registry {
	registry := &Registry{logger: config.Logger, store: config.Store, prefix: config.Prefix}

	if registry.logger == nil {
		registry.logger = zap.L()
	}

	if registry.prefix == "" {
		registry.prefix = DefaultPrefix
	}

	return registry
}

// ResolvePartition derives the partition name for a credential.
// It does not touch storage.
func (registry *Registry) ResolvePartition(credential string) string {
	return registry.prefix + credential
}

// RegisterDeveloper writes the registration record for credential and
// creates its partition. profile may be nil. The reserved storeName
// and valid fields always win over fields of the same name in profile.
// Registering an existing credential overwrites its profile. A revoked
// credential stays revoked: registering it again returns ErrRevoked
// and writes nothing. It returns the partition name.
func (registry *Registry) RegisterDeveloper(ctx context.Context, credential string, profile map[string]json.RawMessage) (string, error) {
	logger := log.WithContext(ctx, registry.logger).With(zap.String("operation", "RegisterDeveloper"))
	logger.Debug("start", zap.String("credential", credential))

	if credential == "" {
		return "", ErrEmptyCredential
	}

	existing, err := registry.Developer(ctx, credential)

	if err != nil && err != ErrMalformedRegistration {
		logger.Debug("return", zap.Error(err))

		return "", err
	}

	if existing != nil && !existing.Valid {
		logger.Debug("return", zap.Error(ErrRevoked))

		return "", ErrRevoked
	}

	partition := registry.ResolvePartition(credential)
	data, err := encodeRegistration(partition, true, profile)

	if err != nil {
		return "", err
	}

	root, err := registry.store.Open(ctx, RootPartition)

	if err != nil {
		logger.Debug("return", zap.Error(err))

		return "", err
	}

	if err := root.Put(ctx, records.Record{ID: DevelopersPrefix + credential, Data: data}); err != nil {
		logger.Debug("return", zap.Error(err))

		return "", err
	}

	// Open eagerly so first use of the partition doesn't create it
	if _, err := registry.store.Open(ctx, partition); err != nil {
		logger.Debug("return", zap.Error(err))

		return "", err
	}

	logger.Info("developer registered", zap.String("partition", partition))

	return partition, nil
}

// Developer reads the registration for credential. It returns
// nil, nil if the credential was never registered.
func (registry *Registry) Developer(ctx context.Context, credential string) (*Registration, error) {
	root, err := registry.store.Open(ctx, RootPartition)

	if err != nil {
		return nil, err
	}

	record, err := root.Get(ctx, DevelopersPrefix+credential)

	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, nil
	}

	registration, err := decodeRegistration(credential, record.Data)

	if err != nil {
		return nil, err
	}

	return &registration, nil
}

// Developers lists every registration in credential order.
// Malformed registrations are skipped.
func (registry *Registry) Developers(ctx context.Context) ([]Registration, error) {
	logger := log.WithContext(ctx, registry.logger).With(zap.String("operation", "Developers"))

	root, err := registry.store.Open(ctx, RootPartition)

	if err != nil {
		return nil, err
	}

	rs, err := root.ScanPrefix(ctx, DevelopersPrefix)

	if err != nil {
		return nil, err
	}

	registrations := []Registration{}

	for _, record := range rs {
		credential := strings.TrimPrefix(record.ID, DevelopersPrefix)
		registration, err := decodeRegistration(credential, record.Data)

		if err != nil {
			logger.Warn("skipping registration", zap.String("credential", credential), zap.Error(err))

			continue
		}

		registrations = append(registrations, registration)
	}

	return registrations, nil
}

// Revoke marks the registration for credential invalid. The record
// and the partition are kept. RegisterDeveloper refuses revoked
// credentials, so revocation is permanent.
func (registry *Registry) Revoke(ctx context.Context, credential string) error {
	logger := log.WithContext(ctx, registry.logger).With(zap.String("operation", "Revoke"))

	registration, err := registry.Developer(ctx, credential)

	if err != nil {
		return err
	}

	if registration == nil {
		return ErrNotRegistered
	}

	data, err := encodeRegistration(registration.StoreName, false, registration.Profile)

	if err != nil {
		return err
	}

	root, err := registry.store.Open(ctx, RootPartition)

	if err != nil {
		return err
	}

	if err := root.Put(ctx, records.Record{ID: DevelopersPrefix + credential, Data: data}); err != nil {
		return err
	}

	logger.Info("developer revoked", zap.String("credential", credential))

	return nil
}

func encodeRegistration(storeName string, valid bool, profile map[string]json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]interface{}, len(profile)+2)

	for name, value := range profile {
		fields[name] = value
	}

	fields["storeName"] = storeName
	fields["valid"] = valid

	data, err := json.Marshal(fields)

	if err != nil {
		return nil, fmt.Errorf("could not encode registration: %s", err)
	}

	return data, nil
}

func decodeRegistration(credential string, data json.RawMessage) (Registration, error) {
	var fields map[string]json.RawMessage

	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Registration{}, ErrMalformedRegistration
	}

	registration := Registration{Credential: credential, Profile: map[string]json.RawMessage{}}

	for name, value := range fields {
		switch name {
		case "storeName":
			if err := json.Unmarshal(value, &registration.StoreName); err != nil {
				return Registration{}, ErrMalformedRegistration
			}
		case "valid":
			if err := json.Unmarshal(value, &registration.Valid); err != nil {
				return Registration{}, ErrMalformedRegistration
			}
		default:
			registration.Profile[name] = value
		}
	}

	return registration, nil
}
