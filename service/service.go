// Package service assembles a complete devkv service from
// its configuration: the kv root store, the record store, the
// registry, the validator, the authenticator, the dispatcher
// and the REST frontend.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/jrife/devkv/config"
	"github.com/jrife/devkv/credentials"
	"github.com/jrife/devkv/dispatcher"
	"github.com/jrife/devkv/registry"
	"github.com/jrife/devkv/session"
	"github.com/jrife/devkv/storage/kv"
	"github.com/jrife/devkv/storage/records"
	"github.com/jrife/devkv/transport/frontends/rest"
	"go.uber.org/zap"
)

// Service is an assembled devkv instance
type Service struct {
	logger     *zap.Logger
	rootStore  kv.RootStore
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	frontend   *rest.Frontend

	closeOnce sync.Once
	closeErr  error
}

// Options contains optional collaborators for New
type Options struct {
	Logger *zap.Logger
	// RootStore is used instead of opening the configured one.
	// The service takes ownership of it.
	RootStore kv.RootStore
	// Next serves requests outside the mount path
	Next http.Handler
}

// New builds a service. config must already have defaults applied.
// Without Options.Logger the logger described by config.Log is used.
// The root partition is created before New returns.
func New(cfg config.Config, options Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}

	logger := options.Logger

	if logger == nil {
		var err error

		if logger, err = cfg.Logger(); err != nil {
			return nil, fmt.Errorf("could not build logger: %s", err)
		}
	}

	rootStore := options.RootStore

	if rootStore == nil {
		var err error

		if rootStore, err = cfg.OpenRootStore(); err != nil {
			return nil, err
		}
	}

	store := records.New(records.StoreConfig{Logger: logger.Named("records"), RootStore: rootStore})

	// Credential checks read the root partition. Creating it here keeps
	// rejected requests from writing anything.
	if err := store.EnsurePartition(context.Background(), registry.RootPartition); err != nil {
		rootStore.Close()

		return nil, err
	}

	reg := registry.New(registry.Config{Logger: logger.Named("registry"), Store: store, Prefix: cfg.PartitionPrefix})
	d := dispatcher.New(dispatcher.Config{
		Logger:    logger.Named("dispatcher"),
		Records:   store,
		Registry:  reg,
		Validator: credentials.New(credentials.Config{Logger: logger.Named("credentials"), Registrations: reg}),
		Sessions:  session.New(session.Config{Logger: logger.Named("session"), Store: store}),
	})

	return &Service{
		logger:     logger,
		rootStore:  rootStore,
		registry:   reg,
		dispatcher: d,
		frontend: rest.New(rest.Config{
			Logger:    logger.Named("rest"),
			Server:    d,
			MountPath: cfg.MountPath,
			Next:      options.Next,
		}),
	}, nil
}

// Logger returns the service logger
func (service *Service) Logger() *zap.Logger {
	return service.logger
}

// Dispatcher returns the dispatcher for in-process use
func (service *Service) Dispatcher() *dispatcher.Dispatcher {
	return service.dispatcher
}

// Registry returns the developer registry
func (service *Service) Registry() *registry.Registry {
	return service.registry
}

// Handler returns the REST frontend as an http.Handler
func (service *Service) Handler() http.Handler {
	return service.frontend
}

// Close closes the root store. Requests served after
// Close fail with a store error.
func (service *Service) Close() error {
	service.closeOnce.Do(func() {
		service.closeErr = service.rootStore.Close()

		if service.closeErr != nil {
			service.logger.Warn("could not close root store", zap.Error(service.closeErr))
		}
	})

	return service.closeErr
}
