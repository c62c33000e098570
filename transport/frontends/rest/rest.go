package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/jrife/devkv/dispatcher"
	"github.com/jrife/devkv/transport"
	"github.com/jrife/devkv/transport/frontends"
	"github.com/jrife/devkv/utils/log"
	"github.com/jrife/devkv/utils/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMountPath is the path suffix intercepted when
	// no other mount path is configured
	DefaultMountPath = "/db-worker"
	// CredentialHeader carries the developer credential
	CredentialHeader = "X-Developer-Key"
	// KeyParam is the query parameter that addresses a record
	KeyParam = "key"
	// DefaultMaxBodyBytes limits the size of request bodies
	DefaultMaxBodyBytes = 1 << 20
)

const (
	// OptionMountPath overrides DefaultMountPath in frontends.Options
	OptionMountPath = "mountPath"
	// OptionMaxBodyBytes overrides DefaultMaxBodyBytes in frontends.Options
	OptionMaxBodyBytes = "maxBodyBytes"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errTrailingData = errors.New("unexpected data after the request body")
)

var _ frontends.Frontend = (*Frontend)(nil)
var _ http.Handler = (*Frontend)(nil)

// Config contains configuration for a frontend
type Config struct {
	Logger    *zap.Logger
	Server    transport.Server
	MountPath string
	// Next serves requests outside the mount path. If it
	// is nil those requests get a 404.
	Next         http.Handler
	MaxBodyBytes int64
}

// Frontend is an implementation of
// Frontend for REST. Build one with New or
// reinitialize one with Init.
type Frontend struct {
	logger       *zap.Logger
	server       transport.Server
	mountPath    string
	next         http.Handler
	maxBodyBytes int64
}

// New creates a frontend
func New(config Config) *Frontend {
	frontend := &Frontend{
		logger:       config.Logger,
		server:       config.Server,
		mountPath:    config.MountPath,
		next:         config.Next,
		maxBodyBytes: config.MaxBodyBytes,
	}

	if frontend.logger == nil {
		frontend.logger = zap.L()
	}

	if frontend.mountPath == "" {
		frontend.mountPath = DefaultMountPath
	}

	if frontend.maxBodyBytes <= 0 {
		frontend.maxBodyBytes = DefaultMaxBodyBytes
	}

	return frontend
}

// Init initializes the frontend
func (frontend *Frontend) Init(options frontends.Options) error {
	if options.Server == nil {
		return fmt.Errorf("server is required")
	}

	config := Config{Logger: frontend.logger, Server: options.Server, Next: frontend.next}

	if raw, ok := options.Options[OptionMountPath]; ok {
		mountPath, ok := raw.(string)

		if !ok {
			return fmt.Errorf("%s must be a string", OptionMountPath)
		}

		config.MountPath = mountPath
	}

	if raw, ok := options.Options[OptionMaxBodyBytes]; ok {
		switch maxBodyBytes := raw.(type) {
		case int:
			config.MaxBodyBytes = int64(maxBodyBytes)
		case int64:
			config.MaxBodyBytes = maxBodyBytes
		default:
			return fmt.Errorf("%s must be an integer", OptionMaxBodyBytes)
		}
	}

	initialized := New(config)

	frontend.logger = initialized.logger
	frontend.server = initialized.server
	frontend.mountPath = initialized.mountPath
	frontend.maxBodyBytes = initialized.maxBodyBytes

	return nil
}

// ServeHTTP implements http.Handler.ServeHTTP
func (frontend *Frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, frontend.mountPath) {
		if frontend.next != nil {
			frontend.next.ServeHTTP(w, r)

			return
		}

		http.NotFound(w, r)

		return
	}

	// A host server may hand its own logger down through the request context
	base, ctx := log.LoggerFromContext(r.Context(), frontend.logger)
	ctx = log.WithFields(ctx, zap.String("request", uuid.MustUUID()))
	logger := log.WithContext(ctx, base).With(zap.String("method", r.Method), zap.String("path", r.URL.Path))

	request := dispatcher.Request{
		Verb:       r.Method,
		Key:        r.URL.Query().Get(KeyParam),
		Credential: r.Header.Get(CredentialHeader),
	}

	// Bodies of unrecognized verbs are never read so they get
	// a 405 from the dispatcher rather than a 400
	if _, err := dispatcher.ParseVerb(r.Method); err == nil && r.Method != http.MethodGet {
		payload, err := decodePayload(r.Body, frontend.maxBodyBytes)

		if err == errBodyTooLarge {
			logger.Debug("body too large", zap.Int64("limit", frontend.maxBodyBytes))
			writeJSON(logger, w, http.StatusRequestEntityTooLarge, dispatcher.Response{Status: dispatcher.StatusError, Message: "Request body too large."})

			return
		} else if err != nil {
			logger.Debug("malformed body", zap.Error(err))
			writeJSON(logger, w, http.StatusBadRequest, dispatcher.Response{Status: dispatcher.StatusError, Message: "Malformed request body."})

			return
		}

		request.Payload = payload
	}

	response := frontend.server.Dispatch(ctx, request)

	if response.HTTPStatus == 0 {
		response.HTTPStatus = http.StatusOK
	}

	if response.Data != nil {
		writeRaw(logger, w, response.HTTPStatus, response.Data)

		return
	}

	writeJSON(logger, w, response.HTTPStatus, response)
}

// decodePayload reads at most maxBytes of body. An empty body is a
// nil payload. Anything after the first JSON value is an error.
func decodePayload(body io.Reader, maxBytes int64) (*dispatcher.Payload, error) {
	raw, err := ioutil.ReadAll(io.LimitReader(body, maxBytes+1))

	if err != nil {
		return nil, err
	}

	if int64(len(raw)) > maxBytes {
		return nil, errBodyTooLarge
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))

	var payload dispatcher.Payload

	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}

		return nil, err
	}

	if _, err := decoder.Token(); err != io.EOF {
		return nil, errTrailingData
	}

	return &payload, nil
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, response dispatcher.Response) {
	raw, err := json.Marshal(response)

	if err != nil {
		logger.Error("could not encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	writeRaw(logger, w, status, raw)
}

func writeRaw(logger *zap.Logger, w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(raw); err != nil {
		logger.Debug("could not write response", zap.Error(err))
	}
}
