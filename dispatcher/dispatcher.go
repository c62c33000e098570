package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/jrife/devkv/session"
	"github.com/jrife/devkv/storage/records"
	"github.com/jrife/devkv/utils/log"
	"go.uber.org/zap"
)

const (
	// MessageStored is reported by POST
	MessageStored = "Data stored!"
	// MessageUpdated is reported by PUT
	MessageUpdated = "Data updated!"
	// MessageRemoved is reported by DELETE
	MessageRemoved = "Data removed by key!"
	// MessageNoData is reported by GET when there is no record under key
	MessageNoData = "No data found"
	// MessageRegistered is reported by SETDEV
	MessageRegistered = "Developer registered!"
	// MessageAuthSet is reported by SETAUTH
	MessageAuthSet = "Authentication set!"
	// MessageAuthRemoved is reported by REMOVEAUTH
	MessageAuthRemoved = "Authentication removed!"
	// MessageUserCreated is reported by CREATEUSER
	MessageUserCreated = "User created!"
	// MessageSignedIn is reported by SIGNIN
	MessageSignedIn = "Signed in!"
	// MessageSignedOut is reported by SIGNOUT
	MessageSignedOut = "Signed out!"
)

// Payload is the body of a request
type Payload struct {
	Key  string          `json:"key,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request is one call into the dispatcher
type Request struct {
	Verb string
	// Key addresses a record. If empty the payload key is used.
	Key string
	// Credential is the developer credential. SETDEV ignores it.
	Credential string
	Payload    *Payload
}

func (request Request) payload() Payload {
	if request.Payload == nil {
		return Payload{}
	}

	return *request.Payload
}

func (request Request) key() string {
	if request.Key != "" {
		return request.Key
	}

	return request.payload().Key
}

// Records is the record store used for data verbs
type Records interface {
	Get(ctx context.Context, partition string, key string) (*records.Record, error)
	Put(ctx context.Context, partition string, record records.Record) error
	Delete(ctx context.Context, partition string, key string) error
	Scan(ctx context.Context, partition string) (map[string]json.RawMessage, error)
	Update(ctx context.Context, partition string, key string, partial json.RawMessage) (records.Record, error)
}

// Registry registers developer credentials
type Registry interface {
	RegisterDeveloper(ctx context.Context, credential string, profile map[string]json.RawMessage) (string, error)
}

// Validator resolves a developer credential to its partition
type Validator interface {
	Validate(ctx context.Context, credential string) (string, error)
}

// Sessions manages session records
type Sessions interface {
	CreateUser(ctx context.Context, userKey string, email string, password string, partition string) error
	SignIn(ctx context.Context, userKey string, email string, password string, partition string) error
	SignOut(ctx context.Context, userKey string, partition string) error
	SetAuth(ctx context.Context, userKey string, partition string) error
	RemoveAuth(ctx context.Context, userKey string, partition string) error
	CheckAuth(ctx context.Context, userKey string, partition string) (session.Status, error)
}

// Config contains configuration for a dispatcher
type Config struct {
	Logger    *zap.Logger
	Records   Records
	Registry  Registry
	Validator Validator
	Sessions  Sessions
}

// Dispatcher routes requests. It is safe for concurrent use.
type Dispatcher struct {
	logger    *zap.Logger
	records   Records
	registry  Registry
	validator Validator
	sessions  Sessions
}

// New creates a dispatcher
func New(config Config) *Dispatcher {
	dispatcher := &Dispatcher{
		logger:    config.Logger,
		records:   config.Records,
		registry:  config.Registry,
		validator: config.Validator,
		sessions:  config.Sessions,
	}

	if dispatcher.logger == nil {
		dispatcher.logger = zap.L()
	}

	return dispatcher
}

// call is a validated request
type call struct {
	partition string
	key       string
	payload   Payload
}

type handler struct {
	// bootstrap handlers run without credential validation
	bootstrap bool
	serve     func(dispatcher *Dispatcher, ctx context.Context, call call) (Response, error)
}

var handlers = map[Verb]handler{
	VerbGet:        {serve: (*Dispatcher).get},
	VerbPost:       {serve: (*Dispatcher).post},
	VerbPut:        {serve: (*Dispatcher).put},
	VerbDelete:     {serve: (*Dispatcher).delete},
	VerbSetDev:     {serve: (*Dispatcher).setDev, bootstrap: true},
	VerbSetAuth:    {serve: (*Dispatcher).setAuth},
	VerbRemoveAuth: {serve: (*Dispatcher).removeAuth},
	VerbGetAuth:    {serve: (*Dispatcher).getAuth},
	VerbCreateUser: {serve: (*Dispatcher).createUser},
	VerbSignIn:     {serve: (*Dispatcher).signIn},
	VerbSignOut:    {serve: (*Dispatcher).signOut},
}

// Dispatch runs request to completion. It always returns a
// response. Failures are reported in the response rather than
// as an error.
func (dispatcher *Dispatcher) Dispatch(ctx context.Context, request Request) Response {
	logger := log.WithContext(ctx, dispatcher.logger).With(zap.String("operation", "Dispatch"), zap.String("verb", request.Verb))
	logger.Debug("start", zap.String("key", request.key()))

	response := dispatcher.dispatch(ctx, request)

	if response.HTTPStatus >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(response.Err))
	}

	logger.Debug("return", zap.Int("status", response.HTTPStatus), zap.Error(response.Err))

	return response
}

func (dispatcher *Dispatcher) dispatch(ctx context.Context, request Request) Response {
	verb, err := ParseVerb(request.Verb)

	if err != nil {
		return failure(err)
	}

	route := handlers[verb]
	c := call{key: request.key(), payload: request.payload()}

	if !route.bootstrap {
		partition, err := dispatcher.validator.Validate(ctx, request.Credential)

		if err != nil {
			return failure(err)
		}

		c.partition = partition
	}

	response, err := route.serve(dispatcher, ctx, c)

	if err != nil {
		return failure(err)
	}

	return response
}

func (dispatcher *Dispatcher) get(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		all, err := dispatcher.records.Scan(ctx, call.partition)

		if err != nil {
			return Response{}, err
		}

		raw, err := json.Marshal(all)

		if err != nil {
			return Response{}, err
		}

		return data(raw), nil
	}

	record, err := dispatcher.records.Get(ctx, call.partition, call.key)

	if err != nil {
		return Response{}, err
	}

	if record == nil {
		return message(http.StatusNotFound, MessageNoData), nil
	}

	return data(record.DataOrNull()), nil
}

func (dispatcher *Dispatcher) post(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required.")
	}

	if err := dispatcher.records.Put(ctx, call.partition, records.Record{ID: call.key, Data: call.payload.Data}); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageStored), nil
}

func (dispatcher *Dispatcher) put(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for update.")
	}

	if _, err := dispatcher.records.Update(ctx, call.partition, call.key, call.payload.Data); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageUpdated), nil
}

func (dispatcher *Dispatcher) delete(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for deletion.")
	}

	if err := dispatcher.records.Delete(ctx, call.partition, call.key); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageRemoved), nil
}

func (dispatcher *Dispatcher) setDev(ctx context.Context, call call) (Response, error) {
	profile := map[string]json.RawMessage{}

	if !isNull(call.payload.Data) {
		if err := json.Unmarshal(call.payload.Data, &profile); err != nil {
			return Response{}, badRequest("Registration data must be an object.")
		}
	}

	credential := call.payload.Key

	if raw, ok := profile["developerKey"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &credential); err != nil {
			return Response{}, badRequest("developerKey must be a string.")
		}
	}

	if credential == "" {
		return Response{}, badRequest("Developer key is required for registration.")
	}

	if _, err := dispatcher.registry.RegisterDeveloper(ctx, credential, profile); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageRegistered), nil
}

func (dispatcher *Dispatcher) setAuth(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for authentication.")
	}

	if err := dispatcher.sessions.SetAuth(ctx, call.key, call.partition); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageAuthSet), nil
}

func (dispatcher *Dispatcher) removeAuth(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for authentication.")
	}

	if err := dispatcher.sessions.RemoveAuth(ctx, call.key, call.partition); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageAuthRemoved), nil
}

func (dispatcher *Dispatcher) getAuth(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for authentication.")
	}

	status, err := dispatcher.sessions.CheckAuth(ctx, call.key, call.partition)

	if err != nil {
		return Response{}, err
	}

	raw, err := json.Marshal(AuthStatus{Authenticated: status == session.Authenticated})

	if err != nil {
		return Response{}, err
	}

	return data(raw), nil
}

func (dispatcher *Dispatcher) createUser(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for authentication.")
	}

	credentials, err := decodeUserCredentials(call.payload.Data)

	if err != nil {
		return Response{}, err
	}

	if err := dispatcher.sessions.CreateUser(ctx, call.key, credentials.Email, credentials.Password, call.partition); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageUserCreated), nil
}

func (dispatcher *Dispatcher) signIn(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for authentication.")
	}

	credentials, err := decodeUserCredentials(call.payload.Data)

	if err != nil {
		return Response{}, err
	}

	if err := dispatcher.sessions.SignIn(ctx, call.key, credentials.Email, credentials.Password, call.partition); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageSignedIn), nil
}

func (dispatcher *Dispatcher) signOut(ctx context.Context, call call) (Response, error) {
	if call.key == "" {
		return Response{}, badRequest("Key is required for authentication.")
	}

	if err := dispatcher.sessions.SignOut(ctx, call.key, call.partition); err != nil {
		return Response{}, err
	}

	return message(http.StatusOK, MessageSignedOut), nil
}

// AuthStatus is the data returned by GETAUTH
type AuthStatus struct {
	Authenticated bool `json:"authenticated"`
}

// UserCredentials is the payload data of CREATEUSER and SIGNIN
type UserCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func decodeUserCredentials(raw json.RawMessage) (UserCredentials, error) {
	var credentials UserCredentials

	if isNull(raw) {
		return credentials, badRequest("Email and password are required.")
	}

	if err := json.Unmarshal(raw, &credentials); err != nil {
		return credentials, badRequest("Email and password must be strings.")
	}

	if credentials.Email == "" || credentials.Password == "" {
		return credentials, badRequest("Email and password are required.")
	}

	return credentials, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
