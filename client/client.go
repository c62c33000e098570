// Package client is a Go helper for applications that talk to a
// devkv frontend over HTTP. Every method is one request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"

	"github.com/jrife/devkv/dispatcher"
	"github.com/jrife/devkv/transport/frontends/rest"
	"go.uber.org/zap"
)

var (
	// ErrKeyRequired is returned before any request is sent
	// when a method that addresses a record gets an empty key
	ErrKeyRequired = errors.New("key must be provided")
	// ErrDataRequired is returned by Set when data is empty
	ErrDataRequired = errors.New("data must be provided")
)

// RequestError is returned when the frontend responds
// with a non-2xx status
type RequestError struct {
	StatusCode int
	Status     string
	Message    string
}

func (err *RequestError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("request failed: %d", err.StatusCode)
	}

	return fmt.Sprintf("request failed: %d: %s", err.StatusCode, err.Message)
}

// StatusCode returns the HTTP status of a RequestError
// anywhere in err's chain or 0 if there is none
func StatusCode(err error) int {
	var requestErr *RequestError

	if errors.As(err, &requestErr) {
		return requestErr.StatusCode
	}

	return 0
}

// Config contains configuration for an AppDB
type Config struct {
	Logger *zap.Logger
	// URL is the absolute URL of the frontend mount path
	// such as http://localhost:8080/db-worker
	URL string
	// Credential is sent with every request except RegisterDeveloper
	Credential string
	HTTPClient *http.Client
}

// AppDB is a client of a single developer partition
type AppDB struct {
	logger     *zap.Logger
	url        string
	credential string
	httpClient *http.Client
}

// New creates an AppDB
func New(config Config) *AppDB {
	db := &AppDB{
		logger:     config.Logger,
		url:        config.URL,
		credential: config.Credential,
		httpClient: config.HTTPClient,
	}

	if db.logger == nil {
		db.logger = zap.L()
	}

	if db.httpClient == nil {
		db.httpClient = http.DefaultClient
	}

	return db
}

// Set stores data under key, replacing any existing data
func (db *AppDB) Set(ctx context.Context, key string, data interface{}) error {
	if key == "" {
		return ErrKeyRequired
	}

	raw, err := json.Marshal(data)

	if err != nil {
		return fmt.Errorf("could not encode data: %s", err)
	}

	if isEmpty(raw) {
		return ErrDataRequired
	}

	_, err = db.send(ctx, dispatcher.VerbPost, key, db.credential, &dispatcher.Payload{Key: key, Data: raw})

	return err
}

// Get returns the data stored under key. It returns
// nil, nil if there is no data under key.
func (db *AppDB) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	raw, err := db.send(ctx, dispatcher.VerbGet, key, db.credential, nil)

	if err != nil {
		var requestErr *RequestError

		if errors.As(err, &requestErr) && requestErr.StatusCode == http.StatusNotFound && requestErr.Message == dispatcher.MessageNoData {
			return nil, nil
		}

		return nil, err
	}

	return raw, nil
}

// Update shallow-merges data into the data stored under key
func (db *AppDB) Update(ctx context.Context, key string, data interface{}) error {
	if key == "" {
		return ErrKeyRequired
	}

	raw, err := json.Marshal(data)

	if err != nil {
		return fmt.Errorf("could not encode data: %s", err)
	}

	_, err = db.send(ctx, dispatcher.VerbPut, key, db.credential, &dispatcher.Payload{Key: key, Data: raw})

	return err
}

// Remove deletes the data stored under key
func (db *AppDB) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}

	_, err := db.send(ctx, dispatcher.VerbDelete, key, db.credential, &dispatcher.Payload{Key: key})

	return err
}

// Scan returns the data of every record in the partition
func (db *AppDB) Scan(ctx context.Context) (map[string]json.RawMessage, error) {
	raw, err := db.send(ctx, dispatcher.VerbGet, "", db.credential, nil)

	if err != nil {
		return nil, err
	}

	result := map[string]json.RawMessage{}

	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("could not decode scan: %s", err)
	}

	return result, nil
}

// SetAuth marks userKey authenticated
func (db *AppDB) SetAuth(ctx context.Context, userKey string) error {
	return db.auth(ctx, dispatcher.VerbSetAuth, userKey, nil)
}

// RemoveAuth deletes the session record of userKey
func (db *AppDB) RemoveAuth(ctx context.Context, userKey string) error {
	return db.auth(ctx, dispatcher.VerbRemoveAuth, userKey, nil)
}

// CheckAuth reports whether userKey is authenticated
func (db *AppDB) CheckAuth(ctx context.Context, userKey string) (bool, error) {
	if userKey == "" {
		return false, ErrKeyRequired
	}

	raw, err := db.send(ctx, dispatcher.VerbGetAuth, userKey, db.credential, &dispatcher.Payload{Key: userKey})

	if err != nil {
		return false, err
	}

	var status dispatcher.AuthStatus

	if err := json.Unmarshal(raw, &status); err != nil {
		return false, fmt.Errorf("could not decode auth status: %s", err)
	}

	return status.Authenticated, nil
}

// CreateUser creates or overwrites userKey with an
// authenticated session and the given profile
func (db *AppDB) CreateUser(ctx context.Context, userKey string, email string, password string) error {
	return db.auth(ctx, dispatcher.VerbCreateUser, userKey, &dispatcher.UserCredentials{Email: email, Password: password})
}

// SignIn authenticates userKey if email and password match
func (db *AppDB) SignIn(ctx context.Context, userKey string, email string, password string) error {
	return db.auth(ctx, dispatcher.VerbSignIn, userKey, &dispatcher.UserCredentials{Email: email, Password: password})
}

// SignOut clears the authenticated flag of userKey
func (db *AppDB) SignOut(ctx context.Context, userKey string) error {
	return db.auth(ctx, dispatcher.VerbSignOut, userKey, nil)
}

// RegisterDeveloper registers credential. Extra profile
// fields are stored with the registration. The configured
// credential is not sent.
func (db *AppDB) RegisterDeveloper(ctx context.Context, credential string, profile map[string]interface{}) error {
	if credential == "" {
		return ErrKeyRequired
	}

	fields := map[string]interface{}{}

	for name, value := range profile {
		fields[name] = value
	}

	fields["developerKey"] = credential

	raw, err := json.Marshal(fields)

	if err != nil {
		return fmt.Errorf("could not encode profile: %s", err)
	}

	_, err = db.send(ctx, dispatcher.VerbSetDev, "", "", &dispatcher.Payload{Key: credential, Data: raw})

	return err
}

func (db *AppDB) auth(ctx context.Context, verb dispatcher.Verb, userKey string, credentials *dispatcher.UserCredentials) error {
	if userKey == "" {
		return ErrKeyRequired
	}

	payload := &dispatcher.Payload{Key: userKey}

	if credentials != nil {
		raw, err := json.Marshal(credentials)

		if err != nil {
			return fmt.Errorf("could not encode credentials: %s", err)
		}

		payload.Data = raw
	}

	_, err := db.send(ctx, verb, userKey, db.credential, payload)

	return err
}

func (db *AppDB) send(ctx context.Context, verb dispatcher.Verb, key string, credential string, payload *dispatcher.Payload) (json.RawMessage, error) {
	target := db.url

	if key != "" {
		target += "?" + url.Values{rest.KeyParam: []string{key}}.Encode()
	}

	var body bytes.Buffer

	if payload != nil && verb != dispatcher.VerbGet {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, fmt.Errorf("could not encode payload: %s", err)
		}
	}

	logger := db.logger.With(zap.String("verb", string(verb)), zap.String("url", target))
	logger.Debug("sending request")

	req, err := http.NewRequest(string(verb), target, &body)

	if err != nil {
		return nil, fmt.Errorf("could not create request: %s", err)
	}

	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	if credential != "" {
		req.Header.Set(rest.CredentialHeader, credential)
	}

	res, err := db.httpClient.Do(req)

	if err != nil {
		logger.Debug("request failed", zap.Error(err))

		return nil, err
	}

	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)

	if err != nil {
		return nil, fmt.Errorf("could not read response: %s", err)
	}

	logger.Debug("received response", zap.Int("status", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		requestErr := &RequestError{StatusCode: res.StatusCode}
		var response dispatcher.Response

		if err := json.Unmarshal(raw, &response); err == nil {
			requestErr.Status = response.Status
			requestErr.Message = response.Message
		} else {
			requestErr.Message = string(raw)
		}

		return nil, requestErr
	}

	return raw, nil
}

func isEmpty(raw json.RawMessage) bool {
	switch string(raw) {
	case "null", `""`, "false", "0":
		return true
	}

	return false
}
