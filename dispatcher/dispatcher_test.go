package dispatcher_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/devkv/credentials"
	"github.com/jrife/devkv/dispatcher"
	"github.com/jrife/devkv/registry"
	"github.com/jrife/devkv/session"
	"github.com/jrife/devkv/storage/kv"
	"github.com/jrife/devkv/storage/kv/plugins/memory"
	"github.com/jrife/devkv/storage/records"
	"go.uber.org/zap"
)

type harness struct {
	rootStore  kv.RootStore
	store      *records.Store
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
}

func newHarness(t *testing.T) *harness {
	rootStore := memory.New()
	store := records.New(records.StoreConfig{RootStore: rootStore, Logger: zap.NewNop()})
	reg := registry.New(registry.Config{Store: store, Logger: zap.NewNop()})

	return &harness{
		rootStore: rootStore,
		store:     store,
		registry:  reg,
		dispatcher: dispatcher.New(dispatcher.Config{
			Logger:    zap.NewNop(),
			Records:   store,
			Registry:  reg,
			Validator: credentials.New(credentials.Config{Registrations: reg, Logger: zap.NewNop()}),
			Sessions:  session.New(session.Config{Store: store, Logger: zap.NewNop()}),
		}),
	}
}

func (h *harness) do(request dispatcher.Request) dispatcher.Response {
	return h.dispatcher.Dispatch(context.Background(), request)
}

func (h *harness) register(t *testing.T, credential string) {
	t.Helper()

	response := h.do(dispatcher.Request{
		Verb:    "SETDEV",
		Payload: &dispatcher.Payload{Key: credential, Data: json.RawMessage(`{"developerKey":"` + credential + `"}`)},
	})

	if response.HTTPStatus != http.StatusOK {
		t.Fatalf("expected registration to succeed, got %#v", response)
	}
}

// snapshot captures the contents of every partition
func (h *harness) snapshot(t *testing.T) map[string]map[string]string {
	t.Helper()

	ctx := context.Background()
	partitions, err := h.store.Partitions(ctx)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	snapshot := map[string]map[string]string{}

	for _, partition := range partitions {
		contents, err := h.store.ScanPrefix(ctx, partition, "")

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		snapshot[partition] = map[string]string{}

		for _, record := range contents {
			raw, err := json.Marshal(record)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			snapshot[partition][record.ID] = string(raw)
		}
	}

	return snapshot
}

func jsonEqual(t *testing.T, expected string, actual json.RawMessage) {
	t.Helper()

	var e, a interface{}

	if err := json.Unmarshal([]byte(expected), &e); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := json.Unmarshal(actual, &a); err != nil {
		t.Fatalf("could not decode %q: %s", actual, err)
	}

	diff := cmp.Diff(e, a)

	if diff != "" {
		t.Fatalf("%s", diff)
	}
}

func payload(key string, data string) *dispatcher.Payload {
	p := &dispatcher.Payload{Key: key}

	if data != "" {
		p.Data = json.RawMessage(data)
	}

	return p
}

func TestRegisterStoreAndIsolate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "dk1")

	partitions, err := h.store.Partitions(ctx)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	diff := cmp.Diff([]string{"dev_dk1", "root"}, partitions)

	if diff != "" {
		t.Fatalf("%s", diff)
	}

	response := h.do(dispatcher.Request{Verb: "POST", Credential: "dk1", Payload: payload("u1", `{"x":1}`)})

	diff = cmp.Diff(dispatcher.Response{Status: "success", Message: "Data stored!", HTTPStatus: http.StatusOK}, response)

	if diff != "" {
		t.Fatalf("%s", diff)
	}

	response = h.do(dispatcher.Request{Verb: "GET", Credential: "dk1", Key: "u1"})

	if response.HTTPStatus != http.StatusOK || !response.Success() {
		t.Fatalf("expected success, got %#v", response)
	}

	jsonEqual(t, `{"x":1}`, response.Data)

	response = h.do(dispatcher.Request{Verb: "GET", Credential: "dk2", Key: "u1"})

	if response.HTTPStatus != http.StatusForbidden || response.Status != "error" {
		t.Fatalf("expected forbidden, got %#v", response)
	}

	// Once dk2 is registered it still cannot see dk1's record
	h.register(t, "dk2")

	response = h.do(dispatcher.Request{Verb: "GET", Credential: "dk2", Key: "u1"})

	diff = cmp.Diff(dispatcher.Response{Status: "success", Message: "No data found", HTTPStatus: http.StatusNotFound}, response)

	if diff != "" {
		t.Fatalf("%s", diff)
	}
}

func TestRejectedRequestsDoNotMutate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "dk1")
	h.register(t, "revoked")

	if response := h.do(dispatcher.Request{Verb: "POST", Credential: "dk1", Payload: payload("u1", `{"x":1}`)}); !response.Success() {
		t.Fatalf("expected success, got %#v", response)
	}

	if err := h.registry.Revoke(ctx, "revoked"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	before := h.snapshot(t)

	requests := map[string]dispatcher.Request{
		"post-missing":       {Verb: "POST", Payload: payload("u1", `{"x":2}`)},
		"post-unknown":       {Verb: "POST", Credential: "dk2", Payload: payload("u1", `{"x":2}`)},
		"post-revoked":       {Verb: "POST", Credential: "revoked", Payload: payload("u1", `{"x":2}`)},
		"post-partition":     {Verb: "POST", Credential: "dev_dk1", Payload: payload("u1", `{"x":2}`)},
		"put-unknown":        {Verb: "PUT", Credential: "dk2", Payload: payload("u1", `{"y":2}`)},
		"delete-missing":     {Verb: "DELETE", Key: "u1"},
		"delete-revoked":     {Verb: "DELETE", Credential: "revoked", Key: "u1"},
		"setauth-unknown":    {Verb: "SETAUTH", Credential: "dk2", Key: "u2"},
		"removeauth-unknown": {Verb: "REMOVEAUTH", Credential: "dk2", Key: "u1"},
		"createuser-missing": {Verb: "CREATEUSER", Key: "u3", Payload: payload("u3", `{"email":"a","password":"b"}`)},
		"signin-revoked":     {Verb: "SIGNIN", Credential: "revoked", Key: "u1", Payload: payload("u1", `{"email":"a","password":"b"}`)},
		"signout-unknown":    {Verb: "SIGNOUT", Credential: "dk2", Key: "u1"},
		"get-unknown":        {Verb: "GET", Credential: "dk2"},
	}

	for name, request := range requests {
		t.Run(name, func(t *testing.T) {
			response := h.do(request)

			if response.HTTPStatus != http.StatusForbidden {
				t.Fatalf("expected forbidden, got %#v", response)
			}

			if !credentials.IsRejection(response.Err) {
				t.Fatalf("expected a credential rejection, got %#v", response.Err)
			}

			diff := cmp.Diff(before, h.snapshot(t))

			if diff != "" {
				t.Fatalf("expected store to be unchanged: %s", diff)
			}
		})
	}

	// Registering again does not bring a revoked credential back
	response := h.do(dispatcher.Request{Verb: "SETDEV", Payload: payload("revoked", `{"developerKey":"revoked"}`)})

	if response.HTTPStatus != http.StatusForbidden || response.Err != registry.ErrRevoked {
		t.Fatalf("expected forbidden, got %#v", response)
	}

	diff := cmp.Diff(before, h.snapshot(t))

	if diff != "" {
		t.Fatalf("expected store to be unchanged: %s", diff)
	}
}

func TestUnsupportedVerb(t *testing.T) {
	h := newHarness(t)

	for _, verb := range []string{"PATCH", "get", "", "SetDev"} {
		response := h.do(dispatcher.Request{Verb: verb, Key: "u1"})

		if response.HTTPStatus != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 for %q, got %#v", verb, response)
		}
	}

	// Verb parsing happens before validation so nothing was read or created
	diff := cmp.Diff(map[string]map[string]string{}, h.snapshot(t))

	if diff != "" {
		t.Fatalf("%s", diff)
	}
}

func TestDataVerbs(t *testing.T) {
	h := newHarness(t)
	h.register(t, "dk1")

	steps := []struct {
		name    string
		request dispatcher.Request
		status  int
		message string
		data    string
	}{
		{name: "post", request: dispatcher.Request{Verb: "POST", Key: "u1", Payload: payload("u1", `{"x":1,"y":2}`)}, status: 200, message: "Data stored!"},
		{name: "post-payload-key", request: dispatcher.Request{Verb: "POST", Payload: payload("u2", `"hello"`)}, status: 200, message: "Data stored!"},
		{name: "post-no-key", request: dispatcher.Request{Verb: "POST", Payload: payload("", `{}`)}, status: 400, message: "Key is required."},
		{name: "put-merge", request: dispatcher.Request{Verb: "PUT", Key: "u1", Payload: payload("u1", `{"y":3,"z":4}`)}, status: 200, message: "Data updated!"},
		{name: "get-merged", request: dispatcher.Request{Verb: "GET", Key: "u1"}, status: 200, data: `{"x":1,"y":3,"z":4}`},
		{name: "put-create", request: dispatcher.Request{Verb: "PUT", Key: "u3", Payload: payload("u3", `{"a":true}`)}, status: 200, message: "Data updated!"},
		{name: "get-created", request: dispatcher.Request{Verb: "GET", Key: "u3"}, status: 200, data: `{"a":true}`},
		{name: "put-no-key", request: dispatcher.Request{Verb: "PUT", Payload: payload("", `{"a":true}`)}, status: 400, message: "Key is required for update."},
		{name: "scan", request: dispatcher.Request{Verb: "GET"}, status: 200, data: `{"u1":{"x":1,"y":3,"z":4},"u2":"hello","u3":{"a":true}}`},
		{name: "delete-no-key", request: dispatcher.Request{Verb: "DELETE"}, status: 400, message: "Key is required for deletion."},
		{name: "delete", request: dispatcher.Request{Verb: "DELETE", Key: "u1"}, status: 200, message: "Data removed by key!"},
		{name: "get-removed", request: dispatcher.Request{Verb: "GET", Key: "u1"}, status: 404, message: "No data found"},
		{name: "delete-again", request: dispatcher.Request{Verb: "DELETE", Key: "u1"}, status: 200, message: "Data removed by key!"},
	}

	for _, step := range steps {
		step.request.Credential = "dk1"
		response := h.do(step.request)

		if response.HTTPStatus != step.status {
			t.Fatalf("%s: expected status %d, got %#v", step.name, step.status, response)
		}

		if response.Message != step.message {
			t.Fatalf("%s: expected message %q, got %q", step.name, step.message, response.Message)
		}

		if step.data != "" {
			jsonEqual(t, step.data, response.Data)
		}
	}
}

func TestSetDev(t *testing.T) {
	testCases := map[string]struct {
		payload    *dispatcher.Payload
		status     int
		credential string
	}{
		"developer-key":      {payload: payload("ignored", `{"developerKey":"dk1","team":"a"}`), status: 200, credential: "dk1"},
		"payload-key":        {payload: payload("dk3", ""), status: 200, credential: "dk3"},
		"null-developer-key": {payload: payload("dk4", `{"developerKey":null}`), status: 200, credential: "dk4"},
		"neither":            {payload: payload("", `{"team":"a"}`), status: 400},
		"no-payload":         {status: 400},
		"not-object":         {payload: payload("dk5", `[1]`), status: 400},
		"key-not-string":     {payload: payload("dk6", `{"developerKey":6}`), status: 400},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			// The request credential plays no part in registration
			response := h.do(dispatcher.Request{Verb: "SETDEV", Credential: "unregistered", Payload: testCase.payload})

			if response.HTTPStatus != testCase.status {
				t.Fatalf("expected status %d, got %#v", testCase.status, response)
			}

			if testCase.status != http.StatusOK {
				diff := cmp.Diff(map[string]map[string]string{}, h.snapshot(t))

				if diff != "" {
					t.Fatalf("expected nothing to be written: %s", diff)
				}

				return
			}

			if response.Message != "Developer registered!" {
				t.Fatalf("expected registration message, got %#v", response)
			}

			registration, err := h.registry.Developer(context.Background(), testCase.credential)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if registration == nil || !registration.Valid || registration.StoreName != "dev_"+testCase.credential {
				t.Fatalf("expected a valid registration, got %#v", registration)
			}
		})
	}
}

func TestAuthVerbs(t *testing.T) {
	h := newHarness(t)
	h.register(t, "dk1")

	profile := `{"email":"a@b.c","password":"pw"}`

	steps := []struct {
		name    string
		request dispatcher.Request
		status  int
		message string
		data    string
	}{
		{name: "getauth-absent", request: dispatcher.Request{Verb: "GETAUTH", Key: "anon"}, status: 200, data: `{"authenticated":false}`},
		{name: "setauth", request: dispatcher.Request{Verb: "SETAUTH", Key: "anon"}, status: 200, message: "Authentication set!"},
		{name: "getauth-set", request: dispatcher.Request{Verb: "GETAUTH", Key: "anon"}, status: 200, data: `{"authenticated":true}`},
		{name: "removeauth", request: dispatcher.Request{Verb: "REMOVEAUTH", Key: "anon"}, status: 200, message: "Authentication removed!"},
		{name: "getauth-removed", request: dispatcher.Request{Verb: "GETAUTH", Key: "anon"}, status: 200, data: `{"authenticated":false}`},
		{name: "get-removed", request: dispatcher.Request{Verb: "GET", Key: "anon"}, status: 404, message: "No data found"},
		{name: "createuser", request: dispatcher.Request{Verb: "CREATEUSER", Key: "u1", Payload: payload("u1", profile)}, status: 200, message: "User created!"},
		{name: "getauth-created", request: dispatcher.Request{Verb: "GETAUTH", Key: "u1"}, status: 200, data: `{"authenticated":true}`},
		{name: "signout", request: dispatcher.Request{Verb: "SIGNOUT", Key: "u1"}, status: 200, message: "Signed out!"},
		{name: "getauth-signed-out", request: dispatcher.Request{Verb: "GETAUTH", Key: "u1"}, status: 200, data: `{"authenticated":false}`},
		{name: "signin-wrong", request: dispatcher.Request{Verb: "SIGNIN", Key: "u1", Payload: payload("u1", `{"email":"a@b.c","password":"nope"}`)}, status: 403, message: "authentication failed"},
		{name: "getauth-still-out", request: dispatcher.Request{Verb: "GETAUTH", Key: "u1"}, status: 200, data: `{"authenticated":false}`},
		{name: "signin", request: dispatcher.Request{Verb: "SIGNIN", Key: "u1", Payload: payload("u1", profile)}, status: 200, message: "Signed in!"},
		{name: "getauth-signed-in", request: dispatcher.Request{Verb: "GETAUTH", Key: "u1"}, status: 200, data: `{"authenticated":true}`},
		{name: "signout-absent", request: dispatcher.Request{Verb: "SIGNOUT", Key: "ghost"}, status: 404, message: "session record not found"},
		{name: "signin-no-profile", request: dispatcher.Request{Verb: "SIGNIN", Key: "u1"}, status: 400, message: "Email and password are required."},
		{name: "createuser-bad-profile", request: dispatcher.Request{Verb: "CREATEUSER", Key: "u2", Payload: payload("u2", `{"email":1}`)}, status: 400, message: "Email and password must be strings."},
		{name: "createuser-empty-object", request: dispatcher.Request{Verb: "CREATEUSER", Key: "u9", Payload: payload("u9", `{}`)}, status: 400, message: "Email and password are required."},
		{name: "createuser-no-password", request: dispatcher.Request{Verb: "CREATEUSER", Key: "u9", Payload: payload("u9", `{"email":"a@b.c"}`)}, status: 400, message: "Email and password are required."},
		{name: "createuser-empty-strings", request: dispatcher.Request{Verb: "CREATEUSER", Key: "u9", Payload: payload("u9", `{"email":"","password":""}`)}, status: 400, message: "Email and password are required."},
		{name: "get-not-created", request: dispatcher.Request{Verb: "GET", Key: "u9"}, status: 404, message: "No data found"},
		{name: "post-data", request: dispatcher.Request{Verb: "POST", Key: "d1", Payload: payload("d1", `{"x":1}`)}, status: 200, message: "Data stored!"},
		{name: "signin-data-empty-object", request: dispatcher.Request{Verb: "SIGNIN", Key: "d1", Payload: payload("d1", `{}`)}, status: 400, message: "Email and password are required."},
		{name: "signin-data-record", request: dispatcher.Request{Verb: "SIGNIN", Key: "d1", Payload: payload("d1", profile)}, status: 403, message: "authentication failed"},
		{name: "getauth-data-record", request: dispatcher.Request{Verb: "GETAUTH", Key: "d1"}, status: 200, data: `{"authenticated":false}`},
		{name: "get-data-unchanged", request: dispatcher.Request{Verb: "GET", Key: "d1"}, status: 200, data: `{"x":1}`},
		{name: "setauth-anon", request: dispatcher.Request{Verb: "SETAUTH", Key: "anon"}, status: 200, message: "Authentication set!"},
		{name: "signout-anon", request: dispatcher.Request{Verb: "SIGNOUT", Key: "anon"}, status: 200, message: "Signed out!"},
		{name: "signin-anon-empty-strings", request: dispatcher.Request{Verb: "SIGNIN", Key: "anon", Payload: payload("anon", `{"email":"","password":""}`)}, status: 400, message: "Email and password are required."},
		{name: "signin-anon", request: dispatcher.Request{Verb: "SIGNIN", Key: "anon", Payload: payload("anon", profile)}, status: 403, message: "authentication failed"},
		{name: "getauth-anon-still-out", request: dispatcher.Request{Verb: "GETAUTH", Key: "anon"}, status: 200, data: `{"authenticated":false}`},
	}

	for _, step := range steps {
		step.request.Credential = "dk1"
		response := h.do(step.request)

		if response.HTTPStatus != step.status {
			t.Fatalf("%s: expected status %d, got %#v", step.name, step.status, response)
		}

		if response.Message != step.message {
			t.Fatalf("%s: expected message %q, got %q", step.name, step.message, response.Message)
		}

		if step.data != "" {
			jsonEqual(t, step.data, response.Data)
		}
	}

	for _, verb := range []string{"SETAUTH", "REMOVEAUTH", "GETAUTH", "CREATEUSER", "SIGNIN", "SIGNOUT"} {
		response := h.do(dispatcher.Request{Verb: verb, Credential: "dk1", Payload: payload("", profile)})

		if response.HTTPStatus != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 without a key, got %#v", verb, response)
		}
	}
}

func TestStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.register(t, "dk1")

	if err := h.rootStore.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	for _, verb := range []string{"GET", "POST", "SETDEV"} {
		response := h.do(dispatcher.Request{Verb: verb, Credential: "dk1", Key: "u1", Payload: payload("dk9", `{"x":1}`)})

		if response.HTTPStatus != http.StatusInternalServerError || response.Status != "error" {
			t.Fatalf("%s: expected 500, got %#v", verb, response)
		}

		if !records.IsStoreError(response.Err) {
			t.Fatalf("%s: expected a StoreError, got %#v", verb, response.Err)
		}
	}
}

func TestStatusHint(t *testing.T) {
	testCases := map[string]struct {
		err    error
		status int
	}{
		"nil":           {status: 200},
		"bad-request":   {err: dispatcher.ErrBadRequest, status: 400},
		"empty":         {err: registry.ErrEmptyCredential, status: 400},
		"missing":       {err: credentials.ErrMissingCredential, status: 403},
		"unknown":       {err: credentials.ErrUnknownCredential, status: 403},
		"invalid":       {err: credentials.ErrInvalidCredential, status: 403},
		"auth-failure":  {err: session.ErrAuthFailure, status: 403},
		"revoked":       {err: registry.ErrRevoked, status: 403},
		"not-found":     {err: session.ErrNotFound, status: 404},
		"unsupported":   {err: dispatcher.ErrUnsupported, status: 405},
		"store-failure": {err: &records.StoreError{Op: records.OpGet, Err: kv.ErrClosed}, status: 500},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			if status := dispatcher.StatusHint(testCase.err); status != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, status)
			}
		})
	}
}

func TestParseVerb(t *testing.T) {
	for _, verb := range dispatcher.Verbs() {
		parsed, err := dispatcher.ParseVerb(string(verb))

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if parsed != verb {
			t.Fatalf("expected %s, got %s", verb, parsed)
		}
	}

	if len(dispatcher.Verbs()) != 11 {
		t.Fatalf("expected 11 verbs, got %d", len(dispatcher.Verbs()))
	}
}
