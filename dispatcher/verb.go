package dispatcher

import (
	"fmt"
)

// Verb is a request method token. Tokens are case-sensitive.
type Verb string

const (
	// VerbGet reads one record or scans the partition
	VerbGet Verb = "GET"
	// VerbPost upserts a record
	VerbPost Verb = "POST"
	// VerbPut merges into a record
	VerbPut Verb = "PUT"
	// VerbDelete removes a record
	VerbDelete Verb = "DELETE"
	// VerbSetDev registers a developer credential
	VerbSetDev Verb = "SETDEV"
	// VerbSetAuth marks a user key authenticated
	VerbSetAuth Verb = "SETAUTH"
	// VerbRemoveAuth deletes a user's session record
	VerbRemoveAuth Verb = "REMOVEAUTH"
	// VerbGetAuth reports whether a user key is authenticated
	VerbGetAuth Verb = "GETAUTH"
	// VerbCreateUser creates a user with a profile
	VerbCreateUser Verb = "CREATEUSER"
	// VerbSignIn authenticates a user against its profile
	VerbSignIn Verb = "SIGNIN"
	// VerbSignOut clears a user's authenticated flag
	VerbSignOut Verb = "SIGNOUT"
)

// Verbs lists every supported verb
func Verbs() []Verb {
	return append([]Verb(nil), verbOrder...)
}

// ParseVerb returns the verb named by token or
// ErrUnsupported if there is no such verb
func ParseVerb(token string) (Verb, error) {
	verb := Verb(token)

	if _, ok := handlers[verb]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, token)
	}

	return verb, nil
}

var verbOrder = []Verb{
	VerbGet,
	VerbPost,
	VerbPut,
	VerbDelete,
	VerbSetDev,
	VerbSetAuth,
	VerbRemoveAuth,
	VerbGetAuth,
	VerbCreateUser,
	VerbSignIn,
	VerbSignOut,
}
