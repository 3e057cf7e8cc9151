package backend

import "context"

// Responder produces one reply for one piece of submitted text
type Responder interface {
	// Reply blocks until the reply is ready or the exchange has failed
	Reply(ctx context.Context, text string) (string, error)

	// Name identifies the responder in logs and spans
	Name() string
}

// CredentialSource supplies the credential at call time
type CredentialSource interface {
	Credential() string
}

// StaticCredential is a CredentialSource with a fixed value
type StaticCredential string

func (s StaticCredential) Credential() string { return string(s) }

// CredentialFunc adapts a function to CredentialSource
type CredentialFunc func() string

func (f CredentialFunc) Credential() string { return f() }
