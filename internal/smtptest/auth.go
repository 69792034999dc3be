package smtptest

import (
	"encoding/base64"
	"errors"

	"github.com/emersion/go-sasl"
)

var errBadCredentials = errors.New("authentication failed")

// authenticator checks AUTH credentials against the configured account.
type authenticator struct {
	username string
	password string
}

// enabled returns true if an account is configured.
func (a *authenticator) enabled() bool {
	return a.username != "" && a.password != ""
}

// verifyPlain decodes an AUTH PLAIN response (base64 of authzid\0user\0pass)
// and runs it through a SASL PLAIN server. It returns the authenticated user.
func (a *authenticator) verifyPlain(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.New("invalid base64 encoding")
	}

	var user string
	srv := sasl.NewPlainServer(func(_, username, password string) error {
		if username != a.username || password != a.password {
			return errBadCredentials
		}
		user = username
		return nil
	})
	if _, _, err := srv.Next(decoded); err != nil {
		return "", err
	}
	return user, nil
}

// verifyLogin checks AUTH LOGIN credentials, both base64-encoded.
func (a *authenticator) verifyLogin(encodedUser, encodedPass string) (string, error) {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return "", errors.New("invalid base64 username")
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return "", errors.New("invalid base64 password")
	}

	if string(user) != a.username || string(pass) != a.password {
		return "", errBadCredentials
	}
	return string(user), nil
}
