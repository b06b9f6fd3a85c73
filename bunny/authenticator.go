package bunny

// Authenticator supplies the credentials sent in each Authenticate frame and
// is told about the broker's verdict.
type Authenticator interface {
	Credentials(username string, password string) (string, string, error)
	Completed(username string, ok bool, reason string)
}

type staticAuthenticator struct{}

func (staticAuthenticator) Credentials(username string, password string) (string, string, error) {
	return username, password, nil
}

func (staticAuthenticator) Completed(string, bool, string) {}
