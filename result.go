package auth

// Result is the outcome of an auth method handler. Exactly one of the
// concrete types below is returned.
type Result interface {
	Success() bool
	result()
}

// LoginOK means the user is signed in and should be routed to RedirectTo.
type LoginOK struct {
	User       *User
	RedirectTo string
}

// NeedsVerification means the account exists but the email must be confirmed.
type NeedsVerification struct {
	Email   string
	Message string
}

// Pending means a follow-up step happens out of band (email, SMS, provider
// redirect). RedirectURL is set for OAuth.
type Pending struct {
	Message     string
	RedirectURL string
}

// Failure carries the classified error and the text to show.
type Failure struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (*LoginOK) Success() bool           { return true }
func (*NeedsVerification) Success() bool { return true }
func (*Pending) Success() bool           { return true }
func (*Failure) Success() bool           { return false }

func (*LoginOK) result()           {}
func (*NeedsVerification) result() {}
func (*Pending) result()           {}
func (*Failure) result()           {}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

func fail(kind ErrorKind, err error) *Failure {
	return &Failure{Kind: kind, Message: UserMessage(kind, err), Err: err}
}
