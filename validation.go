package auth

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// PasswordCredentials is the payload for email/password sign in.
type PasswordCredentials struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will validate the payload
func (r PasswordCredentials) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// SignupPayload is the payload for email/password registration.
type SignupPayload struct {
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	DisplayName string `form:"name" json:"name"`
	Country     string `form:"country" json:"country"`
	Language    string `form:"language" json:"language"`
}

// Validate will validate the payload. Password strength is left to the
// authority so its policy wins.
func (r SignupPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 256)),
		validation.Field(&r.DisplayName, validation.Length(0, 200)),
		validation.Field(&r.Country, validation.Length(0, 64)),
		validation.Field(&r.Language, validation.Length(0, 16)),
	)
}

// MagicLinkPayload requests a passwordless email link.
type MagicLinkPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r MagicLinkPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

// PhoneOTPPayload requests an SMS code.
type PhoneOTPPayload struct {
	Phone string `form:"phone" json:"phone"`
}

// Validate will validate the payload
func (r PhoneOTPPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.Length(7, 32)),
	)
}

// VerifyOTPPayload exchanges an SMS code for a session.
type VerifyOTPPayload struct {
	Phone string `form:"phone" json:"phone"`
	Code  string `form:"code" json:"code"`
}

// Validate will validate the payload
func (r VerifyOTPPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.Length(7, 32)),
		validation.Field(&r.Code, validation.Required, validation.Length(4, 10), is.Digit),
	)
}

// OAuthPayload starts a provider redirect.
type OAuthPayload struct {
	Provider string `form:"provider" json:"provider"`
}

// Validate will validate the payload
func (r OAuthPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Provider, validation.Required, validation.Length(2, 32), is.LowerCase),
	)
}

// ResendPayload asks for another confirmation email.
type ResendPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r ResendPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

func validationFailure(err error) *Failure {
	meta := map[string]any{}
	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			meta[field] = ferr.Error()
		}
	}
	wrapped := wrapKind(KindValidation, err, meta)
	return &Failure{Kind: KindValidation, Message: err.Error(), Err: wrapped}
}
