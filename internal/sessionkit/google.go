package sessionkit

import (
	"context"

	"google.golang.org/api/idtoken"
)

// GoogleTokenValidator verifies Google ID tokens against an audience.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

type googleTokenValidator struct {
	validator *idtoken.Validator
}

// NewGoogleTokenValidator builds a validator backed by Google's public keys.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, err
	}
	return &googleTokenValidator{validator: validator}, nil
}

func (wrapper *googleTokenValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return wrapper.validator.Validate(ctx, token, audience)
}
