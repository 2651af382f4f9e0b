// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package api

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

// tokenMaxLength bounds opaque token fields before they reach the service.
const tokenMaxLength = 4096

type registerRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

func (r *registerRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.CaptchaToken, validation.Length(0, tokenMaxLength)),
	)
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (r *verifyEmailRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Token, validation.Required, validation.Length(1, 64)),
	)
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

func (r *loginRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Required, validation.Length(0, auth.EmailMaxLength)),
		validation.Field(&r.Password, validation.Required, validation.Length(0, auth.PasswordMaxLength)),
		validation.Field(&r.CaptchaToken, validation.Length(0, tokenMaxLength)),
	)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *refreshRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Required, validation.Length(1, tokenMaxLength)),
	)
}

type resendRequest struct {
	Email        string `json:"email"`
	CaptchaToken string `json:"captcha_token"`
}

func (r *resendRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Required, validation.Length(0, auth.EmailMaxLength)),
		validation.Field(&r.CaptchaToken, validation.Length(0, tokenMaxLength)),
	)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *logoutRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Length(0, tokenMaxLength)),
	)
}

// bind decodes the JSON body into req and validates it. Both failures are
// VALIDATION_FAILED.
func bind(c *fiber.Ctx, req validation.Validatable) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return oops.Code(auth.CodeValidationFailed).
				With(auth.KeyFields, map[string]string{"body": "must be a valid JSON object"}).
				Errorf("request body is not valid JSON")
		}
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	fields := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	}
	return oops.Code(auth.CodeValidationFailed).
		With(auth.KeyFields, fields).
		Errorf("request validation failed")
}

type messageResponse struct {
	Message string `json:"message"`
}

type registerResponse struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	EmailSent bool   `json:"email_sent"`
}

type tokenResponse struct {
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type refreshResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type identityResponse struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Tier       string     `json:"tier"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  time.Time  `json:"created_at"`
	LastLogin  *time.Time `json:"last_login"`
}

func newTokenResponse(message string, pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		Message:      message,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(pair.ExpiresIn / time.Second),
	}
}

func newIdentityResponse(identity *auth.Identity) identityResponse {
	return identityResponse{
		ID:         identity.ID.String(),
		Username:   identity.Username,
		Email:      identity.Email,
		Tier:       string(identity.Tier),
		IsVerified: identity.IsVerified,
		CreatedAt:  identity.CreatedAt,
		LastLogin:  identity.LastLogin,
	}
}
