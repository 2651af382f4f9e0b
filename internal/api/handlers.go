// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

type handlers struct {
	svc AuthService
}

func (h *handlers) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.svc.Register(c.UserContext(), auth.RegisterInput{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		ClientIP:     c.IP(),
	})
	if err != nil {
		return err
	}

	status, message := registerMessage(res)
	return c.Status(status).JSON(registerResponse{
		Message:   message,
		UserID:    res.IdentityID.String(),
		Email:     res.Email,
		EmailSent: res.EmailSent,
	})
}

func registerMessage(res *auth.RegisterResult) (int, string) {
	switch {
	case res.Resent && res.EmailSent:
		return fiber.StatusOK, "Account already registered but not verified. A new verification email was sent."
	case res.Resent:
		return fiber.StatusOK, "Account already registered but not verified. The verification email could not be sent; request a new one shortly."
	case res.EmailSent:
		return fiber.StatusCreated, "Registration received. Check your email to verify your account."
	default:
		return fiber.StatusCreated, "Registration received, but the verification email could not be sent. Request a new one shortly."
	}
}

func (h *handlers) verifyEmail(c *fiber.Ctx) error {
	var req verifyEmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	session, err := h.svc.VerifyEmail(c.UserContext(), req.Token, deviceInfo(c))
	if err != nil {
		return err
	}
	return c.JSON(newTokenResponse("Email verified", session.Tokens))
}

func (h *handlers) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	session, err := h.svc.Login(c.UserContext(), auth.LoginInput{
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		ClientIP:     c.IP(),
		DeviceInfo:   deviceInfo(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(newTokenResponse("Login successful", session.Tokens))
}

func (h *handlers) refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	grant, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(refreshResponse{
		Message:     "Token refreshed",
		AccessToken: grant.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(grant.ExpiresIn / time.Second),
	})
}

func (h *handlers) resendVerification(c *fiber.Ctx) error {
	var req resendRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.svc.ResendVerification(c.UserContext(), req.Email, req.CaptchaToken, c.IP())
	if err != nil {
		return err
	}
	message := "Verification email sent"
	if !res.EmailSent {
		message = "A new verification code was issued, but the email could not be sent. Try again shortly."
	}
	return c.JSON(messageResponse{Message: message})
}

func (h *handlers) logout(c *fiber.Ctx) error {
	id, ok := identityID(c)
	if !ok {
		return oops.Code(auth.CodeUnauthorized).Errorf("missing or invalid access token")
	}
	var req logoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := h.svc.Logout(c.UserContext(), id, req.RefreshToken); err != nil {
		return err
	}
	return c.JSON(messageResponse{Message: "Logged out"})
}

func (h *handlers) me(c *fiber.Ctx) error {
	id, ok := identityID(c)
	if !ok {
		return oops.Code(auth.CodeUnauthorized).Errorf("missing or invalid access token")
	}

	identity, err := h.svc.CurrentIdentity(c.UserContext(), id)
	if auth.Kind(err) == auth.CodeNotFound {
		// A token for a deleted identity is just an invalid token.
		return oops.Code(auth.CodeUnauthorized).Errorf("missing or invalid access token")
	}
	if err != nil {
		return err
	}
	return c.JSON(newIdentityResponse(identity))
}

// deviceInfo describes the client for refresh-token bookkeeping.
func deviceInfo(c *fiber.Ctx) map[string]string {
	// Header values alias fasthttp buffers that are reused after the request.
	info := map[string]string{"ip": utils.CopyString(c.IP())}
	if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
		info["user_agent"] = utils.CopyString(ua)
	}
	return info
}
