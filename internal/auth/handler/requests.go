package handler

import s "perroquet/pkg/string"

type signUpRequest struct {
	Username string `json:"username" validate:"omitempty,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=10,max=128"`
}

func (r *signUpRequest) sanitize() {
	s.TrimStrings(&r.Username, &r.Email)
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *signInRequest) sanitize() {
	s.TrimStrings(&r.Email)
}

type appleSignInRequest struct {
	Code    string `json:"code" validate:"required,notblank"`
	Surface string `json:"surface" validate:"required,oneof=ios android web"`
}

func (r *appleSignInRequest) sanitize() {
	s.TrimStrings(&r.Code, &r.Surface)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,notblank"`
}

type messagingTokenRequest struct {
	MessagingToken string `json:"messaging_token" validate:"required,notblank"`
}

type emailUpdateRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *emailUpdateRequest) sanitize() {
	s.TrimStrings(&r.Email)
}

type emailConfirmRequest struct {
	Token string `json:"token" validate:"required,notblank"`
}

type passwordForgotRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *passwordForgotRequest) sanitize() {
	s.TrimStrings(&r.Email)
}

type passwordResetRequest struct {
	Token    string `json:"token" validate:"required,notblank"`
	Password string `json:"password" validate:"required,min=10,max=128"`
}
