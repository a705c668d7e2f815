package api

import (
	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/auth/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	UserID       string `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

type registerRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	GroupID  *string `json:"group_id"`
}

type createGroupRequest struct {
	Name string `json:"name"`
}

type joinGroupRequest struct {
	GroupID string `json:"group_id"`
}

type loginResponse struct {
	session.Issued
	User identity.PublicUser `json:"user"`
}

type meResponse struct {
	User identity.PublicUser `json:"user"`
}
