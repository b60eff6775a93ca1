package authapi

import "time"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type identityResponse struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type credentialsResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	Identity    identityResponse    `json:"identity"`
	Credentials credentialsResponse `json:"credentials"`
}

type refreshResponse struct {
	Credentials credentialsResponse `json:"credentials"`
}

type registerResponse struct {
	Identity identityResponse `json:"identity"`
}

type meResponse struct {
	Identity identityResponse `json:"identity"`
}
