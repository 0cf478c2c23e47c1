package authsession

import (
	"encoding/json"
	"fmt"
	"net/mail"
)

// UserProfile is the normalized frontend user model. It flattens the
// backend's nested profile object into the fields the rest of the app reads.
type UserProfile struct {
	ID                     int64  `json:"id"`
	Email                  string `json:"email"`
	DisplayName            string `json:"displayName"`
	ProfileImageURL        string `json:"profileImageUrl,omitempty"`
	HasCompletedOnboarding bool   `json:"hasCompletedOnboarding"`
}

// profilePayload is the backend wire shape for GET /auth/me.
// Presence of optional fields is tracked with pointers so parsing can fail
// closed on anything required that is absent.
type profilePayload struct {
	ID       *int64  `json:"id"`
	Email    *string `json:"email"`
	Fullname string  `json:"fullname"`
	Profile  *struct {
		DisplayName            *string `json:"display_name"`
		ProfileImageURL        *string `json:"profile_image_url"`
		HasCompletedOnboarding *bool   `json:"has_completed_onboarding"`
	} `json:"profile"`
}

// ParseProfile validates and normalizes a backend profile response.
// A missing required field rejects the whole profile: a malformed profile is
// "not authenticated," never a partially valid user.
func ParseProfile(data []byte) (*UserProfile, error) {
	var p profilePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("authsession: decoding profile: %w", err)
	}

	switch {
	case p.ID == nil:
		return nil, &ProfileValidationError{Field: "id"}
	case p.Email == nil:
		return nil, &ProfileValidationError{Field: "email"}
	case p.Profile == nil:
		return nil, &ProfileValidationError{Field: "profile"}
	case p.Profile.DisplayName == nil || *p.Profile.DisplayName == "":
		return nil, &ProfileValidationError{Field: "profile.display_name"}
	case p.Profile.HasCompletedOnboarding == nil:
		return nil, &ProfileValidationError{Field: "profile.has_completed_onboarding"}
	}

	if _, err := mail.ParseAddress(*p.Email); err != nil {
		return nil, &ProfileValidationError{Field: "email"}
	}

	user := &UserProfile{
		ID:                     *p.ID,
		Email:                  *p.Email,
		DisplayName:            *p.Profile.DisplayName,
		HasCompletedOnboarding: *p.Profile.HasCompletedOnboarding,
	}
	if p.Profile.ProfileImageURL != nil {
		user.ProfileImageURL = *p.Profile.ProfileImageURL
	}
	return user, nil
}
