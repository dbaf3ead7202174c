package models

import "time"

// User is the authenticated account.
type User struct {
	ID       string        `json:"id"`
	Email    string        `json:"email"`
	Profile  *UserProfile  `json:"profile,omitempty"`
	Settings *UserSettings `json:"settings,omitempty"`
}

// DisplayName returns the profile name, falling back to the email.
func (u User) DisplayName() string {
	if u.Profile != nil && u.Profile.Name != "" {
		return u.Profile.Name
	}
	return u.Email
}

// UserProfile is the editable public profile.
type UserProfile struct {
	ID            string     `json:"id,omitempty"`
	Name          string     `json:"name"`
	PhotoURL      *string    `json:"photoUrl,omitempty"`
	Bio           *string    `json:"bio,omitempty"`
	BirthDate     *string    `json:"birthDate,omitempty"`
	Profession    *string    `json:"profession,omitempty"`
	MaritalStatus *string    `json:"maritalStatus,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// UserSettings holds privacy and notification preferences.
type UserSettings struct {
	IsVisible            bool `json:"isVisible"`
	ShowAge              bool `json:"showAge"`
	ShowProfession       bool `json:"showProfession"`
	ShowMaritalStatus    bool `json:"showMaritalStatus"`
	NotifyOnReencounter  bool `json:"notifyOnReencounter"`
	NotifyOnMessage      bool `json:"notifyOnMessage"`
	NotifyOnGroupMessage bool `json:"notifyOnGroupMessage"`
	AllowMessages        bool `json:"allowMessages"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
}

// Profile is a peer's full profile, only reachable through a proximity token.
type Profile struct {
	ID            string   `json:"id"`
	UserID        string   `json:"userId,omitempty"`
	Name          string   `json:"name"`
	Bio           *string  `json:"bio,omitempty"`
	PhotoURL      *string  `json:"photoUrl,omitempty"`
	Age           *int     `json:"age,omitempty"`
	Profession    *string  `json:"profession,omitempty"`
	MaritalStatus *string  `json:"maritalStatus,omitempty"`
	Distance      *float64 `json:"distance,omitempty"`
	Bearing       *float64 `json:"bearing,omitempty"`
}

// ProximityToken is a short-lived credential to view a peer's profile.
// Its validity is re-checked server-side against the current distance.
type ProximityToken struct {
	Token        string    `json:"token"`
	TargetUserID string    `json:"targetUserId"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// Block is an entry of the user's block list.
type Block struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"userId"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// BlockStatus is returned by GET /blocks/check/:userId.
type BlockStatus struct {
	Blocked bool `json:"blocked"`
}

// UploadResult is returned by the upload endpoints.
type UploadResult struct {
	URL string `json:"url"`
}
