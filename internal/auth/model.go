package auth

import "time"

type User struct {
	ID                    string
	Name                  string
	Surname               string
	Email                 string
	PhoneNumber           string
	PasswordHash          string
	Age                   int
	Gender                string
	Address               string
	State                 string
	District              string
	Subdistrict           string
	PinCode               int
	Avatar                string
	RefreshToken          *string
	RefreshTokenExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type PublicUser struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Surname     string    `json:"surname"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	Age         int       `json:"age"`
	Gender      string    `json:"gender"`
	Address     string    `json:"address"`
	State       string    `json:"state"`
	District    string    `json:"district"`
	Subdistrict string    `json:"subdistrict"`
	PinCode     int       `json:"pin_code"`
	Avatar      string    `json:"avatar,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Name:        u.Name,
		Surname:     u.Surname,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Age:         u.Age,
		Gender:      u.Gender,
		Address:     u.Address,
		State:       u.State,
		District:    u.District,
		Subdistrict: u.Subdistrict,
		PinCode:     u.PinCode,
		Avatar:      u.Avatar,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

type Tokens struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

type Session struct {
	User PublicUser `json:"user"`
	Tokens
}
