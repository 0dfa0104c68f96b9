package auth

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	minUserAge = 1
	maxUserAge = 150
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("age", func(fl validator.FieldLevel) bool {
		age, err := strconv.ParseInt(fl.Field().String(), 10, 32)
		return err == nil && age >= minUserAge && age <= maxUserAge
	})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type RegisterInput struct {
	Name        string `json:"name" validate:"required"`
	Surname     string `json:"surname" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`
	Age         string `json:"age" validate:"required,age"`
	Gender      string `json:"gender" validate:"required"`
	Address     string `json:"address" validate:"required"`
	State       string `json:"state" validate:"required"`
	District    string `json:"district" validate:"required"`
	Subdistrict string `json:"subdistrict" validate:"required"`
	PinCode     string `json:"pin_code" validate:"required,number,len=6"`
	// Avatar is an image source the uploader accepts, usually a data URI.
	Avatar string `json:"avatar" validate:"required"`
}

func (in *RegisterInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Surname = strings.TrimSpace(in.Surname)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.Age = strings.TrimSpace(in.Age)
	in.Gender = strings.TrimSpace(in.Gender)
	in.Address = strings.TrimSpace(in.Address)
	in.State = strings.TrimSpace(in.State)
	in.District = strings.TrimSpace(in.District)
	in.Subdistrict = strings.TrimSpace(in.Subdistrict)
	in.PinCode = strings.TrimSpace(in.PinCode)
	in.Avatar = strings.TrimSpace(in.Avatar)
	if strings.TrimSpace(in.Password) == "" {
		in.Password = ""
	}
}

func (in RegisterInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return toValidationError(err, "all fields are required")
	}
	return nil
}

func (in RegisterInput) user() (User, error) {
	age, err := strconv.ParseInt(in.Age, 10, 32)
	if err != nil || age < minUserAge || age > maxUserAge {
		return User{}, &ValidationError{Fields: []string{"age"}, Reason: "invalid number"}
	}
	pin, err := strconv.ParseInt(in.PinCode, 10, 32)
	if err != nil || pin < 0 {
		return User{}, &ValidationError{Fields: []string{"pin_code"}, Reason: "invalid number"}
	}

	return User{
		Name:        in.Name,
		Surname:     in.Surname,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		Age:         int(age),
		Gender:      in.Gender,
		Address:     in.Address,
		State:       in.State,
		District:    in.District,
		Subdistrict: in.Subdistrict,
		PinCode:     int(pin),
		Avatar:      in.Avatar,
	}, nil
}

type LoginInput struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

func (in *LoginInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
}

func (in LoginInput) Validate() error {
	if in.Email == "" && in.PhoneNumber == "" {
		return &ValidationError{Fields: []string{"email", "phone_number"}, Reason: "email or phone number is required"}
	}
	if in.Password == "" {
		return &ValidationError{Fields: []string{"password"}, Reason: "password is required"}
	}
	return nil
}

func toValidationError(err error, reason string) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Reason: reason}
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	return &ValidationError{Fields: fields, Reason: reason}
}
