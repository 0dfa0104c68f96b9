package otp

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html/template"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"shetmall-auth/internal/auth"
)

const (
	codeMin  = 100000
	codeSpan = 900000

	defaultTTL               = 10 * time.Minute
	defaultDependencyTimeout = 5 * time.Second

	mailSubject = "Your OTP Code"
)

var (
	ErrCodeNotFound = fmt.Errorf("%w: code expired or never issued", auth.ErrNotFound)
	ErrCodeMismatch = fmt.Errorf("%w: code does not match", auth.ErrUnauthorized)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Generate returns a six digit code drawn uniformly from [100000, 999999].
func Generate() string {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		panic(fmt.Sprintf("otp: read random: %v", err))
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10)
}

type MailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// CodeStore binds an issued code to an email until it is consumed or expires.
type CodeStore interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	Consume(ctx context.Context, email, code string) error
}

type sendInput struct {
	Email string `validate:"required,email"`
}

type verifyInput struct {
	Email string `validate:"required,email"`
	Code  string `validate:"required,numeric,len=6"`
}

type Service struct {
	sender   MailSender
	codes    CodeStore
	ttl      time.Duration
	timeout  time.Duration
	generate func() string
}

// NewService builds a code sender. codes may be nil, in which case codes are
// mailed but never bound and Verify always fails.
func NewService(sender MailSender, codes CodeStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		sender:   sender,
		codes:    codes,
		ttl:      ttl,
		timeout:  defaultDependencyTimeout,
		generate: Generate,
	}
}

func (s *Service) WithDependencyTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.timeout = timeout
	}
}

// CanVerify reports whether issued codes are bound and can be checked later.
func (s *Service) CanVerify() bool {
	return s.codes != nil
}

func (s *Service) Send(ctx context.Context, email string) error {
	in := sendInput{Email: normalizeEmail(email)}
	if err := validate.Struct(in); err != nil {
		return &auth.ValidationError{Fields: []string{"email"}, Reason: "a valid email is required"}
	}

	code := s.generate()
	if s.codes != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.codes.Save(callCtx, in.Email, code, s.ttl)
		cancel()
		if err != nil {
			return dependencyError(err, "save code")
		}
	}

	body, err := renderCodeEmail(code, s.ttl)
	if err != nil {
		return fmt.Errorf("%w: render code email: %v", auth.ErrInternal, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.sender.Send(callCtx, in.Email, mailSubject, body); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: send code: %v", auth.ErrDependencyUnavailable, err)
		}
		return fmt.Errorf("%w: %v", auth.ErrDelivery, err)
	}
	return nil
}

func (s *Service) Verify(ctx context.Context, email, code string) error {
	in := verifyInput{Email: normalizeEmail(email), Code: strings.TrimSpace(code)}
	if err := validate.Struct(in); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
		}
		return &auth.ValidationError{Fields: fields, Reason: "a valid email and six digit code are required"}
	}
	if s.codes == nil {
		return ErrCodeNotFound
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.codes.Consume(callCtx, in.Email, in.Code)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeMismatch):
		return err
	default:
		return dependencyError(err, "consume code")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func dependencyError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, auth.ErrDependencyUnavailable) {
		return fmt.Errorf("%w: %s: %v", auth.ErrDependencyUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", auth.ErrInternal, op, err)
}

var codeEmail = template.Must(template.New("code").Parse(`<div style="max-width:600px;margin:auto;padding:20px;font-family:Arial,sans-serif;color:#333;background-color:#f9f9f9;border-radius:8px;">
  <div style="background-color:#fff;padding:30px;border-radius:8px;">
    <h2 style="color:#204E51;font-size:24px;margin-bottom:20px;">Your Verification Code</h2>
    <p style="font-size:16px;line-height:1.5;color:#555;">Dear User,</p>
    <p style="font-size:16px;line-height:1.5;color:#555;">To complete your verification process, please use the following OTP code:</p>
    <div style="font-size:36px;font-weight:bold;color:#204E51;margin:20px 0;">{{.Code}}</div>
    <p style="font-size:16px;line-height:1.5;color:#555;">This OTP is valid for the next {{.Minutes}} minutes. Please do not share this code with anyone.</p>
    <p style="font-size:16px;line-height:1.5;color:#555;">If you did not request this code, please ignore this email.</p>
  </div>
  <div style="text-align:center;margin-top:30px;font-size:12px;color:#999;">
    <p>&copy; {{.Year}} Shetmall. All rights reserved.</p>
  </div>
</div>`))

func renderCodeEmail(code string, ttl time.Duration) (string, error) {
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var buf bytes.Buffer
	err := codeEmail.Execute(&buf, map[string]any{
		"Code":    code,
		"Minutes": minutes,
		"Year":    time.Now().Year(),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
