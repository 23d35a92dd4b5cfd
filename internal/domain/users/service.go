package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/sanitize"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt password hashing.
const BcryptCost = 12

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterInput is the raw registration form.
type RegisterInput struct {
	Username string `validate:"required,min=3,max=150,alphanumunicode"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=128"`
}

// Service handles account registration and authentication.
type Service struct {
	repo   Repository
	tokens *auth.JWTManager
	logger zerolog.Logger
}

func NewService(repo Repository, tokens *auth.JWTManager, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		logger: logger.With().Str("component", "users").Logger(),
	}
}

// Register creates a new account. Username and email are checked for
// uniqueness before the insert; the repository enforces it again so a
// concurrent duplicate still surfaces as ErrUsernameTaken or ErrEmailTaken.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	input.Username = sanitize.Text(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	if err := validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, registrationError(verrs)
		}
		return nil, fmt.Errorf("validate registration: %w", err)
	}

	if _, err := s.repo.GetByUsername(ctx, input.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if _, err := s.repo.GetByEmail(ctx, input.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, CreateParams{
		ID:           uuid.NewString(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Login verifies the credentials and returns a signed token for the account.
// Unknown usernames and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	username = sanitize.Text(username)

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user logged in")
	return token, user, nil
}

// GetByID fetches an account by its id.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func registrationError(verrs validator.ValidationErrors) error {
	out := events.ValidationError{}
	for _, verr := range verrs {
		field := strings.ToLower(verr.Field())
		var msg string
		switch verr.Tag() {
		case "required":
			msg = "is required"
		case "email":
			msg = "must be a valid email address"
		case "min":
			msg = "is too short (min " + verr.Param() + " characters)"
		case "max":
			msg = "is too long (max " + verr.Param() + " characters)"
		case "alphanumunicode":
			msg = "may only contain letters and digits"
		default:
			msg = "is invalid"
		}
		out.Fields = append(out.Fields, events.FieldError{Field: field, Message: msg})
	}
	return out
}
