package events

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gatherly/server/internal/sanitize"
	"github.com/go-playground/validator/v10"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10000
	maxLocationLength    = 255
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Input carries the raw submitted event fields from either adapter.
type Input struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=10000"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string `json:"time" validate:"required,datetime=15:04"`
	Location    string `json:"location" validate:"required,max=255"`
	IsPrivate   bool   `json:"is_private"`
}

// Fields is validated, sanitized input ready for persistence.
type Fields struct {
	Title       string
	Description string
	Date        time.Time
	Time        string
	Location    string
	IsPrivate   bool
}

// ValidateInput checks and normalizes raw input. Single-line fields are
// stripped of HTML entirely; descriptions keep safe formatting tags.
func ValidateInput(input Input) (Fields, error) {
	input.Title = sanitize.Text(input.Title)
	input.Description = sanitize.Description(input.Description)
	input.Location = sanitize.Text(input.Location)
	input.Date = strings.TrimSpace(input.Date)
	input.Time = strings.TrimSpace(input.Time)

	if err := validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return Fields{}, ValidationError{Fields: fieldErrors(verrs)}
		}
		return Fields{}, err
	}

	date, err := time.Parse("2006-01-02", input.Date)
	if err != nil {
		return Fields{}, ValidationError{Fields: []FieldError{{Field: "date", Message: "must be a valid date (YYYY-MM-DD)"}}}
	}

	return Fields{
		Title:       input.Title,
		Description: input.Description,
		Date:        date,
		Time:        input.Time,
		Location:    input.Location,
		IsPrivate:   input.IsPrivate,
	}, nil
}

func fieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, v := range verrs {
		field := strings.ToLower(v.Field())
		switch v.Tag() {
		case "required":
			out = append(out, FieldError{Field: field, Message: "is required"})
		case "max":
			out = append(out, FieldError{Field: field, Message: "is too long (max " + v.Param() + " characters)"})
		case "datetime":
			message := "must be a valid date (YYYY-MM-DD)"
			if field == "time" {
				message = "must be a valid time (HH:MM)"
			}
			out = append(out, FieldError{Field: field, Message: message})
		default:
			out = append(out, FieldError{Field: field, Message: "is invalid"})
		}
	}
	return out
}

// ParseFilters builds listing filters from query parameters. The API surface
// additionally searches descriptions and accepts is_private/date/ordering
// parameters; the web surface supports q and when only.
func ParseFilters(values url.Values, api bool) (Filters, error) {
	filters := Filters{
		Query:             strings.TrimSpace(values.Get("q")),
		SearchDescription: api,
	}
	if api {
		if search := strings.TrimSpace(values.Get("search")); search != "" {
			filters.Query = search
		}
	}

	switch strings.ToLower(strings.TrimSpace(values.Get("when"))) {
	case "":
		filters.Window = WindowAny
	case "upcoming":
		filters.Window = WindowUpcoming
	case "past":
		filters.Window = WindowPast
	default:
		return Filters{}, FieldError{Field: "when", Message: "must be upcoming or past"}
	}

	if !api {
		return filters, nil
	}

	if raw := strings.TrimSpace(values.Get("is_private")); raw != "" {
		switch strings.ToLower(raw) {
		case "true", "1":
			v := true
			filters.IsPrivate = &v
		case "false", "0":
			v := false
			filters.IsPrivate = &v
		default:
			return Filters{}, FieldError{Field: "is_private", Message: "must be true or false"}
		}
	}

	if raw := strings.TrimSpace(values.Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Filters{}, FieldError{Field: "date", Message: "must be ISO8601 date"}
		}
		filters.Date = &parsed
	}

	if raw := strings.TrimSpace(values.Get("ordering")); raw != "" {
		desc := strings.HasPrefix(raw, "-")
		field := strings.TrimPrefix(raw, "-")
		switch field {
		case "date":
			filters.Order = OrderDate
		case "time":
			filters.Order = OrderTime
		case "title":
			filters.Order = OrderTitle
		default:
			return Filters{}, FieldError{Field: "ordering", Message: "must be one of date, time, title"}
		}
		filters.Descending = desc
	}

	return filters, nil
}
