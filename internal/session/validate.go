package session

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/locales/pt_BR"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	pt_translations "github.com/go-playground/validator/v10/translations/pt_BR"
)

// MinimumAge is the youngest age accepted at registration.
const MinimumAge = 13

const passwordSpecials = "@$!%*?&"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// messages overrides the generic translations for the rules users hit most.
var messages = map[string]string{
	"username.required":           "Nome de usuário é obrigatório",
	"username.min":                "Nome de usuário deve ter pelo menos 3 caracteres",
	"username.max":                "Nome de usuário deve ter no máximo 50 caracteres",
	"username.username":           "Nome de usuário pode conter apenas letras, números e underscore",
	"password.required":           "Senha é obrigatória",
	"password.min":                "Senha deve ter pelo menos 8 caracteres",
	"password.max":                "Senha deve ter no máximo 128 caracteres",
	"password.password":           "Senha deve conter maiúsculas, minúsculas, números e caracteres especiais",
	"confirmPassword.required":    "Confirmação de senha é obrigatória",
	"confirmPassword.eqfield":     "As senhas não coincidem",
	"name.required":               "Nome é obrigatório",
	"name.min":                    "Nome deve ter pelo menos 2 caracteres",
	"name.max":                    "Nome deve ter no máximo 100 caracteres",
	"email.required":              "Email é obrigatório",
	"email.email":                 "Email inválido",
	"email.max":                   "Email deve ter no máximo 255 caracteres",
	"birthDate.required":          "Data de nascimento é obrigatória",
	"birthDate.minage":            "Idade mínima é 13 anos",
	"bio.max":                     "Bio deve ter no máximo 500 caracteres",
	"avatarUrl.url":               "URL do avatar inválida",
	"currentPassword.required":    "Senha atual é obrigatória",
	"newPassword.required":        "Nova senha é obrigatória",
	"newPassword.min":             "Nova senha deve ter pelo menos 8 caracteres",
	"newPassword.max":             "Nova senha deve ter no máximo 128 caracteres",
	"newPassword.password":        "Nova senha deve conter maiúsculas, minúsculas, números e caracteres especiais",
	"confirmNewPassword.required": "Confirmação da nova senha é obrigatória",
	"confirmNewPassword.eqfield":  "As senhas não coincidem",
}

// Validator checks request payloads before they are sent.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
	now      func() time.Time
}

// NewValidator builds a Validator with Portuguese messages.
func NewValidator() *Validator {
	v := &Validator{validate: validator.New(), now: time.Now}

	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			// confirmation fields are not serialized
			return strings.ToLower(f.Name[:1]) + f.Name[1:]
		}
		return name
	})
	v.validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	v.validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	v.validate.RegisterValidation("minage", func(fl validator.FieldLevel) bool {
		return oldEnough(fl.Field().String(), v.now())
	})

	locale := pt_BR.New()
	uni := ut.New(locale, locale)
	v.trans, _ = uni.GetTranslator("pt_BR")
	_ = pt_translations.RegisterDefaultTranslations(v.validate, v.trans)
	return v
}

// Struct validates req and returns a *ValidationError listing every failure.
func (v *Validator) Struct(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fe.Translate(v.trans)
		}
		fields = append(fields, FieldError{Field: fe.Field(), Message: msg})
	}
	return &ValidationError{Fields: fields}
}

func strongPassword(s string) bool {
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	return lower && upper && digit && special
}

// oldEnough reports whether someone born on date is at least MinimumAge on now.
func oldEnough(date string, now time.Time) bool {
	born, err := time.Parse("2006-01-02", date)
	if err != nil {
		if born, err = time.Parse(time.RFC3339, date); err != nil {
			return false
		}
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age >= MinimumAge
}
