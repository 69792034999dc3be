// Package validator turns a raw send-email request body into a sanitized
// email.Request, applying a fixed sequence of checks. The first failing check
// decides the error returned to the client.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	playground "github.com/go-playground/validator/v10"

	"github.com/shineum/mail-gateway/internal/email"
	"github.com/shineum/mail-gateway/internal/sanitizer"
)

// Wire names of the request fields, checked for presence in this order.
const (
	FieldRecipient = "destinatario"
	FieldSubject   = "assunto"
	FieldBody      = "corpo"
	FieldDebug     = "debug"
)

const (
	// MaxSubjectLength is measured in characters after sanitization.
	MaxSubjectLength = 200
	// MaxBodyLength is measured in characters after sanitization.
	MaxBodyLength = 50000
	// DefaultMaxPayloadBytes is the ceiling for the JSON payload itself.
	DefaultMaxPayloadBytes = 100 * 1024
)

var requiredFields = []string{FieldRecipient, FieldSubject, FieldBody}

// plainTextFields are stripped without HTML escaping: the recipient goes into
// the envelope and the subject into a header. The body stays HTML.
var plainTextFields = map[string]bool{FieldRecipient: true, FieldSubject: true}

var addressValidator = playground.New()

// Limits holds the size ceilings applied by Validate.
type Limits struct {
	MaxPayloadBytes int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: DefaultMaxPayloadBytes}
}

// Error is a classified validation failure.
type Error struct {
	Kind    email.Kind
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	switch e.Kind {
	case email.KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case email.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func fail(kind email.Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate runs the checks in order:
//
//  1. content type declares JSON
//  2. body is not empty
//  3. body fits in limits.MaxPayloadBytes
//  4. body is a JSON object
//  5. the object has at least one key
//  6. every string value is stripped of HTML; recipient and subject are
//     kept as unescaped plain text
//  7. destinatario, assunto and corpo are present
//  8. the recipient is a structurally valid address
//  9. the subject is 1..MaxSubjectLength characters
//  10. the body is 1..MaxBodyLength characters
//
// The returned error is always a *Error.
func Validate(contentType string, body []byte, limits Limits) (email.Request, error) {
	if !isJSON(contentType) {
		return email.Request{}, fail(email.KindUnsupportedMediaType, "",
			"Formato de requisição inválido. Content-Type deve ser application/json")
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return email.Request{}, fail(email.KindEmptyBody, "", "Nenhum dado fornecido")
	}

	if limits.MaxPayloadBytes > 0 && int64(len(body)) > limits.MaxPayloadBytes {
		return email.Request{}, fail(email.KindPayloadTooLarge, "",
			"Payload muito grande (máximo %d bytes)", limits.MaxPayloadBytes)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return email.Request{}, fail(email.KindMalformedJSON, "",
			"Nenhum dado fornecido ou formato JSON inválido")
	}
	raw, ok := decoded.(map[string]any)
	if !ok {
		return email.Request{}, fail(email.KindMalformedJSON, "",
			"Nenhum dado fornecido ou formato JSON inválido")
	}

	if len(raw) == 0 {
		return email.Request{}, fail(email.KindEmptyBody, "", "Nenhum dado fornecido")
	}

	data := sanitizer.Object(raw)

	fields := make(map[string]string, len(requiredFields))
	for _, name := range requiredFields {
		v, present := data[name]
		if !present {
			return email.Request{}, fail(email.KindMissingField, name, "Campo obrigatório ausente: %s", name)
		}
		s, isString := v.(string)
		if !isString {
			return email.Request{}, fail(email.KindMalformedJSON, name, "Campo %s deve ser texto", name)
		}
		if plainTextFields[name] {
			s = sanitizer.Text(raw[name].(string))
		}
		fields[name] = s
	}

	recipient := strings.TrimSpace(fields[FieldRecipient])
	if !ValidRecipient(recipient) {
		return email.Request{}, fail(email.KindInvalidRecipient, FieldRecipient,
			"Endereço de email do destinatário inválido")
	}

	subject := fields[FieldSubject]
	if strings.TrimSpace(subject) == "" {
		return email.Request{}, fail(email.KindMissingField, FieldSubject, "Campo obrigatório vazio: %s", FieldSubject)
	}
	if utf8.RuneCountInString(subject) > MaxSubjectLength {
		return email.Request{}, fail(email.KindSubjectTooLong, FieldSubject,
			"Assunto muito longo (máximo %d caracteres)", MaxSubjectLength)
	}

	content := fields[FieldBody]
	if strings.TrimSpace(content) == "" {
		return email.Request{}, fail(email.KindMissingField, FieldBody, "Campo obrigatório vazio: %s", FieldBody)
	}
	if utf8.RuneCountInString(content) > MaxBodyLength {
		return email.Request{}, fail(email.KindBodyTooLong, FieldBody,
			"Corpo do email muito longo (máximo %d caracteres)", MaxBodyLength)
	}

	debug, _ := data[FieldDebug].(bool)

	return email.Request{
		Recipient: recipient,
		Subject:   subject,
		Body:      content,
		Debug:     debug,
	}, nil
}

// ValidRecipient reports whether addr looks like local-part@domain with at
// least one dot in the domain. It checks shape only, not deliverability.
func ValidRecipient(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, " \t\r\n<>") {
		return false
	}
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	domain := addr[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return addressValidator.Var(addr, "required,email") == nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
