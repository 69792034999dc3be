package server

import (
	"github.com/invopop/jsonschema"

	"github.com/shineum/mail-gateway/internal/validator"
)

// SendPayload documents the body of POST {prefix}/enviar-email. Requests are
// decoded by the validator package; this type only drives the published
// JSON Schema and Swagger model.
type SendPayload struct {
	Destinatario string `json:"destinatario" jsonschema:"required,format=email,description=Endereço do destinatário" example:"alguem@example.com"`
	Assunto      string `json:"assunto" jsonschema:"required,minLength=1,maxLength=200,description=Assunto da mensagem" example:"Olá"`
	Corpo        string `json:"corpo" jsonschema:"required,minLength=1,maxLength=50000,description=Corpo em HTML. Marcação é removida antes do envio" example:"<p>Mensagem</p>"`
	Debug        bool   `json:"debug,omitempty" jsonschema:"description=Aceito por compatibilidade e ignorado"`
}

// newPayloadSchema reflects SendPayload, taking length limits from the
// validator package.
func newPayloadSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(&SendPayload{})
	s.Title = "Envio de email"

	if p, ok := s.Properties.Get(validator.FieldSubject); ok {
		maxLen := uint64(validator.MaxSubjectLength)
		p.MaxLength = &maxLen
	}
	if p, ok := s.Properties.Get(validator.FieldBody); ok {
		maxLen := uint64(validator.MaxBodyLength)
		p.MaxLength = &maxLen
	}
	return s
}
