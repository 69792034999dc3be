// Package email defines the request and result types shared by the validator,
// the delivery providers and the HTTP layer.
package email

// Kind classifies the outcome of validating or delivering a message.
type Kind string

const (
	KindNone                 Kind = ""
	KindMissingConfiguration Kind = "missing_configuration"
	KindUnsupportedMediaType Kind = "unsupported_media_type"
	KindEmptyBody            Kind = "empty_body"
	KindMalformedJSON        Kind = "malformed_json"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindMissingField         Kind = "missing_field"
	KindInvalidRecipient     Kind = "invalid_recipient"
	KindSubjectTooLong       Kind = "subject_too_long"
	KindBodyTooLong          Kind = "body_too_long"
	KindUnauthorized         Kind = "unauthorized"
	KindRateLimited          Kind = "rate_limited"
	KindAuthentication       Kind = "authentication_error"
	KindConnection           Kind = "connection_error"
	KindProtocol             Kind = "protocol_error"
	KindPartialDelivery      Kind = "partial_delivery"
	KindUnexpected           Kind = "unexpected_fault"
)

// Fixed user-facing messages. Raw error text never goes into these.
const (
	MsgSent                 = "Email enviado com sucesso!"
	MsgMissingConfiguration = "Erro de configuração do servidor de email."
	MsgConnection           = "Não foi possível conectar ao servidor SMTP."
	MsgDisconnected         = "Servidor SMTP desconectou inesperadamente."
	MsgSecureChannel        = "Falha ao iniciar canal seguro com o servidor SMTP."
	MsgProtocol             = "Erro de protocolo SMTP."
	MsgAuthentication       = "Falha na autenticação. Verifique usuário e senha."
	MsgPartialDelivery      = "Problemas com alguns destinatários."
	MsgUnexpected           = "Erro inesperado ao enviar email."
)

// Request is a validated, sanitized send request. It is built once per HTTP
// request and never modified afterwards.
type Request struct {
	Recipient string
	Subject   string
	Body      string

	// Debug records that the client asked for debug output. Providers ignore it.
	Debug bool
}

// Result is the outcome of a single delivery attempt.
type Result struct {
	Success bool   `json:"sucesso"`
	Kind    Kind   `json:"-"`
	Message string `json:"mensagem"`
	Detail  any    `json:"detalhes,omitempty"`
}

// Rejection describes a recipient refused by the upstream server.
type Rejection struct {
	Code    int    `json:"codigo"`
	Message string `json:"mensagem"`
}

// Sent returns the success result.
func Sent() Result {
	return Result{Success: true, Message: MsgSent}
}

// Failed returns a failure result of the given kind.
func Failed(kind Kind, message string, detail any) Result {
	return Result{Kind: kind, Message: message, Detail: detail}
}

// PartiallyDelivered returns the soft-failure result carrying the rejection map.
func PartiallyDelivered(rejected map[string]Rejection) Result {
	return Result{Kind: KindPartialDelivery, Message: MsgPartialDelivery, Detail: rejected}
}

// HardFailure reports whether the result is a failure other than a partial delivery.
func (r Result) HardFailure() bool {
	return !r.Success && r.Kind != KindPartialDelivery
}
