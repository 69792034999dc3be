package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shineum/mail-gateway/internal/email"
	"github.com/shineum/mail-gateway/internal/validator"
)

const (
	serviceName    = "email-service"
	serviceTitle   = "Email Service API"
	serviceVersion = "1.0"
)

// Client-facing messages produced by the HTTP layer itself.
const (
	msgUnauthorized     = "Chave de API inválida ou ausente"
	msgRateLimited      = "Limite de requisições excedido. Tente novamente mais tarde."
	msgRequestTooLarge  = "Requisição muito grande"
	msgUnreadableBody   = "Nenhum dado fornecido ou formato JSON inválido"
	msgServerError      = "Erro no servidor ao processar a solicitação"
	msgNotFound         = "Endpoint não encontrado"
	msgMethodNotAllowed = "Método não permitido"
)

// Endpoint documents one route in the /endpoints listing.
type Endpoint struct {
	Route       string `json:"rota"`
	Method      string `json:"método"`
	Description string `json:"descrição"`
}

// EndpointList is the body of GET {prefix}/endpoints.
type EndpointList struct {
	Service   string     `json:"serviço"`
	Version   string     `json:"versão"`
	Endpoints []Endpoint `json:"endpoints"`
}

// send handles POST {prefix}/enviar-email.
//
//	@Summary		Envia um email
//	@Description	Valida, sanitiza e entrega a mensagem ao servidor SMTP configurado.
//	@Tags			email
//	@Accept			json
//	@Produce		json
//	@Param			X-API-KEY	header		string		true	"Chave de API"
//	@Param			payload		body		SendPayload	true	"Mensagem"
//	@Success		200			{object}	response
//	@Failure		400			{object}	response
//	@Failure		401			{object}	response
//	@Failure		413			{object}	response
//	@Failure		415			{object}	response
//	@Failure		429			{object}	response
//	@Failure		500			{object}	response
//	@Router			/enviar-email [post]
func (s *Server) send(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			abortWith(c, http.StatusRequestEntityTooLarge, email.KindPayloadTooLarge, msgRequestTooLarge)
			return
		}
		s.logger.WarnContext(ctx, "failed to read request body", "error", err)
		abortWith(c, http.StatusBadRequest, email.KindMalformedJSON, msgUnreadableBody)
		return
	}

	req, err := validator.Validate(c.GetHeader("Content-Type"), body, s.limits)
	if err != nil {
		var verr *validator.Error
		if !errors.As(err, &verr) {
			verr = &validator.Error{Kind: email.KindMalformedJSON, Message: msgUnreadableBody}
		}
		s.logger.WarnContext(ctx, "request rejected",
			"kind", string(verr.Kind),
			"field", verr.Field,
		)
		abortWith(c, verr.Status(), verr.Kind, verr.Message)
		return
	}

	if req.Debug {
		s.logger.DebugContext(ctx, "client requested debug output; ignored",
			"smtp_server", s.cfg.SMTP.Server,
			"smtp_port", s.cfg.SMTP.Port,
		)
	}

	// The delivery outlives a disconnecting client; it is bounded by the
	// provider's own timeouts.
	res := s.provider.Send(context.WithoutCancel(ctx), req)
	c.Set(ctxKind, res.Kind)

	out := response{Success: res.Success, Message: res.Message, Detail: res.Detail}
	if res.Success {
		s.logger.InfoContext(ctx, "email delivered", "provider", s.provider.Name())
		c.JSON(http.StatusOK, out)
		return
	}

	s.logger.ErrorContext(ctx, "email delivery failed",
		"provider", s.provider.Name(),
		"kind", string(res.Kind),
		"detail", res.Detail,
	)
	if res.HardFailure() && !s.cfg.Development() {
		out.Detail = nil
	}
	c.JSON(http.StatusInternalServerError, out)
}

// preflight answers OPTIONS requests that carry no CORS headers.
func preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// health handles GET /health and GET {prefix}/health.
//
//	@Summary	Verificação de saúde do serviço
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	500	{object}	map[string]any
//	@Router		/health [get]
func (s *Server) health(c *gin.Context) {
	now := s.now()
	timestamp := float64(now.UnixNano()) / 1e9

	if err := s.cfg.Validate(); err != nil {
		s.logger.ErrorContext(c.Request.Context(), "health check failed", "error", err)
		c.Set(ctxKind, email.KindMissingConfiguration)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    "error",
			"message":   err.Error(),
			"timestamp": timestamp,
			"service":   serviceName,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"timestamp":        timestamp,
		"service":          serviceName,
		"version":          serviceVersion,
		"environment":      s.cfg.Service.Environment,
		"provider":         s.provider.Name(),
		"smtp_server":      s.cfg.SMTP.Server,
		"email_configured": s.cfg.EmailConfigured(),
		"port":             s.cfg.Service.Port,
		"log_level":        strings.ToUpper(s.cfg.Logging.Level),
	})
}

// endpoints handles GET {prefix}/endpoints.
//
//	@Summary	Lista os endpoints disponíveis
//	@Tags		docs
//	@Produce	json
//	@Success	200	{object}	EndpointList
//	@Router		/endpoints [get]
func (s *Server) endpoints(c *gin.Context) {
	c.JSON(http.StatusOK, EndpointList{
		Service:   serviceTitle,
		Version:   serviceVersion,
		Endpoints: s.endpointList(),
	})
}

func (s *Server) endpointList() []Endpoint {
	p := s.prefix
	return []Endpoint{
		{Route: "/health", Method: http.MethodGet, Description: "Verificação de saúde do serviço"},
		{Route: p + "/enviar-email", Method: http.MethodPost, Description: "Envio de email (requer X-API-KEY)"},
		{Route: p + "/endpoints", Method: http.MethodGet, Description: "Lista de endpoints disponíveis"},
		{Route: p + "/schema", Method: http.MethodGet, Description: "JSON Schema do corpo de envio"},
		{Route: p + "/docs/index.html", Method: http.MethodGet, Description: "Documentação Swagger"},
	}
}

// root handles GET /.
func (s *Server) root(c *gin.Context) {
	routes := make(map[string]string)
	for _, e := range s.endpointList() {
		routes[e.Route] = e.Method + " - " + e.Description
	}

	c.JSON(http.StatusOK, gin.H{
		"service":       serviceTitle,
		"version":       serviceVersion,
		"endpoints":     routes,
		"documentation": s.prefix + "/docs/index.html",
		"port":          s.cfg.Service.Port,
		"mode":          s.cfg.Service.Environment,
	})
}

// schema handles GET {prefix}/schema.
func (s *Server) schema(c *gin.Context) {
	c.JSON(http.StatusOK, s.payloadSchema)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, response{Message: msgNotFound})
}

func methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, response{Message: msgMethodNotAllowed})
}
