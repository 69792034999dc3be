// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mail-gateway/internal/email"
)

// defaultTimeout bounds a single SendEmail call.
const defaultTimeout = 30 * time.Second

// rejectedCode is reported for recipients refused with MessageRejected.
const rejectedCode = 554

// authErrorCodes are API error codes caused by bad or unauthorized credentials.
var authErrorCodes = map[string]bool{
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
}

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	Timeout         time.Duration
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API. Each Send is a single API
// call; the SDK's own retryer is disabled.
type Provider struct {
	sender  string
	client  SendEmailAPI
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithTimeout bounds each SendEmail call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New creates a Provider backed by an SES v2 client built from cfg. Static
// credentials are used when both keys are set, otherwise the default AWS
// credential chain applies.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Timeout > 0 {
		opts = append([]Option{WithTimeout(cfg.Timeout)}, opts...)
	}
	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg), opts...), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI, opts ...Option) *Provider {
	p := &Provider{
		sender:  sender,
		client:  client,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send delivers the request as a simple HTML message.
func (p *Provider) Send(ctx context.Context, req email.Request) email.Result {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	out, err := p.client.SendEmail(ctx, buildInput(p.sender, req))
	if err != nil {
		res := classify(req.Recipient, err)
		p.logger.Warn("SES API error",
			"provider", p.Name(),
			"kind", string(res.Kind),
			"error", err,
		)
		return res
	}

	p.logger.Info("email sent",
		"provider", p.Name(),
		"message_id", aws.ToString(out.MessageId),
	)
	return email.Sent()
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// buildInput creates a SES SendEmailInput with a single HTML body.
func buildInput(sender string, req email.Request) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination: &types.Destination{
			ToAddresses: []string{req.Recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(req.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(req.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}

// classify maps an SES error onto the delivery taxonomy.
func classify(recipient string, err error) email.Result {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return email.PartiallyDelivered(map[string]email.Rejection{
			recipient: {Code: rejectedCode, Message: rejected.ErrorMessage()},
		})
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if authErrorCodes[apiErr.ErrorCode()] {
			return email.Failed(email.KindAuthentication, email.MsgAuthentication, err.Error())
		}
		return email.Failed(email.KindProtocol, email.MsgProtocol, err.Error())
	}

	return email.Failed(email.KindConnection, email.MsgConnection, err.Error())
}
