package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"learnkit/core"
)

const (
	defaultHost    = "https://api.sendgrid.com"
	endpoint       = "/v3/mail/send"
	defaultTimeout = 10 * time.Second
)

// Config configures the SendGrid mailer.
type Config struct {
	APIKey        string `json:"api_key" env:"LEARNKIT_SENDGRID_API_KEY"`
	FromAddress   string `json:"from_address" env:"LEARNKIT_EMAIL_FROM_ADDRESS"`
	FromName      string `json:"from_name" env:"LEARNKIT_EMAIL_FROM_NAME"`
	SubjectPrefix string `json:"subject_prefix" env:"LEARNKIT_EMAIL_SUBJECT_PREFIX"`
	// Host overrides the API host; empty means the public SendGrid API.
	Host string `json:"host,omitempty" env:"LEARNKIT_SENDGRID_HOST"`
	// Timeout bounds one API call; zero means 10s.
	Timeout time.Duration `json:"timeout,omitempty" env:"LEARNKIT_SENDGRID_TIMEOUT"`
}

// SendGrid delivers mail through the SendGrid v3 API.
type SendGrid struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	client     *rest.Client
}

func NewSendGrid(cfg Config) (*SendGrid, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if cfg.FromAddress == "" {
		return nil, errors.New("from address is required")
	}
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SendGrid{
		client:     &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		key:        cfg.APIKey,
		host:       host,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		subjPrefix: cfg.SubjectPrefix,
	}, nil
}

func (s *SendGrid) prepare(msg core.Email) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return m
}

// Send posts one message. A non-2xx answer is reported as an error.
// The call is abandoned when ctx ends or the configured timeout elapses.
func (s *SendGrid) Send(ctx context.Context, msg core.Email) error {
	if msg.To == "" {
		return fmt.Errorf("%w: email has no recipient", core.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, endpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	httpReq, err := rest.BuildRequestObject(req)
	if err != nil {
		return fmt.Errorf("building email request: %w", err)
	}
	httpRes, err := s.client.MakeRequest(httpReq.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return fmt.Errorf("reading email response: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// Log writes messages to a logger instead of sending them. Used in development.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, msg core.Email) error {
	l.logger.InfoContext(ctx, "email",
		"to", msg.To,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return nil
}
