package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/config"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport delivers email through AWS SES v2.
type SESTransport struct {
	client           sesAPI
	configurationSet string
	logger           *zap.Logger
}

func NewSESTransport(ctx context.Context, cfg *config.MailConfig, logger *zap.Logger) (*SESTransport, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSESTransport(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet, logger), nil
}

func newSESTransport(client sesAPI, configurationSet string, logger *zap.Logger) *SESTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SESTransport{client: client, configurationSet: configurationSet, logger: logger}
}

func (t *SESTransport) SendEmail(ctx context.Context, env Envelope) (string, error) {
	body := &types.Body{
		Html: &types.Content{Data: aws.String(withAttachmentLinks(env.HTML, env.Attachments)), Charset: aws.String("UTF-8")},
	}
	if env.Text != "" {
		body.Text = &types.Content{Data: aws.String(env.Text), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination:      &types.Destination{ToAddresses: []string{env.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(env.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: messageTags(env.Tags),
	}
	if env.ReplyTo != "" {
		input.ReplyToAddresses = []string{env.ReplyTo}
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// SendText is unsupported on SES.
func (t *SESTransport) SendText(ctx context.Context, to, body string) error {
	return rejection(CodeSMSNotConfigured, "no sms sender configured")
}

func classifySESError(err error) error {
	var (
		rejected  *types.MessageRejected
		domain    *types.MailFromDomainNotVerifiedException
		suspended *types.AccountSuspendedException
		paused    *types.SendingPausedException
		throttled *types.TooManyRequestsException
		limited   *types.LimitExceededException
	)
	switch {
	case errors.As(err, &rejected):
		return rejection(CodeMessageRejected, "%s", aws.ToString(rejected.Message))
	case errors.As(err, &domain):
		return rejection(CodeCannotSendFromDomain, "%s", aws.ToString(domain.Message))
	case errors.As(err, &suspended):
		return rejection(CodeSendingDisabled, "%s", aws.ToString(suspended.Message))
	case errors.As(err, &paused):
		return rejection(CodeSendingDisabled, "%s", aws.ToString(paused.Message))
	case errors.As(err, &throttled), errors.As(err, &limited):
		return transientErr(err, "ses throttled")
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return rejection(CodeMessageRejected, "%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return transientErr(err, "ses send")
}

func messageTags(tags map[string]string) []types.MessageTag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.MessageTag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.MessageTag{Name: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func withAttachmentLinks(body string, attachments []string) string {
	if len(attachments) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	for _, link := range attachments {
		escaped := html.EscapeString(link)
		fmt.Fprintf(&b, `<p><a href="%s">%s</a></p>`, escaped, escaped)
	}
	return b.String()
}
