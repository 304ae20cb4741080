package notify

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// SMTPConfig configures the email digest notifier.
type SMTPConfig struct {
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
}

// SMTPNotifier emails the mismatch digest with an XLSX report attached.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates an SMTPNotifier with the given config.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

// SendMismatchDigest implements Notifier.
func (n *SMTPNotifier) SendMismatchDigest(ctx context.Context, d Digest) error {
	if n.cfg.Host == "" || len(n.cfg.To) == 0 {
		return eris.New("notify: smtp host and recipients are required")
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return eris.Wrap(err, "notify: smtp from address")
	}
	if err := msg.To(n.cfg.To...); err != nil {
		return eris.Wrap(err, "notify: smtp to addresses")
	}
	msg.Subject(fmt.Sprintf("Address verification: %d state mismatch(es)", len(d.Mismatches)))
	msg.SetBodyString(mail.TypeTextPlain, renderText(d))

	report, err := renderXLSX(d)
	if err != nil {
		return err
	}
	if err := msg.AttachReader("state-mismatches.xlsx", report); err != nil {
		return eris.Wrap(err, "notify: smtp attach report")
	}

	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}

	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return eris.Wrap(err, "notify: smtp client")
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return eris.Wrap(err, "notify: smtp send")
	}

	zap.L().Info("mismatch digest emailed",
		zap.String("run_id", d.RunID),
		zap.Int("mismatches", len(d.Mismatches)),
		zap.Strings("to", n.cfg.To),
	)
	return nil
}

var _ Notifier = (*SMTPNotifier)(nil)
