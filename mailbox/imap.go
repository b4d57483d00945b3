package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/snikic01/BelexEmailerFinal-v1.0/config"
	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = time.Minute
)

// IMAPDialer returns a Dialer that logs in over implicit TLS and selects
// the configured folder.
func IMAPDialer(cfg config.MailboxConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: dialTimeout}, cfg.Addr, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
		}
		c.Timeout = commandTimeout

		if err := c.Login(cfg.Username, cfg.Password); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
		}
		if _, err := c.Select(cfg.Folder, false); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("select %s: %w", cfg.Folder, err)
		}
		logger.Debug("imap session open", slog.String("addr", cfg.Addr), slog.String("folder", cfg.Folder))
		return &imapConn{client: c, subjectFilter: cfg.SubjectFilter}, nil
	}
}

type imapConn struct {
	client        *client.Client
	subjectFilter string
}

func (c *imapConn) FetchUnseen(ctx context.Context) ([]models.InboundMail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if c.subjectFilter != "" {
		criteria.Header.Add("Subject", c.subjectFilter)
	}
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(set, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var out []models.InboundMail
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		mail := models.InboundMail{
			UID:       msg.Uid,
			MessageID: msg.Envelope.MessageId,
			Subject:   msg.Envelope.Subject,
			Date:      msg.Envelope.Date,
		}
		if len(msg.Envelope.From) > 0 && msg.Envelope.From[0] != nil {
			mail.From = msg.Envelope.From[0].Address()
		}
		out = append(out, mail)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

func (c *imapConn) MarkSeen(ctx context.Context, uid uint32) error {
	set := new(imap.SeqSet)
	set.AddNum(uid)
	flags := []interface{}{imap.SeenFlag}
	if err := c.client.UidStore(set, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("store seen flag on %d: %w", uid, err)
	}
	return nil
}

func (c *imapConn) Done() <-chan struct{} {
	return c.client.LoggedOut()
}

func (c *imapConn) Close() error {
	return c.client.Logout()
}
