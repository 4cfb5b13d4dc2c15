package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Mailer is a thin client for the transactional-email sink. Fire-and-forget:
// callers only care whether the send was accepted.
type Mailer struct {
	c *resty.Client
}

func NewMailer(baseURL string) *Mailer {
	return &Mailer{
		c: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

func (m *Mailer) SendOrderConfirmation(ctx context.Context, orderID, userID string) error {
	resp, err := m.c.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"template": "order_confirmation",
			"order_id": orderID,
			"user_id":  userID,
		}).
		Post("/v1/send")
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("mailer returned status %d", resp.StatusCode())
	}
	return nil
}
