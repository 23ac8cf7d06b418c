package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const report_discord_send = "discord.send"

const defaultUsername = "Keebatron"

// ErrRateLimited is returned when the webhook asks us to slow down, the
// message should be retried later.
var ErrRateLimited = errors.New("webhook rate limited")

type DiscordOptions struct {
	WebhookURL string
	// Username overrides the webhook's display name.
	Username string
	Timeout  time.Duration
}

type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Discord posts messages to a discord webhook.
type Discord struct {
	http     *resty.Client
	webhook  string
	username string
	tel      telemetry.API
}

func NewDiscord(options DiscordOptions, tel telemetry.API) (*Discord, error) {
	assert.NotNil(tel)
	if options.WebhookURL == "" {
		return nil, fmt.Errorf("discord: webhook url is required")
	}
	if options.Username == "" {
		options.Username = defaultUsername
	}
	if options.Timeout <= 0 {
		options.Timeout = time.Second * 15
	}

	tel = telemetry.NewScopedAPI("notify", tel)

	httpClient := resty.New()
	httpClient.SetTimeout(options.Timeout)
	httpClient.SetHeader("accept", "application/json")
	telemetry.InstrumentResty(httpClient, tel)

	return &Discord{
		http:     httpClient,
		webhook:  options.WebhookURL,
		username: options.Username,
		tel:      tel,
	}, nil
}

func (d *Discord) Send(ctx context.Context, message string) error {
	res, err := d.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(discordMessage{Content: message, Username: d.username}).
		Post(d.webhook)
	if err != nil {
		d.tel.ReportWarning(report_discord_send, err)
		return fmt.Errorf("discord: %w", err)
	}

	switch {
	case res.StatusCode() == http.StatusTooManyRequests:
		retryAfter, _ := strconv.ParseFloat(res.Header().Get("retry-after"), 64)
		err = fmt.Errorf("discord: %w, retry after %.1fs", ErrRateLimited, retryAfter)
		d.tel.ReportWarning(report_discord_send, err)
		return err
	case res.IsError():
		err = fmt.Errorf("discord: status %d: %s", res.StatusCode(), res.String())
		d.tel.ReportBroken(report_discord_send, err)
		return err
	}
	return nil
}
