package slack

import (
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Client mirrors alert notifications to an operator Slack channel, best
// effort. The alert log stays the source of truth; Slack delivery failures
// are only logged.
type Client struct {
	api              *slack.Client
	channelID        string
	rateLimitBackoff time.Duration
}

// NewClient returns nil when Slack is not configured, which disables the
// mirror entirely.
func NewClient(token, channelID string) *Client {
	if token == "" || channelID == "" {
		log.Println("[INFO] Slack token or channel ID is not configured. Slack notifications will be disabled.")
		return nil
	}
	return &Client{
		api:       slack.New(token),
		channelID: channelID,
	}
}

// Notify posts an alert to the operator channel. Safe on a nil client.
func (c *Client) Notify(subject, message string) {
	if c == nil || c.api == nil {
		return
	}

	if c.rateLimitBackoff > 0 {
		log.Printf("[WARN] Skipping Slack notification due to rate limit backoff (%v)", c.rateLimitBackoff)
		return
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, subject, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, message, false, false), nil, nil),
	}
	_, _, err := c.api.PostMessage(c.channelID, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		if c.isRateLimitError(err) {
			c.handleRateLimit(err)
		} else {
			log.Printf("[ERROR] Failed to send Slack notification: %v", err)
		}
	}
}

// isRateLimitError checks if the error is related to rate limiting
func (c *Client) isRateLimitError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate_limited") ||
		strings.Contains(errStr, "message_limit_exceeded") ||
		strings.Contains(errStr, "too_many_requests")
}

// handleRateLimit implements backoff for rate limit errors
func (c *Client) handleRateLimit(err error) {
	backoffDuration := 1 * time.Minute

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "message_limit_exceeded") {
		backoffDuration = 5 * time.Minute
	}

	c.rateLimitBackoff = backoffDuration
	log.Printf("[WARN] Slack rate limit detected (%v). Notifications suppressed for %v", err, backoffDuration)

	go func() {
		time.Sleep(backoffDuration)
		c.rateLimitBackoff = 0
		log.Println("[INFO] Slack rate limit backoff period ended. Notifications will resume.")
	}()
}

// IsRateLimited returns true if the client is currently in a rate limit backoff period
func (c *Client) IsRateLimited() bool {
	if c == nil {
		return false
	}
	return c.rateLimitBackoff > 0
}
