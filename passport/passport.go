// Package passport obtains the ticket presented with "USR TWN S" by talking
// to the Passport 1.4 login servers.
package passport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultNexusURL = "https://nexus.passport.com/rdr/pprdr.asp"

	// maxRedirects bounds how often a login server may send us elsewhere.
	maxRedirects = 5
)

var (
	ErrAuthFailed     = errors.New("Passport rejected the account or password")
	ErrNoLoginURL     = errors.New("Nexus reply did not name a login server")
	ErrMalformedReply = errors.New("Malformed Passport reply")
	ErrTooManyHops    = errors.New("Too many Passport redirects")
)

// TicketIssuer exchanges credentials and the server's TWN challenge for a
// ticket.
type TicketIssuer interface {
	Ticket(ctx context.Context, account, password, challenge string) (string, error)
}

type Options struct {
	// NexusURL is asked for the login server, DefaultNexusURL when empty.
	NexusURL string

	// LoginURL skips the nexus lookup when set.
	LoginURL string

	Timeout time.Duration

	Log *zap.Logger
}

// Client is a TicketIssuer using net/http.
type Client struct {
	http *http.Client

	nexusURL string
	loginURL string

	log *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.NexusURL == "" {
		opts.NexusURL = DefaultNexusURL
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			// Redirects carry the credentials, they are followed by hand
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		nexusURL: opts.NexusURL,
		loginURL: opts.LoginURL,
		log:      opts.Log,
	}
}

// Ticket runs the nexus lookup, if needed, and the login request.
func (c *Client) Ticket(ctx context.Context, account, password, challenge string) (string, error) {
	if c.loginURL == "" {
		loginURL, err := c.lookupLoginURL(ctx)
		if err != nil {
			return "", err
		}

		c.loginURL = loginURL
	}

	target := c.loginURL

	for hop := 0; hop < maxRedirects; hop++ {
		ticket, next, err := c.login(ctx, target, account, password, challenge)
		if err != nil {
			return "", err
		}

		if next == "" {
			return ticket, nil
		}

		c.log.Debug("Passport login redirected", zap.String("location", next))
		target = next
	}

	return "", ErrTooManyHops
}

func (c *Client) lookupLoginURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nexusURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("nexus request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nexus replied %d: %w", resp.StatusCode, ErrMalformedReply)
	}

	fields := parseFields(resp.Header.Get("PassportURLs"))

	login, ok := fields["DALogin"]
	if !ok || login == "" {
		return "", ErrNoLoginURL
	}

	return withScheme(login), nil
}

// login performs one login request. It returns the ticket, or the location
// of the next login server to try.
func (c *Client) login(ctx context.Context, target, account, password, challenge string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf(
		"Passport1.4 OrgVerb=GET,OrgURL=http%%3A%%2F%%2Fmessenger%%2Emsn%%2Ecom,sign-in=%s,pwd=%s,%s",
		url.QueryEscape(account), url.QueryEscape(password), challenge))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		info := parseFields(strings.TrimPrefix(resp.Header.Get("Authentication-Info"), "Passport1.4 "))

		ticket := strings.Trim(info["from-PP"], "'")
		if ticket == "" {
			return "", "", fmt.Errorf("no ticket in reply: %w", ErrMalformedReply)
		}

		return ticket, "", nil

	case http.StatusFound, http.StatusMovedPermanently, http.StatusSeeOther, http.StatusTemporaryRedirect:
		location := resp.Header.Get("Location")
		if location == "" {
			return "", "", fmt.Errorf("redirect without location: %w", ErrMalformedReply)
		}

		return "", location, nil

	case http.StatusUnauthorized:
		return "", "", ErrAuthFailed

	default:
		return "", "", fmt.Errorf("login server replied %d: %w", resp.StatusCode, ErrMalformedReply)
	}
}

// parseFields splits "a=b,c='d,e'" style header values.
func parseFields(s string) map[string]string {
	fields := make(map[string]string)

	for len(s) > 0 {
		var part string

		end := strings.IndexByte(s, ',')
		if q := strings.Index(s, "='"); q >= 0 && (end < 0 || q < end) {
			// Quoted values may contain commas
			if closing := strings.IndexByte(s[q+2:], '\''); closing >= 0 {
				after := q + 2 + closing + 1

				end = -1
				if c := strings.IndexByte(s[after:], ','); c >= 0 {
					end = after + c
				}
			}
		}

		if end < 0 {
			part, s = s, ""
		} else {
			part, s = s[:end], s[end+1:]
		}

		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok {
			fields[key] = value
		}
	}

	return fields
}

func withScheme(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}

	return "https://" + host
}

var _ TicketIssuer = (*Client)(nil)
