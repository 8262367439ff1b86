package gmail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/warriorguo/blockflow/poller"
	"github.com/warriorguo/blockflow/types"
)

var (
	_ poller.Feed = &Feed{}
)

type FeedOptions struct {
	BaseURL string `default:"https://gmail.googleapis.com/gmail/v1"`
	// default: 5, requests per second shared by every mailbox of the feed.
	RequestsPerSecond float64 `default:"5"`
	Burst             int     `default:"10"`
	// default: 5, history pages followed by one Changes call.
	MaxHistoryPages int           `default:"5"`
	Timeout         time.Duration `default:"30s"`
	HTTPClient      *http.Client
}

type FeedOption func(*FeedOptions)

func WithBaseURL(url string) FeedOption {
	return func(opts *FeedOptions) {
		opts.BaseURL = url
	}
}

func WithRateLimit(requestsPerSecond float64, burst int) FeedOption {
	return func(opts *FeedOptions) {
		opts.RequestsPerSecond = requestsPerSecond
		opts.Burst = burst
	}
}

func WithHTTPClient(c *http.Client) FeedOption {
	return func(opts *FeedOptions) {
		opts.HTTPClient = c
	}
}

/**
 * Feed reads new messages of a mailbox through the Gmail REST API. The
 * credential handed to Changes and Search is an OAuth access token.
 */
type Feed struct {
	opts    *FeedOptions
	http    *http.Client
	limiter *rate.Limiter
}

func NewFeed(options ...FeedOption) *Feed {
	opts := &FeedOptions{}
	defaults.SetDefaults(opts)
	for _, option := range options {
		option(opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Feed{
		opts:    opts,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return "gmail responded " + strconv.Itoa(e.status) + ": " + e.body
}

func (f *Feed) get(ctx context.Context, credential, path string, params url.Values, v any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return errors.Annotatef(err, "rate limiter")
	}

	endpoint := strings.TrimRight(f.opts.BaseURL, "/") + "/" + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return types.NewTransportError("gmail "+path, err, errors.Is(err, context.DeadlineExceeded))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotatef(err, "read gmail response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: string(body)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Annotatef(err, "decode gmail response of %s", path)
	}
	return nil
}

type messageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type historyResponse struct {
	History []struct {
		ID            string `json:"id"`
		MessagesAdded []struct {
			Message messageRef `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	HistoryID     string `json:"historyId"`
	NextPageToken string `json:"nextPageToken"`
}

/**
 * Changes lists the messages added since cursor. Gmail answers 404 for a
 * history id it no longer keeps, that is reported as ErrCursorInvalid.
 */
func (f *Feed) Changes(ctx context.Context, credential, cursor string) (*poller.ChangeSet, error) {
	refs := make([]messageRef, 0)
	seen := make(map[string]bool)
	latest := cursor

	pageToken := ""
	for page := 0; page < f.opts.MaxHistoryPages; page++ {
		params := url.Values{}
		params.Set("startHistoryId", cursor)
		params.Set("historyTypes", "messageAdded")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		resp := &historyResponse{}
		if err := f.get(ctx, credential, "users/me/history", params, resp); err != nil {
			var se *statusError
			if errors.As(err, &se) && se.status == http.StatusNotFound {
				return nil, errors.Annotatef(poller.ErrCursorInvalid, "history %s", cursor)
			}
			return nil, errors.Trace(err)
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if !seen[added.Message.ID] {
					seen[added.Message.ID] = true
					refs = append(refs, added.Message)
				}
			}
		}
		if resp.HistoryID != "" {
			latest = resp.HistoryID
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	items, err := f.items(ctx, credential, refs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &poller.ChangeSet{Items: items, Cursor: latest}, nil
}

type listResponse struct {
	Messages []messageRef `json:"messages"`
}

type profileResponse struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

// Search runs the label query and returns the mailbox's current history id as the cursor.
func (f *Feed) Search(ctx context.Context, credential string, query poller.Query) (*poller.ChangeSet, error) {
	params := url.Values{}
	if q := BuildQuery(query); q != "" {
		params.Set("q", q)
	}
	if query.Limit > 0 {
		params.Set("maxResults", strconv.Itoa(query.Limit))
	}

	// the cursor is read first, a message arriving during the search is
	// then reported again by the next history read instead of lost
	profile := &profileResponse{}
	if err := f.get(ctx, credential, "users/me/profile", nil, profile); err != nil {
		return nil, errors.Annotatef(err, "read profile")
	}

	list := &listResponse{}
	if err := f.get(ctx, credential, "users/me/messages", params, list); err != nil {
		return nil, errors.Annotatef(err, "search messages")
	}

	items, err := f.items(ctx, credential, list.Messages)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &poller.ChangeSet{Items: items, Cursor: profile.HistoryID}, nil
}

type messageMetadata struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	HistoryID    string   `json:"historyId"`
	InternalDate string   `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

var metadataHeaders = []string{"From", "To", "Subject", "Date"}

// items fetches the metadata of refs, a message deleted in between is skipped.
func (f *Feed) items(ctx context.Context, credential string, refs []messageRef) ([]*poller.Item, error) {
	items := make([]*poller.Item, 0, len(refs))
	for _, ref := range refs {
		params := url.Values{}
		params.Set("format", "metadata")
		for _, h := range metadataHeaders {
			params.Add("metadataHeaders", h)
		}

		msg := &messageMetadata{}
		if err := f.get(ctx, credential, "users/me/messages/"+url.PathEscape(ref.ID), params, msg); err != nil {
			var se *statusError
			if errors.As(err, &se) && se.status == http.StatusNotFound {
				log.WithField("messageId", ref.ID).Debug("message vanished before it was read")
				continue
			}
			return nil, errors.Annotatef(err, "read message %s", ref.ID)
		}
		items = append(items, msg.item())
	}
	return items, nil
}

func (m *messageMetadata) item() *poller.Item {
	data := types.Data{
		"labelIds": m.LabelIDs,
		"snippet":  m.Snippet,
	}
	for _, h := range m.Payload.Headers {
		data[strings.ToLower(h.Name)] = h.Value
	}

	item := &poller.Item{ID: m.ID, ThreadID: m.ThreadID, Data: data}
	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil {
		item.ReceivedAt = time.UnixMilli(ms).UTC()
	}
	return item
}
