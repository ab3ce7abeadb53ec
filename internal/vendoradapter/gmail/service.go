package gmail

import (
	"strings"
	"time"

	"github.com/mailcore/engine/internal/ratelimit"
	"github.com/sony/gobreaker"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

const (
	maxQps     = 50
	maxRetries = 8
)

// service is the Gmail REST surface the adapter depends on, kept as an
// interface so tests can supply a fake.
type service interface {
	GetRawMessage(id string) (string, error)
	GetMetadata(id string) (*gmailapi.Message, error)
	GetLabels() (*gmailapi.ListLabelsResponse, error)
	GetHistory(historyIndex uint64, labelID, page string) (*gmailapi.ListHistoryResponse, error)
	GetMessages(labelID, page string) (*gmailapi.ListMessagesResponse, error)
}

// restService wraps a *gmail.UsersService with rate limiting and a
// circuit breaker that trips after sustained failures, so a dead
// account doesn't keep burning the retry budget on every sync tick.
type restService struct {
	svc     *gmailapi.UsersService
	limiter ratelimit.RateLimit
	cb      *gobreaker.CircuitBreaker
}

func newRestService(accountID string, svc *gmailapi.UsersService) *restService {
	r := &restService{
		svc: svc,
		limiter: ratelimit.RateLimit{
			Period:       time.Second,
			Rate:         maxQps,
			BackoffLimit: maxRetries,
			BackoffStart: time.Second,
			BackoffCap:   time.Minute,
			Jitter:       0.2,
		},
	}
	r.limiter.Start()
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api:" + accountID,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6)
		},
	})
	return r
}

func isRateLimited(err error) (error, bool) {
	e, ok := err.(*googleapi.Error)
	return err, !(ok && (e.Code == 429 ||
		(e.Code == 403 && strings.Contains(e.Message, "Rate Limit"))))
}

func (s *restService) do(f func() (error, bool)) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.limiter.DoWithBackoff(f)
	})
	return err
}

func (s *restService) GetRawMessage(id string) (string, error) {
	var r *gmailapi.Message
	err := s.do(func() (error, bool) {
		var e error
		r, e = s.svc.Messages.Get("me", id).Format("raw").Do()
		return isRateLimited(e)
	})
	if r != nil {
		return r.Raw, err
	}
	return "", err
}

func (s *restService) GetMetadata(id string) (*gmailapi.Message, error) {
	var m *gmailapi.Message
	err := s.do(func() (error, bool) {
		var e error
		m, e = s.svc.Messages.Get("me", id).Format("metadata").Do()
		return isRateLimited(e)
	})
	return m, err
}

func (s *restService) GetLabels() (*gmailapi.ListLabelsResponse, error) {
	var r *gmailapi.ListLabelsResponse
	err := s.do(func() (error, bool) {
		var e error
		r, e = s.svc.Labels.List("me").Do()
		return isRateLimited(e)
	})
	return r, err
}

func (s *restService) GetHistory(historyIndex uint64, labelID, page string) (*gmailapi.ListHistoryResponse, error) {
	var r *gmailapi.ListHistoryResponse
	err := s.do(func() (error, bool) {
		hist := s.svc.History.List("me").StartHistoryId(historyIndex)
		if labelID != "" {
			hist.LabelId(labelID)
		}
		var e error
		r, e = hist.PageToken(page).Do()
		return isRateLimited(e)
	})
	return r, err
}

func (s *restService) GetMessages(labelID, page string) (*gmailapi.ListMessagesResponse, error) {
	var r *gmailapi.ListMessagesResponse
	err := s.do(func() (error, bool) {
		msgs := s.svc.Messages.List("me").Q("-in:chats")
		if labelID != "" {
			msgs.LabelIds(labelID)
		}
		var e error
		r, e = msgs.PageToken(page).Do()
		return isRateLimited(e)
	})
	return r, err
}
