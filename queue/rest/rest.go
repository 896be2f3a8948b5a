package rest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"github.com/poundifdef/queuecheck/models"
)

// URLFunc turns a queue name into the management API resource holding its
// depth.
type URLFunc func(queue string) string

type Config struct {
	Username string
	Password string
	// JSONPath is a gjson path to the count in the response body.
	JSONPath string
	Resource URLFunc
}

// RESTBroker reads queue depth from a broker's HTTP management API.
type RESTBroker struct {
	cfg Config
}

type RESTSession struct {
	client *fasthttp.Client
	cfg    Config
}

func NewRESTBroker(cfg Config) *RESTBroker {
	return &RESTBroker{cfg: cfg}
}

// JolokiaResource reads the ActiveMQ QueueSize JMX attribute through Jolokia.
func JolokiaResource(baseURL string, brokerName string) URLFunc {
	base := strings.TrimSuffix(baseURL, "/")
	return func(queue string) string {
		mbean := fmt.Sprintf(
			"org.apache.activemq:type=Broker,brokerName=%s,destinationType=Queue,destinationName=%s",
			jolokiaEscape(brokerName), jolokiaEscape(queue),
		)
		return base + "/read/" + mbean + "/QueueSize"
	}
}

// RabbitMQResource reads a queue from the RabbitMQ management plugin.
func RabbitMQResource(baseURL string, vhost string) URLFunc {
	base := strings.TrimSuffix(baseURL, "/")
	return func(queue string) string {
		return base + "/api/queues/" + url.PathEscape(vhost) + "/" + url.PathEscape(queue)
	}
}

// Jolokia's GET syntax uses "!" to escape "/" and "!" inside a path segment.
// Everything else is percent-encoded, except "/" and "!": servlet containers
// reject an encoded slash.
func jolokiaEscape(s string) string {
	s = strings.ReplaceAll(s, "!", "!!")
	s = strings.ReplaceAll(s, "/", "!/")
	return jolokiaUnescape.Replace(url.PathEscape(s))
}

var jolokiaUnescape = strings.NewReplacer("%2F", "/", "%21", "!")

func (b *RESTBroker) Connect(ctx context.Context) (models.Session, error) {
	if b.cfg.Resource == nil {
		return nil, errors.New("no management API resource configured")
	}

	client := &fasthttp.Client{
		Name:                     "queuecheck",
		NoDefaultUserAgentHeader: true,
		MaxConnsPerHost:          1,
	}

	return &RESTSession{client: client, cfg: b.cfg}, nil
}

func (s *RESTSession) Count(ctx context.Context, queue string) (int, error) {
	resource := s.cfg.Resource(queue)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(resource)
	// Keep %2F in RabbitMQ vhost segments intact.
	req.URI().DisablePathNormalizing = true
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if s.cfg.Username != "" {
		// fasthttp sends URI userinfo as basic auth.
		req.URI().SetUsername(s.cfg.Username)
		req.URI().SetPassword(s.cfg.Password)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}

	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return 0, fmt.Errorf("GET %s: %w", redact(resource), context.DeadlineExceeded)
		}
		return 0, fmt.Errorf("GET %s: %w", redact(resource), err)
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", models.ErrQueueNotFound, queue)
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return 0, fmt.Errorf("GET %s: authentication failed (HTTP %d)", redact(resource), code)
	case code != fasthttp.StatusOK:
		return 0, fmt.Errorf("GET %s: unexpected HTTP status %d", redact(resource), code)
	}

	return parseCount(resp.Body(), s.cfg.JSONPath, queue)
}

// parseCount reads the count at path. Jolokia reports failures with HTTP 200
// and a "status"/"error" pair in the body.
func parseCount(body []byte, path string, queue string) (int, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("management API returned invalid JSON")
	}

	if status := gjson.GetBytes(body, "status"); status.Exists() && status.Type == gjson.Number && status.Int() != 200 {
		errorType := gjson.GetBytes(body, "error_type").String()
		if status.Int() == 404 || strings.Contains(errorType, "InstanceNotFoundException") {
			return 0, fmt.Errorf("%w: %s", models.ErrQueueNotFound, queue)
		}
		return 0, fmt.Errorf("management API error %d: %s", status.Int(), gjson.GetBytes(body, "error").String())
	}

	value := gjson.GetBytes(body, path)
	if !value.Exists() {
		return 0, fmt.Errorf("management API response has no %q field", path)
	}
	if value.Type != gjson.Number {
		return 0, fmt.Errorf("management API field %q is not a number: %s", path, value.Raw)
	}

	count := value.Int()
	if count < 0 {
		return 0, fmt.Errorf("management API reported negative size %d", count)
	}

	log.Debug().Str("path", path).Int64("count", count).Msg("Read management API queue size")

	return int(count), nil
}

func (s *RESTSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
