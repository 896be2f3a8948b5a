package rest

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/contrib/fiberzerolog"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poundifdef/queuecheck/models"
)

func serve(t *testing.T, register func(app *fiber.App)) string {
	t.Helper()

	logger := zerolog.New(zerolog.NewTestWriter(t))
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberzerolog.New(fiberzerolog.Config{Logger: &logger}))
	register(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return "http://" + ln.Addr().String()
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// fakeJolokia answers QueueSize reads the way ActiveMQ's Jolokia agent does,
// including HTTP 200 responses that carry an error status.
func fakeJolokia(t *testing.T, sizes map[string]int) string {
	return serve(t, func(app *fiber.App) {
		app.Get("/api/jolokia/read/*", func(c *fiber.Ctx) error {
			if c.Get(fiber.HeaderAuthorization) != basicAuth("autoreduce", "activedev") {
				return c.SendStatus(fiber.StatusUnauthorized)
			}

			mbean := c.Params("*")
			const prefix = "org.apache.activemq:type=Broker,brokerName=localhost,destinationType=Queue,destinationName="
			if !strings.HasPrefix(mbean, prefix) || !strings.HasSuffix(mbean, "/QueueSize") {
				return c.JSON(fiber.Map{"status": 400, "error_type": "java.lang.IllegalArgumentException", "error": "bad request " + mbean})
			}

			name := strings.TrimSuffix(strings.TrimPrefix(mbean, prefix), "/QueueSize")
			size, ok := sizes[name]
			if !ok {
				return c.JSON(fiber.Map{
					"status":     404,
					"error_type": "javax.management.InstanceNotFoundException",
					"error":      "javax.management.InstanceNotFoundException : " + mbean,
				})
			}

			return c.JSON(fiber.Map{
				"request":   fiber.Map{"type": "read", "mbean": mbean, "attribute": "QueueSize"},
				"value":     size,
				"timestamp": time.Now().Unix(),
				"status":    200,
			})
		})
	})
}

func countWith(t *testing.T, cfg Config, queue string) (int, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := NewRESTBroker(cfg).Connect(ctx)
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Close()) }()

	return session.Count(ctx, queue)
}

func TestJolokiaCount(t *testing.T) {
	base := fakeJolokia(t, map[string]int{"ReductionPending": 12})

	count, err := countWith(t, Config{
		Username: "autoreduce",
		Password: "activedev",
		JSONPath: "value",
		Resource: JolokiaResource(base+"/api/jolokia/", "localhost"),
	}, "ReductionPending")

	require.NoError(t, err)
	assert.Equal(t, 12, count)
}

func TestJolokiaQueueNotFound(t *testing.T) {
	base := fakeJolokia(t, map[string]int{})

	_, err := countWith(t, Config{
		Username: "autoreduce",
		Password: "activedev",
		JSONPath: "value",
		Resource: JolokiaResource(base+"/api/jolokia", "localhost"),
	}, "Missing")

	assert.ErrorIs(t, err, models.ErrQueueNotFound)
}

func TestJolokiaBadCredentials(t *testing.T) {
	base := fakeJolokia(t, map[string]int{"ReductionPending": 1})

	_, err := countWith(t, Config{
		Username: "autoreduce",
		Password: "wrong",
		JSONPath: "value",
		Resource: JolokiaResource(base+"/api/jolokia", "localhost"),
	}, "ReductionPending")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed (HTTP 401)")
}

func TestRabbitMQCount(t *testing.T) {
	var gotVhost string
	base := serve(t, func(app *fiber.App) {
		app.Get("/api/queues/:vhost/:queue", func(c *fiber.Ctx) error {
			gotVhost = c.Params("vhost")
			if c.Params("queue") != "jobs" {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Object Not Found", "reason": "Not Found"})
			}
			return c.JSON(fiber.Map{
				"name":                    "jobs",
				"vhost":                   "/",
				"state":                   "running",
				"messages":                30,
				"messages_ready":          25,
				"messages_unacknowledged": 5,
			})
		})
	})

	cfg := Config{JSONPath: "messages_ready", Resource: RabbitMQResource(base, "/")}

	count, err := countWith(t, cfg, "jobs")
	require.NoError(t, err)
	assert.Equal(t, 25, count)
	assert.Equal(t, "%2F", gotVhost)

	_, err = countWith(t, cfg, "other")
	assert.ErrorIs(t, err, models.ErrQueueNotFound)
}

func TestCountTimeout(t *testing.T) {
	base := serve(t, func(app *fiber.App) {
		app.Get("/slow", func(c *fiber.Ctx) error {
			time.Sleep(time.Second)
			return c.JSON(fiber.Map{"value": 1})
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	session, err := NewRESTBroker(Config{JSONPath: "value", Resource: func(string) string { return base + "/slow" }}).Connect(ctx)
	require.NoError(t, err)
	defer session.Close()

	started := time.Now()
	_, err = session.Count(ctx, "q")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 900*time.Millisecond)
}

func TestConnectWithoutResource(t *testing.T) {
	_, err := NewRESTBroker(Config{}).Connect(context.Background())
	assert.Error(t, err)
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		path    string
		want    int
		errText string
	}{
		{name: "jolokia", body: `{"value":7,"status":200}`, path: "value", want: 7},
		{name: "nested path", body: `{"queue":{"depth":3}}`, path: "queue.depth", want: 3},
		{name: "zero", body: `{"messages_ready":0}`, path: "messages_ready", want: 0},
		{name: "missing field", body: `{"other":1}`, path: "value", errText: `no "value" field`},
		{name: "not a number", body: `{"value":"many"}`, path: "value", errText: "is not a number"},
		{name: "negative", body: `{"value":-4}`, path: "value", errText: "negative size"},
		{name: "invalid json", body: `<html>`, path: "value", errText: "invalid JSON"},
		{name: "jolokia error", body: `{"status":500,"error":"boom"}`, path: "value", errText: "management API error 500: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := parseCount([]byte(tt.body), tt.path, "q")
			if tt.errText != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestResources(t *testing.T) {
	jolokia := JolokiaResource("http://mq:8161/api/jolokia/", "localhost")
	assert.Equal(t,
		"http://mq:8161/api/jolokia/read/org.apache.activemq:type=Broker,brokerName=localhost,destinationType=Queue,destinationName=a!/b/QueueSize",
		jolokia("a/b"),
	)
	assert.Equal(t,
		"http://mq:8161/api/jolokia/read/org.apache.activemq:type=Broker,brokerName=localhost,destinationType=Queue,destinationName=jobs%20%3Fnew%23%25!!/QueueSize",
		jolokia("jobs ?new#%!"),
	)
	assert.Equal(t,
		"http://mq:8161/api/jolokia/read/org.apache.activemq:type=Broker,brokerName=amq%20east,destinationType=Queue,destinationName=jobs/QueueSize",
		JolokiaResource("http://mq:8161/api/jolokia", "amq east")("jobs"),
	)

	rabbit := RabbitMQResource("http://rabbit:15672/", "/")
	assert.Equal(t, "http://rabbit:15672/api/queues/%2F/jobs", rabbit("jobs"))
}
