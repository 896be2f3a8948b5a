package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/poundifdef/queuecheck/models"
)

const (
	BackendAMQP         = "amqp"
	BackendSQS          = "sqs"
	BackendJolokia      = "jolokia"
	BackendRabbitMQHTTP = "rabbitmq-http"
	BackendSQLite       = "sqlite"
)

var ErrHelp = errors.New("usage: queuecheck [flags] <queue> <warning> <critical>")

// DefaultPaths are read, in order, when they exist. --config adds one more.
var DefaultPaths = []string{"/etc/queuecheck/config.yaml", "~/.queuecheck.yaml"}

type CLI struct {
	Queue    string `arg:"" optional:"" help:"Queue to inspect."`
	Warning  string `arg:"" optional:"" help:"Message count at which the check turns WARNING."`
	Critical string `arg:"" optional:"" help:"Message count at which the check turns CRITICAL."`

	ConfigFile kong.ConfigFlag `help:"Configuration file" name:"config"`

	Broker   BrokerConfig   `embed:"" prefix:"broker-"`
	SQS      SQSConfig      `embed:"" prefix:"sqs-"`
	Jolokia  JolokiaConfig  `embed:"" prefix:"jolokia-"`
	RabbitMQ RabbitMQConfig `embed:"" prefix:"rabbitmq-"`
	HTTP     HTTPConfig     `embed:"" prefix:"http-"`
	SQLite   SQLiteConfig   `embed:"" prefix:"sqlite-"`
	Log      LogConfig      `embed:"" prefix:"log-"`
	Metrics  MetricsConfig  `embed:"" prefix:"metrics-"`

	VerboseOK bool `help:"Print queue name and size on OK as well." name:"verbose-ok"`
}

type BrokerConfig struct {
	Backend  string        `help:"Broker backend (${enum})." enum:"amqp,sqs,jolokia,rabbitmq-http,sqlite" default:"amqp" env:"QUEUECHECK_BACKEND"`
	URL      string        `help:"Broker address. Defaults depend on the backend." name:"url" env:"QUEUECHECK_BROKER_URL"`
	Username string        `help:"Broker username." env:"QUEUECHECK_USERNAME"`
	Password string        `help:"Broker password." env:"QUEUECHECK_PASSWORD"`
	Timeout  time.Duration `help:"Deadline for the whole check." default:"5s" env:"QUEUECHECK_TIMEOUT"`
}

type SQSConfig struct {
	Region          string `help:"SQS region." default:"us-east-1" env:"QUEUECHECK_SQS_REGION"`
	IncludeInFlight bool   `help:"Also count messages that are received but not yet deleted." name:"include-in-flight"`
}

type JolokiaConfig struct {
	BrokerName string `help:"ActiveMQ brokerName in the JMX object name." name:"broker-name" default:"localhost"`
}

type RabbitMQConfig struct {
	Vhost string `help:"RabbitMQ virtual host for the management API." default:"/"`
}

type HTTPConfig struct {
	JSONPath string `help:"gjson path of the message count in the response body." name:"json-path"`
}

type SQLiteConfig struct {
	Tenant int64 `help:"smoothmq tenant owning the queue." default:"1"`
}

type LogConfig struct {
	Pretty bool   `help:"Human readable logs on stderr."`
	Level  string `help:"Log level." default:"warn" env:"QUEUECHECK_LOG_LEVEL"`
}

type MetricsConfig struct {
	Textfile string `help:"Write a Prometheus textfile with the result." env:"QUEUECHECK_TEXTFILE"`
}

// Load parses args (without the program name). Usage and parse errors are
// written to stderr; stdout is never touched.
func Load(args []string, stderr io.Writer) (*CLI, error) {
	cli := &CLI{}
	helped := false

	parser, err := kong.New(cli,
		kong.Name("queuecheck"),
		kong.Description("Nagios check for the number of messages waiting on a queue."),
		kong.Configuration(kongyaml.Loader, DefaultPaths...),
		kong.Writers(stderr, stderr),
		kong.Exit(func(int) { helped = true }),
	)
	if err != nil {
		return nil, err
	}

	_, err = parser.Parse(args)
	if helped {
		return nil, ErrHelp
	}
	if err != nil {
		return nil, err
	}

	// Zero would leave every broker call without a deadline.
	if cli.Broker.Timeout <= 0 {
		return nil, fmt.Errorf("broker timeout must be positive, got %s", cli.Broker.Timeout)
	}

	if cli.Broker.URL == "" {
		cli.Broker.URL = DefaultURL(cli.Broker.Backend)
	}
	if cli.HTTP.JSONPath == "" {
		cli.HTTP.JSONPath = DefaultJSONPath(cli.Broker.Backend)
	}

	return cli, nil
}

// Thresholds validates the positional arguments before anything touches the
// network.
func (c *CLI) Thresholds() (models.Thresholds, error) {
	if strings.TrimSpace(c.Queue) == "" {
		return models.Thresholds{}, fmt.Errorf("%w: %w", models.ErrIncorrectValues, models.ErrEmptyQueueName)
	}

	warning, err := parseThreshold("warning", c.Warning)
	if err != nil {
		return models.Thresholds{}, err
	}

	critical, err := parseThreshold("critical", c.Critical)
	if err != nil {
		return models.Thresholds{}, err
	}

	if warning > critical {
		return models.Thresholds{}, fmt.Errorf("%w: warning threshold %d is above critical threshold %d", models.ErrIncorrectValues, warning, critical)
	}

	return models.Thresholds{Warning: warning, Critical: critical}, nil
}

func parseThreshold(name string, value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: %s threshold is missing", models.ErrIncorrectValues, name)
	}

	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s threshold %q is not an integer", models.ErrIncorrectValues, name, value)
	}

	if n < 0 {
		return 0, fmt.Errorf("%w: %s threshold %d is negative", models.ErrIncorrectValues, name, n)
	}

	return n, nil
}

func DefaultURL(backend string) string {
	switch backend {
	case BackendSQS:
		// Empty leaves endpoint resolution to the AWS SDK.
		return ""
	case BackendJolokia:
		return "http://localhost:8161/api/jolokia"
	case BackendRabbitMQHTTP:
		return "http://localhost:15672"
	case BackendSQLite:
		return "smoothmq.sqlite"
	default:
		return "amqp://localhost:5672/"
	}
}

func DefaultJSONPath(backend string) string {
	switch backend {
	case BackendRabbitMQHTTP:
		return "messages_ready"
	default:
		return "value"
	}
}
