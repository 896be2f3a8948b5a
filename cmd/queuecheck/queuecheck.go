package queuecheck

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/poundifdef/queuecheck/check"
	"github.com/poundifdef/queuecheck/config"
	"github.com/poundifdef/queuecheck/metrics"
	"github.com/poundifdef/queuecheck/models"
	"github.com/poundifdef/queuecheck/queue/amqp"
	"github.com/poundifdef/queuecheck/queue/rest"
	"github.com/poundifdef/queuecheck/queue/sqlite"
	"github.com/poundifdef/queuecheck/queue/sqs"
)

// Run performs one check and returns the process exit code. Exactly one status
// line is written to stdout on every path; logs go to stderr. When broker is
// nil it is built from the parsed configuration.
func Run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer, broker models.Broker) int {
	log.Logger = zerolog.New(stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	cli, err := config.Load(args, stderr)
	if err != nil {
		return check.Emit(stdout, models.Unknown(err)).Status.ExitCode()
	}

	setupLogging(cli.Log, stderr)

	thresholds, err := cli.Thresholds()
	if err != nil {
		log.Error().Err(err).Strs("args", args).Msg("Invalid arguments")
		return check.Emit(stdout, models.Unknown(err)).Status.ExitCode()
	}

	if broker == nil {
		broker, err = NewBroker(cli)
		if err != nil {
			return check.Emit(stdout, models.Unknown(err)).Status.ExitCode()
		}
	}

	log.Debug().
		Str("queue", cli.Queue).
		Str("backend", cli.Broker.Backend).
		Int("warning", thresholds.Warning).
		Int("critical", thresholds.Critical).
		Dur("timeout", cli.Broker.Timeout).
		Msg("Checking queue")

	started := time.Now()
	probe := check.NewProbe(broker, thresholds, cli.Broker.Timeout, cli.VerboseOK)
	result := probe.Run(ctx, cli.Queue, stdout)

	if cli.Metrics.Textfile != "" {
		err := metrics.WriteTextfile(cli.Metrics.Textfile, cli.Queue, cli.Broker.Backend, result, time.Since(started))
		if err != nil {
			log.Warn().Err(err).Str("path", cli.Metrics.Textfile).Msg("Unable to write metrics textfile")
		}
	}

	return result.Status.ExitCode()
}

// NewBroker builds the backend named by the configuration.
func NewBroker(cli *config.CLI) (models.Broker, error) {
	b := cli.Broker

	switch b.Backend {
	case config.BackendAMQP:
		return amqp.NewAMQPBroker(amqp.Config{
			URL:      b.URL,
			Username: b.Username,
			Password: b.Password,
		}), nil
	case config.BackendSQS:
		return sqs.NewSQSBroker(sqs.Config{
			Endpoint:        b.URL,
			Region:          cli.SQS.Region,
			AccessKey:       b.Username,
			SecretKey:       b.Password,
			IncludeInFlight: cli.SQS.IncludeInFlight,
		}), nil
	case config.BackendJolokia:
		return rest.NewRESTBroker(rest.Config{
			Username: b.Username,
			Password: b.Password,
			JSONPath: cli.HTTP.JSONPath,
			Resource: rest.JolokiaResource(b.URL, cli.Jolokia.BrokerName),
		}), nil
	case config.BackendRabbitMQHTTP:
		return rest.NewRESTBroker(rest.Config{
			Username: b.Username,
			Password: b.Password,
			JSONPath: cli.HTTP.JSONPath,
			Resource: rest.RabbitMQResource(b.URL, cli.RabbitMQ.Vhost),
		}), nil
	case config.BackendSQLite:
		return sqlite.NewSQLiteBroker(sqlite.Config{
			Path:     b.URL,
			TenantID: cli.SQLite.Tenant,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrBackendNotKnown, b.Backend)
	}
}

func setupLogging(cfg config.LogConfig, stderr io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.WarnLevel
	}

	var w io.Writer = stderr
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()

	// Several checks often run at once on one host; the node ID keeps run IDs
	// apart between them.
	if node, err := snowflake.NewNode(int64(os.Getpid()) % 1024); err == nil {
		zctx = zctx.Str("run_id", node.Generate().String())
	}

	log.Logger = zctx.Logger()
}
