package main

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/Pandentia/mailrelay/mailrelay/api"
	"github.com/Pandentia/mailrelay/mailrelay/dispatch"
	amqptransport "github.com/Pandentia/mailrelay/mailrelay/transport/amqp"
	smtptransport "github.com/Pandentia/mailrelay/mailrelay/transport/smtp"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"gopkg.in/alecthomas/kingpin.v2"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// a missing .env file is fine, the environment may already be populated
	envErr := godotenv.Load()

	app := kingpin.New("mailrelay", "Authenticated HTTP mail relay")
	cfg := mailrelay.Config{}

	app.Flag("bind", "The address to bind to").Default("[::]:8080").Envar("BIND").Short('b').StringVar(&cfg.Bind)
	port := app.Flag("port", "The port to listen on, overriding the port of --bind").Envar("PORT").String()

	app.Flag("transport", "The mail transport to use (smtp or amqp)").Default(mailrelay.TransportSMTP).Envar("MAIL_TRANSPORT").
		EnumVar(&cfg.Transport, mailrelay.TransportSMTP, mailrelay.TransportAMQP)
	app.Flag("transport-timeout", "Upper bound for a single transport call").Default(mailrelay.DefaultTransportTimeout.String()).
		Envar("TRANSPORT_TIMEOUT").DurationVar(&cfg.TransportTimeout)
	app.Flag("transport-failure-status", "HTTP status returned when the transport fails").Default("400").
		Envar("TRANSPORT_FAILURE_STATUS").IntVar(&cfg.TransportFailureStatus)

	app.Flag("mail-host", "The SMTP relay host").Envar("MAIL_HOST").StringVar(&cfg.MailHost)
	app.Flag("mail-port", "The SMTP relay port").Default("25").Envar("MAIL_PORT").IntVar(&cfg.MailPort)
	app.Flag("mail-username", "The SMTP username, enables SMTP AUTH").Envar("MAIL_USERNAME").StringVar(&cfg.MailUsername)
	app.Flag("mail-password", "The SMTP password").Envar("MAIL_PASSWORD").StringVar(&cfg.MailPassword)
	app.Flag("mail-tls-verify", "Verify the SMTP relay's TLS certificate").Envar("MAIL_TLS_VERIFY").BoolVar(&cfg.MailTLSVerify)

	app.Flag("amqp-uri", "The AMQP URI to connect to").Envar("AMQP_URI").Short('u').StringVar(&cfg.AMQPURI)

	app.Flag("mail-from", "The default sender address").Envar("MAIL_FROM").StringVar(&cfg.DefaultFrom)
	app.Flag("default-subject", "The subject used when a request has none").Envar("DEFAULT_SUBJECT").StringVar(&cfg.DefaultSubject)
	app.Flag("api-key", "The shared credential for key-gated routes").Envar("API_KEY").StringVar(&cfg.APIKey)
	app.Flag("jwt-secret", "The secret identity tokens are signed with").Envar("JWT_SECRET").StringVar(&cfg.JWTSecret)
	app.Flag("open-routes", "Token-gated routes to serve without authentication").Default(mailrelay.RouteUser).
		Envar("OPEN_ROUTES").StringsVar(&cfg.OpenRoutes)

	app.Flag("shop-name", "The signature of order confirmations").Default("Beercraft").Envar("SHOP_NAME").StringVar(&cfg.ShopName)
	app.Flag("image-base-url", "The prefix of product image references").Envar("IMAGE_BASE_URL").StringVar(&cfg.ImageBaseURL)

	verbose := app.Flag("verbose", "Enables debug logging").Short('v').Bool()
	pretty := app.Flag("pretty", "Enables pretty logging").Short('p').Bool()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if *pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if *verbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("No .env file loaded")
	}

	if *port != "" {
		host, _, err := net.SplitHostPort(cfg.Bind)
		if err != nil {
			logger.Fatal().Err(err).Str("bind", cfg.Bind).Msg("Invalid bind address.")
		}
		if _, err := strconv.Atoi(*port); err != nil {
			logger.Fatal().Err(err).Str("port", *port).Msg("Invalid port.")
		}
		cfg.Bind = net.JoinHostPort(host, *port)
	}

	cfg.OpenRoutes = splitList(cfg.OpenRoutes)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration.")
	}
	if cfg.APIKey == "" {
		logger.Warn().Msg("No API key configured, key-gated routes will reject every request")
	}
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("No JWT secret configured, token-gated routes will reject every request")
	}

	logger.Info().Str("go", runtime.Version()).Str("transport", cfg.Transport).Msg("Starting mail relay")

	transport, err := newTransport(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error initializing transport.")
	}

	relay := &api.API{
		Logger:    logger,
		Config:    cfg,
		Transport: transport,
	}

	if err := relay.New(); err != nil {
		logger.Fatal().Err(err).Msg("Error initializing.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := relay.Run(ctx, cfg.Bind)
	if closer, ok := transport.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing transport.")
		}
	}
	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("Error running relay API.")
	}
	logger.Info().Msg("Stopped")
}

func newTransport(cfg mailrelay.Config, logger zerolog.Logger) (dispatch.Transport, error) {
	if cfg.Transport == mailrelay.TransportAMQP {
		// connect to the message broker
		conn, err := amqp.Dial(cfg.AMQPURI)
		if err != nil {
			return nil, err
		}
		logger.Debug().Msg("Connection to message broker established")
		return amqptransport.New(conn, logger), nil
	}

	logger.Debug().Str("host", cfg.MailHost).Int("port", cfg.MailPort).Msg("Using SMTP relay")
	return smtptransport.New(cfg, logger), nil
}

// splitList flattens comma separated flag values, dropping empty entries.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
