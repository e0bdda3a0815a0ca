// certomat requests certificates from an ACME server using dns-01
// challenges, driven by a small config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/certomat/certomat/acme/client"
	"github.com/certomat/certomat/acme/keys"
	"github.com/certomat/certomat/acme/store"
	"github.com/certomat/certomat/cmd"
	"github.com/certomat/certomat/dns"
	"github.com/certomat/certomat/enroll"
)

const DIRECTORY_DEFAULT = "https://acme-staging-v02.api.letsencrypt.org/directory"

func main() {
	configPath := flag.String(
		"config",
		"",
		"Optional path to a certomat config file")

	debug := flag.Bool(
		"debug",
		false,
		"Enable debug logging")

	flag.Parse()

	v := viper.New()
	v.SetDefault("directory", DIRECTORY_DEFAULT)
	v.SetDefault("key_algorithm", "ES256")
	v.SetDefault("store.dir", defaultStoreDir())
	v.SetDefault("dns.provider", "manual")
	v.SetDefault("propagation.required", false)
	v.SetDefault("settle_delay", "30s")
	v.SetDefault("fallback_delay", "10s")
	v.SetDefault("cleanup_records", true)
	v.SetDefault("output", "certificate.pem")

	v.SetEnvPrefix("CERTOMAT")
	v.AutomaticEnv()

	if *configPath != "" {
		v.SetConfigFile(*configPath)
	} else {
		v.SetConfigName("certomat")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/certomat")
	}
	if err := v.ReadInConfig(); err != nil {
		// Config files are optional when everything comes from flags
		// and the environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && *configPath != "" {
			cmd.FailOnError(err, "Unable to read config file")
		}
	}

	domains := v.GetStringSlice("domains")
	if len(domains) == 0 && flag.NArg() > 0 {
		domains = flag.Args()
	}
	if len(domains) == 0 {
		fmt.Fprintln(os.Stderr, "no domains configured; pass them as arguments or set \"domains\" in the config")
		os.Exit(1)
	}

	logConfig := zap.NewProductionConfig()
	if *debug {
		logConfig = zap.NewDevelopmentConfig()
	}
	logger, err := logConfig.Build()
	cmd.FailOnError(err, "Unable to create logger")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	go cmd.CatchSignals(cancel)

	acmeClient, err := client.NewClient(client.ClientConfig{
		DirectoryURL: v.GetString("directory"),
		CACert:       v.GetString("ca"),
		ContactEmail: v.GetString("contact"),
		KeyAlgorithm: v.GetString("key_algorithm"),
		EABKeyID:     v.GetString("eab.kid"),
		EABHMACKey:   v.GetString("eab.hmac_key"),
		EABAlgorithm: v.GetString("eab.algorithm"),
	}, logger)
	cmd.FailOnError(err, "Unable to create ACME client")

	acctStore := store.New(
		v.GetString("store.dir"),
		v.GetString("store.passphrase"),
		logger)

	provider, err := dns.New(ctx, v.GetString("dns.provider"), dns.Config{
		Region:        v.GetString("dns.region"),
		ManagementURL: v.GetString("dns.management_addr"),
		Logger:        logger,
	})
	cmd.FailOnError(err, "Unable to create DNS provider")

	checker := dns.NewChecker(logger)
	checker.Required = v.GetBool("propagation.required")
	if quorum := v.GetInt("propagation.quorum"); quorum > 0 {
		checker.Quorum = quorum
	}

	enroller := enroll.New(acmeClient, acctStore, provider, checker, logger)
	enroller.SettleDelay = v.GetDuration("settle_delay")
	enroller.FallbackDelay = v.GetDuration("fallback_delay")
	enroller.CleanupRecords = v.GetBool("cleanup_records")

	// A fresh certificate key per enrollment, separate from the account
	// key.
	certKey, err := keys.Generate(keys.ES256)
	cmd.FailOnError(err, "Unable to generate certificate key")

	csrDER, err := client.CSR(domains, certKey.Key())
	cmd.FailOnError(err, "Unable to create CSR")

	result := enroller.Enroll(ctx, csrDER, domains[0], domains[1:])
	if result.Status != enroll.StatusSuccess {
		logger.Error("enrollment failed",
			zap.String("requestID", result.RequestID),
			zap.String("message", result.Message))
		os.Exit(1)
	}

	outPath := v.GetString("output")
	err = os.WriteFile(outPath, []byte(result.CertificatePEM), 0644)
	cmd.FailOnError(err, "Unable to write certificate")

	keyBlob, err := certKey.Export()
	cmd.FailOnError(err, "Unable to serialize certificate key")
	err = os.WriteFile(outPath+".key.json", keyBlob, 0600)
	cmd.FailOnError(err, "Unable to write certificate key")

	logger.Info("wrote certificate",
		zap.String("path", outPath),
		zap.String("requestID", result.RequestID))
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".certomat"
	}
	return home + "/.certomat"
}
