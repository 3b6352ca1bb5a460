package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/flagx"
	"github.com/shopspring/decimal"
)

var knownFlags = []string{"-a", "-d", "-s", "-t", "-k", "-w", "-i", "-y", "-f", "-l", "-z", "-u", "-p", "-b", "-g", "-e"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-k string   audit chain HMAC secret
//	-w string   security code pepper
//	-i int      PBKDF2 iterations for security codes
//	-y string   default currency
//	-f string   contribution fee rate (e.g., "0.01")
//	-l string   late payment penalty rate (e.g., "0.05")
//	-z int      risk score freeze threshold
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "jwt secret key")
	tokenMinutes := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	fs.StringVar(&config.AuditSecret, "k", config.AuditSecret, "audit chain secret")
	fs.StringVar(&config.SecurityCodePepper, "w", config.SecurityCodePepper, "security code pepper")
	fs.IntVar(&config.SecurityCodeIterations, "i", config.SecurityCodeIterations, "security code PBKDF2 iterations")
	fs.StringVar(&config.DefaultCurrency, "y", config.DefaultCurrency, "default currency")
	feeRate := fs.String("f", config.ContributionFeeRate.String(), "contribution fee rate")
	penaltyRate := fs.String("l", config.LatePaymentPenaltyRate.String(), "late payment penalty rate")
	fs.IntVar(&config.FreezeThreshold, "z", config.FreezeThreshold, "risk freeze threshold")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(flagx.FilterArgs(args, knownFlags)); err != nil {
		return err
	}

	config.AccessTokenValidityDuration = time.Duration(*tokenMinutes) * time.Minute

	var err error
	if config.ContributionFeeRate, err = decimal.NewFromString(*feeRate); err != nil {
		return fmt.Errorf("fee rate: %w", err)
	}
	if config.LatePaymentPenaltyRate, err = decimal.NewFromString(*penaltyRate); err != nil {
		return fmt.Errorf("penalty rate: %w", err)
	}
	return nil
}
