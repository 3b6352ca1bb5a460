package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/tontineledger/internal/flagx"
	"github.com/dmitrijs2005/tontineledger/internal/timex"
	"github.com/shopspring/decimal"
)

// JsonConfig is the on-disk shape of the configuration file. Only fields
// present in the file override the current values.
type JsonConfig struct {
	EndpointAddrGRPC            string               `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string               `json:"database_dsn"`
	JWTSecret                   string               `json:"jwt_secret"`
	AccessTokenValidityDuration *timex.Duration      `json:"access_token_validity_duration"`
	AuditSecret                 string               `json:"audit_secret"`
	SecurityCodePepper          string               `json:"security_code_pepper"`
	SecurityCodeIterations      int                  `json:"security_code_iterations"`
	DefaultCurrency             string               `json:"default_currency"`
	ContributionFeeRate         *decimal.NullDecimal `json:"contribution_fee_rate"`
	LatePaymentPenaltyRate      *decimal.NullDecimal `json:"late_payment_penalty_rate"`
	FreezeThreshold             int                  `json:"freeze_threshold"`
	S3RootUser                  string               `json:"s3_root_user"`
	S3RootPassword              string               `json:"s3_root_password"`
	S3Bucket                    string               `json:"s3_bucket"`
	S3Region                    string               `json:"s3_region"`
	S3BaseEndpoint              string               `json:"s3_base_endpoint"`
}

// parseJson overlays values from the file named by -c/-config in args.
// Without such a flag nothing is loaded.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return err
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.JWTSecret, c.JWTSecret)
	setString(&config.AuditSecret, c.AuditSecret)
	setString(&config.SecurityCodePepper, c.SecurityCodePepper)
	setString(&config.DefaultCurrency, c.DefaultCurrency)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.SecurityCodeIterations > 0 {
		config.SecurityCodeIterations = c.SecurityCodeIterations
	}
	if c.FreezeThreshold > 0 {
		config.FreezeThreshold = c.FreezeThreshold
	}
	if c.ContributionFeeRate != nil && c.ContributionFeeRate.Valid {
		config.ContributionFeeRate = c.ContributionFeeRate.Decimal
	}
	if c.LatePaymentPenaltyRate != nil && c.LatePaymentPenaltyRate.Valid {
		config.LatePaymentPenaltyRate = c.LatePaymentPenaltyRate.Decimal
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
