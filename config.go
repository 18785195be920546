package thi

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultConfigPath = "./telus-health-importer.yaml"
const DefaultRegistryPath = "./list.csv"

const APITokenEnvName = "API_KEY"
const APIHostEnvName = "BASE_URL"
const OrganizationEnvName = "ORG"
const RegistryPathEnvName = "REGISTRY_PATH"
const DebugEnvName = "IMPORTER_DEBUG"
const APITokenAWSName = "telus-importer-api-key"

const DefaultErrorWarningThreshold = 5

type Config struct {
	Debug                 bool     `yaml:"debug"`
	ApiToken              string   `yaml:"api_token"`
	ApiHost               string   `yaml:"api_host"`
	Organization          string   `yaml:"organization"`
	RegistryPath          string   `yaml:"registry_path"`
	BookingHost           string   `yaml:"booking_host"`
	ErrorWarningThreshold int      `yaml:"error_warning_threshold"`
	DumpOutputS3          bool     `yaml:"dump_output_s3"`
	FromEmailAddress      string   `yaml:"from_email_address"`
	SmtpUsername          string   `yaml:"smtp_user"`
	SmtpPassword          string   `yaml:"smtp_pass"`
	SmtpHost              string   `yaml:"smtp_host"`
	SmtpPort              int      `yaml:"smtp_port"`
	NotifyEmailAddrs      []string `yaml:"notify_email_addrs"`
}

func NewConfigDefaultPath() (*Config, error) {
	return NewConfig(DefaultConfigPath)
}

// Configuration is layered: optional YAML file, then environment variables
// (a local .env is honored for dev runs), then AWS parameter store for the
// API token only.
func NewConfig(configPath string) (*Config, error) {
	// Create config structure
	config := &Config{}

	//.env for local runs, no error if absent
	_ = godotenv.Load()

	file, err := os.Open(configPath)
	if err == nil {
		d := yaml.NewDecoder(file)
		if err := d.Decode(&config); err != nil {
			file.Close()
			return nil, err
		}
		file.Close()
	} else {
		Log.Debugf("No config file at %s, using environment only", configPath)
	}

	if os.Getenv(DebugEnvName) == "true" {
		config.Debug = true
	}

	if config.Debug {
		Log.SetLevel("debug")
	}

	if token := os.Getenv(APITokenEnvName); len(token) > 0 {
		config.ApiToken = token
		Log.Debugf("API token found in environment variable %s", APITokenEnvName)
	}

	if host := os.Getenv(APIHostEnvName); len(host) > 0 {
		config.ApiHost = host
	}

	if org := os.Getenv(OrganizationEnvName); len(org) > 0 {
		config.Organization = org
	}

	if path := os.Getenv(RegistryPathEnvName); len(path) > 0 {
		config.RegistryPath = path
	}

	if len(config.RegistryPath) == 0 {
		config.RegistryPath = DefaultRegistryPath
	}

	if config.ErrorWarningThreshold <= 0 {
		config.ErrorWarningThreshold = DefaultErrorWarningThreshold
	}

	if len(config.ApiToken) == 0 {
		config.ApiToken, err = GetAWSEncryptedParameter(APITokenAWSName)
		if err != nil {
			Log.Errorf("Could not get api token from AWS: %v", err)
		}

		notFound := ""
		if len(config.ApiToken) == 0 {
			notFound = "NOT "
		}
		Log.Debugf("API token %sfound in AWS parameter '%s'", notFound, APITokenAWSName)
	}

	if len(config.ApiToken) == 0 {
		return nil, fmt.Errorf("Could not find api token in any of these places: %s, $%s, or AWS parameter '%s'", configPath, APITokenEnvName, APITokenAWSName)
	}

	if len(config.ApiHost) == 0 {
		return nil, fmt.Errorf("Inventory API host not configured (%s in %s or $%s)", "api_host", configPath, APIHostEnvName)
	}

	if len(config.Organization) == 0 {
		return nil, fmt.Errorf("Organization not configured (%s in %s or $%s)", "organization", configPath, OrganizationEnvName)
	}

	config.ApiHost = normalizeBaseURL(config.ApiHost)
	if len(config.BookingHost) > 0 {
		config.BookingHost = normalizeBaseURL(config.BookingHost)
	}

	Log.Debugf("Inventory API: %s", config.ApiHost)

	return config, nil
}

// The original deployment configures BASE_URL as a bare hostname; accept that
// as well as a full URL.
func normalizeBaseURL(host string) string {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	return strings.TrimRight(host, "/")
}
