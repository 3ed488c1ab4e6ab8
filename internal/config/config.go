package config

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	AWS        AWSConfig
	QOP        QOPConfig
	State      StateConfig
	Experiment ExperimentConfig
	Plot       PlotConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins []string
}

// AWSConfig holds AWS/S3 configuration, shared by the run archive and the
// object state store
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	S3Endpoint      string
}

// QOPConfig holds the execution service connection. The address recorded in
// the machine state is used unless Host is set.
type QOPConfig struct {
	Host               string
	Port               int
	Simulate           bool
	SimulationDuration int // clock cycles
	SimulationLatency  int // ns
}

// StateConfig holds where the machine state lives
type StateConfig struct {
	Path   string
	Bucket string // when set, the state is kept in this bucket instead of Path
	Save   bool
}

// ExperimentConfig holds the spectroscopy sweep parameters
type ExperimentConfig struct {
	NAvg          int
	DepletionTime int
	SweepStart    float64
	SweepStop     float64
	SweepStep     float64
	DemodFactor   float64
	Sequential    bool
}

// PlotConfig holds plot output configuration
type PlotConfig struct {
	Dir string
}

var keys = []string{
	"DATABASE_URL", "PORT", "ENVIRONMENT", "ALLOWED_ORIGINS",
	"AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "S3_BUCKET", "S3_ENDPOINT",
	"QOP_HOST", "QOP_PORT", "SIMULATE", "SIMULATION_DURATION", "SIMULATION_LATENCY",
	"STATE_PATH", "STATE_BUCKET", "SAVE_STATE",
	"N_AVG", "DEPLETION_TIME_NS", "SWEEP_START", "SWEEP_STOP", "SWEEP_STEP", "DEMOD_FACTOR", "SEQUENTIAL",
	"PLOT_DIR",
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "dev")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("AWS_ACCESS_KEY_ID", "")
	viper.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	viper.SetDefault("S3_BUCKET", "")
	viper.SetDefault("S3_ENDPOINT", "")
	viper.SetDefault("QOP_HOST", "")
	viper.SetDefault("QOP_PORT", 80)
	viper.SetDefault("SIMULATE", false)
	viper.SetDefault("SIMULATION_DURATION", 1000)
	viper.SetDefault("SIMULATION_LATENCY", 24)
	viper.SetDefault("STATE_PATH", "quam_state.json")
	viper.SetDefault("STATE_BUCKET", "")
	viper.SetDefault("SAVE_STATE", false)
	viper.SetDefault("N_AVG", 1000)
	viper.SetDefault("DEPLETION_TIME_NS", 1000)
	viper.SetDefault("SWEEP_START", -12e6)
	viper.SetDefault("SWEEP_STOP", 12e6)
	viper.SetDefault("SWEEP_STEP", 0.1e6)
	viper.SetDefault("DEMOD_FACTOR", 4096.0)
	viper.SetDefault("SEQUENTIAL", false)
	viper.SetDefault("PLOT_DIR", "")

	// Read from .env files based on environment
	env := viper.GetString("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	viper.SetConfigName(".env." + env)
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// Read .env file (ignore error if file doesn't exist)
	_ = viper.ReadInConfig()

	// Environment variables override .env file values
	viper.AutomaticEnv()
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var config Config
	config.Database.URL = viper.GetString("DATABASE_URL")
	config.Server.Port = viper.GetString("PORT")
	config.Server.Env = viper.GetString("ENVIRONMENT")
	config.Server.AllowedOrigins = strings.Split(viper.GetString("ALLOWED_ORIGINS"), ",")
	config.AWS.Region = viper.GetString("AWS_REGION")
	config.AWS.AccessKeyID = viper.GetString("AWS_ACCESS_KEY_ID")
	config.AWS.SecretAccessKey = viper.GetString("AWS_SECRET_ACCESS_KEY")
	config.AWS.S3Bucket = viper.GetString("S3_BUCKET")
	config.AWS.S3Endpoint = viper.GetString("S3_ENDPOINT")
	config.QOP.Host = viper.GetString("QOP_HOST")
	config.QOP.Port = viper.GetInt("QOP_PORT")
	config.QOP.Simulate = viper.GetBool("SIMULATE")
	config.QOP.SimulationDuration = viper.GetInt("SIMULATION_DURATION")
	config.QOP.SimulationLatency = viper.GetInt("SIMULATION_LATENCY")
	config.State.Path = viper.GetString("STATE_PATH")
	config.State.Bucket = viper.GetString("STATE_BUCKET")
	config.State.Save = viper.GetBool("SAVE_STATE")
	config.Experiment.NAvg = viper.GetInt("N_AVG")
	config.Experiment.DepletionTime = viper.GetInt("DEPLETION_TIME_NS")
	config.Experiment.SweepStart = viper.GetFloat64("SWEEP_START")
	config.Experiment.SweepStop = viper.GetFloat64("SWEEP_STOP")
	config.Experiment.SweepStep = viper.GetFloat64("SWEEP_STEP")
	config.Experiment.DemodFactor = viper.GetFloat64("DEMOD_FACTOR")
	config.Experiment.Sequential = viper.GetBool("SEQUENTIAL")
	config.Plot.Dir = viper.GetString("PLOT_DIR")

	log.Info().
		Str("environment", config.Server.Env).
		Bool("simulate", config.QOP.Simulate).
		Str("qop", config.QOP.Host).
		Bool("persistence", config.Database.URL != "").
		Bool("archive", config.AWS.S3Bucket != "").
		Msg("Configuration loaded")

	return &config, nil
}
