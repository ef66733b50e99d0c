package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fraud-pipeline/internal/common"

	"gopkg.in/yaml.v3"
)

// Settings is the single configuration object threaded through every stage.
type Settings struct {
	DataRoot       string
	RawFile        string
	ClassifiersDir string
	DataPath       string
	SourceURL      string
	FetchTimeout   time.Duration
	Target         string
	SortBy         string
	TestSize       float64
	Stratify       bool
	Seed           int64
	FraudLabel     int
	CleanColumn    string
	CleanThreshold float64
	ScaleColumns   []string
	TomekStrategy  string
	Model          ModelSettings
	ProbThreshold  float64
	ServerPort     int
	MetricsFile    string
	LogLevel       string
}

// ModelSettings holds the ensemble hyper-parameters.
type ModelSettings struct {
	SVMC               float64
	SVMGamma           float64 // 0 selects 1/n_features
	KNNNeighbors       int
	KNNP               float64
	LogRegC            float64
	LogRegMaxIter      int
	BaggingEstimators  int
	BaggingMaxSamples  float64
	BaggingMaxFeatures float64
	Voting             string
	ModelFile          string
}

type ConfigFile struct {
	Data struct {
		Root           string `yaml:"root"`
		RawFile        string `yaml:"rawFile"`
		ClassifiersDir string `yaml:"classifiersDir"`
		SourceURL      string `yaml:"sourceURL"`
		FetchTimeout   string `yaml:"fetchTimeout"`
		Target         string `yaml:"target"`
		SortBy         string `yaml:"sortBy"`
	} `yaml:"data"`

	Split struct {
		TestSize float64 `yaml:"testSize"`
		Stratify *bool   `yaml:"stratify"`
		Seed     *int64  `yaml:"seed"`
	} `yaml:"split"`

	Clean struct {
		Column     string  `yaml:"column"`
		Threshold  float64 `yaml:"threshold"`
		FraudLabel *int    `yaml:"fraudLabel"`
	} `yaml:"clean"`

	Scale struct {
		Columns []string `yaml:"columns"`
	} `yaml:"scale"`

	Resample struct {
		TomekStrategy string `yaml:"tomekStrategy"`
	} `yaml:"resample"`

	Model struct {
		SVMC               float64 `yaml:"svmC"`
		SVMGamma           float64 `yaml:"svmGamma"`
		KNNNeighbors       int     `yaml:"knnNeighbors"`
		KNNP               float64 `yaml:"knnP"`
		LogRegC            float64 `yaml:"logregC"`
		LogRegMaxIter      int     `yaml:"logregMaxIter"`
		BaggingEstimators  int     `yaml:"baggingEstimators"`
		BaggingMaxSamples  float64 `yaml:"baggingMaxSamples"`
		BaggingMaxFeatures float64 `yaml:"baggingMaxFeatures"`
		Voting             string  `yaml:"voting"`
		File               string  `yaml:"file"`
	} `yaml:"model"`

	Serve struct {
		Port          int     `yaml:"port"`
		ProbThreshold float64 `yaml:"probThreshold"`
	} `yaml:"serve"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsFile string `yaml:"metricsFile"`
		LogLevel    string `yaml:"logLevel"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return LoadFile(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

// LoadFile reads a YAML config file and applies environment overrides on top.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(config.Data.FetchTimeout)
	if err != nil {
		fetchTimeout = 2 * time.Minute
	}
	fetchTimeout = getDurationOrDefault(common.EnvFetchTimeout, fetchTimeout)

	stratify := true
	if config.Split.Stratify != nil {
		stratify = *config.Split.Stratify
	}
	seed := int64(common.DefaultSeed)
	if config.Split.Seed != nil {
		seed = *config.Split.Seed
	}
	fraudLabel := common.LabelFraud
	if config.Clean.FraudLabel != nil {
		fraudLabel = *config.Clean.FraudLabel
	}

	settings := Settings{
		DataRoot:       getStringFromEnvOrConfig(common.EnvDataRoot, config.Data.Root, common.DefaultDataRoot),
		RawFile:        getStringFromEnvOrConfig(common.EnvRawFile, config.Data.RawFile, common.DefaultRawFile),
		ClassifiersDir: getStringFromEnvOrConfig(common.EnvClassifiersDir, config.Data.ClassifiersDir, common.DefaultClassifiersDir),
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		SourceURL:      getEnvOrDefault(common.EnvSourceURL, config.Data.SourceURL),
		FetchTimeout:   fetchTimeout,
		Target:         getStringFromEnvOrConfig(common.EnvTarget, config.Data.Target, common.ColumnClass),
		SortBy:         getStringFromEnvOrConfig(common.EnvSortBy, config.Data.SortBy, common.ColumnTime),
		TestSize:       getFloatFromEnvOrConfig(common.EnvTestSize, config.Split.TestSize, common.DefaultTestSize),
		Stratify:       getBoolOrDefault(common.EnvStratify, stratify),
		Seed:           getInt64OrDefault(common.EnvSeed, seed),
		FraudLabel:     getIntOrDefault(common.EnvFraudLabel, fraudLabel),
		CleanColumn:    getStringFromEnvOrConfig(common.EnvCleanColumn, config.Clean.Column, common.ColumnAmount),
		CleanThreshold: getFloatFromEnvOrConfig(common.EnvCleanThreshold, config.Clean.Threshold, common.DefaultCleanThreshold),
		ScaleColumns:   getListFromEnvOrConfig(common.EnvScaleColumns, config.Scale.Columns, []string{common.ColumnTime, common.ColumnAmount}),
		TomekStrategy:  getStringFromEnvOrConfig(common.EnvTomekStrategy, config.Resample.TomekStrategy, common.DefaultTomekStrategy),
		Model: ModelSettings{
			SVMC:               getFloatFromEnvOrConfig(common.EnvSVMC, config.Model.SVMC, common.DefaultSVMC),
			SVMGamma:           getFloatFromEnvOrConfig(common.EnvSVMGamma, config.Model.SVMGamma, 0),
			KNNNeighbors:       getIntFromEnvOrConfig(common.EnvKNNNeighbors, config.Model.KNNNeighbors, common.DefaultKNNNeighbors),
			KNNP:               getFloatFromEnvOrConfig(common.EnvKNNP, config.Model.KNNP, common.DefaultKNNP),
			LogRegC:            getFloatFromEnvOrConfig(common.EnvLogRegC, config.Model.LogRegC, common.DefaultLogRegC),
			LogRegMaxIter:      getIntFromEnvOrConfig(common.EnvLogRegMaxIter, config.Model.LogRegMaxIter, common.DefaultLogRegMaxIter),
			BaggingEstimators:  getIntFromEnvOrConfig(common.EnvBaggingEstimators, config.Model.BaggingEstimators, common.DefaultBaggingEstimators),
			BaggingMaxSamples:  getFloatFromEnvOrConfig(common.EnvBaggingMaxSamples, config.Model.BaggingMaxSamples, common.DefaultBaggingMaxSamples),
			BaggingMaxFeatures: getFloatFromEnvOrConfig(common.EnvBaggingMaxFeatures, config.Model.BaggingMaxFeatures, common.DefaultBaggingMaxFeatures),
			Voting:             getStringFromEnvOrConfig(common.EnvVoting, config.Model.Voting, common.DefaultVoting),
			ModelFile:          getStringFromEnvOrConfig(common.EnvModelFile, config.Model.File, common.DefaultModelFile),
		},
		ProbThreshold: getFloatFromEnvOrConfig(common.EnvProbThreshold, config.Serve.ProbThreshold, common.DefaultProbThreshold),
		ServerPort:    getIntFromEnvOrConfig(common.EnvServerPort, config.Serve.Port, common.DefaultServerPort),
		MetricsFile:   getEnvOrDefault(common.EnvMetricsFile, config.System.MetricsFile),
		LogLevel:      getStringFromEnvOrConfig(common.EnvLogLevel, config.System.LogLevel, common.DefaultLogLevel),
	}

	// Validate configuration
	if err := Validate(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Defaults()

	settings.DataRoot = getEnvOrDefault(common.EnvDataRoot, settings.DataRoot)
	settings.RawFile = getEnvOrDefault(common.EnvRawFile, settings.RawFile)
	settings.ClassifiersDir = getEnvOrDefault(common.EnvClassifiersDir, settings.ClassifiersDir)
	settings.DataPath = os.Getenv(common.EnvDataPath) // optional
	settings.SourceURL = getEnvOrDefault(common.EnvSourceURL, settings.SourceURL)
	settings.FetchTimeout = getDurationOrDefault(common.EnvFetchTimeout, settings.FetchTimeout)
	settings.Target = getEnvOrDefault(common.EnvTarget, settings.Target)
	settings.SortBy = getEnvOrDefault(common.EnvSortBy, settings.SortBy)
	settings.TestSize = getFloatOrDefault(common.EnvTestSize, settings.TestSize)
	settings.Stratify = getBoolOrDefault(common.EnvStratify, settings.Stratify)
	settings.Seed = getInt64OrDefault(common.EnvSeed, settings.Seed)
	settings.FraudLabel = getIntOrDefault(common.EnvFraudLabel, settings.FraudLabel)
	settings.CleanColumn = getEnvOrDefault(common.EnvCleanColumn, settings.CleanColumn)
	settings.CleanThreshold = getFloatOrDefault(common.EnvCleanThreshold, settings.CleanThreshold)
	settings.ScaleColumns = splitOrDefault(os.Getenv(common.EnvScaleColumns), settings.ScaleColumns)
	settings.TomekStrategy = getEnvOrDefault(common.EnvTomekStrategy, settings.TomekStrategy)
	settings.Model.SVMC = getFloatOrDefault(common.EnvSVMC, settings.Model.SVMC)
	settings.Model.SVMGamma = getFloatOrDefault(common.EnvSVMGamma, settings.Model.SVMGamma)
	settings.Model.KNNNeighbors = getIntOrDefault(common.EnvKNNNeighbors, settings.Model.KNNNeighbors)
	settings.Model.KNNP = getFloatOrDefault(common.EnvKNNP, settings.Model.KNNP)
	settings.Model.LogRegC = getFloatOrDefault(common.EnvLogRegC, settings.Model.LogRegC)
	settings.Model.LogRegMaxIter = getIntOrDefault(common.EnvLogRegMaxIter, settings.Model.LogRegMaxIter)
	settings.Model.BaggingEstimators = getIntOrDefault(common.EnvBaggingEstimators, settings.Model.BaggingEstimators)
	settings.Model.BaggingMaxSamples = getFloatOrDefault(common.EnvBaggingMaxSamples, settings.Model.BaggingMaxSamples)
	settings.Model.BaggingMaxFeatures = getFloatOrDefault(common.EnvBaggingMaxFeatures, settings.Model.BaggingMaxFeatures)
	settings.Model.Voting = getEnvOrDefault(common.EnvVoting, settings.Model.Voting)
	settings.Model.ModelFile = getEnvOrDefault(common.EnvModelFile, settings.Model.ModelFile)
	settings.ProbThreshold = getFloatOrDefault(common.EnvProbThreshold, settings.ProbThreshold)
	settings.ServerPort = getIntOrDefault(common.EnvServerPort, settings.ServerPort)
	settings.MetricsFile = os.Getenv(common.EnvMetricsFile)
	settings.LogLevel = getEnvOrDefault(common.EnvLogLevel, settings.LogLevel)

	// Validate configuration
	if err := Validate(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Defaults returns the settings used when neither a file nor the environment
// says otherwise.
func Defaults() Settings {
	return Settings{
		DataRoot:       common.DefaultDataRoot,
		RawFile:        common.DefaultRawFile,
		ClassifiersDir: common.DefaultClassifiersDir,
		SourceURL:      common.DefaultSourceURL,
		FetchTimeout:   2 * time.Minute,
		Target:         common.ColumnClass,
		SortBy:         common.ColumnTime,
		TestSize:       common.DefaultTestSize,
		Stratify:       true,
		Seed:           common.DefaultSeed,
		FraudLabel:     common.LabelFraud,
		CleanColumn:    common.ColumnAmount,
		CleanThreshold: common.DefaultCleanThreshold,
		ScaleColumns:   []string{common.ColumnTime, common.ColumnAmount},
		TomekStrategy:  common.DefaultTomekStrategy,
		Model: ModelSettings{
			SVMC:               common.DefaultSVMC,
			KNNNeighbors:       common.DefaultKNNNeighbors,
			KNNP:               common.DefaultKNNP,
			LogRegC:            common.DefaultLogRegC,
			LogRegMaxIter:      common.DefaultLogRegMaxIter,
			BaggingEstimators:  common.DefaultBaggingEstimators,
			BaggingMaxSamples:  common.DefaultBaggingMaxSamples,
			BaggingMaxFeatures: common.DefaultBaggingMaxFeatures,
			Voting:             common.DefaultVoting,
			ModelFile:          common.DefaultModelFile,
		},
		ProbThreshold: common.DefaultProbThreshold,
		ServerPort:    common.DefaultServerPort,
		LogLevel:      common.DefaultLogLevel,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getStringFromEnvOrConfig(key, configValue, defaultValue string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	if configValue != "" {
		return configValue
	}
	return defaultValue
}

func getListFromEnvOrConfig(key string, configValue, defaultValue []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, defaultValue)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// Validate performs range checks on every pipeline parameter.
func Validate(settings *Settings) error {
	if settings.DataRoot == "" {
		return fmt.Errorf("data root cannot be empty")
	}
	if settings.RawFile == "" {
		return fmt.Errorf("raw file name cannot be empty")
	}
	if settings.Target == "" {
		return fmt.Errorf("target column cannot be empty")
	}
	if settings.FetchTimeout < time.Second || settings.FetchTimeout > time.Hour {
		return fmt.Errorf("fetch timeout must be between 1s and 1h, got %v", settings.FetchTimeout)
	}

	// Split
	if settings.TestSize <= 0 || settings.TestSize >= 1 {
		return fmt.Errorf("test size must be in (0, 1), got %f", settings.TestSize)
	}

	// Clean
	if settings.FraudLabel != common.LabelLegit && settings.FraudLabel != common.LabelFraud {
		return fmt.Errorf("fraud label must be 0 or 1, got %d", settings.FraudLabel)
	}
	if settings.CleanColumn == "" {
		return fmt.Errorf("clean column cannot be empty")
	}
	if settings.CleanThreshold <= 0 {
		return fmt.Errorf("clean threshold must be positive, got %f", settings.CleanThreshold)
	}

	// Scale
	if len(settings.ScaleColumns) == 0 {
		return fmt.Errorf("at least one scale column must be specified")
	}
	for _, c := range settings.ScaleColumns {
		if c == settings.Target {
			return fmt.Errorf("target column %s cannot be scaled", c)
		}
	}

	// Resample
	if settings.TomekStrategy != common.TomekMajority && settings.TomekStrategy != common.TomekBoth {
		return fmt.Errorf("tomek strategy must be %q or %q, got %q", common.TomekMajority, common.TomekBoth, settings.TomekStrategy)
	}

	// Model
	m := settings.Model
	if m.SVMC <= 0 || m.SVMC > 1e6 {
		return fmt.Errorf("SVM C must be between 0 and 1e6, got %f", m.SVMC)
	}
	if m.SVMGamma < 0 {
		return fmt.Errorf("SVM gamma cannot be negative, got %f", m.SVMGamma)
	}
	if m.KNNNeighbors <= 0 || m.KNNNeighbors > 100 {
		return fmt.Errorf("KNN neighbors must be between 1 and 100, got %d", m.KNNNeighbors)
	}
	if m.KNNP < 1 {
		return fmt.Errorf("KNN p must be at least 1, got %f", m.KNNP)
	}
	if m.LogRegC <= 0 || m.LogRegC > 1e6 {
		return fmt.Errorf("logistic regression C must be between 0 and 1e6, got %f", m.LogRegC)
	}
	if m.LogRegMaxIter <= 0 || m.LogRegMaxIter > 100000 {
		return fmt.Errorf("logistic regression max iterations must be between 1 and 100000, got %d", m.LogRegMaxIter)
	}
	if m.BaggingEstimators <= 0 || m.BaggingEstimators > 1000 {
		return fmt.Errorf("bagging estimators must be between 1 and 1000, got %d", m.BaggingEstimators)
	}
	if m.BaggingMaxSamples <= 0 || m.BaggingMaxSamples > 1 {
		return fmt.Errorf("bagging max samples must be in (0, 1], got %f", m.BaggingMaxSamples)
	}
	if m.BaggingMaxFeatures <= 0 || m.BaggingMaxFeatures > 1 {
		return fmt.Errorf("bagging max features must be in (0, 1], got %f", m.BaggingMaxFeatures)
	}
	if m.Voting != common.VotingHard && m.Voting != common.VotingSoft {
		return fmt.Errorf("voting must be %q or %q, got %q", common.VotingHard, common.VotingSoft, m.Voting)
	}
	if m.ModelFile == "" {
		return fmt.Errorf("model file name cannot be empty")
	}

	// Serve
	if settings.ProbThreshold <= 0 || settings.ProbThreshold >= 1 {
		return fmt.Errorf("probability threshold must be in (0, 1), got %f", settings.ProbThreshold)
	}
	if settings.ServerPort < 1024 || settings.ServerPort > 65535 {
		return fmt.Errorf("server port must be between 1024 and 65535, got %d", settings.ServerPort)
	}

	return nil
}
