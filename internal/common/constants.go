package common

// Dataset columns
const (
	ColumnTime   = "Time"
	ColumnAmount = "Amount"
	ColumnClass  = "Class"
)

// Class labels
const (
	LabelLegit = 0
	LabelFraud = 1
)

// Environment variable keys
const (
	EnvConfigFile         = "CONFIG_FILE"
	EnvDataRoot           = "DATA_ROOT"
	EnvRawFile            = "RAW_FILE"
	EnvClassifiersDir     = "CLASSIFIERS_DIR"
	EnvDataPath           = "DATA_PATH"
	EnvSourceURL          = "SOURCE_URL"
	EnvFetchTimeout       = "FETCH_TIMEOUT"
	EnvTarget             = "TARGET_COLUMN"
	EnvSortBy             = "SORT_BY"
	EnvTestSize           = "TEST_SIZE"
	EnvStratify           = "STRATIFY"
	EnvSeed               = "SEED"
	EnvFraudLabel         = "FRAUD_LABEL"
	EnvCleanColumn        = "CLEAN_COLUMN"
	EnvCleanThreshold     = "CLEAN_THRESHOLD"
	EnvScaleColumns       = "SCALE_COLUMNS"
	EnvTomekStrategy      = "TOMEK_STRATEGY"
	EnvSVMC               = "SVM_C"
	EnvSVMGamma           = "SVM_GAMMA"
	EnvKNNNeighbors       = "KNN_NEIGHBORS"
	EnvKNNP               = "KNN_P"
	EnvLogRegC            = "LOGREG_C"
	EnvLogRegMaxIter      = "LOGREG_MAX_ITER"
	EnvBaggingEstimators  = "BAGGING_ESTIMATORS"
	EnvBaggingMaxSamples  = "BAGGING_MAX_SAMPLES"
	EnvBaggingMaxFeatures = "BAGGING_MAX_FEATURES"
	EnvVoting             = "VOTING"
	EnvModelFile          = "MODEL_FILE"
	EnvProbThreshold      = "PROB_THRESHOLD"
	EnvServerPort         = "SERVER_PORT"
	EnvMetricsFile        = "METRICS_FILE"
	EnvLogLevel           = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultDataRoot           = "data"
	DefaultRawFile            = "creditcard.csv"
	DefaultClassifiersDir     = "classifiers"
	DefaultSourceURL          = ""
	DefaultTestSize           = 0.2
	DefaultSeed               = 42
	DefaultCleanThreshold     = 1010.875
	DefaultTomekStrategy      = "majority"
	DefaultSVMC               = 100.0
	DefaultKNNNeighbors       = 1
	DefaultKNNP               = 1.0
	DefaultLogRegC            = 100.0
	DefaultLogRegMaxIter      = 500
	DefaultBaggingEstimators  = 10
	DefaultBaggingMaxSamples  = 0.75
	DefaultBaggingMaxFeatures = 0.5
	DefaultVoting             = "hard"
	DefaultModelFile          = "fitted_model.zst"
	DefaultProbThreshold      = 0.5
	DefaultServerPort         = 8080
	DefaultLogLevel           = "info"
)

// Directory and file names of the on-disk layout
const (
	RawDir          = "raw"
	TrainTestDir    = "train_test"
	CleanDir        = "clean"
	ProcessedDir    = "processed"
	ScaledDir       = "robust_scaled"
	RUSDir          = "rus"
	TomekDir        = "tl"
	ReportsDir      = "reports"
	TrainFile       = "train.csv"
	TestFile        = "test.csv"
	CleanFile       = "clean_train.csv"
	ScaledFile      = "scaled.csv"
	ScalerFile      = "scaler.json"
	RUSFile         = "random_undersampled.csv"
	TomekFile       = "tomeklinks_undersampled.csv"
	ProcessedFile   = "processed_train.csv"
	ScoredFile      = "scored.csv"
	VersionsDir     = "versions"
	DatabaseFile    = "fraud-pipeline.db"
	ArtifactKind    = "fraud-pipeline/voting-ensemble"
	VersionTimeFmt  = "20060102-150405"
	StageFetch      = "fetch"
	StageGenerate   = "generate"
	StageSplit      = "split"
	StageClean      = "clean"
	StageScale      = "scale"
	StageUndersamp  = "undersample"
	StageTomek      = "tomek_links"
	StageFit        = "fit"
	StageEvaluate   = "evaluate"
	StagePredict    = "predict"
	TomekMajority   = "majority"
	TomekBoth       = "both"
	VotingHard      = "hard"
	VotingSoft      = "soft"
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755
)
