package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatasetPath == "" {
		cfg.Storage.DatasetPath = "/usr/local/var/civicmatch/data/bbmp_reddit_data.csv"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/civicmatch/data/grievance.index"
	}
	if cfg.Storage.MetadataPath == "" {
		cfg.Storage.MetadataPath = "/usr/local/var/civicmatch/data/grievance_meta.json"
	}
	if cfg.Storage.FingerprintPath == "" {
		cfg.Storage.FingerprintPath = "/usr/local/var/civicmatch/data/grievance_fingerprint.txt"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/civicmatch/data/db/civicmatch.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/civicmatch/data/models/e5-base-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Inference.TopK == 0 {
		cfg.Inference.TopK = 8
	}
	if cfg.Inference.LowConfidenceThreshold == 0 {
		cfg.Inference.LowConfidenceThreshold = 0.35
	}
	if cfg.Inference.ProfileSampleSize == 0 {
		cfg.Inference.ProfileSampleSize = 80
	}
	if cfg.Inference.BaseLanguage == "" {
		cfg.Inference.BaseLanguage = "en"
	}
	if cfg.Inference.SupportedLanguages == nil {
		cfg.Inference.SupportedLanguages = []string{"en", "hi", "kn", "ta", "te", "mr", "bn"}
	}
	if cfg.Inference.LocalizeConcurrency == 0 {
		cfg.Inference.LocalizeConcurrency = 4
	}
	if cfg.Translation.Provider == "" {
		cfg.Translation.Provider = "none"
	}
	if cfg.Translation.TimeoutSecs == 0 {
		cfg.Translation.TimeoutSecs = 10
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 400
	}
}
