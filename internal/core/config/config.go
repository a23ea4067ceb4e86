package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string

	InitialOldest bool
	TLSEnable     bool
	TLSCAFile     string
	TLSSkipVerify bool
	SASLUser      string
	SASLPassword  string
}

type StoreCfg struct {
	Backend        string
	LocalRoot      string
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UseSSL       bool
	IPFSAPIURL     string
	IPFSGatewayURL string
	// EncryptionKey is the hex encoded key of encrypted zarr chunks.
	EncryptionKey string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int
	// CORSOrigins are the browser origins allowed to post queries.
	CORSOrigins []string

	Store StoreCfg

	PointLimit            int64
	SkipMissingTimestamps bool
	RequireData           bool
	CatalogSize           int
	CatalogTTL            time.Duration

	ResultCacheEnabled bool
	RedisAddr          string
	CacheOpTimeout     time.Duration
	CacheTTLDefault    time.Duration
	CacheTTLOvr        map[string]time.Duration
	FootprintRes       int
	FootprintMaxCells  int

	// CacheAdmitThreshold is the decayed request count an area needs before
	// its results are cached; zero caches everything.
	CacheAdmitThreshold float64
	CacheHotHalfLife    time.Duration
	CacheHotMaxKeys     int

	Invalidation InvalidationCfg

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string
}

const DefaultPointLimit int64 = 40 * 40 * 50_000

func FromEnv() Config {
	res := getint("FOOTPRINT_H3_RES", 3)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		CORSOrigins: getlist("CORS_ORIGINS", "*"),

		Store: StoreCfg{
			Backend:        strings.ToLower(getenv("STORE_BACKEND", "local")),
			LocalRoot:      getenv("LOCAL_ROOT", "./data"),
			S3Endpoint:     getenv("S3_ENDPOINT", "localhost:9000"),
			S3Bucket:       getenv("S3_BUCKET", "zarr-prod"),
			S3AccessKey:    getenv("S3_ACCESS_KEY", ""),
			S3SecretKey:    getenv("S3_SECRET_KEY", ""),
			S3UseSSL:       getbool("S3_USE_SSL", false),
			IPFSAPIURL:     getenv("IPFS_API_URL", "http://127.0.0.1:5001"),
			IPFSGatewayURL: getenv("IPFS_GATEWAY_URL", "http://127.0.0.1:8080"),
			EncryptionKey:  getenv("ZARR_ENCRYPTION_KEY", ""),
		},

		PointLimit:            getint64("POINT_LIMIT", DefaultPointLimit),
		SkipMissingTimestamps: getbool("SKIP_MISSING_TIMESTAMPS", false),
		RequireData:           getbool("REQUIRE_DATA", false),
		CatalogSize:           getint("CATALOG_SIZE", 32),
		CatalogTTL:            getduration("CATALOG_TTL", time.Minute),

		ResultCacheEnabled: getbool("RESULT_CACHE_ENABLED", false),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout:     getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLDefault:    getduration("CACHE_TTL_DEFAULT", 10*time.Minute),
		CacheTTLOvr:        parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		FootprintRes:       res,
		FootprintMaxCells:  getint("FOOTPRINT_MAX_CELLS", 2048),

		CacheAdmitThreshold: getfloat("CACHE_ADMIT_THRESHOLD", 0),
		CacheHotHalfLife:    getduration("CACHE_HOT_HALF_LIFE", 5*time.Minute),
		CacheHotMaxKeys:     getint("CACHE_HOT_MAX_KEYS", 1<<16),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "dataset-changes"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "geoquery-invalidator"),

			InitialOldest: getbool("KAFKA_INITIAL_OLDEST", false),
			TLSEnable:     getbool("KAFKA_TLS_ENABLE", false),
			TLSCAFile:     getenv("KAFKA_TLS_CA_FILE", ""),
			TLSSkipVerify: getbool("KAFKA_TLS_SKIP_VERIFY", false),
			SASLUser:      getenv("KAFKA_SASL_USERNAME", ""),
			SASLPassword:  getenv("KAFKA_SASL_PASSWORD", ""),
		},

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

// TTLFor returns the result TTL of a dataset.
func (c Config) TTLFor(dataset string) time.Duration {
	if d, ok := c.CacheTTLOvr[dataset]; ok {
		return d
	}
	return c.CacheTTLDefault
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getlist(k, def string) []string {
	var out []string
	for p := range strings.SplitSeq(getenv(k, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(strings.ReplaceAll(v, "_", ""), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "era5=1h,cpc=30m" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
