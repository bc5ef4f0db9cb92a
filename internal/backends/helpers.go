package backends

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"docs4usync/internal/backends/ddb"
	"docs4usync/internal/backends/memory"
	"docs4usync/internal/backends/sqlstore"
	"docs4usync/internal/lock"
	"docs4usync/internal/ports"
	"docs4usync/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"

	redisbackend "docs4usync/internal/backends/redis"
)

const (
	CacheBackendEnvKey = "CACHE_BACKEND"
	LockBackendEnvKey  = "LOCK_BACKEND"
	BackendMemory      = "memory"
	BackendDDB         = "ddb"
	BackendRedis       = "redis"
	BackendPostgres    = "postgres"
	BackendSQLite      = "sqlite"
	BackendLocal       = "local"

	DDBEndpointKey = "DDB_ENDPOINT"
	DDBTableKey    = "DDB_TABLE"

	RedisHost  = "REDIS_HOST"
	RedisPort  = "REDIS_PORT"
	RedisUser  = "REDIS_USER"
	RedisPass  = "REDIS_PASS"
	RedisTLS   = "REDIS_SSL"
	RedisDBNum = "REDIS_DB_NUM"

	PostgresDSNKey = "POSTGRES_DSN"
	SQLitePathKey  = "SQLITE_PATH"
	SNSEndpointKey = "SNS_ENDPOINT"

	RootDirectoryKey   = "DOCS4U_ROOT"
	SpecFileKey        = "SPEC_FILE"
	ActivitySNSArnKey  = "ACTIVITY_SNS_ARN"
	HTTPPortKey        = "HTTP_PORT"
	PoolSizeKey        = "CONNECTOR_POOL_SIZE"
	CacheLifetimeKey   = "CACHE_LIFETIME"
	SessionLifetimeKey = "SESSION_LIFETIME"
	LookupTimeoutKey   = "LOOKUP_TIMEOUT"
)
const AmazonRootCA1PEM = `-----BEGIN CERTIFICATE-----
MIIDQTCCAimgAwIBAgITBmyfz5m/jAo54vB4ikPmljZbyjANBgkqhkiG9w0BAQsF
ADA5MQswCQYDVQQGEwJVUzEPMA0GA1UEChMGQW1hem9uMRkwFwYDVQQDExBBbWF6
b24gUm9vdCBDQSAxMB4XDTE1MDUyNjAwMDAwMFoXDTM4MDExNzAwMDAwMFowOTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoTBkFtYXpvbjEZMBcGA1UEAxMQQW1hem9uIFJv
b3QgQ0EgMTCCASIwDQYJKoZIhvcNAQEBBQADggEPADCCAQoCggEBALJ4gHHKeNXj
ca9HgFB0fW7Y14h29Jlo91ghYPl0hAEvrAIthtOgQ3pOsqTQNroBvo3bSMgHFzZM
9O6II8c+6zf1tRn4SWiw3te5djgdYZ6k/oI2peVKVuRF4fn9tBb6dNqcmzU5L/qw
IFAGbHrQgLKm+a/sRxmPUDgH3KKHOVj4utWp+UhnMJbulHheb4mjUcAwhmahRWa6
VOujw5H5SNz/0egwLX0tdHA114gk957EWW67c4cX8jJGKLhD+rcdqsq08p8kDi1L
93FcXmn/6pUCyziKrlA4b9v7LWIbxcceVOF34GfID5yHI9Y/QCB/IIDEgEw+OyQm
jgSubJrIqg0CAwEAAaNCMEAwDwYDVR0TAQH/BAUwAwEB/zAOBgNVHQ8BAf8EBAMC
AYYwHQYDVR0OBBYEFIQYzIU07LwMlJQuCFmcx7IQTgoIMA0GCSqGSIb3DQEBCwUA
A4IBAQCY8jdaQZChGsV2USggNiMOruYou6r4lK5IpDB/G/wkjUu0yKGX9rbxenDI
U5PMCCjjmCXPI6T53iHTfIUJrU6adTrCC2qJeHZERxhlbI1Bjjt/msv0tadQ1wUs
N+gDS63pYaACbvXy8MWy7Vu33PqUXHeeE6V/Uq2V8viTO96LXFvKWlJbYK8U90vv
o/ufQJVtMVT8QtPHRh8jrdkPSHCa2XV4cdFyQzR1bldZwgJcJmApzyMZFo6IQ6XU
5MsI+yMRQ+hDKXJioaldXgjUkK642M4UwtBV8ob2xJNDd2ZhwLnoQdeXeGADbkpy
rqXRfboQnoZsG4q5WTP468SQvvG5
-----END CERTIFICATE-----`

// Settings are the process-level knobs read from the environment.
type Settings struct {
	RootDirectory   string
	SpecFile        string
	ActivitySNSArn  string
	HTTPPort        int
	PoolSize        int
	CacheLifetime   time.Duration
	SessionLifetime time.Duration
	LookupTimeout   time.Duration
}

// SettingsFromEnv reads Settings, applying defaults for anything unset.
func SettingsFromEnv() (Settings, error) {
	s := Settings{
		RootDirectory:  os.Getenv(RootDirectoryKey),
		SpecFile:       os.Getenv(SpecFileKey),
		ActivitySNSArn: os.Getenv(ActivitySNSArnKey),
	}
	var err error
	if s.HTTPPort, err = strconv.Atoi(getenv(HTTPPortKey, "8080")); err != nil {
		return s, fmt.Errorf("%w: %s: %v", types.ErrInvalidConfig, HTTPPortKey, err)
	}
	if s.PoolSize, err = strconv.Atoi(getenv(PoolSizeKey, "4")); err != nil || s.PoolSize < 1 {
		return s, fmt.Errorf("%w: %s must be a positive integer", types.ErrInvalidConfig, PoolSizeKey)
	}
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{CacheLifetimeKey, types.DefaultCacheLifetime, &s.CacheLifetime},
		{SessionLifetimeKey, types.DefaultSessionLifetime, &s.SessionLifetime},
		{LookupTimeoutKey, types.DefaultLookupTimeout, &s.LookupTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			*d.dst = d.def
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return s, fmt.Errorf("%w: %s=%q is not a positive duration", types.ErrInvalidConfig, d.key, v)
		}
		*d.dst = parsed
	}
	return s, nil
}

// IdentityCacheFromEnv constructs the identity cache selected by CACHE_BACKEND.
// Supported backends are "memory", "ddb", "redis", "postgres" and "sqlite".
// Defaults to "sqlite" next to the repository when unset, which keeps the cache
// persistent across restarts like the original lookup table.
func IdentityCacheFromEnv() (cache ports.IdentityCache, err error) {
	backend := getenv(CacheBackendEnvKey, BackendSQLite)
	switch backend {
	case BackendMemory:
		cache = memory.NewIdentityCache()

	case BackendDDB:
		var ddbClient *dynamodb.Client
		ddbClient, err = ddbClientFromEnv()
		if err != nil {
			return nil, err
		}
		cache = ddb.NewIdentityCache(getenv(DDBTableKey, "docs4u_usergroup_lookup"), ddbClient)

	case BackendRedis:
		var redisClient *redis.Client
		redisClient, err = redisClientFromEnv()
		if err != nil {
			return nil, err
		}
		cache = redisbackend.NewIdentityCache(redisClient)

	case BackendPostgres:
		dsn := os.Getenv(PostgresDSNKey)
		if dsn == "" {
			return nil, fmt.Errorf("%w: %s is required for the postgres cache", types.ErrInvalidConfig, PostgresDSNKey)
		}
		cache, err = sqlstore.Open(sqlstore.DialectPostgres, dsn, "")

	case BackendSQLite:
		path := os.Getenv(SQLitePathKey)
		if path == "" {
			root := os.Getenv(RootDirectoryKey)
			if root == "" {
				return nil, fmt.Errorf("%w: %s or %s is required for the sqlite cache", types.ErrInvalidConfig, SQLitePathKey, RootDirectoryKey)
			}
			path = filepath.Join(root, "usergroup_lookup.db")
		}
		cache, err = sqlstore.Open(sqlstore.DialectSQLite, path, "")

	default:
		return nil, fmt.Errorf("%w: %s=%q", types.ErrInvalidBackend, CacheBackendEnvKey, backend)
	}
	if err != nil {
		return nil, err
	}
	return cache, nil
}

// LockerFromEnv returns the lock used to collapse concurrent identity lookups.
// "local" (default) only serializes within this process; "redis" spans processes.
func LockerFromEnv() (ports.Locker, error) {
	backend := getenv(LockBackendEnvKey, BackendLocal)
	switch backend {
	case BackendLocal:
		return lock.NewTable(), nil
	case BackendRedis:
		redisClient, err := redisClientFromEnv()
		if err != nil {
			return nil, err
		}
		return redisbackend.NewLocker(redisClient, 0), nil
	default:
		return nil, fmt.Errorf("%w: %s=%q", types.ErrInvalidBackend, LockBackendEnvKey, backend)
	}
}

// SNSClientFromEnv creates an SNS client, pointed at SNS_ENDPOINT when set.
func SNSClientFromEnv(ctx context.Context) (*sns.Client, error) {
	var snsEndpoint *string
	se := os.Getenv(SNSEndpointKey)
	if se != "" {
		snsEndpoint = aws.String(se)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if snsEndpoint != nil {
			o.BaseEndpoint = snsEndpoint
			if o.Region == "" {
				o.Region = "us-east-1"
			}
			o.Credentials = credentials.NewStaticCredentialsProvider("test", "test", "")
		}
	}), nil
}

// ddbClientFromEnv creates a DynamoDB client from environment variables, if any.
func ddbClientFromEnv() (*dynamodb.Client, error) {
	var ddbEndpoint *string
	de := os.Getenv(DDBEndpointKey)
	if de != "" {
		ddbEndpoint = aws.String(de)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background())

	if err != nil {
		return nil, err
	}

	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if ddbEndpoint != nil {
			// local testing only
			o.BaseEndpoint = ddbEndpoint
			o.Region = getenv("AWS_REGION", "us-east-1")
			o.Credentials = credentials.NewStaticCredentialsProvider(
				getenv("AWS_ACCESS_KEY_ID", "x"),
				getenv("AWS_SECRET_ACCESS_KEY", "x"),
				"",
			)
		}
	})
	return ddbClient, nil
}

// redisClientFromEnv creates a Redis client from environment variables, if any.
func redisClientFromEnv() (*redis.Client, error) {
	host := getenv(RedisHost, "localhost")
	port := getenv(RedisPort, "6379")
	user := os.Getenv(RedisUser)
	pass := os.Getenv(RedisPass)
	tlsEnabled := parseBoolean(getenv(RedisTLS, "false"))
	dbNum, err := strconv.Atoi(getenv(RedisDBNum, "0"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Redis DB number: %v", types.ErrInvalidConfig, err)
	}

	var tlsConfig *tls.Config
	if tlsEnabled {
		caCerts := x509.NewCertPool()
		if !caCerts.AppendCertsFromPEM([]byte(AmazonRootCA1PEM)) {
			return nil, fmt.Errorf("failed to retrieve CA certificate")
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCerts,
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:      fmt.Sprintf("%s:%s", host, port),
		Username:  user,
		Password:  pass,
		DB:        dbNum,
		TLSConfig: tlsConfig,
	})
	if _, err = redisClient.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return redisClient, nil
}

// getenv retrieves the value of the environment variable named by the key.
func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func parseBoolean(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
