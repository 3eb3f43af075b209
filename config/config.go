package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DBUrl       string
	TokenSecret string
	TokenTTL    time.Duration
	Debug       bool

	// Object storage for FILE responses.
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageSSL       bool
	PublicBaseURL    string

	MaxUploadSize int64
}

func ParseFlags() (cfg Config, err error) {
	_ = godotenv.Load()

	var host string
	flag.StringVar(&host, "host", "0.0.0.0", "listen host name (default 0.0.0.0)")
	var port uint
	flag.UintVar(&port, "port", 80, "listen port number (default 80)")
	flag.StringVar(&cfg.DBUrl, "db-url", envOr("FORMSLY_DB", "formsly.sqlite"), "path to SQLite3 DB file (default formsly.sqlite)")
	flag.StringVar(&cfg.TokenSecret, "token-secret", os.Getenv("FORMSLY_TOKEN_SECRET"), "secret key for token encryption and decryption")
	var ttl uint
	flag.UintVar(&ttl, "token-ttl", 120, "token TTL in seconds (default 120)")
	flag.StringVar(&cfg.StorageEndpoint, "storage-endpoint", envOr("MINIO_ENDPOINT", "127.0.0.1:9000"), "object storage host:port")
	flag.StringVar(&cfg.StorageAccessKey, "storage-access-key", os.Getenv("MINIO_ACCESS_KEY"), "object storage access key")
	flag.StringVar(&cfg.StorageSecretKey, "storage-secret-key", os.Getenv("MINIO_SECRET_KEY"), "object storage secret key")
	flag.StringVar(&cfg.StorageBucket, "storage-bucket", envOr("MINIO_BUCKET", "formsly-attachments"), "object storage bucket for file responses")
	flag.BoolVar(&cfg.StorageSSL, "storage-ssl", false, "use TLS when talking to object storage")
	flag.StringVar(&cfg.PublicBaseURL, "public-base-url", envOr("FORMSLY_PUBLIC_URL", "http://127.0.0.1:9000"), "base URL for public attachment links")
	var maxUpload uint
	flag.UintVar(&maxUpload, "max-upload-mb", 25, "per-file upload size limit in MiB (default 25)")
	flag.BoolVar(&cfg.Debug, "debug", false, "log at DEBUG level")
	flag.Parse()

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.TokenTTL = time.Duration(ttl) * time.Second
	cfg.MaxUploadSize = int64(maxUpload) << 20

	if cfg.TokenSecret == "" {
		err = errors.New("missing parameter -token-secret")
	}

	return
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}
