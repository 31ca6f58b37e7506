package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Store backends selectable with WHITEBOARD_STORE / --store
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Env      string `yaml:"env"`
	HTTPAddr string `yaml:"http_addr"`

	Store  string `yaml:"store"`
	DBPath string `yaml:"db_path"`

	Mongo MongoSettings `yaml:"mongo"`

	// RedisAddr enables cross-instance fan-out when set
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

type MongoSettings struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Host       string `yaml:"host"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

func defaultConfig() Config {
	return Config{
		Env:      "dev",
		HTTPAddr: ":8080",
		Store:    StoreSQLite,
		DBPath:   "./data/whiteboard.db",
	}
}

// LoadConfig layers defaults, the YAML file named by --config or
// WHITEBOARD_CONFIG, environment variables and finally explicit flags.
func LoadConfig(args []string) (Config, error) {
	cfg := defaultConfig()

	fs := pflag.NewFlagSet("whiteboard", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	env := fs.String("env", cfg.Env, "environment (dev or prod)")
	addr := fs.String("addr", cfg.HTTPAddr, "HTTP listen address")
	store := fs.String("store", cfg.Store, "history store: sqlite, mongo or memory")
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	redisAddr := fs.String("redis", "", "redis address for cross-instance fan-out")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("WHITEBOARD_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if fs.Changed("env") {
		cfg.Env = *env
	}
	if fs.Changed("addr") {
		cfg.HTTPAddr = *addr
	}
	if fs.Changed("store") {
		cfg.Store = *store
	}
	if fs.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if fs.Changed("redis") {
		cfg.RedisAddr = *redisAddr
	}

	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Env, "APP_ENV")
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.Store, "WHITEBOARD_STORE")
	setString(&cfg.DBPath, "WHITEBOARD_DB_PATH")

	setString(&cfg.Mongo.Username, "MONGO_DB_USERNAME")
	setString(&cfg.Mongo.Password, "MONGO_DB_PASSWORD")
	setString(&cfg.Mongo.Host, "MONGO_DB_STRING")
	setString(&cfg.Mongo.Database, "MONGO_DB_NAME")
	setString(&cfg.Mongo.Collection, "MONGO_COLLECTION")

	setString(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("REDIS_DB must be a non-negative integer, got %q", v)
		}
		cfg.RedisDB = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the server cannot start with
func (c Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is empty"))
	}

	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("sqlite store needs WHITEBOARD_DB_PATH"))
		}
	case StoreMongo:
		if c.Mongo.Host == "" {
			errs = append(errs, errors.New("mongo store needs MONGO_DB_STRING"))
		}
		// a full connection string carries its own credentials
		if !isMongoURI(c.Mongo.Host) && (c.Mongo.Username == "" || c.Mongo.Password == "") {
			errs = append(errs, errors.New("mongo store needs MONGO_DB_USERNAME and MONGO_DB_PASSWORD"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	return errors.Join(errs...)
}

// MongoURI builds the Atlas connection string from the configured credentials
func (c Config) MongoURI() string {
	if isMongoURI(c.Mongo.Host) {
		return c.Mongo.Host
	}
	u := url.URL{
		Scheme:   "mongodb+srv",
		User:     url.UserPassword(c.Mongo.Username, c.Mongo.Password),
		Host:     c.Mongo.Host,
		Path:     "/",
		RawQuery: "ssl=true&retryWrites=true&w=majority&appName=Cluster0",
	}
	return u.String()
}

func isMongoURI(s string) bool {
	return strings.HasPrefix(s, "mongodb://") || strings.HasPrefix(s, "mongodb+srv://")
}
