package server

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	defaultDbName   = "slipway"
	defaultDomain   = "slipway.local"
	defaultPortBase = 20000
)

type serverConfig struct {
	listenAddr string

	dbAddr, dbUser, dbPwd, dbName string

	// domain is the suffix of the routable app URLs, https://<app>.<domain>
	domain string
	// apiToken, when set, is required as a bearer token on every API call
	apiToken string
	// natsURL selects the NATS log router; empty means in-process fanout
	natsURL string

	buildRoot  string
	installCmd []string
	runtimes   []string
	portBase   int

	healthzTimeout time.Duration
}

type serverOption func(*serverConfig) error

func withListenAddress(addr string) serverOption {
	return func(o *serverConfig) error {
		o.listenAddr = addr
		return nil
	}
}

func withDBAddress(addr string) serverOption {
	return func(conf *serverConfig) error {
		conf.dbAddr = addr
		return nil
	}
}

func withDBUser(user string) serverOption {
	return func(conf *serverConfig) error {
		conf.dbUser = user
		return nil
	}
}

func withDBPass(pass string) serverOption {
	return func(conf *serverConfig) error {
		conf.dbPwd = pass
		return nil
	}
}

func withDBName(db string) serverOption {
	return func(conf *serverConfig) error {
		if db == "" {
			db = defaultDbName
		}
		conf.dbName = db
		return nil
	}
}

func withDomain(domain string) serverOption {
	return func(conf *serverConfig) error {
		conf.domain = domain
		return nil
	}
}

func withAPIToken(token string) serverOption {
	return func(conf *serverConfig) error {
		conf.apiToken = token
		return nil
	}
}

func withNATSURL(url string) serverOption {
	return func(conf *serverConfig) error {
		conf.natsURL = url
		return nil
	}
}

func withBuildRoot(dir string) serverOption {
	return func(conf *serverConfig) error {
		conf.buildRoot = dir
		return nil
	}
}

func withInstallCommand(cmd string) serverOption {
	return func(conf *serverConfig) error {
		conf.installCmd = strings.Fields(cmd)
		return nil
	}
}

func withRuntimes(langs []string) serverOption {
	return func(conf *serverConfig) error {
		conf.runtimes = langs
		return nil
	}
}

func withPortBase(base int) serverOption {
	return func(conf *serverConfig) error {
		conf.portBase = base
		return nil
	}
}

func readServerConfigEnv() []serverOption {
	var opts []serverOption

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		opts = append(opts, withListenAddress(addr))
	}

	if addr := os.Getenv("DB_ADDR"); addr != "" {
		opts = append(opts, withDBAddress(addr))
	}
	if user := os.Getenv("DB_USER"); user != "" {
		opts = append(opts, withDBUser(user))
	}
	if pwd := os.Getenv("DB_PASS"); pwd != "" {
		opts = append(opts, withDBPass(pwd))
	}
	if db := os.Getenv("DB_NAME"); db != "" {
		opts = append(opts, withDBName(db))
	}

	if domain := os.Getenv("SLIPWAY_DOMAIN"); domain != "" {
		opts = append(opts, withDomain(domain))
	}
	if token := os.Getenv("SLIPWAY_API_TOKEN"); token != "" {
		opts = append(opts, withAPIToken(token))
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		opts = append(opts, withNATSURL(url))
	}
	if dir := os.Getenv("SLIPWAY_BUILD_ROOT"); dir != "" {
		opts = append(opts, withBuildRoot(dir))
	}
	if cmd := os.Getenv("SLIPWAY_INSTALL_CMD"); cmd != "" {
		opts = append(opts, withInstallCommand(cmd))
	}

	return opts
}

func readServerConfigFlags(fset *pflag.FlagSet) []serverOption {
	var opts []serverOption

	if addr, err := fset.GetString("listen-addr"); err == nil && addr != "" {
		opts = append(opts, withListenAddress(addr))
	}

	if addr, err := fset.GetString("db-addr"); err == nil && addr != "" {
		opts = append(opts, withDBAddress(addr))
	}
	if user, err := fset.GetString("db-user"); err == nil && user != "" {
		opts = append(opts, withDBUser(user))
	}
	if pwd, err := fset.GetString("db-pass"); err == nil && pwd != "" {
		opts = append(opts, withDBPass(pwd))
	}
	if db, err := fset.GetString("db-name"); err == nil && db != "" {
		opts = append(opts, withDBName(db))
	}

	if domain, err := fset.GetString("domain"); err == nil && domain != "" {
		opts = append(opts, withDomain(domain))
	}
	if token, err := fset.GetString("api-token"); err == nil && token != "" {
		opts = append(opts, withAPIToken(token))
	}
	if url, err := fset.GetString("nats-url"); err == nil && url != "" {
		opts = append(opts, withNATSURL(url))
	}
	if dir, err := fset.GetString("build-root"); err == nil && dir != "" {
		opts = append(opts, withBuildRoot(dir))
	}
	if cmd, err := fset.GetString("install-cmd"); err == nil && cmd != "" {
		opts = append(opts, withInstallCommand(cmd))
	}
	if langs, err := fset.GetStringSlice("runtimes"); err == nil && len(langs) > 0 {
		opts = append(opts, withRuntimes(langs))
	}
	if base, err := fset.GetInt("port-base"); err == nil && base > 0 {
		opts = append(opts, withPortBase(base))
	}

	return opts
}
