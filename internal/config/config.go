// Package config describes the registry's on-disk configuration, parsed and
// described with github.com/mjl-/sconf exactly as the teacher (vex) does for
// its own, much smaller, config struct.
package config

import (
	"io"
	"time"

	"github.com/mjl-/sconf"
)

// Config is the full configuration for a registryd instance. Field comments
// become the sconf-generated documentation for "registryd describe".
type Config struct {
	DataDir string `sconf-doc:"Directory holding registry.db, index/, blobs/ (if fs storage) and keys/."`

	Web struct {
		PublicURI    string `sconf-doc:"Public base URI the instance is reachable at, used to build absolute links."`
		CookieSecret string `sconf-doc:"Base64, >=64 bytes of random key material used to seal session cookies and HMAC OAuth state."`
		PublicAddr   string `sconf-doc:"Address for the read-only listener."`
		AuthAddr     string `sconf-doc:"Address for the authenticated/writable listener."`
		AdminAddr    string `sconf-doc:"Address for the metrics/admin listener."`
		BodyLimit    int64  `sconf-doc:"Maximum accepted request body size, in bytes."`
	}

	Index struct {
		ProtocolGit          bool   `sconf-doc:"Not read: the git-smart protocol view of the index is always served."`
		ProtocolSparse       bool   `sconf-doc:"Not read: the sparse-HTTP protocol view of the index is always served."`
		GitRemote            string `sconf-doc:"Optional remote URL to mirror the index repository to."`
		GitRemoteSSHKeyFile  string `sconf-doc:"Path to the private key used to push to GitRemote."`
		GitRemotePushChanges bool   `sconf-doc:"Whether to push to GitRemote after each local commit."`
		GitUserName          string `sconf-doc:"Author name used for index commits."`
		GitUserEmail         string `sconf-doc:"Author email used for index commits."`
	}

	Storage struct {
		Kind    string        `sconf-doc:"Either \"fs\" or \"s3\"."`
		Timeout time.Duration `sconf-doc:"Timeout applied to every blob store operation."`
		S3      struct {
			Endpoint  string `sconf-doc:"S3-compatible endpoint host:port."`
			Bucket    string `sconf-doc:"Bucket name, created on first use if absent."`
			AccessKey string
			SecretKey string
			UseSSL    bool
		}
	}

	OAuth struct {
		ClientID     string
		ClientSecret string
		AuthURL      string
		TokenURL     string
		UserinfoURL  string
		RedirectURL  string
		EmailJSONPath string `sconf-doc:"Dot path into the userinfo JSON for the account email."`
		NameJSONPath  string `sconf-doc:"Dot path into the userinfo JSON for the display name."`
	}

	SelfLocalName string `sconf-doc:"Name this registry advertises to crates for its own (local) source."`

	External []ExternalRegistry `sconf-doc:"Mirrored external registries consulted for dependency resolution."`

	Deps struct {
		CheckPeriod    time.Duration
		StaleRegistry  time.Duration
		StaleAnalysis  time.Duration
		NotifyOutdated bool
		NotifyCVEs     bool
		VulnFeedURL    string
	}

	Workers struct {
		HighWaterMark       int  `sconf-doc:"Queue length beyond which non-user-triggered enqueues are rejected with QueueFull."`
		AutoinstallTargets  bool `sconf-doc:"Not read: only a worker's installed targets (or its host triple, for non-native jobs) are assignable."`
	}

	Email struct {
		SMTPHost   string
		SMTPPort   int
		SMTPUser   string
		SMTPPass   string
		Sender     string
		CC         []string
	}
}

// ExternalRegistry is one mirrored external registry, per spec.md's
// REGISTRY_EXTERNAL_{n}_* environment variables (here: one struct per entry
// instead of an indexed env-var family, since config loading itself is
// carried by sconf, not a bespoke env parser).
type ExternalRegistry struct {
	Name  string
	Index string
	Docs  string
	Login string
	Token string
}

// Default returns a Config with the same defaults "vex quickstart" would
// have produced, scaled up for this domain.
func Default() Config {
	var c Config
	c.Web.PublicAddr = "localhost:8200"
	c.Web.AuthAddr = "localhost:8201"
	c.Web.AdminAddr = "localhost:8202"
	c.Web.BodyLimit = 10 * 1024 * 1024
	c.Index.ProtocolSparse = true
	c.Index.ProtocolGit = true
	c.Index.GitUserName = "registry"
	c.Index.GitUserEmail = "registry@localhost"
	c.Storage.Kind = "fs"
	c.Storage.Timeout = 3 * time.Second
	c.Deps.CheckPeriod = time.Hour
	c.Deps.StaleRegistry = 15 * time.Minute
	c.Deps.StaleAnalysis = 24 * time.Hour
	c.Deps.NotifyOutdated = true
	c.Deps.NotifyCVEs = true
	c.Workers.HighWaterMark = 500
	return c
}

// ParseFile loads a config file in the teacher's sconf format.
func ParseFile(path string, c *Config) error {
	return sconf.ParseFile(path, c)
}

// Describe writes the sconf-documented default configuration, for
// "registryd describe".
func Describe(w io.Writer, c Config) error {
	return sconf.Describe(w, c)
}
