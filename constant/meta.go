// Package constant defines immutable application-level identifiers and configuration defaults.
package constant

const (
	// App is the canonical application identifier used for CLI branding and env prefixes.
	App = "pahedl"

	// ConfigDirName is the on-disk configuration directory shared with the desktop shell.
	ConfigDirName = "animepahe-dl"

	// Version is the current application semantic version string.
	Version = "0.1.0"

	// UserAgent is the default HTTP User-Agent string used for network requests to the streaming host.
	UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultHost is the streaming host used when no host is configured.
	DefaultHost = "https://animepahe.si"
)
