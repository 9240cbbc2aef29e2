package config

// SiteConfig holds per-host overrides for a crawl.
type SiteConfig struct {
	// Cookie is an HTTP cookie header to send to this host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers for requests to this host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth is a per-host recursion depth. GetSiteConfig merges it, but
	// the crawl does not apply it: the global Level governs every host.
	Depth int `yaml:"depth,omitempty"`

	// Wait overrides the global inter-request delay, in seconds.
	Wait float64 `yaml:"wait,omitempty"`

	// IgnorePatterns are URL path prefixes for this host. Like Depth, they
	// are merged by GetSiteConfig but not applied to the crawl.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`
}

// File represents the structure of the .webgrabrc configuration file.
type File struct {
	// Sites maps hostnames to their overrides.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults applies to every host unless overridden per site.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for a hostname, merging the
// host-specific settings over the defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults

	if siteConfig, ok := cf.Sites[host]; ok {
		if siteConfig.Cookie != "" {
			result.Cookie = siteConfig.Cookie
		}
		if siteConfig.Depth != 0 {
			result.Depth = siteConfig.Depth
		}
		if siteConfig.Wait != 0 {
			result.Wait = siteConfig.Wait
		}
		if len(siteConfig.Headers) > 0 {
			if result.Headers == nil {
				result.Headers = make(map[string]string)
			}
			for k, v := range siteConfig.Headers {
				result.Headers[k] = v
			}
		}
		if len(siteConfig.IgnorePatterns) > 0 {
			result.IgnorePatterns = siteConfig.IgnorePatterns
		}
	}
	return result
}
