// Package config resolves platform credentials from the profile file and
// the environment. Environment variables always win over file values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

const (
	// DefaultDomain is the platform services domain used when no profile
	// overrides it.
	DefaultDomain   = "services.cloud.my.faculty.ai"
	defaultProtocol = "https"
	defaultProfile  = "default"
)

// Profile is a resolved set of credentials and endpoints.
type Profile struct {
	Domain       string
	Protocol     string
	ClientID     string
	ClientSecret string
}

// ServiceURL returns the base URL for one platform service, e.g.
// ServiceURL("experiment") -> "https://experiment.services...".
func (p Profile) ServiceURL(service string) string {
	return fmt.Sprintf("%s://%s.%s", p.Protocol, service, p.Domain)
}

// Validate reports the first missing required field.
func (p Profile) Validate() error {
	if p.ClientID == "" {
		return errors.New("no client ID configured; set FACULTY_CLIENT_ID or add client_id to the credentials file")
	}
	if p.ClientSecret == "" {
		return errors.New("no client secret configured; set FACULTY_CLIENT_SECRET or add client_secret to the credentials file")
	}
	return nil
}

// Load resolves the active profile: the FACULTY_PROFILE section of the
// credentials file (FACULTY_CREDENTIALS_PATH or
// ~/.config/faculty/credentials), with FACULTY_DOMAIN, FACULTY_PROTOCOL,
// FACULTY_CLIENT_ID and FACULTY_CLIENT_SECRET overriding file values.
func Load() (Profile, error) {
	env := viper.New()
	env.SetEnvPrefix("FACULTY")
	env.AutomaticEnv()
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	name := env.GetString("profile")
	if name == "" {
		name = defaultProfile
	}

	path := env.GetString("credentials_path")
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".config", "faculty", "credentials")
		}
	}

	profile, err := readProfileFile(path, name)
	if err != nil {
		return Profile{}, err
	}

	if v := env.GetString("domain"); v != "" {
		profile.Domain = v
	}
	if v := env.GetString("protocol"); v != "" {
		profile.Protocol = v
	}
	if v := env.GetString("client_id"); v != "" {
		profile.ClientID = v
	}
	if v := env.GetString("client_secret"); v != "" {
		profile.ClientSecret = v
	}

	if profile.Domain == "" {
		profile.Domain = DefaultDomain
	}
	if profile.Protocol == "" {
		profile.Protocol = defaultProtocol
	}

	return profile, profile.Validate()
}

// readProfileFile loads one section of the ini credentials file. A missing
// file is not an error: the environment may carry the whole profile.
func readProfileFile(path, name string) (Profile, error) {
	if path == "" {
		return Profile{}, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, nil
		}
		return Profile{}, fmt.Errorf("reading credentials file %s: %w", path, err)
	}

	section, err := file.GetSection(name)
	if err != nil {
		return Profile{}, nil
	}

	return Profile{
		Domain:       section.Key("domain").String(),
		Protocol:     section.Key("protocol").String(),
		ClientID:     section.Key("client_id").String(),
		ClientSecret: section.Key("client_secret").String(),
	}, nil
}
