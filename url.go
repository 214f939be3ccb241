package redis

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseURL parses a redis:// or rediss:// URL into Options.
//
//	redis://[[username]:password@]host[:port][/db][?db=N&password=P]
//
// rediss enables TLS. The db and password query parameters override the path
// and the userinfo.
func ParseURL(rawURL string) (Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Options{}, fmt.Errorf("redis: invalid url: %w", err)
	}

	var opts Options
	switch u.Scheme {
	case "redis":
	case "rediss":
		opts.TLS = true
	default:
		return Options{}, fmt.Errorf("redis: invalid url scheme %q", u.Scheme)
	}

	opts.Hostname = u.Hostname()
	if p := u.Port(); p != "" {
		opts.Port, err = strconv.Atoi(p)
		if err != nil {
			return Options{}, fmt.Errorf("redis: invalid port %q", p)
		}
	}

	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}

	if path := strings.Trim(u.Path, "/"); path != "" {
		opts.DB, err = strconv.Atoi(path)
		if err != nil {
			return Options{}, fmt.Errorf("redis: invalid database %q", path)
		}
	}

	query := u.Query()
	if db := query.Get("db"); db != "" {
		opts.DB, err = strconv.Atoi(db)
		if err != nil {
			return Options{}, fmt.Errorf("redis: invalid database %q", db)
		}
	}
	if password := query.Get("password"); password != "" {
		opts.Password = password
	}
	if name := query.Get("name"); name != "" {
		opts.Name = name
	}

	return opts, nil
}
