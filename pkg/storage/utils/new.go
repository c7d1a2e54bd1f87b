// Package storageutils builds storage drivers from connection descriptors.
package storageutils

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/file"
	"github.com/papercomputeco/ctxstore/pkg/storage/inmemory"
	"github.com/papercomputeco/ctxstore/pkg/storage/mongo"
	"github.com/papercomputeco/ctxstore/pkg/storage/mysql"
	"github.com/papercomputeco/ctxstore/pkg/storage/postgres"
	"github.com/papercomputeco/ctxstore/pkg/storage/redis"
	"github.com/papercomputeco/ctxstore/pkg/storage/shelve"
)

// Schemes lists every descriptor scheme NewDriver understands.
var Schemes = []string{
	"memory", "inmemory", "json", "pickle", "shelve", "sqlite",
	"postgres", "postgresql", "mysql", "libsql", "mongodb", "redis",
}

type NewDriverOpts struct {
	// TablePrefix names SQL tables, Mongo collections and Redis keys.
	TablePrefix string

	// Watch reloads json and pickle files changed by other processes.
	Watch bool

	Logger *slog.Logger
}

// NewDriver parses descriptor, of the form
// scheme://[user:pass@]host[:port]/path-or-db[?params], and constructs the
// matching driver. Malformed or unknown descriptors yield a
// *storage.ConfigurationError and no driver.
func NewDriver(ctx context.Context, descriptor string, o *NewDriverOpts) (storage.Driver, error) {
	if o == nil {
		o = &NewDriverOpts{}
	}

	scheme, rest, ok := strings.Cut(descriptor, "://")
	if !ok || scheme == "" {
		return nil, &storage.ConfigurationError{Descriptor: descriptor, Reason: "missing scheme"}
	}
	scheme = strings.ToLower(scheme)

	switch scheme {
	case "memory", "inmemory":
		return inmemory.NewDriver(), nil

	case "json", "pickle":
		path, err := filePath(descriptor, rest)
		if err != nil {
			return nil, err
		}
		opts := []file.Option{file.WithLogger(o.Logger)}
		if o.Watch {
			opts = append(opts, file.WithWatch())
		}
		return build(file.NewDriver(path, file.Format(scheme), opts...))

	case "shelve":
		path, err := filePath(descriptor, rest)
		if err != nil {
			return nil, err
		}
		return build(shelve.NewDriver(path))

	case "sqlite":
		path := rest
		if path != ":memory:" {
			var err error
			if path, err = filePath(descriptor, rest); err != nil {
				return nil, err
			}
		}
		return openSQLite(ctx, path, o.TablePrefix)

	case "postgres", "postgresql":
		if _, err := parseURL(descriptor); err != nil {
			return nil, err
		}
		return build(postgres.NewDriver(ctx, descriptor, o.TablePrefix))

	case "mysql":
		u, err := parseURL(descriptor)
		if err != nil {
			return nil, err
		}
		return build(mysql.NewDriver(ctx, mysqlConfig(u), o.TablePrefix))

	case "libsql":
		if _, err := parseURL(descriptor); err != nil {
			return nil, err
		}
		return openLibSQL(ctx, descriptor, o.TablePrefix)

	case "mongodb":
		u, err := parseURL(descriptor)
		if err != nil {
			return nil, err
		}
		return build(mongo.NewDriver(ctx, descriptor, strings.TrimPrefix(u.Path, "/"), o.TablePrefix))

	case "redis":
		opts, err := goredis.ParseURL(descriptor)
		if err != nil {
			return nil, &storage.ConfigurationError{Descriptor: descriptor, Reason: err.Error()}
		}
		return build(redis.NewDriver(ctx, opts, o.TablePrefix))

	default:
		return nil, &storage.ConfigurationError{
			Descriptor: descriptor,
			Reason:     fmt.Sprintf("unsupported scheme %q, expected one of %s", scheme, strings.Join(Schemes, ", ")),
		}
	}
}

// Redact masks the password of a network descriptor for logging.
// Descriptors that do not parse are returned as is.
func Redact(descriptor string) string {
	u, err := url.Parse(descriptor)
	if err != nil {
		return descriptor
	}
	return u.Redacted()
}

func parseURL(descriptor string) (*url.URL, error) {
	u, err := url.Parse(descriptor)
	if err != nil {
		return nil, &storage.ConfigurationError{Descriptor: descriptor, Reason: err.Error()}
	}
	if u.Host == "" {
		return nil, &storage.ConfigurationError{Descriptor: descriptor, Reason: "missing host"}
	}
	return u, nil
}

// filePath returns the local path of a file-based descriptor. Both
// "json://relative/db.json" and "json:///abs/db.json" are accepted.
func filePath(descriptor, rest string) (string, error) {
	if rest == "" {
		return "", &storage.ConfigurationError{Descriptor: descriptor, Reason: "missing path"}
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	return filepath.Clean(rest), nil
}

func mysqlConfig(u *url.URL) mysql.Config {
	c := mysql.Config{
		Addr:   u.Host,
		DBName: strings.TrimPrefix(u.Path, "/"),
		Params: map[string]string{},
	}
	if !strings.Contains(c.Addr, ":") {
		c.Addr += ":3306"
	}
	if u.User != nil {
		c.User = u.User.Username()
		c.Password, _ = u.User.Password()
	}
	for k, v := range u.Query() {
		if len(v) > 0 {
			c.Params[k] = v[0]
		}
	}
	return c
}

// build returns an untyped nil driver on error, so callers comparing the
// result against nil never see a typed nil pointer.
func build[D storage.Driver](d D, err error) (storage.Driver, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}
