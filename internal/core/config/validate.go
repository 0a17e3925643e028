package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/hay-kot/criterio"
)

// Validate checks that the configuration is valid. Problems are returned
// together as criterio.FieldErrors.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.DataDir == "" {
		errs = errs.Append("data_dir", fmt.Errorf("data directory cannot be empty"))
	}

	switch c.Backend.Kind {
	case BackendFlatfile, BackendSQLite:
	case BackendPostgres:
		if c.Backend.URL == "" {
			errs = errs.Append("backend.url", fmt.Errorf("required when backend.kind is %q", BackendPostgres))
		}
	default:
		errs = errs.Append("backend.kind", fmt.Errorf("unknown backend %q (want flatfile, sqlite, or postgres)", c.Backend.Kind))
	}

	switch c.Cache.Kind {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			errs = errs.Append("cache.redis_url", fmt.Errorf("required when cache.kind is %q", CacheRedis))
		}
	default:
		errs = errs.Append("cache.kind", fmt.Errorf("unknown cache %q (want memory, redis, or none)", c.Cache.Kind))
	}

	if c.Backend.LockConns < 0 {
		errs = errs.Append("backend.lock_conns", fmt.Errorf("must not be negative"))
	}

	if c.Cache.TTL < 0 {
		errs = errs.Append("cache.ttl", fmt.Errorf("must not be negative"))
	}
	if c.Lock.Timeout <= 0 {
		errs = errs.Append("lock.timeout", fmt.Errorf("must be positive"))
	}
	if c.Lock.PollInterval <= 0 {
		errs = errs.Append("lock.poll_interval", fmt.Errorf("must be positive"))
	} else if c.Lock.PollInterval > c.Lock.Timeout {
		errs = errs.Append("lock.poll_interval", fmt.Errorf("must not exceed lock.timeout"))
	}
	if c.Lock.Lease <= c.Lock.Timeout {
		errs = errs.Append("lock.lease", fmt.Errorf("must exceed lock.timeout"))
	}

	limits := []struct {
		field string
		value int
	}{
		{"limits.max_channel_name_length", c.Limits.MaxChannelNameLength},
		{"limits.max_description_length", c.Limits.MaxDescriptionLength},
		{"limits.max_message_length", c.Limits.MaxMessageLength},
		{"limits.max_files_per_channel", c.Limits.MaxFilesPerChannel},
		{"limits.search_limit", c.Limits.SearchLimit},
	}
	for _, l := range limits {
		if l.value < 1 {
			errs = errs.Append(l.field, fmt.Errorf("must be at least 1"))
		}
	}
	if c.Limits.SearchLimit > 100 {
		errs = errs.Append("limits.search_limit", fmt.Errorf("must not exceed 100"))
	}

	if c.Retention.MessageMaxAge < 0 {
		errs = errs.Append("retention.message_max_age", fmt.Errorf("must not be negative"))
	}
	if c.Retention.ProcessingTimeout <= 0 {
		errs = errs.Append("retention.processing_timeout", fmt.Errorf("must be positive"))
	}
	if c.Retention.AgentTimeout <= 0 {
		errs = errs.Append("retention.agent_timeout", fmt.Errorf("must be positive"))
	}
	if c.Retention.MaintenanceInterval <= 0 {
		errs = errs.Append("retention.maintenance_interval", fmt.Errorf("must be positive"))
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = errs.Append("server.addr", fmt.Errorf("invalid listen address %q: %w", c.Server.Addr, err))
	}

	return errs.ToError()
}

// ValidateDeep runs Validate and additionally checks the filesystem: the
// config file must be a regular file and the data directory must be a
// directory if it exists.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	if err := c.Validate(); err != nil {
		var fieldErrs criterio.FieldErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = errs.Append(fe.Field, fe.Err)
		}
	}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			errs = errs.Append("config", fmt.Errorf("%s is a directory, not a file", configPath))
		} else if err != nil && !os.IsNotExist(err) {
			errs = errs.Append("config", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if c.DataDir != "" {
		if info, err := os.Stat(c.DataDir); err == nil && !info.IsDir() {
			errs = errs.Append("data_dir", fmt.Errorf("%s exists but is not a directory", c.DataDir))
		} else if err != nil && !os.IsNotExist(err) {
			errs = errs.Append("data_dir", fmt.Errorf("cannot access %s: %w", c.DataDir, err))
		}
	}

	return errs.ToError()
}
