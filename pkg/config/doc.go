// Package config loads Mizan configuration.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. built-in defaults
//  2. a YAML file (optional)
//  3. a .env file (optional; never overrides the real environment)
//  4. the process environment
//
// Recognised environment variables:
//
//	MIZAN_DB_PATH              database file (default sentinel.db)
//	MIZAN_DB_TIMEOUT           busy timeout, seconds or a Go duration (default 30s)
//	MIZAN_ADMIN_USERNAME       reserved administrator account (default admin)
//	MIZAN_ADMIN_PASSWORD       initial administrator password
//	MIZAN_BCRYPT_COST          bcrypt cost for new hashes
//	MIZAN_MAX_LOGIN_ATTEMPTS   failed logins before lockout, 0 disables
//	MIZAN_LOCKOUT_DURATION     lockout length (default 15m)
//	MIZAN_SESSION_TTL          session lifetime (default 1h)
//	LOG_LEVEL, LOG_FORMAT      logging level and format
//
// Example YAML:
//
//	database:
//	  path: /var/lib/mizan/mizan.db
//	  busy_timeout: 30s
//	security:
//	  admin_username: admin
//	  max_login_attempts: 5
//	  lockout_duration: 15m
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
