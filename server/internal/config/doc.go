// Package config loads the wardwatch-server configuration from a YAML file.
//
// Sections:
//   - server     ports, log level, hospitals restored at startup, CORS, auth
//   - escalation ordered tiers: eligible roles and timeout per tier
//   - alerts     description limit and resolved-alert archive size
//   - session    WebSocket heartbeat, buffering and inbound rate limits
//   - store      persistence driver (memory | postgres | redis) and retry policy
//   - relay      NATS subject tree and webhook targets for lifecycle events
//
// Secrets are never read from the file: *_env fields name the environment
// variable that holds them.
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change; only the log level is applied live.
package config
