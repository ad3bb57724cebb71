// Package config loads and watches the pingvault configuration file.
//
// Top-level types:
//   - Config{Store, Uploader, Server} — full config tree parsed from YAML
//   - StoreConfig — dir, max_count, prune_interval, corrupt_policy
//   - UploaderConfig — endpoint (collector base URL; empty disables upload),
//     interval, timeout, auth, tls
//   - AuthConfig — mode (mtls|apikey|bearer|basic|none); secret values are
//     never stored in the file, only environment variable names (key_env,
//     token_env, password_env) resolved by Key()/Token()/Password()
//   - ServerConfig, ServerAuthConfig — http_port and inbound API key auth
//
// Load(path) reads the YAML file, applies defaults (capacity 40, 1m prune,
// 1m upload, port 8080), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors by re-adding the watch after a rename event.
package config
