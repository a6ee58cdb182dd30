// Package config loads and validates the server configuration.
//
// The file is YAML (JSON is accepted as a subset). Missing keys keep their
// defaults. Environment variables prefixed with SM_ override file values,
// and PORT overrides web.port.
//
// # Configuration File Structure
//
//	server:
//	  watch: false
//	  watchDelay: 250        # milliseconds, 0-1000
//	  files: []              # extra paths to watch
//	  database: none         # none | sql | document
//	web:
//	  host: ""
//	  port: 8080
//	  root: ./web/
//	  defaultFile: index.html
//	  aliases: {}
//	  messageSizeLimit: 100000
//	  disablePost: false     # forces webSocket on
//	  webSocket: false
//	  webSocketPath: /ws
//	  trustedProxies: []     # IPs or CIDRs
//	  sessionTTL: 1800       # seconds
//	cache:
//	  format: file           # off | file | sql | document
//	  file: ./cache.json
//	  table: cache
//	  interval: 60           # seconds, 1-3600
//	log:
//	  format: file           # off | stdout | file | sql
//	  path: ./log/
//	  table: log
//	  slowThreshold: 1000    # milliseconds
//	  level: info
//	  json: false
//	sql:
//	  driver: sqlite
//	  dsn: ""
//	document:
//	  bucket: ""
//	  prefix: ""
//	  region: us-east-1
//	  endpoint: ""
//	  usePathStyle: false
//	metrics:
//	  enabled: true
//	  path: /metrics
//
// Relative paths are resolved against the directory of the config file.
//
// # Environment
//
// Each key maps to SM_<SECTION>_<KEY>, for example SM_WEB_PORT,
// SM_CACHE_FORMAT or SM_SQL_DSN.
package config
