package config

import "time"

// ClientConfig is the root configuration for a chat client.
type ClientConfig struct {
	API        APIConfig        `yaml:"api"`
	Identity   IdentityConfig   `yaml:"identity"`
	Connection ConnectionConfig `yaml:"connection"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Log        LogConfig        `yaml:"log"`
}

// APIConfig holds chat service endpoints and credentials.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`   // Base URL for GET /messages
	WSURL      string        `yaml:"ws_url"`     // Live endpoint (ws:// or wss://)
	Token      string        `yaml:"token"`      // Bearer token issued by the auth service
	TokenPath  string        `yaml:"token_path"` // File holding the token (used when token is empty)
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"` // History fetch retries (0 = one-shot)
}

// IdentityConfig supplies the author name when the token carries none.
type IdentityConfig struct {
	Username string `yaml:"username"`
}

// ConnectionConfig holds live connection manager settings.
type ConnectionConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"` // Max silence (no ping/pong) before the connection is stale
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	AuthCloseCodes     []int         `yaml:"auth_close_codes"` // Close codes that mean the credential was rejected
	ObserverBuffer     int           `yaml:"observer_buffer"`
}

// ArchiveConfig holds the optional local transcript archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
