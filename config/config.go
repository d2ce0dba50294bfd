package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Minio    MinioConfig    `yaml:"minio"`
	Grader   GraderConfig   `yaml:"grader"`
	Auth     AuthConfig     `yaml:"auth"`
	Upload   UploadConfig   `yaml:"upload"`
	Log      LogConfig      `yaml:"log"`
	Admins   []Admin        `yaml:"admins"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Presigned URL lifetimes. Approval documents stay reachable for days,
	// invoice artifacts only long enough for the grading pass.
	ApprovalURLExpireDays  int `yaml:"approval_url_expire_days"`
	ArtifactURLExpireHours int `yaml:"artifact_url_expire_hours"`
}

type GraderConfig struct {
	WebhookURL      string `yaml:"webhook_url"`
	AuthHeaderName  string `yaml:"auth_header_name"`
	AuthHeaderValue string `yaml:"auth_header_value"`
	CallbackSeed    string `yaml:"callback_seed"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// UploadConfig controls how the orchestrator treats artifact upload
// failures. Lenient keeps the historical behavior: log, skip the file row,
// report success. Strict aborts the request instead.
type UploadConfig struct {
	Policy string `yaml:"policy"` // lenient, strict
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Admin is a reviewing-authority account allowed to inspect submissions.
// PasswordHash is a bcrypt hash.
type Admin struct {
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

const (
	PolicyLenient = "lenient"
	PolicyStrict  = "strict"
)

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Minio.ApprovalURLExpireDays == 0 {
		cfg.Minio.ApprovalURLExpireDays = 7
	}
	if cfg.Minio.ArtifactURLExpireHours == 0 {
		cfg.Minio.ArtifactURLExpireHours = 1
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Upload.Policy == "" {
		cfg.Upload.Policy = PolicyLenient
	}
	if cfg.Grader.AuthHeaderName == "" {
		cfg.Grader.AuthHeaderName = "village_proposal_auth"
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// FindAdmin finds an admin account by email
func (c *Config) FindAdmin(email string) *Admin {
	for i := range c.Admins {
		if c.Admins[i].Email == email {
			return &c.Admins[i]
		}
	}
	return nil
}
