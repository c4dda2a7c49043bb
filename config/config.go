package config

import (
	"fmt"
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	NodeId   int64  `yaml:"node_id"`
	Debug    bool   `yaml:"debug"`
}

type WebConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JwtSecret string `yaml:"secret"`
}

type DBConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
}

type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// MessengerConfig tunes the chat session subsystem. Durations are seconds.
type MessengerConfig struct {
	ReconnectDelay int `yaml:"reconnect_delay"`
	SendWait       int `yaml:"send_wait"`
	QrSize         int `yaml:"qr_size"`
	AuditInterval  int `yaml:"audit_interval"`
}

type AppConfig struct {
	System    SysConfig       `yaml:"system"`
	Web       WebConfig       `yaml:"web"`
	Database  DBConfig        `yaml:"database"`
	Messenger MessengerConfig `yaml:"messenger"`
	Logger    LogConfig       `yaml:"logger"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wabridge",
		Location: "Asia/Jakarta",
		Workdir:  "/var/wabridge",
		NodeId:   1,
	},
	Web: WebConfig{
		Host:      "0.0.0.0",
		Port:      1816,
		JwtSecret: "9b6de5cc-0731-4bf1-a0e1-e87bd0d8a7f0",
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "wabridge",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  100,
		IdleConn: 10,
	},
	Messenger: MessengerConfig{
		ReconnectDelay: 5,
		SendWait:       3,
		QrSize:         256,
		AuditInterval:  60,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: false,
		Filename:   "/var/wabridge/wabridge.log",
	},
}

// LoadConfig reads the YAML config file and applies WABRIDGE_* environment
// overrides on top. A missing file is not an error; defaults apply.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := *DefaultAppConfig
	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", cfile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", cfile, err)
		}
	}
	setEnvValue("WABRIDGE_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WABRIDGE_WEB_HOST", &cfg.Web.Host)
	setEnvInt("WABRIDGE_WEB_PORT", &cfg.Web.Port)
	setEnvValue("WABRIDGE_WEB_SECRET", &cfg.Web.JwtSecret)
	setEnvValue("WABRIDGE_DB_TYPE", &cfg.Database.Type)
	setEnvValue("WABRIDGE_DB_HOST", &cfg.Database.Host)
	setEnvInt("WABRIDGE_DB_PORT", &cfg.Database.Port)
	setEnvValue("WABRIDGE_DB_NAME", &cfg.Database.Name)
	setEnvValue("WABRIDGE_DB_USER", &cfg.Database.User)
	setEnvValue("WABRIDGE_DB_PWD", &cfg.Database.Passwd)
	setEnvValue("WABRIDGE_LOGGER_MODE", &cfg.Logger.Mode)
	return &cfg, nil
}

func setEnvValue(name string, val *string) {
	if evalue, ok := os.LookupEnv(name); ok {
		*val = evalue
	}
}

func setEnvInt(name string, val *int) {
	if evalue, ok := os.LookupEnv(name); ok {
		*val = cast.ToInt(evalue)
	}
}
